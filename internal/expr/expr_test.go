package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

func TestEvalArithmetic(t *testing.T) {
	row := types.Record{
		"volume":    150000,
		"liquidity": "50000",
		"price":     0.42,
		"metrics":   map[string]interface{}{"omega": 3.0},
	}

	tests := []struct {
		expr string
		want interface{}
	}{
		{"volume / 1000", 150.0},
		{"volume + liquidity", 200000.0},
		{"row.volume * 2", 300000.0},
		{"(1 - price) * 100", 58.0},
		{"-price + 1", 0.58},
		{"metrics.omega * 2", 6.0},
		{"round(price * 100, 1)", 42.0},
		{"max(volume, 200000)", 200000.0},
		{"abs(-3) % 2", 1.0},
		{"missing * 3", 0.0},
		{"'id-' + volume", "id-150000"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, row)
			require.NoError(t, err)
			if f, ok := tt.want.(float64); ok {
				assert.InDelta(t, f, got, 1e-9)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalBoolean(t *testing.T) {
	row := types.Record{"category": "Politics", "volume": 150000, "active": true}

	tests := []struct {
		expr string
		want bool
	}{
		{"volume > 100000", true},
		{"volume >= 150000 && category == 'Politics'", true},
		{"volume > 200000 || category === \"Politics\"", true},
		{"volume > 200000 and category != 'Politics'", false},
		{"not active", false},
		{"!(volume < 10)", true},
		{"missing == null", true},
		{"category > 5", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Test(row))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{"", "volume >", "(volume", "volume @ 2", "'open", "exec(1)", "volume 2"} {
		_, err := Compile(src)
		assert.Error(t, err, src)
	}
}

func TestEvalRuntimeErrors(t *testing.T) {
	_, err := Eval("volume / 0", types.Record{"volume": 1})
	assert.Error(t, err)

	_, err = Eval("category * 2", types.Record{"category": "Crypto"})
	assert.Error(t, err)

	e, err := Compile("volume / 0 > 1")
	require.NoError(t, err)
	assert.False(t, e.Test(types.Record{"volume": 1}))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(2))
	assert.True(t, Truthy(types.Record{}))
}
