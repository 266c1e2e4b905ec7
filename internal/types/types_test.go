package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordGet(t *testing.T) {
	r := Record{
		"volume": 150000,
		"metrics": map[string]interface{}{
			"omega": 2.5,
		},
		"dotted.key": "flat",
	}

	v, ok := r.Get("volume")
	assert.True(t, ok)
	assert.Equal(t, 150000, v)

	v, ok = r.Get("metrics.omega")
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	v, ok = r.Get("dotted.key")
	assert.True(t, ok)
	assert.Equal(t, "flat", v)

	_, ok = r.Get("metrics.sharpe")
	assert.False(t, ok)
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want float64
		ok   bool
	}{
		{"int", 42, 42, true},
		{"float", 1.5, 1.5, true},
		{"numeric string", " 250000 ", 250000, true},
		{"word", "abc", 0, false},
		{"empty", "", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToRecordsWrapsSingleObject(t *testing.T) {
	got := ToRecords(map[string]interface{}{"id": "m1"})
	assert.Len(t, got, 1)
	assert.Equal(t, "m1", got[0]["id"])

	got = ToRecords([]interface{}{map[string]interface{}{"id": "a"}, map[string]interface{}{"id": "b"}})
	assert.Len(t, got, 2)

	assert.Empty(t, ToRecords(nil))
}

func TestRecordIDFallback(t *testing.T) {
	assert.Equal(t, "0xabc", Record{"wallet_address": "0xabc"}.ID(3))
	assert.Equal(t, "record_3", Record{"volume": 1}.ID(3))
}

func TestConfigErrorUnwraps(t *testing.T) {
	err := &ConfigError{NodeID: "n1", Field: "url", Reason: "required"}
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Equal(t, "node n1: config url: required", err.Error())
}

func TestNodeKindValid(t *testing.T) {
	assert.True(t, NodeOrchestrator.Valid())
	assert.False(t, NodeKind("javascript").Valid())
}
