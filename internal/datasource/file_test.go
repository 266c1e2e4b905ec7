package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketsYAML = `
- id: m1
  title: Fed cuts rates
  category: Economics
  liquidity: 50000
  yes_price: 0.42
- id: m2
  title: BTC above 100k
  category: Crypto
  liquidity: 120000
- id: m3
  title: Election
  category: Politics
  liquidity: 8000
`

const walletsJSON = `{"records": [
	{"wallet_address": "0x1", "omega": 2.5, "primary_category": "Politics"},
	{"wallet_address": "0x2", "omega": 1.1, "primary_category": "Crypto"}
]}`

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "markets.yaml"), []byte(marketsYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wallets.json"), []byte(walletsJSON), 0o644))
	return dir
}

func TestQueryYAML(t *testing.T) {
	s := NewFileSource(fixtureDir(t))
	rows, err := s.Query(context.Background(), "markets", nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "m1", rows[0]["id"])
	f, ok := rows[0].Float("yes_price")
	assert.True(t, ok)
	assert.Equal(t, 0.42, f)
}

func TestQueryJSONRecordsKey(t *testing.T) {
	s := NewFileSource(fixtureDir(t))
	rows, err := s.Query(context.Background(), "wallets", map[string]interface{}{"primary_category": "Crypto"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0x2", rows[0]["wallet_address"])
}

func TestQueryFilters(t *testing.T) {
	s := NewFileSource(fixtureDir(t))
	rows, err := s.Query(context.Background(), "markets", map[string]interface{}{
		"category": []interface{}{"Crypto", "Politics"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.Query(context.Background(), "markets", map[string]interface{}{"liquidity": "50000"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0]["id"])

	rows, err = s.Query(context.Background(), "markets", map[string]interface{}{"missing": 1})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQueryReturnsCopies(t *testing.T) {
	s := NewFileSource(fixtureDir(t))
	rows, err := s.Query(context.Background(), "markets", nil)
	require.NoError(t, err)
	rows[0]["id"] = "changed"

	again, err := s.Query(context.Background(), "markets", nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", again[0]["id"])
}

func TestQueryErrors(t *testing.T) {
	s := NewFileSource(fixtureDir(t))
	for _, name := range []string{"", "../etc/passwd", "nope"} {
		_, err := s.Query(context.Background(), name, nil)
		assert.Error(t, err, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Query(ctx, "markets", nil)
	assert.Error(t, err)
}
