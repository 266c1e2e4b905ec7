package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

const workflowYAML = `
id: wf-politics
strategy_id: strat-7
name: Politics smart money
nodes:
  - id: markets
    type: data-source
    config:
      source: markets
  - id: liquid
    type: market-filter
    config:
      min_liquidity_usd: 10000
      categories: [Politics]
  - id: decide
    type: orchestrator
    config:
      mode: approval
      position_sizing_rules:
        max_bet: 100
        min_bet: 5
        max_position_pct: 0.05
`

func TestLoadWorkflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(workflowYAML), 0o644))

	wf, err := LoadWorkflow(path)
	require.NoError(t, err)
	assert.Equal(t, "wf-politics", wf.ID)
	assert.Equal(t, "strat-7", wf.StrategyID)
	require.Len(t, wf.Nodes, 3)
	assert.Equal(t, types.NodeMarketFilter, wf.Nodes[1].Type)
	assert.Equal(t, 10000, wf.Nodes[1].Config["min_liquidity_usd"])
	rules, ok := wf.Nodes[2].Config["position_sizing_rules"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0.05, rules["max_position_pct"])
}

func TestValidateWorkflow(t *testing.T) {
	good := types.Workflow{ID: "wf", StrategyID: "s", Nodes: []types.Node{{ID: "a", Type: types.NodeFilter}}}
	require.NoError(t, ValidateWorkflow(good))

	tests := []struct {
		name string
		wf   types.Workflow
	}{
		{"no id", types.Workflow{StrategyID: "s", Nodes: good.Nodes}},
		{"no strategy", types.Workflow{ID: "wf", Nodes: good.Nodes}},
		{"no nodes", types.Workflow{ID: "wf", StrategyID: "s"}},
		{"node without id", types.Workflow{ID: "wf", StrategyID: "s", Nodes: []types.Node{{Type: types.NodeFilter}}}},
		{"duplicate node", types.Workflow{ID: "wf", StrategyID: "s", Nodes: []types.Node{{ID: "a", Type: types.NodeFilter}, {ID: "a", Type: types.NodeTransform}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateWorkflow(tt.wf))
		})
	}

	err := ValidateWorkflow(types.Workflow{ID: "wf", StrategyID: "s", Nodes: []types.Node{{ID: "js", Type: "javascript"}}})
	assert.True(t, errors.Is(err, types.ErrUnknownNodeKind))
}
