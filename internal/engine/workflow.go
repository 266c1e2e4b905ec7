package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// LoadWorkflow reads a YAML workflow definition and validates it.
func LoadWorkflow(path string) (types.Workflow, error) {
	var wf types.Workflow
	data, err := os.ReadFile(path)
	if err != nil {
		return wf, fmt.Errorf("read workflow: %w", err)
	}
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return wf, fmt.Errorf("parse workflow: %w", err)
	}
	if err := ValidateWorkflow(wf); err != nil {
		return wf, err
	}
	return wf, nil
}

// ValidateWorkflow checks ids and node kinds before any node runs.
func ValidateWorkflow(wf types.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow has no id")
	}
	if wf.StrategyID == "" {
		return fmt.Errorf("workflow %s has no strategy_id", wf.ID)
	}
	if len(wf.Nodes) == 0 {
		return fmt.Errorf("workflow %s has no nodes", wf.ID)
	}
	seen := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if n.ID == "" {
			return fmt.Errorf("workflow %s: node %d has no id", wf.ID, i)
		}
		if seen[n.ID] {
			return fmt.Errorf("workflow %s: duplicate node id %s", wf.ID, n.ID)
		}
		seen[n.ID] = true
		if !n.Type.Valid() {
			return fmt.Errorf("workflow %s: node %s: %w: %q", wf.ID, n.ID, types.ErrUnknownNodeKind, n.Type)
		}
	}
	return nil
}
