// Package engine routes nodes to their handlers and runs linear workflows.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/execution"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// Handler executes one node against its input records. Dispatch fills the
// envelope's identity, success flag and timing.
type Handler func(ctx context.Context, ec *execution.Context, node types.Node, input []types.Record) (*types.Result, error)

type Engine struct {
	handlers map[types.NodeKind]Handler
	mu       sync.RWMutex
}

func NewEngine() *Engine {
	return &Engine{
		handlers: make(map[types.NodeKind]Handler),
	}
}

// RegisterNode binds a handler to a kind from the closed node-kind set.
func (e *Engine) RegisterNode(kind types.NodeKind, handler Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownNodeKind, kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers[kind] = handler
	log.Debug().Str("kind", string(kind)).Msg("Registered node handler")
	return nil
}

// Dispatch runs node and always returns an envelope; err mirrors a failed envelope.
func (e *Engine) Dispatch(ctx context.Context, ec *execution.Context, node types.Node, input []types.Record) (*types.Result, error) {
	start := time.Now()
	fail := func(err error) (*types.Result, error) {
		return &types.Result{
			NodeID:   node.ID,
			Kind:     node.Type,
			Success:  false,
			Records:  []types.Record{},
			Error:    err.Error(),
			Duration: time.Since(start),
		}, err
	}

	e.mu.RLock()
	handler, exists := e.handlers[node.Type]
	e.mu.RUnlock()

	if !exists {
		return fail(fmt.Errorf("node %s: %w: %q", node.ID, types.ErrUnknownNodeKind, node.Type))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	res, err := handler(ctx, ec, node, input)
	if err != nil {
		log.Error().
			Err(err).
			Str("node", node.ID).
			Str("kind", string(node.Type)).
			Msg("Node failed")
		return fail(err)
	}
	if res == nil {
		res = &types.Result{}
	}
	if res.Records == nil {
		res.Records = []types.Record{}
	}
	res.NodeID = node.ID
	res.Kind = node.Type
	res.Success = true
	res.Error = ""
	res.Duration = time.Since(start)

	log.Info().
		Str("node", node.ID).
		Str("kind", string(node.Type)).
		Int("input", len(input)).
		Int("output", len(res.Records)).
		Dur("duration", res.Duration).
		Msg("Node executed")

	return res, nil
}

// Report collects every envelope one pass produced.
type Report struct {
	WorkflowID  string          `json:"workflow_id"`
	ExecutionID string          `json:"execution_id"`
	Results     []*types.Result `json:"results"`
	Records     []types.Record  `json:"records"`
	Duration    time.Duration   `json:"duration"`
}

// Run executes the workflow's nodes in order, feeding each node the
// previous node's records. The first failing node stops the pass.
func (e *Engine) Run(ctx context.Context, ec *execution.Context, wf types.Workflow) (*Report, error) {
	start := time.Now()
	report := &Report{WorkflowID: wf.ID, ExecutionID: ec.ExecutionID, Records: []types.Record{}}

	log.Info().
		Str("workflow", wf.ID).
		Str("execution", ec.ExecutionID).
		Int("nodes", len(wf.Nodes)).
		Msg("Starting workflow pass")

	var records []types.Record
	for _, node := range wf.Nodes {
		res, err := e.Dispatch(ctx, ec, node, records)
		report.Results = append(report.Results, res)
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("workflow %s: %w", wf.ID, err)
		}
		records = res.Records
	}

	report.Records = records
	if report.Records == nil {
		report.Records = []types.Record{}
	}
	report.Duration = time.Since(start)

	log.Info().
		Str("workflow", wf.ID).
		Int("records", len(report.Records)).
		Dur("duration", report.Duration).
		Msg("Workflow pass complete")

	return report, nil
}
