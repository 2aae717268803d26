package flowengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/flowgraph"
	"github.com/atharva20-coder/swoopin-sub002/metric"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

// Status classifies a finished execution.
type Status string

// Execution statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome describes one finished execution: which automation ran, the node
// path it walked, and why it stopped.
type Outcome struct {
	Status       Status
	AutomationID string
	Path         []string
	Reason       string
}

// maxPathLength caps traversal as a second line of defense behind cycle
// validation.
const maxPathLength = 64

// Engine executes matched automations node by node. One execution walks a
// single path from the trigger: condition branches select the edge, actions
// perform the side effects.
type Engine struct {
	automations automation.Store
	gate        *plan.Gate
	validator   *flowgraph.CachedValidator
	registry    *Registry
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// NewEngine creates a flow engine. metrics may be nil.
func NewEngine(automations automation.Store, gate *plan.Gate, validator *flowgraph.CachedValidator,
	registry *Registry, logger *slog.Logger, metrics *metric.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		automations: automations,
		gate:        gate,
		validator:   validator,
		registry:    registry,
		logger:      logger.With("component", "flowengine"),
		metrics:     metrics,
	}
}

// Execute runs the matched automation against the event.
//
// The automation is re-fetched first: matching ran against a snapshot, and
// an automation deactivated since then must not fire. A deactivated or
// deleted automation is a skip, not an error. Transient errors propagate so
// the delivery layer retries the whole event; actions already performed are
// not retried individually.
func (e *Engine) Execute(ctx context.Context, match automation.MatchResult, ev *event.IncomingEvent) (*Outcome, error) {
	start := time.Now()
	outcome := &Outcome{Status: StatusFailed, AutomationID: match.AutomationID}
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordExecution(string(outcome.Status), time.Since(start))
		}
	}()

	auto, err := e.automations.Get(ctx, match.AutomationID)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			outcome.Status = StatusSkipped
			outcome.Reason = "automation deleted"
			return outcome, nil
		}
		return outcome, errors.WrapTransient(err, "flowengine", "Execute", "refetch automation")
	}
	if !auto.Active {
		outcome.Status = StatusSkipped
		outcome.Reason = "automation inactive"
		return outcome, nil
	}

	limits, err := e.gate.Resolve(ctx, auto.UserID)
	if err != nil {
		return outcome, err
	}

	result, graph, err := e.validator.ValidateAndCompile(auto.Nodes, auto.Edges, limits)
	if err != nil {
		return outcome, err
	}
	if !result.Valid() {
		outcome.Reason = "invalid graph"
		return outcome, errors.WrapFatal(
			fmt.Errorf("automation %s failed validation: %w", auto.ID, errors.ErrInvalidGraph),
			"flowengine", "Execute", "validate graph")
	}

	ec := &ExecutionContext{
		Automation: auto,
		Event:      ev,
		Limits:     limits,
		Graph:      graph,
		Match:      match,
	}
	return e.walk(ctx, ec, outcome)
}

func (e *Engine) walk(ctx context.Context, ec *ExecutionContext, outcome *Outcome) (*Outcome, error) {
	current := ec.Graph.Entry
	for steps := 0; steps < maxPathLength; steps++ {
		if err := ctx.Err(); err != nil {
			return outcome, errors.WrapTransient(err, "flowengine", "walk", "context done")
		}

		node := ec.Graph.Nodes[current]
		outcome.Path = append(outcome.Path, current)

		exec, err := e.registry.Lookup(node)
		if err != nil {
			return outcome, err
		}

		result, err := exec(ctx, ec, node)
		if e.metrics != nil {
			e.metrics.RecordNodeExecution(node.SubType, string(result.Status))
		}
		if err != nil {
			e.logger.Error("node execution failed",
				"automation_id", ec.Automation.ID,
				"node_id", node.ID,
				"sub_type", node.SubType,
				"status", result.Status,
				"error", err)
			return outcome, err
		}

		e.logger.Debug("node executed",
			"automation_id", ec.Automation.ID,
			"node_id", node.ID,
			"sub_type", node.SubType,
			"branch", result.Branch,
			"summary", result.Summary)

		next, ok := ec.Graph.Next(current, result.Branch)
		if !ok {
			// Flows routinely omit one side of a branch; running off the
			// graph is a normal completion.
			outcome.Status = StatusSucceeded
			outcome.Reason = result.Summary
			return outcome, nil
		}
		current = next.Target
	}

	return outcome, errors.WrapFatal(
		fmt.Errorf("path exceeded %d nodes: %w", maxPathLength, errors.ErrInvalidGraph),
		"flowengine", "walk", "bound traversal")
}
