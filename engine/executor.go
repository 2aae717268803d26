package flowengine

import (
	"context"
	"fmt"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/flowgraph"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

// NodeStatus classifies the outcome of one node execution.
type NodeStatus string

// Node execution statuses.
const (
	NodeSucceeded NodeStatus = "succeeded"
	NodeRetryable NodeStatus = "retryable"
	NodeFatal     NodeStatus = "fatal"
)

// NodeResult is what a node executor reports back to the engine. Branch
// selects the outgoing edge by source handle; an empty branch follows the
// node's single outgoing edge.
type NodeResult struct {
	Status  NodeStatus
	Branch  string
	Summary string
}

// ExecutionContext carries everything an executor may need about the run.
type ExecutionContext struct {
	Automation *automation.Automation
	Event      *event.IncomingEvent
	Limits     plan.Limits
	Graph      *flowgraph.Graph
	Match      automation.MatchResult
}

// Executor runs one node. Returning an error is reserved for infrastructure
// failures; domain outcomes (no keyword hit, plan refused) are statuses and
// branches, not errors.
type Executor func(ctx context.Context, ec *ExecutionContext, node *flowgraph.Node) (NodeResult, error)

type executorKey struct {
	nodeType automation.NodeType
	subType  string
}

// Registry maps node type and subtype to the executor that runs it.
type Registry struct {
	executors map[executorKey]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[executorKey]Executor)}
}

// Register binds an executor to a node type and subtype. Re-registering a
// key replaces the previous executor.
func (r *Registry) Register(nodeType automation.NodeType, subType string, exec Executor) {
	r.executors[executorKey{nodeType: nodeType, subType: subType}] = exec
}

// Lookup finds the executor for a node. Trigger nodes all share one
// executor regardless of trigger type.
func (r *Registry) Lookup(node *flowgraph.Node) (Executor, error) {
	key := executorKey{nodeType: node.Type, subType: node.SubType}
	if node.Type == automation.NodeTrigger {
		key.subType = ""
	}
	exec, ok := r.executors[key]
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("no executor for %s/%s: %w", node.Type, node.SubType, errors.ErrUnknownNodeType),
			"flowengine", "Lookup", "resolve executor")
	}
	return exec, nil
}
