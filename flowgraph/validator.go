package flowgraph

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

// Validation status values.
const (
	StatusValid    = "valid"
	StatusWarnings = "warnings"
	StatusErrors   = "errors"
)

// Issue types reported by Validate.
const (
	IssueNoTrigger       = "no_trigger"
	IssueMultipleTrigger = "multiple_triggers"
	IssueUnknownSubType  = "unknown_subtype"
	IssueDuplicateNode   = "duplicate_node_id"
	IssueDanglingEdge    = "dangling_edge"
	IssueEdgeIntoTrigger = "edge_into_trigger"
	IssueCycle           = "cycle"
	IssueOrphanNode      = "orphan_node"
	IssueUnreachable     = "unreachable_node"
	IssuePlanRestricted  = "plan_restricted"
	IssueEmptyConfig     = "empty_config"
)

// ValidationResult contains the results of flow validation.
type ValidationResult struct {
	Status   string            `json:"validation_status"` // "valid", "warnings", "errors"
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// ValidationIssue represents a single validation problem.
type ValidationIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // "error", "warning"
	NodeID   string `json:"node_id,omitempty"`
	Message  string `json:"message"`
}

// Valid reports whether the flow can be executed.
func (r *ValidationResult) Valid() bool { return r.Status != StatusErrors }

// Record converts the result into the form persisted on the automation.
func (r *ValidationResult) Record(graphHash string) *automation.ValidationRecord {
	rec := &automation.ValidationRecord{
		Status:      r.Status,
		GraphHash:   graphHash,
		ValidatedAt: time.Now().UTC(),
	}
	for _, i := range r.Errors {
		rec.Errors = append(rec.Errors, automation.ValidationIssue(i))
	}
	for _, i := range r.Warnings {
		rec.Warnings = append(rec.Warnings, automation.ValidationIssue(i))
	}
	return rec
}

func (r *ValidationResult) addError(typ, nodeID, msg string) {
	r.Errors = append(r.Errors, ValidationIssue{Type: typ, Severity: "error", NodeID: nodeID, Message: msg})
}

func (r *ValidationResult) addWarning(typ, nodeID, msg string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Type: typ, Severity: "warning", NodeID: nodeID, Message: msg})
}

func (r *ValidationResult) finalize() {
	switch {
	case len(r.Errors) > 0:
		r.Status = StatusErrors
	case len(r.Warnings) > 0:
		r.Status = StatusWarnings
	default:
		r.Status = StatusValid
	}
}

// Validator performs structural and plan validation of flow graphs before
// they are saved or executed.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a flow validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger.With("component", "flowgraph")}
}

// Validate checks the graph's structure and the plan gating of its node
// subtypes. It never returns an error for a flawed graph: all problems are
// reported in the result so a save endpoint can show every issue at once.
//
// Plan-restricted subtypes are an error when the node is reachable from the
// trigger and a warning when it is unreachable, so a downgraded user keeps
// their drafts but cannot run them.
func (v *Validator) Validate(nodes []automation.FlowNode, edges []automation.FlowEdge, limits plan.Limits) *ValidationResult {
	result := &ValidationResult{}
	defer result.finalize()

	ids := make(map[string]automation.FlowNode, len(nodes))
	var triggers []string
	for _, n := range nodes {
		if n.ID == "" {
			result.addError(IssueDuplicateNode, "", "node without id")
			continue
		}
		if _, dup := ids[n.ID]; dup {
			result.addError(IssueDuplicateNode, n.ID, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		ids[n.ID] = n
		if n.Type == automation.NodeTrigger {
			triggers = append(triggers, n.ID)
		}
		if n.Type == automation.NodeTrigger {
			if !event.TriggerType(n.SubType).Valid() {
				result.addError(IssueUnknownSubType, n.ID, fmt.Sprintf("trigger node %q has unknown trigger type %q", n.ID, n.SubType))
			}
		} else {
			if !knownPair(n.Type, n.SubType) {
				result.addError(IssueUnknownSubType, n.ID, fmt.Sprintf("node %q has no executor for type %q subtype %q", n.ID, n.Type, n.SubType))
			}
			if n.SubType == automation.SubTypeKeywords && len(automation.NodeKeywords(n)) == 0 {
				result.addWarning(IssueEmptyConfig, n.ID, fmt.Sprintf("keywords node %q has no keywords and will never match", n.ID))
			}
		}
	}

	switch len(triggers) {
	case 0:
		result.addError(IssueNoTrigger, "", "flow has no trigger node")
	case 1:
	default:
		result.addError(IssueMultipleTrigger, "", fmt.Sprintf("flow has %d trigger nodes, expected 1", len(triggers)))
	}

	out := make(map[string][]string)
	in := make(map[string]int)
	for _, e := range edges {
		if _, ok := ids[e.Source]; !ok {
			result.addError(IssueDanglingEdge, e.Source, fmt.Sprintf("edge source %q is not a node", e.Source))
			continue
		}
		target, ok := ids[e.Target]
		if !ok {
			result.addError(IssueDanglingEdge, e.Target, fmt.Sprintf("edge target %q is not a node", e.Target))
			continue
		}
		if target.Type == automation.NodeTrigger {
			result.addError(IssueEdgeIntoTrigger, e.Target, fmt.Sprintf("edge targets trigger node %q", e.Target))
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
		in[e.Target]++
	}

	// Every non-trigger node must be wired into the graph. A node with no
	// inbound edge at all is an error; a connected node that the trigger
	// cannot reach is only warned about below.
	for id, n := range ids {
		if n.Type != automation.NodeTrigger && in[id] == 0 {
			result.addError(IssueOrphanNode, id, fmt.Sprintf("node %q has no inbound edge", id))
		}
	}

	if cycleNode, found := findCycle(ids, out); found {
		result.addError(IssueCycle, cycleNode, fmt.Sprintf("flow contains a cycle through node %q", cycleNode))
	}

	// Reachability from the single trigger decides error vs warning for
	// plan-gated nodes. With no usable trigger, gate everything as an error.
	reachable := map[string]bool{}
	if len(triggers) == 1 {
		reachable = reach(triggers[0], out)
	}
	for id, n := range ids {
		if gate := planGate(n.SubType, limits); gate != "" {
			if len(triggers) != 1 || reachable[id] {
				result.addError(IssuePlanRestricted, id, gate)
			} else {
				result.addWarning(IssuePlanRestricted, id, gate+" (node is unreachable and will not run)")
			}
		}
		if len(triggers) == 1 && !reachable[id] && in[id] > 0 && n.Type != automation.NodeTrigger {
			result.addWarning(IssueUnreachable, id, fmt.Sprintf("node %q is not reachable from the trigger", id))
		}
	}

	return result
}

// knownPair mirrors the executor registry: a saved flow must only contain
// type/subtype pairs that the engine can dispatch.
func knownPair(typ automation.NodeType, sub string) bool {
	switch typ {
	case automation.NodeCondition:
		return sub == automation.SubTypeKeywords || sub == automation.SubTypeSmartAI
	case automation.NodeAction:
		switch sub {
		case automation.SubTypeSendDM, automation.SubTypeSmartAI,
			automation.SubTypeCarousel, automation.SubTypeCommentReply:
			return true
		}
	}
	return false
}

// findCycle runs a three-color DFS over the adjacency map and returns a node
// on the first back edge found.
func findCycle(ids map[string]automation.FlowNode, out map[string][]string) (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = gray
		for _, next := range out[id] {
			switch color[next] {
			case gray:
				return next, true
			case white:
				if n, found := visit(next); found {
					return n, found
				}
			}
		}
		color[id] = black
		return "", false
	}

	for id := range ids {
		if color[id] == white {
			if n, found := visit(id); found {
				return n, true
			}
		}
	}
	return "", false
}

func reach(start string, out map[string][]string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range out[id] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}
