// Package flowgraph compiles and validates automation flow graphs.
//
// A flow is a set of nodes (one trigger, then conditions and actions) joined
// by directed edges. Compile turns the stored node/edge lists into an
// executable form with adjacency maps and per-node typed configuration;
// Validate checks structure and plan gating before a flow is saved or run.
package flowgraph

import (
	"fmt"
	"strings"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

// KeywordsConfig is the parsed configuration of a KEYWORDS condition node.
type KeywordsConfig struct {
	Keywords []string
}

// SmartAIConfig is the parsed configuration of a SMARTAI action node.
type SmartAIConfig struct {
	Prompt      string
	Temperature float64
}

// SendDMConfig is the parsed configuration of a SEND_DM action node.
type SendDMConfig struct {
	Message string
}

// CarouselConfig is the parsed configuration of a CAROUSEL action node.
type CarouselConfig struct {
	TemplateID string
}

// CommentReplyConfig is the parsed configuration of a COMMENT_REPLY action
// node. Private replies go to the commenter's DMs instead of the public
// thread.
type CommentReplyConfig struct {
	Message string
	Private bool
}

// Node is a compiled flow node: the stored node plus its parsed config.
// Exactly one of the typed config fields is set, matching SubType.
type Node struct {
	automation.FlowNode

	Keywords     *KeywordsConfig
	SmartAI      *SmartAIConfig
	SendDM       *SendDMConfig
	Carousel     *CarouselConfig
	CommentReply *CommentReplyConfig
}

// Edge is a directed connection between two compiled nodes.
type Edge struct {
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}

// Graph is a compiled flow ready for traversal.
type Graph struct {
	Nodes   map[string]*Node
	Entry   string // trigger node id
	out     map[string][]Edge
	in      map[string][]Edge
	ordered []string // node ids in input order, for deterministic iteration
}

// Outgoing returns the edges leaving node id, in input order.
func (g *Graph) Outgoing(id string) []Edge { return g.out[id] }

// Incoming returns the edges arriving at node id, in input order.
func (g *Graph) Incoming(id string) []Edge { return g.in[id] }

// NodeIDs returns all node ids in input order.
func (g *Graph) NodeIDs() []string { return g.ordered }

// Next selects the edge leaving node id whose source handle matches branch.
// An empty branch matches the first edge with an empty handle, or the only
// outgoing edge when the node has exactly one. The second return is false
// when no edge matches.
func (g *Graph) Next(id, branch string) (Edge, bool) {
	edges := g.out[id]
	if branch == "" && len(edges) == 1 {
		return edges[0], true
	}
	for _, e := range edges {
		if e.SourceHandle == branch {
			return e, true
		}
	}
	return Edge{}, false
}

// Compile builds a Graph from stored nodes and edges. It parses each node's
// configuration into its typed form and fails on unknown subtypes, duplicate
// ids, dangling edges, or a missing/ambiguous trigger. Compile does not run
// the structural checks Validate performs (cycles, unreachable plan-gated
// nodes); callers that accept user input should Validate first.
func Compile(nodes []automation.FlowNode, edges []automation.FlowEdge) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*Node, len(nodes)),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidGraph, "flowgraph", "Compile", "node without id")
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate node id %q: %w", n.ID, errors.ErrInvalidGraph), "flowgraph", "Compile", "check node ids")
		}
		compiled, err := compileNode(n)
		if err != nil {
			return nil, err
		}
		g.Nodes[n.ID] = compiled
		g.ordered = append(g.ordered, n.ID)

		if n.Type == automation.NodeTrigger {
			if g.Entry != "" {
				return nil, errors.WrapInvalid(fmt.Errorf("multiple trigger nodes: %w", errors.ErrInvalidGraph), "flowgraph", "Compile", "find entry")
			}
			g.Entry = n.ID
		}
	}
	if g.Entry == "" {
		return nil, errors.WrapInvalid(errors.ErrNoTriggerNode, "flowgraph", "Compile", "find entry")
	}

	for _, e := range edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			return nil, errors.WrapInvalid(fmt.Errorf("edge source %q not in graph: %w", e.Source, errors.ErrInvalidGraph), "flowgraph", "Compile", "check edges")
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			return nil, errors.WrapInvalid(fmt.Errorf("edge target %q not in graph: %w", e.Target, errors.ErrInvalidGraph), "flowgraph", "Compile", "check edges")
		}
		ce := Edge{Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle, TargetHandle: e.TargetHandle}
		g.out[e.Source] = append(g.out[e.Source], ce)
		g.in[e.Target] = append(g.in[e.Target], ce)
	}

	return g, nil
}

func compileNode(n automation.FlowNode) (*Node, error) {
	node := &Node{FlowNode: n}
	if n.Type == automation.NodeTrigger {
		// Trigger nodes carry the event trigger type as subtype. Keyword
		// gating lives on KEYWORDS condition nodes, not on the trigger, so
		// any keywords in its config are ignored here.
		if !event.TriggerType(n.SubType).Valid() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("trigger node %q has unknown trigger type %q: %w", n.ID, n.SubType, errors.ErrUnknownNodeType),
				"flowgraph", "Compile", "parse trigger node")
		}
		return node, nil
	}
	switch n.SubType {
	case automation.SubTypeKeywords:
		node.Keywords = &KeywordsConfig{Keywords: automation.NodeKeywords(n)}
	case automation.SubTypeSmartAI:
		cfg := &SmartAIConfig{Temperature: 0.7}
		if v, ok := n.Config["prompt"].(string); ok {
			cfg.Prompt = v
		}
		if v, ok := n.Config["temperature"].(float64); ok {
			cfg.Temperature = v
		}
		node.SmartAI = cfg
	case automation.SubTypeSendDM:
		cfg := &SendDMConfig{}
		if v, ok := n.Config["message"].(string); ok {
			cfg.Message = v
		}
		node.SendDM = cfg
	case automation.SubTypeCarousel:
		cfg := &CarouselConfig{}
		if v, ok := n.Config["template_id"].(string); ok {
			cfg.TemplateID = v
		}
		node.Carousel = cfg
	case automation.SubTypeCommentReply:
		cfg := &CommentReplyConfig{}
		if v, ok := n.Config["message"].(string); ok {
			cfg.Message = v
		}
		if v, ok := n.Config["private"].(bool); ok {
			cfg.Private = v
		}
		node.CommentReply = cfg
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("node %q has unknown subtype %q: %w", n.ID, n.SubType, errors.ErrUnknownNodeType),
			"flowgraph", "Compile", "parse node config")
	}
	return node, nil
}

// planGate returns the human description of the plan restriction on a
// subtype, or "" when the subtype is allowed under limits.
func planGate(subType string, limits plan.Limits) string {
	if limits.AllowsSubType(subType) {
		return ""
	}
	return fmt.Sprintf("%s requires a plan with %s enabled (current tier %s)",
		subType, strings.ToLower(subType), limits.Tier)
}
