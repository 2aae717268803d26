// Package automation defines the automation aggregate - the unit of
// multi-tenant matching - together with its flow graph definition types
// and the stores that persist them.
package automation

import (
	"strings"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/event"
)

// NodeType is the structural role of a flow node.
type NodeType string

// The closed set of node types.
const (
	NodeTrigger   NodeType = "trigger"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
)

// Node subtypes. Trigger nodes use the event trigger type as subtype.
const (
	SubTypeKeywords     = "KEYWORDS"
	SubTypeSmartAI      = "SMARTAI"
	SubTypeSendDM       = "SEND_DM"
	SubTypeCarousel     = "CAROUSEL"
	SubTypeCommentReply = "COMMENT_REPLY"
)

// ListenerKind describes the response behavior of an automation.
type ListenerKind string

// Listener kinds.
const (
	ListenerMessage ListenerKind = "MESSAGE"
	ListenerSmartAI ListenerKind = "SMARTAI"
)

// Listener is an automation's response behavior descriptor.
// At most one listener exists per automation.
type Listener struct {
	ID           string       `json:"id"`
	Kind         ListenerKind `json:"kind"`
	Prompt       string       `json:"prompt,omitempty"`
	CommentReply string       `json:"comment_reply,omitempty"`
}

// Keyword is a legacy flat matcher entry.
type Keyword struct {
	ID   string `json:"id"`
	Word string `json:"word"`
}

// Trigger marks a trigger type the automation listens for (legacy flat
// marker, kept alongside graph trigger nodes).
type Trigger struct {
	ID   string            `json:"id"`
	Type event.TriggerType `json:"type"`
}

// Post links an automation to a specific media item so comment matching
// is scoped to it.
type Post struct {
	ID      string `json:"id"`
	MediaID string `json:"media_id"`
	Caption string `json:"caption,omitempty"`
}

// FlowNode is one node of an automation's flow graph. NodeID is
// graph-local and stable across edits. Config is interpreted by the
// node's executor; it is parsed and validated at graph-load time.
type FlowNode struct {
	ID      string         `json:"id"`
	Type    NodeType       `json:"type"`
	SubType string         `json:"sub_type"`
	Config  map[string]any `json:"config,omitempty"`
	Label   string         `json:"label,omitempty"`
}

// FlowEdge connects two flow nodes. SourceHandle selects the branch on a
// condition node's result ("matched"/"unmatched"); empty matches any.
type FlowEdge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// ValidationIssue is one persisted validation problem.
type ValidationIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	NodeID   string `json:"node_id,omitempty"`
	Message  string `json:"message"`
}

// ValidationRecord is the last validation result, persisted alongside the
// graph so a save response can surface warnings without a second round trip.
type ValidationRecord struct {
	Status      string            `json:"status"` // valid | warnings | errors
	Errors      []ValidationIssue `json:"errors,omitempty"`
	Warnings    []ValidationIssue `json:"warnings,omitempty"`
	GraphHash   string            `json:"graph_hash,omitempty"`
	ValidatedAt time.Time         `json:"validated_at"`
}

// Automation is the aggregate scoped to one owner and one receiving page.
// Matching never reads data outside this aggregate.
type Automation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// PageID is the provider account/page this automation listens on.
	PageID string `json:"page_id"`
	Name   string `json:"name,omitempty"`
	Active bool   `json:"active"`

	Listener *Listener `json:"listener,omitempty"`
	Keywords []Keyword `json:"keywords,omitempty"`
	Triggers []Trigger `json:"triggers,omitempty"`
	Posts    []Post    `json:"posts,omitempty"`

	Nodes []FlowNode `json:"nodes,omitempty"`
	Edges []FlowEdge `json:"edges,omitempty"`

	LastValidation *ValidationRecord `json:"last_validation,omitempty"`

	// Version for optimistic concurrency control
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CoversTrigger reports whether the automation listens for trigger type t,
// either through a legacy trigger marker or a graph trigger node.
func (a *Automation) CoversTrigger(t event.TriggerType) bool {
	for _, tr := range a.Triggers {
		if tr.Type == t {
			return true
		}
	}
	for _, n := range a.Nodes {
		if n.Type == NodeTrigger && n.SubType == string(t) {
			return true
		}
	}
	return false
}

// TriggerNodeID returns the graph trigger node for trigger type t, or "".
func (a *Automation) TriggerNodeID(t event.TriggerType) string {
	for _, n := range a.Nodes {
		if n.Type == NodeTrigger && n.SubType == string(t) {
			return n.ID
		}
	}
	return ""
}

// HasKeywordsNode reports whether any KEYWORDS node exists anywhere in the
// graph. Catch-all eligibility requires this to be false for the whole
// graph, not just the matched trigger branch.
func (a *Automation) HasKeywordsNode() bool {
	for _, n := range a.Nodes {
		if n.SubType == SubTypeKeywords {
			return true
		}
	}
	return false
}

// ScopedToPosts reports whether comment matching is restricted to the
// automation's linked posts.
func (a *Automation) ScopedToPosts() bool {
	return len(a.Posts) > 0
}

// LinksMedia reports whether mediaID is one of the automation's linked posts.
func (a *Automation) LinksMedia(mediaID string) bool {
	for _, p := range a.Posts {
		if p.MediaID == mediaID {
			return true
		}
	}
	return false
}

// NodeKeywords extracts the keyword list from a KEYWORDS node config.
// Accepts []string or []any of strings; anything else yields nil.
func NodeKeywords(n FlowNode) []string {
	raw, ok := n.Config["keywords"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
