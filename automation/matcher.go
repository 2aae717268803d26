package automation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
)

// MatchResult identifies the automation an event should execute.
type MatchResult struct {
	AutomationID string
	// IsCatchAll is true when the automation was selected purely by
	// trigger type, with no keyword involved.
	IsCatchAll bool
	// Keyword is the keyword that matched, empty for catch-all winners.
	Keyword string
}

// Matcher finds the automation whose keyword set matches an event, or the
// catch-all automation for the event's trigger type.
//
// Every scan is scoped to active automations and, when the automation
// names a receiving page, to the event's page. Matching never reads data
// outside the automation aggregate, so no cross-tenant leak is possible.
type Matcher struct {
	store  Store
	logger *slog.Logger
}

// NewMatcher creates a matcher over the automation store.
func NewMatcher(store Store, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{store: store, logger: logger}
}

// Match applies the three-stage matching order, first match wins:
//
//  1. legacy flat keywords of active automations,
//  2. keywords held in graph KEYWORDS nodes,
//  3. catch-all: an automation covering the event's trigger type whose
//     graph contains no KEYWORDS node and which defines no flat keywords.
//
// Keyword specificity always outranks catch-all behavior, and an
// automation that defines keywords but receives no match reports no match
// rather than falling through to catch-all. Returns ErrNoMatch when
// nothing applies.
func (m *Matcher) Match(ctx context.Context, ev *event.IncomingEvent) (*MatchResult, error) {
	if ev == nil || !ev.TriggerType.Valid() {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "matcher", "Match", "invalid event")
	}

	candidates, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "matcher", "Match", "list active automations")
	}

	text := strings.ToLower(ev.Text)

	// Stage 1: legacy flat keywords.
	for _, a := range candidates {
		if !m.inScope(a, ev) {
			continue
		}
		for _, kw := range a.Keywords {
			if containsKeyword(text, kw.Word) {
				m.logger.Debug("flat keyword matched",
					"automation_id", a.ID, "keyword", kw.Word)
				return &MatchResult{AutomationID: a.ID, Keyword: kw.Word}, nil
			}
		}
	}

	// Stage 2: graph KEYWORDS node configs.
	for _, a := range candidates {
		if !m.inScope(a, ev) {
			continue
		}
		for _, n := range a.Nodes {
			if n.SubType != SubTypeKeywords {
				continue
			}
			for _, word := range NodeKeywords(n) {
				if containsKeyword(text, word) {
					m.logger.Debug("graph keyword matched",
						"automation_id", a.ID, "node_id", n.ID, "keyword", word)
					return &MatchResult{AutomationID: a.ID, Keyword: word}, nil
				}
			}
		}
	}

	// Stage 3: catch-all. An automation with any KEYWORDS node anywhere in
	// its graph, or any flat keyword, is never a catch-all candidate even
	// when its keywords did not match.
	for _, a := range candidates {
		if !m.inScope(a, ev) {
			continue
		}
		if !a.CoversTrigger(ev.TriggerType) {
			continue
		}
		if a.HasKeywordsNode() || len(a.Keywords) > 0 {
			continue
		}
		m.logger.Debug("catch-all matched",
			"automation_id", a.ID, "trigger_type", ev.TriggerType)
		return &MatchResult{AutomationID: a.ID, IsCatchAll: true}, nil
	}

	return nil, errors.ErrNoMatch
}

// inScope checks tenant and post scoping: the automation must listen on
// the event's page (when both declare one), and comment events must hit a
// linked post when the automation scopes itself to posts.
func (m *Matcher) inScope(a *Automation, ev *event.IncomingEvent) bool {
	if a.PageID != "" && ev.PageID != "" && a.PageID != ev.PageID {
		return false
	}
	if ev.IsCommentLike() && a.ScopedToPosts() {
		return ev.MediaID != "" && a.LinksMedia(ev.MediaID)
	}
	return true
}

func containsKeyword(lowerText, keyword string) bool {
	keyword = strings.TrimSpace(strings.ToLower(keyword))
	if keyword == "" {
		return false
	}
	return strings.Contains(lowerText, keyword)
}
