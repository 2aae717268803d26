package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
)

func dmEvent(text string) *event.IncomingEvent {
	return &event.IncomingEvent{
		PageID:      "page-1",
		SenderID:    "user-1",
		Text:        text,
		TriggerType: event.TriggerDM,
	}
}

func seed(t *testing.T, store Store, autos ...*Automation) {
	t.Helper()
	for _, a := range autos {
		require.NoError(t, store.Create(context.Background(), a))
	}
}

func keywordAutomation(id, word string) *Automation {
	return &Automation{
		ID:       id,
		UserID:   "owner-" + id,
		PageID:   "page-1",
		Active:   true,
		Keywords: []Keyword{{ID: id + "-kw", Word: word}},
		Triggers: []Trigger{{ID: id + "-tr", Type: event.TriggerDM}},
	}
}

func catchAllAutomation(id string) *Automation {
	return &Automation{
		ID:     id,
		UserID: "owner-" + id,
		PageID: "page-1",
		Active: true,
		Nodes: []FlowNode{
			{ID: "t1", Type: NodeTrigger, SubType: string(event.TriggerDM)},
			{ID: "a1", Type: NodeAction, SubType: SubTypeSendDM, Config: map[string]any{"message": "hello"}},
		},
		Edges: []FlowEdge{{Source: "t1", Target: "a1"}},
	}
}

func TestMatch_KeywordBeatsCatchAll(t *testing.T) {
	// spec example: DISCOUNT10 against keyword automation A and catch-all B
	store := NewMemoryStore()
	seed(t, store,
		keywordAutomation("auto-a", "discount10"),
		catchAllAutomation("auto-b"),
	)

	m := NewMatcher(store, nil)
	res, err := m.Match(context.Background(), dmEvent("DISCOUNT10"))
	require.NoError(t, err)
	assert.Equal(t, "auto-a", res.AutomationID)
	assert.False(t, res.IsCatchAll)
	assert.Equal(t, "discount10", res.Keyword)
}

func TestMatch_CatchAllWhenNoKeywordApplies(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, catchAllAutomation("auto-b"))

	m := NewMatcher(store, nil)
	res, err := m.Match(context.Background(), dmEvent("hello"))
	require.NoError(t, err)
	assert.Equal(t, "auto-b", res.AutomationID)
	assert.True(t, res.IsCatchAll)
}

func TestMatch_FlatKeywordOutranksGraphKeyword(t *testing.T) {
	// Ordering invariant: flat keyword wins over a graph KEYWORDS node
	// even when both match the same text.
	store := NewMemoryStore()
	graphKw := catchAllAutomation("auto-graph")
	graphKw.Nodes = append(graphKw.Nodes, FlowNode{
		ID: "c1", Type: NodeCondition, SubType: SubTypeKeywords,
		Config: map[string]any{"keywords": []any{"promo"}},
	})
	seed(t, store, graphKw, keywordAutomation("auto-flat", "promo"))

	m := NewMatcher(store, nil)
	res, err := m.Match(context.Background(), dmEvent("send me the PROMO code"))
	require.NoError(t, err)
	assert.Equal(t, "auto-flat", res.AutomationID)
}

func TestMatch_GraphKeywordsNode(t *testing.T) {
	store := NewMemoryStore()
	a := catchAllAutomation("auto-kw")
	a.Nodes = append(a.Nodes, FlowNode{
		ID: "c1", Type: NodeCondition, SubType: SubTypeKeywords,
		Config: map[string]any{"keywords": []any{"price", "cost"}},
	})
	seed(t, store, a)

	m := NewMatcher(store, nil)
	res, err := m.Match(context.Background(), dmEvent("what does it COST?"))
	require.NoError(t, err)
	assert.Equal(t, "auto-kw", res.AutomationID)
	assert.Equal(t, "cost", res.Keyword)
}

func TestMatch_KeywordGatedNeverCatchesAll(t *testing.T) {
	// An automation with a KEYWORDS node but no matching keyword is never
	// selected as catch-all, even as the only automation of that type.
	store := NewMemoryStore()
	a := catchAllAutomation("auto-gated")
	a.Nodes = append(a.Nodes, FlowNode{
		ID: "c1", Type: NodeCondition, SubType: SubTypeKeywords,
		Config: map[string]any{"keywords": []any{"shoes"}},
	})
	seed(t, store, a)

	m := NewMatcher(store, nil)
	_, err := m.Match(context.Background(), dmEvent("hats please"))
	assert.True(t, errors.Is(err, errors.ErrNoMatch))
}

func TestMatch_KeywordsNodeAnywhereBlocksCatchAll(t *testing.T) {
	// Pinned behavior: a KEYWORDS node on an unrelated COMMENT branch
	// still disqualifies the automation from DM catch-all.
	store := NewMemoryStore()
	a := catchAllAutomation("auto-mixed")
	a.Nodes = append(a.Nodes,
		FlowNode{ID: "t2", Type: NodeTrigger, SubType: string(event.TriggerComment)},
		FlowNode{ID: "c2", Type: NodeCondition, SubType: SubTypeKeywords,
			Config: map[string]any{"keywords": []any{"giveaway"}}},
	)
	a.Edges = append(a.Edges, FlowEdge{Source: "t2", Target: "c2"})
	seed(t, store, a)

	m := NewMatcher(store, nil)
	_, err := m.Match(context.Background(), dmEvent("hello"))
	assert.True(t, errors.Is(err, errors.ErrNoMatch),
		"KEYWORDS node anywhere in the graph must block catch-all")
}

func TestMatch_InactiveAutomationIgnored(t *testing.T) {
	store := NewMemoryStore()
	a := keywordAutomation("auto-a", "discount")
	a.Active = false
	seed(t, store, a)

	m := NewMatcher(store, nil)
	_, err := m.Match(context.Background(), dmEvent("discount please"))
	assert.True(t, errors.Is(err, errors.ErrNoMatch))
}

func TestMatch_PageScoping(t *testing.T) {
	store := NewMemoryStore()
	a := keywordAutomation("auto-a", "discount")
	a.PageID = "page-other"
	seed(t, store, a)

	m := NewMatcher(store, nil)
	_, err := m.Match(context.Background(), dmEvent("discount please"))
	assert.True(t, errors.Is(err, errors.ErrNoMatch),
		"automation on another page must not receive this tenant's events")
}

func TestMatch_PostScopedComments(t *testing.T) {
	store := NewMemoryStore()
	a := &Automation{
		ID: "auto-post", UserID: "u", PageID: "page-1", Active: true,
		Keywords: []Keyword{{ID: "k", Word: "price"}},
		Posts:    []Post{{ID: "p1", MediaID: "media-1"}},
	}
	seed(t, store, a)
	m := NewMatcher(store, nil)

	ev := &event.IncomingEvent{
		PageID: "page-1", SenderID: "u2", Text: "price?",
		TriggerType: event.TriggerComment, MediaID: "media-2",
	}
	_, err := m.Match(context.Background(), ev)
	assert.True(t, errors.Is(err, errors.ErrNoMatch), "comment on unlinked media must not match")

	ev.MediaID = "media-1"
	res, err := m.Match(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "auto-post", res.AutomationID)
}

func TestMatch_CaseInsensitiveSubstring(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, keywordAutomation("auto-a", "Discount10"))

	m := NewMatcher(store, nil)
	res, err := m.Match(context.Background(), dmEvent("use code dIsCoUnT10 now"))
	require.NoError(t, err)
	assert.Equal(t, "auto-a", res.AutomationID)
}

func TestMatch_InvalidEvent(t *testing.T) {
	m := NewMatcher(NewMemoryStore(), nil)

	_, err := m.Match(context.Background(), nil)
	assert.Equal(t, errors.ErrorInvalid, errors.Classify(err))

	_, err = m.Match(context.Background(), &event.IncomingEvent{TriggerType: "BOGUS"})
	assert.Equal(t, errors.ErrorInvalid, errors.Classify(err))
}
