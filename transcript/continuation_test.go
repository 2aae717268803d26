package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/counter"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

type fakeAI struct {
	reply string
	err   error
	calls int
}

func (f *fakeAI) Respond(_ context.Context, _ string, _ []Entry, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendDM(_ context.Context, _, _, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func smartAIAutomation(id, userID, pageID string) *automation.Automation {
	return &automation.Automation{
		ID:     id,
		UserID: userID,
		PageID: pageID,
		Active: true,
		Listener: &automation.Listener{
			ID:     "l1",
			Kind:   automation.ListenerSmartAI,
			Prompt: "be helpful",
		},
	}
}

func dmEvent(pageID, senderID, text string) *event.IncomingEvent {
	return &event.IncomingEvent{
		PageID:      pageID,
		SenderID:    senderID,
		Text:        text,
		TriggerType: event.TriggerDM,
		ReceivedAt:  time.Now(),
	}
}

func proGate(t *testing.T, userID string) *plan.Gate {
	t.Helper()
	subs := plan.NewMemorySubscriptionStore()
	require.NoError(t, subs.Put(context.Background(), &plan.Subscription{UserID: userID, Tier: plan.TierPro}))
	return plan.NewGate(subs)
}

func TestContinuationContinuesExistingConversation(t *testing.T) {
	ctx := context.Background()
	autos := automation.NewMemoryStore()
	require.NoError(t, autos.Create(ctx, smartAIAutomation("auto-1", "owner-1", "page-1")))

	transcripts := NewMemoryStore(0)
	require.NoError(t, transcripts.Append(ctx, "auto-1", "fan-1",
		Entry{Role: RoleUser, Text: "what colors?"},
		Entry{Role: RoleAssistant, Text: "red and blue"},
	))

	counters := counter.NewMemoryStore()
	ai := &fakeAI{reply: "we also have green"}
	sender := &fakeSender{}
	c := NewContinuation(autos, proGate(t, "owner-1"), transcripts, counters, ai, sender, nil)

	handled, err := c.Handle(ctx, dmEvent("page-1", "fan-1", "any green ones?"))
	require.NoError(t, err)
	assert.True(t, handled)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "we also have green", sender.sent[0])

	history, err := transcripts.History(ctx, "auto-1", "fan-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "any green ones?", history[2].Text)
	assert.Equal(t, "we also have green", history[3].Text)

	counts, err := counters.Get(ctx, "auto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.DMCount)
	assert.Equal(t, int64(1), counts.AICount)
}

func TestContinuationDoesNotStartConversations(t *testing.T) {
	ctx := context.Background()
	autos := automation.NewMemoryStore()
	require.NoError(t, autos.Create(ctx, smartAIAutomation("auto-1", "owner-1", "page-1")))

	ai := &fakeAI{reply: "hello"}
	sender := &fakeSender{}
	c := NewContinuation(autos, proGate(t, "owner-1"), NewMemoryStore(0), counter.NewMemoryStore(), ai, sender, nil)

	handled, err := c.Handle(ctx, dmEvent("page-1", "stranger", "hi there"))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Zero(t, ai.calls)
	assert.Empty(t, sender.sent)
}

func TestContinuationIgnoresNonDMAndOtherPages(t *testing.T) {
	ctx := context.Background()
	autos := automation.NewMemoryStore()
	require.NoError(t, autos.Create(ctx, smartAIAutomation("auto-1", "owner-1", "page-1")))

	transcripts := NewMemoryStore(0)
	require.NoError(t, transcripts.Append(ctx, "auto-1", "fan-1", Entry{Role: RoleUser, Text: "hi"}))

	c := NewContinuation(autos, proGate(t, "owner-1"), transcripts, counter.NewMemoryStore(), &fakeAI{reply: "x"}, &fakeSender{}, nil)

	comment := dmEvent("page-1", "fan-1", "nice post")
	comment.TriggerType = event.TriggerComment
	handled, err := c.Handle(ctx, comment)
	require.NoError(t, err)
	assert.False(t, handled)

	handled, err = c.Handle(ctx, dmEvent("page-2", "fan-1", "hello"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestContinuationDropsWhenPlanLosesAI(t *testing.T) {
	ctx := context.Background()
	autos := automation.NewMemoryStore()
	require.NoError(t, autos.Create(ctx, smartAIAutomation("auto-1", "owner-1", "page-1")))

	transcripts := NewMemoryStore(0)
	require.NoError(t, transcripts.Append(ctx, "auto-1", "fan-1", Entry{Role: RoleUser, Text: "hi"}))

	// Owner has no subscription: resolves to FREE, no AI.
	gate := plan.NewGate(plan.NewMemorySubscriptionStore())
	ai := &fakeAI{reply: "x"}
	sender := &fakeSender{}
	c := NewContinuation(autos, gate, transcripts, counter.NewMemoryStore(), ai, sender, nil)

	handled, err := c.Handle(ctx, dmEvent("page-1", "fan-1", "still there?"))
	require.NoError(t, err)
	assert.True(t, handled, "event is consumed even though no reply goes out")
	assert.Zero(t, ai.calls)
	assert.Empty(t, sender.sent)
}

func TestContinuationEnforcesAIQuota(t *testing.T) {
	ctx := context.Background()
	autos := automation.NewMemoryStore()
	require.NoError(t, autos.Create(ctx, smartAIAutomation("auto-1", "owner-1", "page-1")))

	transcripts := NewMemoryStore(0)
	require.NoError(t, transcripts.Append(ctx, "auto-1", "fan-1", Entry{Role: RoleUser, Text: "hi"}))

	// PRO carries a monthly AI cap; burn it.
	limits := plan.ForTier(plan.TierPro)
	if limits.MonthlyAIResponses <= 0 {
		t.Skip("PRO tier has unlimited AI responses")
	}
	counters := counter.NewMemoryStore()
	for i := 0; i < limits.MonthlyAIResponses; i++ {
		require.NoError(t, counters.IncrementAI(ctx, "auto-1"))
	}

	sender := &fakeSender{}
	c := NewContinuation(autos, proGate(t, "owner-1"), transcripts, counters, &fakeAI{reply: "x"}, sender, nil)

	_, err := c.Handle(ctx, dmEvent("page-1", "fan-1", "more?"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))
	assert.Empty(t, sender.sent)
}

func TestContinuationRecordFailureDoesNotFailEvent(t *testing.T) {
	ctx := context.Background()
	autos := automation.NewMemoryStore()
	require.NoError(t, autos.Create(ctx, smartAIAutomation("auto-1", "owner-1", "page-1")))

	transcripts := NewMemoryStore(0)
	require.NoError(t, transcripts.Append(ctx, "auto-1", "fan-1", Entry{Role: RoleUser, Text: "hi"}))

	sender := &fakeSender{err: errors.New("provider down")}
	c := NewContinuation(autos, proGate(t, "owner-1"), transcripts, counter.NewMemoryStore(), &fakeAI{reply: "x"}, sender, nil)

	handled, err := c.Handle(ctx, dmEvent("page-1", "fan-1", "hello"))
	assert.True(t, handled)
	require.Error(t, err)

	// Nothing was appended: the send never happened.
	history, herr := transcripts.History(ctx, "auto-1", "fan-1")
	require.NoError(t, herr)
	assert.Len(t, history, 1)
}
