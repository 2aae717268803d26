package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/counter"
	"github.com/atharva20-coder/swoopin-sub002/dedup"
	flowengine "github.com/atharva20-coder/swoopin-sub002/engine"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/flowgraph"
	"github.com/atharva20-coder/swoopin-sub002/plan"
	"github.com/atharva20-coder/swoopin-sub002/transcript"
)

type recordingMessenger struct {
	dms     []string
	sendErr error
}

func (m *recordingMessenger) SendDM(_ context.Context, _, _, text string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.dms = append(m.dms, text)
	return nil
}

func (m *recordingMessenger) ReplyComment(_ context.Context, _, _, text string) error {
	m.dms = append(m.dms, text)
	return nil
}

func (m *recordingMessenger) PostCarousel(_ context.Context, _, _, _ string) error { return nil }

type staticAI struct{ reply string }

func (a *staticAI) Respond(_ context.Context, _ string, _ []transcript.Entry, _ string) (string, error) {
	return a.reply, nil
}

type pipelineHarness struct {
	pipeline    *Pipeline
	autos       *automation.MemoryStore
	messenger   *recordingMessenger
	counters    *counter.MemoryStore
	transcripts *transcript.MemoryStore
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	subs := plan.NewMemorySubscriptionStore()
	require.NoError(t, subs.Put(ctx, &plan.Subscription{UserID: "owner-1", Tier: plan.TierPro}))
	gate := plan.NewGate(subs)

	validator, err := flowgraph.NewCachedValidator(ctx, flowgraph.NewValidator(nil), time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { validator.Close() })

	h := &pipelineHarness{
		autos:       automation.NewMemoryStore(),
		messenger:   &recordingMessenger{},
		counters:    counter.NewMemoryStore(),
		transcripts: transcript.NewMemoryStore(0),
	}

	registry := flowengine.NewRegistry()
	flowengine.RegisterDefaults(registry, flowengine.ExecutorDeps{
		Messenger:   h.messenger,
		AI:          &staticAI{reply: "ai reply"},
		Transcripts: h.transcripts,
		Counters:    h.counters,
	})
	engine := flowengine.NewEngine(h.autos, gate, validator, registry, nil, nil)
	matcher := automation.NewMatcher(h.autos, nil)
	continuation := transcript.NewContinuation(h.autos, gate, h.transcripts, h.counters, &staticAI{reply: "ai reply"}, h.messenger, nil)

	h.pipeline = NewPipeline(matcher, engine, dedup.NewMemoryStore(time.Hour), continuation, nil, nil)
	return h
}

func keywordAutomation(id string) *automation.Automation {
	return &automation.Automation{
		ID:     id,
		UserID: "owner-1",
		PageID: "page-1",
		Active: true,
		Triggers: []automation.Trigger{
			{ID: "tr1", Type: event.TriggerDM},
		},
		Keywords: []automation.Keyword{
			{ID: "k1", Word: "promo"},
		},
		Nodes: []automation.FlowNode{
			{ID: "t", Type: automation.NodeTrigger, SubType: string(event.TriggerDM)},
			{ID: "dm", Type: automation.NodeAction, SubType: automation.SubTypeSendDM,
				Config: map[string]any{"message": "here is your promo code"}},
		},
		Edges: []automation.FlowEdge{{Source: "t", Target: "dm"}},
	}
}

func webhookBody(eventID, text string) []byte {
	return []byte(fmt.Sprintf(`{
	  "entry": [{
	    "id": "page-1",
	    "time": 1756400000000,
	    "messaging": [{
	      "sender": {"id": "fan-1"},
	      "recipient": {"id": "page-1"},
	      "timestamp": 1756400000000,
	      "message": {"mid": %q, "text": %q}
	    }]
	  }]
	}`, eventID, text))
}

func TestPipelineExecutesMatchedAutomation(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	require.NoError(t, h.autos.Create(ctx, keywordAutomation("auto-1")))

	result, err := h.pipeline.Process(ctx, NewWebhookEnvelope(webhookBody("m1", "send me the PROMO")))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"here is your promo code"}, h.messenger.dms)

	counts, err := h.counters.Get(ctx, "auto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.DMCount)
}

func TestPipelineDropsDuplicates(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	require.NoError(t, h.autos.Create(ctx, keywordAutomation("auto-1")))

	body := webhookBody("same-mid", "promo please")
	first, err := h.pipeline.Process(ctx, NewWebhookEnvelope(body))
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := h.pipeline.Process(ctx, NewWebhookEnvelope(body))
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, "duplicate event", second.Message)

	// Exactly one send despite two deliveries.
	assert.Len(t, h.messenger.dms, 1)
}

func TestPipelineNoMatchIsSuccessfulNoOp(t *testing.T) {
	h := newPipelineHarness(t)

	result, err := h.pipeline.Process(context.Background(), NewWebhookEnvelope(webhookBody("m2", "just saying hi")))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "no automation matched", result.Message)
	assert.Empty(t, h.messenger.dms)
}

func TestPipelineMalformedPayloadIsInvalid(t *testing.T) {
	h := newPipelineHarness(t)

	result, err := h.pipeline.Process(context.Background(), NewWebhookEnvelope([]byte(`{"entry":[]}`)))
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, errors.IsInvalid(err))
	assert.False(t, errors.IsTransient(err))
}

func TestPipelineContinuesConversationOnNoMatch(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	auto := keywordAutomation("auto-1")
	auto.Listener = &automation.Listener{ID: "l1", Kind: automation.ListenerSmartAI, Prompt: "help fans"}
	require.NoError(t, h.autos.Create(ctx, auto))

	// Seed an open conversation so the unmatched DM continues it instead
	// of falling through to the no-match no-op.
	require.NoError(t, h.transcripts.Append(ctx, "auto-1", "fan-1",
		transcript.Entry{Role: transcript.RoleUser, Text: "promo please", At: time.Now()},
		transcript.Entry{Role: transcript.RoleAssistant, Text: "sure, which one?", At: time.Now()},
	))

	result, err := h.pipeline.Process(ctx, NewWebhookEnvelope(webhookBody("m3", "the summer one")))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "conversation continued", result.Message)
	assert.Equal(t, []string{"ai reply"}, h.messenger.dms)

	history, err := h.transcripts.History(ctx, "auto-1", "fan-1")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestPipelineTransientExecutionErrorPropagates(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	require.NoError(t, h.autos.Create(ctx, keywordAutomation("auto-1")))

	h.messenger.sendErr = errors.WrapTransient(errors.New("rate limited"), "provider", "SendDM", "post")

	result, err := h.pipeline.Process(ctx, NewWebhookEnvelope(webhookBody("m4", "promo now")))
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, errors.IsTransient(err))
}

func TestPipelineRedeliveryAfterTransientFailureSends(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	require.NoError(t, h.autos.Create(ctx, keywordAutomation("auto-1")))

	// First delivery fails mid-flow after the dedup mark is taken.
	h.messenger.sendErr = errors.WrapTransient(errors.New("rate limited"), "provider", "SendDM", "post")
	body := webhookBody("m5", "promo now")
	_, err := h.pipeline.Process(ctx, NewWebhookEnvelope(body))
	require.Error(t, err)
	require.True(t, errors.IsTransient(err))

	// The provider recovers; the transport redelivery must execute the
	// flow, not be dropped as a duplicate.
	h.messenger.sendErr = nil
	result, err := h.pipeline.Process(ctx, NewWebhookEnvelope(body))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "automation executed", result.Message)
	assert.Len(t, h.messenger.dms, 1)

	// A third delivery is a real duplicate again.
	result, err = h.pipeline.Process(ctx, NewWebhookEnvelope(body))
	require.NoError(t, err)
	assert.Equal(t, "duplicate event", result.Message)
	assert.Len(t, h.messenger.dms, 1)
}

func TestPipelineFatalFailureKeepsMark(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	require.NoError(t, h.autos.Create(ctx, keywordAutomation("auto-1")))

	h.messenger.sendErr = errors.WrapFatal(errors.ErrProviderRejected, "provider", "SendDM", "post")
	body := webhookBody("m6", "promo now")
	_, err := h.pipeline.Process(ctx, NewWebhookEnvelope(body))
	require.Error(t, err)
	require.False(t, errors.IsTransient(err))

	// Fatal events stay marked; a redelivery never re-runs them.
	h.messenger.sendErr = nil
	result, err := h.pipeline.Process(ctx, NewWebhookEnvelope(body))
	require.NoError(t, err)
	assert.Equal(t, "duplicate event", result.Message)
	assert.Empty(t, h.messenger.dms)
}

func TestPipelineProcessesPolledEvents(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	auto := keywordAutomation("auto-1")
	auto.Triggers = []automation.Trigger{{ID: "tr1", Type: event.TriggerYouTubeComment}}
	auto.Nodes[0].SubType = string(event.TriggerYouTubeComment)
	require.NoError(t, h.autos.Create(ctx, auto))

	ev := event.PolledComment("page-1", "yt-cmt-1", "viewer-1", "promo please", time.Now())
	result, err := h.pipeline.Process(ctx, NewPolledEnvelope(ev))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, h.messenger.dms, 1)
}
