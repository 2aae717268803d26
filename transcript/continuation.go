package transcript

import (
	"context"
	"log/slog"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/counter"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

// AIResponder generates the next assistant message of a conversation.
type AIResponder interface {
	Respond(ctx context.Context, prompt string, history []Entry, userText string) (string, error)
}

// DMSender delivers a direct message on a page.
type DMSender interface {
	SendDM(ctx context.Context, pageID, recipientID, text string) error
}

// Continuation keeps AI conversations alive. A DM that matches no trigger
// is not dead on arrival: when the sender already has a transcript with an
// active AI automation on the page, the conversation simply continues.
type Continuation struct {
	automations automation.Store
	gate        *plan.Gate
	transcripts Store
	counters    counter.Store
	ai          AIResponder
	sender      DMSender
	logger      *slog.Logger
}

// NewContinuation wires the continuation handler.
func NewContinuation(automations automation.Store, gate *plan.Gate, transcripts Store,
	counters counter.Store, ai AIResponder, sender DMSender, logger *slog.Logger) *Continuation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Continuation{
		automations: automations,
		gate:        gate,
		transcripts: transcripts,
		counters:    counters,
		ai:          ai,
		sender:      sender,
		logger:      logger.With("component", "continuation"),
	}
}

// Handle tries to continue an existing conversation for an unmatched DM.
// It returns true when a reply was generated and sent. A DM with no
// eligible conversation returns (false, nil) so the caller can fall
// through to its no-match handling.
//
// Eligibility requires all of: an active automation on the event's page
// with a SMARTAI listener, a non-empty transcript between the sender and
// that automation, and an owner plan with AI enabled and quota remaining.
func (c *Continuation) Handle(ctx context.Context, ev *event.IncomingEvent) (bool, error) {
	if !ev.IsDM() || ev.Text == "" {
		return false, nil
	}

	active, err := c.automations.ListActive(ctx)
	if err != nil {
		return false, errors.WrapTransient(err, "transcript", "Handle", "list automations")
	}

	for _, auto := range active {
		if auto.PageID != ev.PageID || auto.Listener == nil || auto.Listener.Kind != automation.ListenerSmartAI {
			continue
		}
		history, err := c.transcripts.History(ctx, auto.ID, ev.SenderID)
		if err != nil {
			return false, err
		}
		if len(history) == 0 {
			// Never spoke with this automation; continuation does not
			// start conversations.
			continue
		}
		return true, c.continueConversation(ctx, auto, history, ev)
	}
	return false, nil
}

func (c *Continuation) continueConversation(ctx context.Context, auto *automation.Automation, history []Entry, ev *event.IncomingEvent) error {
	limits, err := c.gate.Resolve(ctx, auto.UserID)
	if err != nil {
		return err
	}
	if !limits.AIEnabled {
		// Owner downgraded mid-conversation. Drop silently rather than
		// answering with an entitlement the plan no longer has.
		c.logger.Info("conversation dropped, AI not in plan",
			"automation_id", auto.ID, "tier", limits.Tier)
		return nil
	}
	if limits.MonthlyAIResponses > 0 {
		counts, err := c.counters.Get(ctx, auto.ID)
		if err != nil {
			return err
		}
		if counts.AICount >= int64(limits.MonthlyAIResponses) {
			c.logger.Warn("conversation dropped, AI quota exhausted",
				"automation_id", auto.ID, "used", counts.AICount)
			return errors.WrapInvalid(errors.ErrQuotaExceeded, "transcript", "continueConversation", "check quota")
		}
	}

	reply, err := c.ai.Respond(ctx, auto.Listener.Prompt, history, ev.Text)
	if err != nil {
		return errors.Wrap(err, "transcript", "continueConversation", "generate reply")
	}

	if err := c.sender.SendDM(ctx, ev.PageID, ev.SenderID, reply); err != nil {
		return errors.Wrap(err, "transcript", "continueConversation", "send dm")
	}

	// Side effect already happened; record-keeping failures are logged,
	// not returned, so the event is not retried into a double send.
	if err := c.transcripts.Append(ctx, auto.ID, ev.SenderID,
		Entry{Role: RoleUser, Text: ev.Text, At: ev.ReceivedAt},
		Entry{Role: RoleAssistant, Text: reply, At: ev.ReceivedAt},
	); err != nil {
		c.logger.Error("transcript append failed", "automation_id", auto.ID, "error", err)
	}
	if err := c.counters.IncrementDM(ctx, auto.ID); err != nil {
		c.logger.Error("dm counter increment failed", "automation_id", auto.ID, "error", err)
	}
	if err := c.counters.IncrementAI(ctx, auto.ID); err != nil {
		c.logger.Error("ai counter increment failed", "automation_id", auto.ID, "error", err)
	}
	return nil
}
