package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/dedup"
	flowengine "github.com/atharva20-coder/swoopin-sub002/engine"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/metric"
	"github.com/atharva20-coder/swoopin-sub002/transcript"
)

// Result is the final disposition of one event.
type Result struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// Pipeline drives one event end to end: normalize, deduplicate, match,
// execute, and fall through to chat continuation when nothing matched.
type Pipeline struct {
	matcher      *automation.Matcher
	engine       *flowengine.Engine
	dedup        dedup.Store
	continuation *transcript.Continuation
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// NewPipeline wires the pipeline. continuation and metrics may be nil.
func NewPipeline(matcher *automation.Matcher, engine *flowengine.Engine, dedupStore dedup.Store,
	continuation *transcript.Continuation, logger *slog.Logger, metrics *metric.Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		matcher:      matcher,
		engine:       engine,
		dedup:        dedupStore,
		continuation: continuation,
		logger:       logger.With("component", "pipeline"),
		metrics:      metrics,
	}
}

// Process runs one envelope through the pipeline.
//
// No-op dispositions (duplicate, no match, inactive automation) return a
// successful Result with no error: the delivery must be acknowledged, not
// retried. Returned errors carry the retry taxonomy; the transport layer
// maps transient to redelivery and everything else to a dead letter.
func (p *Pipeline) Process(ctx context.Context, env *Envelope) (*Result, error) {
	start := time.Now()

	ev := env.Event
	if ev == nil {
		var err error
		ev, err = event.Normalize(env.Payload)
		if err != nil {
			// Malformed input never improves with retries.
			p.logger.Warn("payload rejected", "source", env.Source, "error", err)
			return &Result{Message: "malformed payload", Success: false},
				errors.WrapInvalid(err, "ingest", "Process", "normalize payload")
		}
	}
	if p.metrics != nil {
		p.metrics.RecordEventReceived(string(ev.TriggerType), env.Source)
	}

	outcome := "error"
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordEventProcessed(string(ev.TriggerType), outcome, time.Since(start))
		}
	}()

	// Events without a provider id cannot be deduplicated; they pass
	// through rather than being dropped.
	marked := false
	if ev.EventID != "" {
		fresh, err := p.dedup.MarkIfNew(ctx, ev.EventID)
		if err != nil {
			return &Result{Message: "dedup store unavailable", Success: false}, err
		}
		if !fresh {
			if p.metrics != nil {
				p.metrics.RecordDuplicate()
			}
			outcome = "duplicate"
			p.logger.Debug("duplicate event dropped", "event_id", ev.EventID)
			return &Result{Message: "duplicate event", Success: true}, nil
		}
		marked = true
	}

	result, err := p.dispatch(ctx, ev, &outcome)
	if err != nil && marked && errors.IsTransient(err) {
		// The transport will redeliver; release the mark or the retry
		// reads as a duplicate and the event is lost.
		if relErr := p.dedup.Release(ctx, ev.EventID); relErr != nil {
			p.logger.Error("dedup mark release failed, retry will be dropped",
				"event_id", ev.EventID, "error", relErr)
		}
	}
	return result, err
}

func (p *Pipeline) dispatch(ctx context.Context, ev *event.IncomingEvent, outcome *string) (*Result, error) {
	match, err := p.matcher.Match(ctx, ev)
	if err != nil {
		if errors.Is(err, errors.ErrNoMatch) {
			return p.noMatch(ctx, ev, outcome)
		}
		return &Result{Message: "matching failed", Success: false}, err
	}

	execOutcome, err := p.engine.Execute(ctx, *match, ev)
	if err != nil {
		return &Result{Message: "execution failed", Success: false}, err
	}

	switch execOutcome.Status {
	case flowengine.StatusSkipped:
		*outcome = "skipped"
		return &Result{Message: execOutcome.Reason, Success: true}, nil
	default:
		*outcome = "succeeded"
		p.logger.Info("event handled",
			"event_id", ev.EventID,
			"trigger", ev.TriggerType,
			"automation_id", execOutcome.AutomationID,
			"path_len", len(execOutcome.Path))
		return &Result{Message: "automation executed", Success: true}, nil
	}
}

func (p *Pipeline) noMatch(ctx context.Context, ev *event.IncomingEvent, outcome *string) (*Result, error) {
	if p.continuation != nil && ev.IsDM() {
		handled, err := p.continuation.Handle(ctx, ev)
		if err != nil {
			if errors.IsTransient(err) {
				return &Result{Message: "continuation failed", Success: false}, err
			}
			// Quota and plan refusals end the event here.
			*outcome = "continuation_refused"
			return &Result{Message: "conversation not continued", Success: true}, nil
		}
		if handled {
			*outcome = "continued"
			return &Result{Message: "conversation continued", Success: true}, nil
		}
	}
	*outcome = "no_match"
	return &Result{Message: "no automation matched", Success: true}, nil
}
