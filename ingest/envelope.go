// Package ingest receives provider webhooks, queues them through JetStream
// and drives each event through the processing pipeline.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/event"
)

// JetStream names for the ingestion work queue.
const (
	StreamName     = "SWOOPIN_EVENTS"
	SubjectWebhook = "swoopin.events.webhook"
	SubjectPolled  = "swoopin.events.polled"
	ConsumerName   = "swoopin-pipeline"
)

// Envelope wraps one event on its way through the queue. Webhook deliveries
// carry the raw provider payload; the poller enqueues events it already
// normalized.
type Envelope struct {
	// Source is "webhook" or "poller".
	Source     string               `json:"source"`
	Payload    json.RawMessage      `json:"payload,omitempty"`
	Event      *event.IncomingEvent `json:"event,omitempty"`
	ReceivedAt time.Time            `json:"received_at"`
}

// NewWebhookEnvelope wraps a raw webhook payload.
func NewWebhookEnvelope(payload []byte) *Envelope {
	return &Envelope{
		Source:     "webhook",
		Payload:    json.RawMessage(payload),
		ReceivedAt: time.Now().UTC(),
	}
}

// NewPolledEnvelope wraps an event the poller already normalized.
func NewPolledEnvelope(ev *event.IncomingEvent) *Envelope {
	return &Envelope{
		Source:     "poller",
		Event:      ev,
		ReceivedAt: time.Now().UTC(),
	}
}
