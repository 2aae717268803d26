package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
)

// maxWebhookBody bounds webhook payload reads. Provider deliveries are a
// few KB; anything near the cap is hostile.
const maxWebhookBody = 1 << 20

// Publisher enqueues envelopes for asynchronous processing.
type Publisher interface {
	Publish(ctx context.Context, env *Envelope) error
}

// JetStreamPublisher publishes envelopes to the ingestion stream.
type JetStreamPublisher struct {
	js jetstream.JetStream
}

// NewJetStreamPublisher ensures the ingestion stream exists and returns a
// publisher for it.
func NewJetStreamPublisher(ctx context.Context, client *natsclient.Client) (*JetStreamPublisher, error) {
	_, err := client.CreateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"swoopin.events.>"},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, err
	}
	return &JetStreamPublisher{js: client.JetStream()}, nil
}

// Publish enqueues one envelope.
func (p *JetStreamPublisher) Publish(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapFatal(err, "ingest", "Publish", "marshal envelope")
	}
	subject := SubjectWebhook
	if env.Source == "poller" {
		subject = SubjectPolled
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "ingest", "Publish", "publish to stream")
	}
	return nil
}

// Receiver terminates provider webhooks: it answers the subscription
// handshake, verifies delivery signatures and enqueues payloads. When no
// publisher is configured it processes events inline, which is the
// single-process deployment mode.
type Receiver struct {
	signer      *Signer
	verifyToken string
	publisher   Publisher
	pipeline    *Pipeline
	logger      *slog.Logger
}

// NewReceiver creates a webhook receiver. publisher may be nil to process
// inline; pipeline is required in that mode.
func NewReceiver(signer *Signer, verifyToken string, publisher Publisher, pipeline *Pipeline, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		signer:      signer,
		verifyToken: verifyToken,
		publisher:   publisher,
		pipeline:    pipeline,
		logger:      logger.With("component", "receiver"),
	}
}

// RegisterHTTPHandlers registers the webhook endpoints on mux under prefix.
func (rc *Receiver) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	mux.HandleFunc("GET "+prefix+"webhook", rc.handleVerify)
	mux.HandleFunc("POST "+prefix+"webhook", rc.handleDelivery)
}

// handleVerify answers the provider's subscription handshake: echo the
// challenge when the verify token matches.
func (rc *Receiver) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != rc.verifyToken {
		rc.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

func (rc *Receiver) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if err := rc.signer.Verify(body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		rc.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	env := NewWebhookEnvelope(body)

	if rc.publisher != nil {
		if err := rc.publisher.Publish(r.Context(), env); err != nil {
			// The provider retries on 5xx; better than dropping the event.
			rc.logger.Error("enqueue failed", "error", err)
			http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := rc.pipeline.Process(r.Context(), env)
	if err != nil && errors.IsTransient(err) {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	// Invalid payloads and fatal outcomes are acknowledged: redelivery
	// cannot fix them and only multiplies the failure.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if encodeErr := json.NewEncoder(w).Encode(result); encodeErr != nil {
		rc.logger.Error("response encode failed", "error", encodeErr)
	}
}
