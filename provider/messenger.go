// Package provider holds the outbound clients: the social platform's
// messaging API, the AI model, and the YouTube data API.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/metric"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v21.0"

// Messenger sends DMs, comment replies and carousels through the platform
// Graph API. Page access tokens come from the integration store per call,
// so a token rotation takes effect without a restart.
type Messenger struct {
	http         *resty.Client
	integrations automation.IntegrationStore
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// MessengerOption configures the Messenger.
type MessengerOption func(*Messenger)

// WithBaseURL overrides the Graph API base URL, mainly for tests.
func WithBaseURL(url string) MessengerOption {
	return func(m *Messenger) { m.http.SetBaseURL(url) }
}

// WithMessengerMetrics records provider call metrics.
func WithMessengerMetrics(metrics *metric.Metrics) MessengerOption {
	return func(m *Messenger) { m.metrics = metrics }
}

// NewMessenger creates a messaging client.
func NewMessenger(integrations automation.IntegrationStore, logger *slog.Logger, opts ...MessengerOption) *Messenger {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Messenger{
		http: resty.New().
			SetBaseURL(defaultGraphBaseURL).
			SetTimeout(15 * time.Second),
		integrations: integrations,
		logger:       logger.With("component", "messenger"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendDM delivers a direct message from the page to a recipient.
func (m *Messenger) SendDM(ctx context.Context, pageID, recipientID, text string) error {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	return m.post(ctx, "send_dm", pageID, fmt.Sprintf("/%s/messages", pageID), body)
}

// ReplyComment posts a public reply under a comment.
func (m *Messenger) ReplyComment(ctx context.Context, pageID, commentID, text string) error {
	body := map[string]any{"message": text}
	return m.post(ctx, "reply_comment", pageID, fmt.Sprintf("/%s/replies", commentID), body)
}

// PostCarousel delivers a generic template carousel to a recipient.
func (m *Messenger) PostCarousel(ctx context.Context, pageID, recipientID, templateID string) error {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_type": "generic",
					"template_id":   templateID,
				},
			},
		},
	}
	return m.post(ctx, "post_carousel", pageID, fmt.Sprintf("/%s/messages", pageID), body)
}

func (m *Messenger) post(ctx context.Context, operation, pageID, path string, body any) error {
	integration, err := m.integrations.GetByPage(ctx, pageID)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return errors.WrapFatal(
				fmt.Errorf("no integration for page %s: %w", pageID, err),
				"provider", "post", "resolve token")
		}
		return err
	}

	start := time.Now()
	var apiErr apiError
	resp, err := m.http.R().
		SetContext(ctx).
		SetAuthToken(integration.AccessToken).
		SetBody(body).
		SetError(&apiErr).
		Post(path)

	status := "ok"
	defer func() {
		if m.metrics != nil {
			m.metrics.RecordProviderCall(string(integration.Provider), operation, status, time.Since(start))
		}
	}()

	if err != nil {
		status = "network_error"
		return errors.WrapTransient(err, "provider", "post", operation)
	}
	if resp.IsSuccess() {
		return nil
	}

	status = fmt.Sprintf("http_%d", resp.StatusCode())
	m.logger.Warn("provider call rejected",
		"operation", operation,
		"page_id", pageID,
		"status", resp.StatusCode(),
		"api_message", apiErr.Error.Message)

	return classifyHTTP(resp.StatusCode(), operation, apiErr.Error.Message)
}

// classifyHTTP maps a provider HTTP status to the retry taxonomy: server
// faults and throttling retry, auth failures need a token refresh, anything
// else 4xx is rejected for good.
func classifyHTTP(statusCode int, operation, message string) error {
	switch {
	case statusCode == 429:
		return errors.WrapTransient(
			fmt.Errorf("%s: %w", message, errors.ErrRateLimited),
			"provider", "post", operation)
	case statusCode >= 500:
		return errors.WrapTransient(
			fmt.Errorf("provider returned %d: %s", statusCode, message),
			"provider", "post", operation)
	case statusCode == 401 || statusCode == 403:
		return errors.WrapFatal(
			fmt.Errorf("%s: %w", message, errors.ErrTokenExpired),
			"provider", "post", operation)
	default:
		return errors.WrapFatal(
			fmt.Errorf("provider returned %d: %s: %w", statusCode, message, errors.ErrProviderRejected),
			"provider", "post", operation)
	}
}
