// Package poller pulls YouTube comments on an interval and feeds them into
// the ingestion pipeline. YouTube exposes no comment webhook, so this is
// the only ingestion path for that provider.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/ingest"
	"github.com/atharva20-coder/swoopin-sub002/pkg/cache"
	"github.com/atharva20-coder/swoopin-sub002/provider"
)

// CommentSource lists comment threads and refreshes OAuth tokens.
// *provider.YouTubeClient satisfies it.
type CommentSource interface {
	ListCommentThreads(ctx context.Context, accessToken, channelID string, maxResults int) ([]provider.YouTubeComment, error)
	RefreshToken(ctx context.Context, refreshToken string) (*provider.RefreshedToken, error)
}

// Sink receives the envelopes the poller produces. ingest.JetStreamPublisher
// satisfies it for the queued deployment mode.
type Sink interface {
	Publish(ctx context.Context, env *ingest.Envelope) error
}

// InlineSink runs envelopes through the pipeline directly, for the
// single-process deployment mode.
type InlineSink struct {
	Pipeline *ingest.Pipeline
}

// Publish processes the envelope inline. Non-transient failures are
// swallowed: a comment the pipeline refuses will refuse again next cycle.
func (s *InlineSink) Publish(ctx context.Context, env *ingest.Envelope) error {
	_, err := s.Pipeline.Process(ctx, env)
	if err != nil && errors.IsTransient(err) {
		return err
	}
	return nil
}

// Config tunes the polling loop.
type Config struct {
	// Interval between poll cycles. Defaults to 60s.
	Interval time.Duration
	// MaxResults per commentThreads call. Defaults to 50.
	MaxResults int
	// SeenTTL bounds the local already-published cache. Defaults to 6h.
	SeenTTL time.Duration
}

func (c Config) normalize() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 50
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = 6 * time.Hour
	}
	return c
}

// Poller cycles over YouTube integrations, refreshes lapsed tokens, fetches
// recent comment threads and publishes unseen comments as polled events.
//
// The seen cache only suppresses re-publishing within this process; the
// pipeline's dedup store stays the authoritative guard, so restarts are
// safe and merely republish a window of comments.
type Poller struct {
	integrations automation.IntegrationStore
	source       CommentSource
	sink         Sink
	seen         cache.Cache[struct{}]
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a poller. ctx bounds the seen cache's sweeper.
func New(ctx context.Context, integrations automation.IntegrationStore, source CommentSource,
	sink Sink, cfg Config, logger *slog.Logger) (*Poller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	seen, err := cache.NewTTL[struct{}](ctx, cfg.SeenTTL)
	if err != nil {
		return nil, errors.WrapFatal(err, "poller", "New", "create seen cache")
	}
	return &Poller{
		integrations: integrations,
		source:       source,
		sink:         sink,
		seen:         seen,
		cfg:          cfg,
		logger:       logger.With("component", "poller"),
		now:          time.Now,
	}, nil
}

// Run polls until ctx is done. The first cycle starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer func() {
		if err := p.seen.Close(); err != nil {
			p.logger.Warn("seen cache close failed", "error", err)
		}
	}()

	for {
		if err := p.RunOnce(ctx); err != nil {
			p.logger.Error("poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single poll cycle. A failure on one integration is
// logged and does not stop the others; only failing to list integrations
// at all is returned.
func (p *Poller) RunOnce(ctx context.Context) error {
	integrations, err := p.integrations.ListByProvider(ctx, automation.ProviderYouTube)
	if err != nil {
		return errors.WrapTransient(err, "poller", "RunOnce", "list integrations")
	}

	for _, integ := range integrations {
		if err := p.pollIntegration(ctx, integ); err != nil {
			p.logger.Warn("integration poll failed",
				"integration_id", integ.ID, "channel_id", integ.PageID, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (p *Poller) pollIntegration(ctx context.Context, integ *automation.Integration) error {
	token := integ.AccessToken
	if integ.TokenExpired(p.now()) {
		refreshed, err := p.refresh(ctx, integ)
		if err != nil {
			return err
		}
		token = refreshed
	}

	comments, err := p.source.ListCommentThreads(ctx, token, integ.PageID, p.cfg.MaxResults)
	if err != nil {
		return err
	}

	published := 0
	for _, c := range comments {
		if _, dup := p.seen.Get(c.CommentID); dup {
			continue
		}
		ev := event.PolledComment(integ.PageID, c.CommentID, c.AuthorID, c.Text, c.PublishedAt)
		if err := p.sink.Publish(ctx, ingest.NewPolledEnvelope(ev)); err != nil {
			// Leave the comment unmarked so the next cycle retries it.
			p.logger.Warn("comment publish failed", "comment_id", c.CommentID, "error", err)
			continue
		}
		p.seen.Set(c.CommentID, struct{}{})
		published++
	}
	if published > 0 {
		p.logger.Debug("comments published",
			"channel_id", integ.PageID, "count", published)
	}
	return nil
}

// refresh exchanges the refresh token and persists the new access token.
// A fatal refresh failure means the user must re-link the channel; the
// integration is skipped until then.
func (p *Poller) refresh(ctx context.Context, integ *automation.Integration) (string, error) {
	if integ.RefreshToken == "" {
		return "", errors.WrapFatal(errors.ErrTokenExpired, "poller", "refresh", "no refresh token")
	}
	refreshed, err := p.source.RefreshToken(ctx, integ.RefreshToken)
	if err != nil {
		return "", err
	}

	integ.AccessToken = refreshed.AccessToken
	integ.TokenExpiry = refreshed.ExpiresAt
	integ.UpdatedAt = p.now()
	if err := p.integrations.Save(ctx, integ); err != nil {
		// The refreshed token still works for this cycle.
		p.logger.Warn("refreshed token save failed",
			"integration_id", integ.ID, "error", err)
	}
	return refreshed.AccessToken, nil
}
