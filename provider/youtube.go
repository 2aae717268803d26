package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/pkg/retry"
)

const (
	defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"
	defaultOAuthTokenURL  = "https://oauth2.googleapis.com/token"
)

// YouTubeComment is one top-level comment fetched from the data API.
type YouTubeComment struct {
	CommentID   string
	VideoID     string
	AuthorID    string
	Text        string
	PublishedAt time.Time
}

// RefreshedToken is the result of an OAuth refresh.
type RefreshedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// YouTubeClient polls comment threads and refreshes OAuth tokens. YouTube
// has no comment webhook, so ingestion for it is pull-based.
type YouTubeClient struct {
	http         *resty.Client
	oauth        *resty.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// YouTubeOption configures the YouTubeClient.
type YouTubeOption func(*YouTubeClient)

// WithYouTubeBaseURL overrides the data API base URL, mainly for tests.
func WithYouTubeBaseURL(url string) YouTubeOption {
	return func(c *YouTubeClient) { c.http.SetBaseURL(url) }
}

// WithOAuthTokenURL overrides the token endpoint, mainly for tests.
func WithOAuthTokenURL(url string) YouTubeOption {
	return func(c *YouTubeClient) { c.oauth.SetBaseURL(url) }
}

// NewYouTubeClient creates a YouTube API client.
func NewYouTubeClient(clientID, clientSecret string, logger *slog.Logger, opts ...YouTubeOption) *YouTubeClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &YouTubeClient{
		http: resty.New().
			SetBaseURL(defaultYouTubeBaseURL).
			SetTimeout(20 * time.Second),
		oauth: resty.New().
			SetBaseURL(defaultOAuthTokenURL).
			SetTimeout(10 * time.Second),
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger.With("component", "youtube"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type commentThreadList struct {
	Items []struct {
		Snippet struct {
			TopLevelComment struct {
				ID      string `json:"id"`
				Snippet struct {
					VideoID     string `json:"videoId"`
					TextDisplay string `json:"textDisplay"`
					AuthorChannelID struct {
						Value string `json:"value"`
					} `json:"authorChannelId"`
					PublishedAt time.Time `json:"publishedAt"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

// ListCommentThreads fetches recent top-level comments on the channel's
// videos, newest first.
func (c *YouTubeClient) ListCommentThreads(ctx context.Context, accessToken, channelID string, maxResults int) ([]YouTubeComment, error) {
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 50
	}

	var list commentThreadList
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParams(map[string]string{
			"part":         "snippet",
			"allThreadsRelatedToChannelId": channelID,
			"order":        "time",
			"maxResults":   fmt.Sprintf("%d", maxResults),
			"textFormat":   "plainText",
		}).
		SetResult(&list).
		SetError(&apiErr).
		Get("/commentThreads")
	if err != nil {
		return nil, errors.WrapTransient(err, "provider", "ListCommentThreads", "fetch threads")
	}
	if !resp.IsSuccess() {
		return nil, classifyHTTP(resp.StatusCode(), "list_comment_threads", apiErr.Error.Message)
	}

	comments := make([]YouTubeComment, 0, len(list.Items))
	for _, item := range list.Items {
		top := item.Snippet.TopLevelComment
		if top.ID == "" {
			continue
		}
		comments = append(comments, YouTubeComment{
			CommentID:   top.ID,
			VideoID:     top.Snippet.VideoID,
			AuthorID:    top.Snippet.AuthorChannelID.Value,
			Text:        top.Snippet.TextDisplay,
			PublishedAt: top.Snippet.PublishedAt,
		})
	}
	return comments, nil
}

// RefreshToken exchanges a refresh token for a fresh access token. Network
// faults retry with backoff; an invalid grant fails immediately since the
// user must reconnect the channel.
func (c *YouTubeClient) RefreshToken(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	type tokenResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}

	token, err := retry.DoWithResult(ctx, retry.Fixed(3, 500*time.Millisecond), func() (*RefreshedToken, error) {
		var result tokenResponse
		resp, err := c.oauth.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"client_id":     c.clientID,
				"client_secret": c.clientSecret,
				"refresh_token": refreshToken,
				"grant_type":    "refresh_token",
			}).
			SetResult(&result).
			Post("")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == 400 || resp.StatusCode() == 401 {
			return nil, retry.NonRetryable(fmt.Errorf("refresh rejected with %d: %w", resp.StatusCode(), errors.ErrTokenExpired))
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode())
		}
		return &RefreshedToken{
			AccessToken: result.AccessToken,
			ExpiresAt:   time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
		}, nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrTokenExpired) {
			return nil, errors.WrapFatal(err, "provider", "RefreshToken", "exchange token")
		}
		return nil, errors.WrapTransient(err, "provider", "RefreshToken", "exchange token")
	}
	return token, nil
}
