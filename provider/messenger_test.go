package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
)

func integrationStore(t *testing.T) automation.IntegrationStore {
	t.Helper()
	store := automation.NewMemoryIntegrationStore()
	require.NoError(t, store.Save(context.Background(), &automation.Integration{
		ID:          "int-1",
		UserID:      "owner-1",
		Provider:    automation.ProviderInstagram,
		PageID:      "page-1",
		AccessToken: "token-abc",
	}))
	return store
}

func TestSendDM(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMessenger(integrationStore(t), nil, WithBaseURL(server.URL))
	err := m.SendDM(context.Background(), "page-1", "fan-1", "hello!")
	require.NoError(t, err)

	assert.Equal(t, "/page-1/messages", gotPath)
	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.Equal(t, map[string]any{"id": "fan-1"}, gotBody["recipient"])
	assert.Equal(t, map[string]any{"text": "hello!"}, gotBody["message"])
}

func TestReplyCommentPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMessenger(integrationStore(t), nil, WithBaseURL(server.URL))
	require.NoError(t, m.ReplyComment(context.Background(), "page-1", "comment-7", "thanks!"))
	assert.Equal(t, "/comment-7/replies", gotPath)
}

func TestProviderErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		check      func(t *testing.T, err error)
	}{
		{
			name:       "429 is transient rate limit",
			statusCode: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsTransient(err))
				assert.True(t, errors.Is(err, errors.ErrRateLimited))
			},
		},
		{
			name:       "500 is transient",
			statusCode: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsTransient(err))
			},
		},
		{
			name:       "401 is an expired token",
			statusCode: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.False(t, errors.IsTransient(err))
				assert.True(t, errors.Is(err, errors.ErrTokenExpired))
			},
		},
		{
			name:       "400 is rejected for good",
			statusCode: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.False(t, errors.IsTransient(err))
				assert.True(t, errors.Is(err, errors.ErrProviderRejected))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","code":1}}`))
			}))
			defer server.Close()

			m := NewMessenger(integrationStore(t), nil, WithBaseURL(server.URL))
			err := m.SendDM(context.Background(), "page-1", "fan-1", "hello")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSendDMUnknownPage(t *testing.T) {
	m := NewMessenger(automation.NewMemoryIntegrationStore(), nil)
	err := m.SendDM(context.Background(), "no-such-page", "fan-1", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
