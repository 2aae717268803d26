package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	err := store.Append(ctx, "auto-1", "user-1",
		Entry{Role: RoleUser, Text: "hi", At: time.Now()},
		Entry{Role: RoleAssistant, Text: "hello!", At: time.Now()},
	)
	require.NoError(t, err)

	history, err := store.History(ctx, "auto-1", "user-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Text)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestHistoryIsolatedPerConversation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	require.NoError(t, store.Append(ctx, "auto-1", "user-1", Entry{Role: RoleUser, Text: "a"}))
	require.NoError(t, store.Append(ctx, "auto-1", "user-2", Entry{Role: RoleUser, Text: "b"}))
	require.NoError(t, store.Append(ctx, "auto-2", "user-1", Entry{Role: RoleUser, Text: "c"}))

	history, err := store.History(ctx, "auto-1", "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a", history[0].Text)
}

func TestEmptyHistoryIsNotAnError(t *testing.T) {
	history, err := NewMemoryStore(0).History(context.Background(), "auto-1", "stranger")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistoryWindowTrimsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, store.Append(ctx, "auto-1", "user-1", Entry{Role: RoleUser, Text: text}))
	}

	history, err := store.History(ctx, "auto-1", "user-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "three", history[0].Text)
	assert.Equal(t, "five", history[2].Text)
}
