// Package transcript stores per-conversation chat history and drives chat
// continuation: ongoing AI conversations keep flowing even when a new
// message matches no keyword.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
)

// Role identifies who produced a transcript entry.
type Role string

// Transcript roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one message in a conversation.
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// DefaultHistoryWindow bounds how many entries are kept per conversation.
// Older entries fall off; AI prompts only ever see this window.
const DefaultHistoryWindow = 40

// Store persists conversation transcripts keyed by automation and sender.
type Store interface {
	// Append adds entries to the conversation, trimming to the history
	// window.
	Append(ctx context.Context, automationID, senderID string, entries ...Entry) error
	// History returns the conversation's entries, oldest first. A
	// conversation that never happened returns an empty slice, not an
	// error.
	History(ctx context.Context, automationID, senderID string) ([]Entry, error)
}

func conversationKey(automationID, senderID string) string {
	return fmt.Sprintf("%s.%s", automationID, senderID)
}

const transcriptBucket = "swoopin_transcripts"

// KVStore persists transcripts in a NATS KV bucket, one key per
// conversation. Appends go through CAS so interleaved executions never
// drop each other's entries.
type KVStore struct {
	kv     *natsclient.KVStore
	window int
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates the transcript bucket if needed. A non-positive
// window uses DefaultHistoryWindow.
func NewKVStore(ctx context.Context, client *natsclient.Client, window int) (*KVStore, error) {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      transcriptBucket,
		Description: "Per-conversation chat history",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "transcript", "NewKVStore", "create KV bucket")
	}
	return &KVStore{kv: client.NewKVStore(bucket), window: window}, nil
}

// Append adds entries to the conversation.
func (s *KVStore) Append(ctx context.Context, automationID, senderID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	key := conversationKey(automationID, senderID)
	err := s.kv.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
		var history []Entry
		if len(current) > 0 {
			if err := json.Unmarshal(current, &history); err != nil {
				return nil, err
			}
		}
		history = append(history, entries...)
		if len(history) > s.window {
			history = history[len(history)-s.window:]
		}
		return json.Marshal(history)
	})
	if err != nil {
		return errors.WrapTransient(err, "transcript", "Append", "kv update")
	}
	return nil
}

// History returns the conversation's entries, oldest first.
func (s *KVStore) History(ctx context.Context, automationID, senderID string) ([]Entry, error) {
	entry, err := s.kv.Get(ctx, conversationKey(automationID, senderID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "transcript", "History", "kv get")
	}
	var history []Entry
	if err := json.Unmarshal(entry.Value, &history); err != nil {
		return nil, errors.WrapFatal(err, "transcript", "History", "unmarshal history")
	}
	return history, nil
}

// MemoryStore is an in-process Store for tests and the direct fallback.
type MemoryStore struct {
	mu      sync.Mutex
	window  int
	history map[string][]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A non-positive window uses
// DefaultHistoryWindow.
func NewMemoryStore(window int) *MemoryStore {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &MemoryStore{window: window, history: make(map[string][]Entry)}
}

// Append adds entries to the conversation.
func (s *MemoryStore) Append(_ context.Context, automationID, senderID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := conversationKey(automationID, senderID)
	history := append(s.history[key], entries...)
	if len(history) > s.window {
		history = history[len(history)-s.window:]
	}
	s.history[key] = history
	return nil
}

// History returns the conversation's entries, oldest first.
func (s *MemoryStore) History(_ context.Context, automationID, senderID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.history[conversationKey(automationID, senderID)]
	out := make([]Entry, len(history))
	copy(out, history)
	return out, nil
}
