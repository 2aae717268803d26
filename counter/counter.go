// Package counter tracks per-automation delivery totals. Increments go
// through compare-and-swap on the KV store so concurrent executions never
// lose a count.
package counter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
)

// Counts are the delivery totals for one automation.
type Counts struct {
	DMCount      int64     `json:"dm_count"`
	CommentCount int64     `json:"comment_count"`
	AICount      int64     `json:"ai_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store tracks delivery counts per automation. Implementations must make
// increments atomic under concurrent executions.
type Store interface {
	IncrementDM(ctx context.Context, automationID string) error
	IncrementComment(ctx context.Context, automationID string) error
	IncrementAI(ctx context.Context, automationID string) error
	Get(ctx context.Context, automationID string) (Counts, error)
}

const counterBucket = "swoopin_counters"

// KVStore persists counts in a NATS KV bucket, one key per automation.
type KVStore struct {
	kv *natsclient.KVStore
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates the counter bucket if needed.
func NewKVStore(ctx context.Context, client *natsclient.Client) (*KVStore, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      counterBucket,
		Description: "Per-automation delivery counts",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "counter", "NewKVStore", "create KV bucket")
	}
	return &KVStore{kv: client.NewKVStore(bucket)}, nil
}

// IncrementDM adds one sent DM to the automation's totals.
func (s *KVStore) IncrementDM(ctx context.Context, automationID string) error {
	return s.increment(ctx, automationID, func(c *Counts) { c.DMCount++ })
}

// IncrementComment adds one posted comment reply to the automation's totals.
func (s *KVStore) IncrementComment(ctx context.Context, automationID string) error {
	return s.increment(ctx, automationID, func(c *Counts) { c.CommentCount++ })
}

// IncrementAI adds one AI-generated response to the automation's totals.
func (s *KVStore) IncrementAI(ctx context.Context, automationID string) error {
	return s.increment(ctx, automationID, func(c *Counts) { c.AICount++ })
}

// Get returns the automation's totals; a never-incremented automation
// reads as zero counts.
func (s *KVStore) Get(ctx context.Context, automationID string) (Counts, error) {
	entry, err := s.kv.Get(ctx, automationID)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return Counts{}, nil
		}
		return Counts{}, errors.WrapTransient(err, "counter", "Get", "kv get")
	}
	var c Counts
	if err := json.Unmarshal(entry.Value, &c); err != nil {
		return Counts{}, errors.WrapFatal(err, "counter", "Get", "unmarshal counts")
	}
	return c, nil
}

func (s *KVStore) increment(ctx context.Context, automationID string, apply func(*Counts)) error {
	err := s.kv.UpdateWithRetry(ctx, automationID, func(current []byte) ([]byte, error) {
		var c Counts
		if len(current) > 0 {
			if err := json.Unmarshal(current, &c); err != nil {
				return nil, err
			}
		}
		apply(&c)
		c.UpdatedAt = time.Now().UTC()
		return json.Marshal(c)
	})
	if err != nil {
		return errors.WrapTransient(err, "counter", "increment", "kv update")
	}
	return nil
}

// MemoryStore is an in-process Store for tests and the direct fallback.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]Counts
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]Counts)}
}

// IncrementDM adds one sent DM to the automation's totals.
func (s *MemoryStore) IncrementDM(_ context.Context, automationID string) error {
	s.apply(automationID, func(c *Counts) { c.DMCount++ })
	return nil
}

// IncrementComment adds one posted comment reply to the automation's totals.
func (s *MemoryStore) IncrementComment(_ context.Context, automationID string) error {
	s.apply(automationID, func(c *Counts) { c.CommentCount++ })
	return nil
}

// IncrementAI adds one AI-generated response to the automation's totals.
func (s *MemoryStore) IncrementAI(_ context.Context, automationID string) error {
	s.apply(automationID, func(c *Counts) { c.AICount++ })
	return nil
}

// Get returns the automation's totals.
func (s *MemoryStore) Get(_ context.Context, automationID string) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[automationID], nil
}

func (s *MemoryStore) apply(automationID string, fn func(*Counts)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts[automationID]
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	s.counts[automationID] = c
}
