// Package dedup suppresses duplicate event deliveries. The mark is taken
// before any side effect runs: a redelivered event whose first delivery is
// still mid-flight is dropped rather than processed twice.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
)

// DefaultTTL bounds how long a processed event id is remembered. Provider
// redeliveries arrive within minutes; a day covers retry storms too.
const DefaultTTL = 24 * time.Hour

// Store records processed event ids.
type Store interface {
	// MarkIfNew atomically records eventID and reports whether this call
	// was the first to see it. false means a duplicate.
	MarkIfNew(ctx context.Context, eventID string) (bool, error)
	// Release drops the mark so a redelivery of eventID processes again.
	// Callers release after a transient failure; fatal and invalid events
	// keep their mark so they are never retried.
	Release(ctx context.Context, eventID string) error
}

const dedupBucket = "swoopin_dedup"

// KVStore marks event ids in a NATS KV bucket with a per-entry TTL, so the
// mark survives process restarts and is shared across replicas.
type KVStore struct {
	kv *natsclient.KVStore
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates the dedup bucket with ttl expiry. A non-positive ttl
// uses DefaultTTL.
func NewKVStore(ctx context.Context, client *natsclient.Client, ttl time.Duration) (*KVStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      dedupBucket,
		Description: "Processed event ids",
		TTL:         ttl,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "dedup", "NewKVStore", "create KV bucket")
	}
	return &KVStore{kv: client.NewKVStore(bucket)}, nil
}

// MarkIfNew claims eventID with a create-if-absent write. Losing the race
// to another replica reads the same as a provider redelivery: not new.
func (s *KVStore) MarkIfNew(ctx context.Context, eventID string) (bool, error) {
	_, err := s.kv.Create(ctx, eventID, []byte{'1'})
	if err == nil {
		return true, nil
	}
	if natsclient.IsKVConflictError(err) {
		return false, nil
	}
	// Store down: the caller must retry the event rather than risk a
	// double send.
	return false, errors.WrapTransient(err, "dedup", "MarkIfNew", "kv create")
}

// Release deletes the mark. Deleting an already-expired key is a no-op.
func (s *KVStore) Release(ctx context.Context, eventID string) error {
	if err := s.kv.Delete(ctx, eventID); err != nil {
		return errors.WrapTransient(err, "dedup", "Release", "kv delete")
	}
	return nil
}

type memoryMark struct {
	at time.Time
}

// MemoryStore is an in-process Store for tests and the direct fallback.
// Marks expire after the configured TTL.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	seen  map[string]memoryMark
	clock func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, seen: make(map[string]memoryMark), clock: time.Now}
}

// MarkIfNew records eventID and reports whether it was unseen.
func (s *MemoryStore) MarkIfNew(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if mark, ok := s.seen[eventID]; ok && now.Sub(mark.at) < s.ttl {
		return false, nil
	}
	// Opportunistic sweep keeps the map bounded without a background
	// goroutine.
	for id, mark := range s.seen {
		if now.Sub(mark.at) >= s.ttl {
			delete(s.seen, id)
		}
	}
	s.seen[eventID] = memoryMark{at: now}
	return true, nil
}

// Release drops the mark.
func (s *MemoryStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	return nil
}
