package plan

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
)

const subscriptionBucket = "swoopin_subscriptions"

// KVSubscriptionStore persists subscriptions in a NATS KV bucket keyed by
// user id.
type KVSubscriptionStore struct {
	kv *natsclient.KVStore
}

var _ SubscriptionStore = (*KVSubscriptionStore)(nil)

// NewKVSubscriptionStore creates the subscription bucket if needed.
func NewKVSubscriptionStore(ctx context.Context, client *natsclient.Client) (*KVSubscriptionStore, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      subscriptionBucket,
		Description: "User subscription tiers",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "plan", "NewKVSubscriptionStore", "create KV bucket")
	}
	return &KVSubscriptionStore{kv: client.NewKVStore(bucket)}, nil
}

// Get retrieves a user's subscription.
func (s *KVSubscriptionStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	entry, err := s.kv.Get(ctx, userID)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.WrapTransient(err, "plan", "Get", "kv get")
	}
	var sub Subscription
	if err := json.Unmarshal(entry.Value, &sub); err != nil {
		return nil, errors.WrapFatal(err, "plan", "Get", "unmarshal subscription")
	}
	return &sub, nil
}

// Put creates or replaces a user's subscription.
func (s *KVSubscriptionStore) Put(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.UserID == "" {
		return errors.WrapInvalid(errors.New("subscription requires a user id"), "plan", "Put", "validate")
	}
	sub.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(sub)
	if err != nil {
		return errors.WrapFatal(err, "plan", "Put", "marshal subscription")
	}
	if _, err := s.kv.Put(ctx, sub.UserID, data); err != nil {
		return errors.WrapTransient(err, "plan", "Put", "kv put")
	}
	return nil
}

// MemorySubscriptionStore is an in-process SubscriptionStore for tests and
// the direct fallback.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

var _ SubscriptionStore = (*MemorySubscriptionStore)(nil)

// NewMemorySubscriptionStore creates an empty store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*Subscription)}
}

// Get retrieves a user's subscription.
func (s *MemorySubscriptionStore) Get(_ context.Context, userID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub, ok := s.subs[userID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, errors.ErrKeyNotFound
}

// Put creates or replaces a user's subscription.
func (s *MemorySubscriptionStore) Put(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	cp.UpdatedAt = time.Now().UTC()
	s.subs[sub.UserID] = &cp
	return nil
}
