package automation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
)

// Provider names an external platform an integration connects to.
type Provider string

// Known providers.
const (
	ProviderInstagram Provider = "INSTAGRAM"
	ProviderYouTube   Provider = "YOUTUBE"
)

// Integration is one connected provider account: the page/channel events
// arrive on and the credentials used to act on them.
type Integration struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     Provider  `json:"provider"`
	PageID       string    `json:"page_id"` // page or channel id
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
	// AIKey overrides the platform AI key for this account when set.
	AIKey     string    `json:"ai_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenExpired reports whether the access token needs a refresh.
func (i *Integration) TokenExpired(now time.Time) bool {
	return !i.TokenExpiry.IsZero() && now.After(i.TokenExpiry)
}

// IntegrationStore persists provider integrations.
type IntegrationStore interface {
	Get(ctx context.Context, id string) (*Integration, error)
	GetByPage(ctx context.Context, pageID string) (*Integration, error)
	ListByProvider(ctx context.Context, p Provider) ([]*Integration, error)
	Save(ctx context.Context, i *Integration) error
}

const integrationBucket = "swoopin_integrations"

// KVIntegrationStore persists integrations in a NATS KV bucket keyed by id.
type KVIntegrationStore struct {
	kv *natsclient.KVStore
}

var _ IntegrationStore = (*KVIntegrationStore)(nil)

// NewKVIntegrationStore creates the integration bucket if needed.
func NewKVIntegrationStore(ctx context.Context, client *natsclient.Client) (*KVIntegrationStore, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      integrationBucket,
		Description: "Connected provider accounts and credentials",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "automation", "NewKVIntegrationStore", "create KV bucket")
	}
	return &KVIntegrationStore{kv: client.NewKVStore(bucket)}, nil
}

// Get retrieves an integration by id.
func (s *KVIntegrationStore) Get(ctx context.Context, id string) (*Integration, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.WrapTransient(err, "automation", "Get", "integration get")
	}
	var i Integration
	if err := json.Unmarshal(entry.Value, &i); err != nil {
		return nil, errors.WrapFatal(err, "automation", "Get", "unmarshal integration")
	}
	return &i, nil
}

// GetByPage retrieves the integration listening on pageID.
func (s *KVIntegrationStore) GetByPage(ctx context.Context, pageID string) (*Integration, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, i := range all {
		if i.PageID == pageID {
			return i, nil
		}
	}
	return nil, errors.ErrKeyNotFound
}

// ListByProvider retrieves all integrations for one provider.
func (s *KVIntegrationStore) ListByProvider(ctx context.Context, p Provider) ([]*Integration, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, i := range all {
		if i.Provider == p {
			out = append(out, i)
		}
	}
	return out, nil
}

// Save creates or replaces an integration.
func (s *KVIntegrationStore) Save(ctx context.Context, i *Integration) error {
	if i == nil || i.ID == "" {
		return errors.WrapInvalid(errors.New("integration requires an id"), "automation", "Save", "validate")
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	i.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(i)
	if err != nil {
		return errors.WrapFatal(err, "automation", "Save", "marshal integration")
	}
	if _, err := s.kv.Put(ctx, i.ID, data); err != nil {
		return errors.WrapTransient(err, "automation", "Save", "put to KV")
	}
	return nil
}

func (s *KVIntegrationStore) list(ctx context.Context) ([]*Integration, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "automation", "list", "list KV keys")
	}
	out := make([]*Integration, 0, len(keys))
	for _, key := range keys {
		i, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, errors.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

// MemoryIntegrationStore is an in-process IntegrationStore for tests and
// the direct fallback path.
type MemoryIntegrationStore struct {
	mu    sync.RWMutex
	items map[string]*Integration
}

var _ IntegrationStore = (*MemoryIntegrationStore)(nil)

// NewMemoryIntegrationStore creates an empty store.
func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{items: make(map[string]*Integration)}
}

// Get retrieves an integration by id.
func (s *MemoryIntegrationStore) Get(_ context.Context, id string) (*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.items[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, errors.ErrKeyNotFound
}

// GetByPage retrieves the integration listening on pageID.
func (s *MemoryIntegrationStore) GetByPage(_ context.Context, pageID string) (*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, i := range s.items {
		if i.PageID == pageID {
			cp := *i
			return &cp, nil
		}
	}
	return nil, errors.ErrKeyNotFound
}

// ListByProvider retrieves all integrations for one provider.
func (s *MemoryIntegrationStore) ListByProvider(_ context.Context, p Provider) ([]*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Integration, 0)
	for _, i := range s.items {
		if i.Provider == p {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Save creates or replaces an integration.
func (s *MemoryIntegrationStore) Save(_ context.Context, i *Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	cp.UpdatedAt = time.Now().UTC()
	s.items[i.ID] = &cp
	return nil
}
