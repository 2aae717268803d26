package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
)

// Store persists automation aggregates. The engine and matcher depend on
// this port, never on a concrete database.
type Store interface {
	Get(ctx context.Context, id string) (*Automation, error)
	Create(ctx context.Context, a *Automation) error
	Update(ctx context.Context, a *Automation) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Automation, error)
	ListActive(ctx context.Context) ([]*Automation, error)
	ListByUser(ctx context.Context, userID string) ([]*Automation, error)
	SetActive(ctx context.Context, id string, active bool) error

	// GetFlow returns the automation's graph definition.
	GetFlow(ctx context.Context, id string) ([]FlowNode, []FlowEdge, error)
	// PutFlow replaces the graph definition and records the validation
	// result produced at save time.
	PutFlow(ctx context.Context, id string, nodes []FlowNode, edges []FlowEdge, validation *ValidationRecord) error
}

const automationBucket = "swoopin_automations"

// KVStore persists automations as JSON values in a NATS KV bucket with
// optimistic concurrency via a version field.
type KVStore struct {
	bucket jetstream.KeyValue
	kv     *natsclient.KVStore
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates the automation bucket if needed.
func NewKVStore(ctx context.Context, client *natsclient.Client) (*KVStore, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      automationBucket,
		Description: "Automation aggregates and flow definitions",
		History:     5,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "automation", "NewKVStore", "create KV bucket")
	}
	return &KVStore{bucket: bucket, kv: client.NewKVStore(bucket)}, nil
}

// Get retrieves an automation by id.
func (s *KVStore) Get(ctx context.Context, id string) (*Automation, error) {
	if id == "" {
		return nil, errors.WrapInvalid(errors.New("empty automation id"), "automation", "Get", "lookup")
	}
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "automation", "Get", "automation "+id)
		}
		return nil, errors.WrapTransient(err, "automation", "Get", "get from KV")
	}

	var a Automation
	if err := json.Unmarshal(entry.Value, &a); err != nil {
		return nil, errors.WrapFatal(err, "automation", "Get", "unmarshal automation")
	}
	return &a, nil
}

// Create stores a new automation, failing if the id already exists.
func (s *KVStore) Create(ctx context.Context, a *Automation) error {
	if a == nil || a.ID == "" {
		return errors.WrapInvalid(errors.New("automation requires an id"), "automation", "Create", "validate")
	}
	now := time.Now().UTC()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	data, err := json.Marshal(a)
	if err != nil {
		return errors.WrapFatal(err, "automation", "Create", "marshal automation")
	}
	if _, err := s.kv.Create(ctx, a.ID, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(err, "automation", "Create", "automation already exists")
		}
		return errors.WrapTransient(err, "automation", "Create", "create in KV")
	}
	return nil
}

// Update replaces an automation with optimistic concurrency control.
func (s *KVStore) Update(ctx context.Context, a *Automation) error {
	if a == nil || a.ID == "" {
		return errors.WrapInvalid(errors.New("automation requires an id"), "automation", "Update", "validate")
	}

	current, err := s.Get(ctx, a.ID)
	if err != nil {
		return err
	}
	if current.Version != a.Version {
		return errors.WrapInvalid(
			fmt.Errorf("%w: expected %d, got %d", errors.ErrVersionConflict, current.Version, a.Version),
			"automation", "Update", "concurrent modification")
	}

	a.Version++
	a.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(a)
	if err != nil {
		return errors.WrapFatal(err, "automation", "Update", "marshal automation")
	}
	if _, err := s.kv.Put(ctx, a.ID, data); err != nil {
		return errors.WrapTransient(err, "automation", "Update", "put to KV")
	}
	return nil
}

// Delete removes an automation.
func (s *KVStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.WrapInvalid(errors.New("empty automation id"), "automation", "Delete", "validate")
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return errors.WrapTransient(err, "automation", "Delete", "delete from KV")
	}
	return nil
}

// List retrieves all automations.
func (s *KVStore) List(ctx context.Context) ([]*Automation, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "automation", "List", "list KV keys")
	}

	automations := make([]*Automation, 0, len(keys))
	for _, key := range keys {
		a, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, errors.ErrKeyNotFound) {
				continue // deleted between Keys and Get
			}
			return nil, err
		}
		automations = append(automations, a)
	}
	return automations, nil
}

// ListActive retrieves automations flagged active.
func (s *KVStore) ListActive(ctx context.Context) ([]*Automation, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, a := range all {
		if a.Active {
			active = append(active, a)
		}
	}
	return active, nil
}

// ListByUser retrieves all automations owned by userID.
func (s *KVStore) ListByUser(ctx context.Context, userID string) ([]*Automation, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	owned := all[:0]
	for _, a := range all {
		if a.UserID == userID {
			owned = append(owned, a)
		}
	}
	return owned, nil
}

// SetActive flips the active flag with a CAS loop so concurrent edits to
// other fields are not lost.
func (s *KVStore) SetActive(ctx context.Context, id string, active bool) error {
	err := s.kv.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrKeyNotFound
		}
		var a Automation
		if err := json.Unmarshal(current, &a); err != nil {
			return nil, err
		}
		a.Active = active
		a.Version++
		a.UpdatedAt = time.Now().UTC()
		return json.Marshal(&a)
	})
	if err != nil {
		return errors.WrapTransient(err, "automation", "SetActive", "cas update")
	}
	return nil
}

// GetFlow returns the automation's graph definition.
func (s *KVStore) GetFlow(ctx context.Context, id string) ([]FlowNode, []FlowEdge, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return a.Nodes, a.Edges, nil
}

// PutFlow replaces the graph and the persisted validation record in one
// CAS update.
func (s *KVStore) PutFlow(ctx context.Context, id string, nodes []FlowNode, edges []FlowEdge, validation *ValidationRecord) error {
	err := s.kv.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrKeyNotFound
		}
		var a Automation
		if err := json.Unmarshal(current, &a); err != nil {
			return nil, err
		}
		a.Nodes = nodes
		a.Edges = edges
		a.LastValidation = validation
		a.Version++
		a.UpdatedAt = time.Now().UTC()
		return json.Marshal(&a)
	})
	if err != nil {
		return errors.WrapTransient(err, "automation", "PutFlow", "cas update")
	}
	return nil
}
