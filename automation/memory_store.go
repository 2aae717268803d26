package automation

import (
	"context"
	"sync"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

// MemoryStore is an in-process Store used by tests and by the direct
// processing fallback when no NATS cluster is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Automation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Automation)}
}

func (s *MemoryStore) clone(a *Automation) *Automation {
	cp := *a
	return &cp
}

// Get retrieves an automation by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return s.clone(a), nil
}

// Create stores a new automation.
func (s *MemoryStore) Create(_ context.Context, a *Automation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[a.ID]; exists {
		return errors.WrapInvalid(errors.New("automation already exists"), "automation", "Create", "memory create")
	}
	now := time.Now().UTC()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	s.items[a.ID] = s.clone(a)
	return nil
}

// Update replaces an automation, checking the version.
func (s *MemoryStore) Update(_ context.Context, a *Automation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[a.ID]
	if !ok {
		return errors.ErrKeyNotFound
	}
	if current.Version != a.Version {
		return errors.ErrVersionConflict
	}
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	s.items[a.ID] = s.clone(a)
	return nil
}

// Delete removes an automation.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// List returns all automations.
func (s *MemoryStore) List(_ context.Context) ([]*Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Automation, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, s.clone(a))
	}
	return out, nil
}

// ListActive returns active automations.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*Automation, error) {
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

// ListByUser returns automations owned by userID.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Automation, error) {
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

// SetActive flips the active flag.
func (s *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return errors.ErrKeyNotFound
	}
	a.Active = active
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// GetFlow returns the graph definition.
func (s *MemoryStore) GetFlow(ctx context.Context, id string) ([]FlowNode, []FlowEdge, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return a.Nodes, a.Edges, nil
}

// PutFlow replaces the graph definition and validation record.
func (s *MemoryStore) PutFlow(_ context.Context, id string, nodes []FlowNode, edges []FlowEdge, validation *ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return errors.ErrKeyNotFound
	}
	a.Nodes = nodes
	a.Edges = edges
	a.LastValidation = validation
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	return nil
}
