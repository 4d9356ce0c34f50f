package claims

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/flyclaim/lifecycle"
)

// Store persists claims and their activity log.
type Store interface {
	// Create inserts a new claim together with its first activity, both or
	// neither. A duplicate ID or reference is ErrConflict.
	Create(ctx context.Context, r *Record, act Activity) error

	Get(ctx context.Context, id string) (*Record, error)

	GetByReference(ctx context.Context, reference string) (*Record, error)

	// ListByStatus returns claims in status, oldest first.
	ListByStatus(ctx context.Context, status lifecycle.Status) ([]*Record, error)

	// CountReferences returns how many references start with prefix.
	CountReferences(ctx context.Context, prefix string) (int, error)

	// SaveTransition writes r if its stored status is still `from` and
	// appends act. Otherwise it returns ErrConflict and writes nothing.
	SaveTransition(ctx context.Context, r *Record, from lifecycle.Status, act Activity) error

	AppendActivity(ctx context.Context, act Activity) error

	// Activities returns a claim's activity log, oldest first.
	Activities(ctx context.Context, claimID string) ([]Activity, error)
}

// MemoryStore implements Store in process memory.
// Thread-safe.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*Record
	references map[string]string // reference -> id
	activities map[string][]Activity
	nextActID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*Record),
		references: make(map[string]string),
		activities: make(map[string][]Activity),
	}
}

func (s *MemoryStore) Create(_ context.Context, r *Record, act Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.ID]; exists {
		return fmt.Errorf("%w: claim %s already exists", ErrConflict, r.ID)
	}
	if _, exists := s.references[r.Reference]; exists {
		return fmt.Errorf("%w: reference %s already exists", ErrConflict, r.Reference)
	}

	s.records[r.ID] = cloneRecord(r)
	s.references[r.Reference] = r.ID
	act.ClaimID = r.ID
	s.appendLocked(act)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRecord(r), nil
}

func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (*Record, error) {
	s.mu.RLock()
	id, ok := s.references[reference]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: reference %s", ErrNotFound, reference)
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) ListByStatus(_ context.Context, status lifecycle.Status) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.records {
		if r.Status == status {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CountReferences(_ context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for ref := range s.references {
		if strings.HasPrefix(ref, prefix) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SaveTransition(_ context.Context, r *Record, from lifecycle.Status, act Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	if current.Status != from {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, r.ID, current.Status, from)
	}

	s.records[r.ID] = cloneRecord(r)
	s.appendLocked(act)
	return nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, act Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[act.ClaimID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, act.ClaimID)
	}
	s.appendLocked(act)
	return nil
}

func (s *MemoryStore) appendLocked(act Activity) {
	s.nextActID++
	act.ID = s.nextActID
	if act.CreatedAt.IsZero() {
		act.CreatedAt = time.Now().UTC()
	}
	if act.Metadata != nil {
		meta := make(map[string]string, len(act.Metadata))
		for k, v := range act.Metadata {
			meta[k] = v
		}
		act.Metadata = meta
	}
	s.activities[act.ClaimID] = append(s.activities[act.ClaimID], act)
}

func (s *MemoryStore) Activities(_ context.Context, claimID string) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[claimID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, claimID)
	}
	out := make([]Activity, len(s.activities[claimID]))
	copy(out, s.activities[claimID])
	return out, nil
}
