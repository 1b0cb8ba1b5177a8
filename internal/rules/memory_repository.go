package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "hush/pkg/errors"
)

// MemoryRepository keeps rules in process. It backs the service when no
// PostgreSQL is configured and stands in for it in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	rules map[string]FilterRule
}

func NewMemoryRepository(seed ...FilterRule) *MemoryRepository {
	r := &MemoryRepository{rules: make(map[string]FilterRule, len(seed))}
	for _, rule := range seed {
		r.rules[rule.ID] = rule
	}
	return r
}

func (r *MemoryRepository) CreateRule(_ context.Context, rule *FilterRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	for _, existing := range r.rules {
		if existing.TeamID == rule.TeamID && existing.Name == rule.Name {
			return pkgerrors.ErrConflict.WithDetail("message", "rule with name '"+rule.Name+"' already exists")
		}
	}
	if _, ok := r.rules[rule.ID]; ok {
		return pkgerrors.ErrConflict.WithDetail("id", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	r.rules[rule.ID] = *rule
	return nil
}

func (r *MemoryRepository) GetRule(_ context.Context, id string) (*FilterRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return &rule, nil
}

func (r *MemoryRepository) ListRules(_ context.Context, filter ListFilter) ([]FilterRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FilterRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if filter.TeamID != nil && rule.TeamID != *filter.TeamID {
			continue
		}
		if filter.EnabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (r *MemoryRepository) UpdateRule(_ context.Context, rule *FilterRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; !ok {
		return pkgerrors.ErrNotFound.WithDetail("id", rule.ID)
	}
	rule.UpdatedAt = time.Now()
	r.rules[rule.ID] = *rule
	return nil
}

func (r *MemoryRepository) DeleteRule(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	delete(r.rules, id)
	return nil
}
