package memory

import (
	"context"
	"sync"

	"pygrounds-generation-service/internal/domain"
)

// Catalog is an in-memory subtopic catalog with fragment rankings. Used for
// local development and tests when no database is configured.
type Catalog struct {
	mu        sync.RWMutex
	units     map[int64]domain.Subtopic
	fragments map[int64][]domain.Fragment
}

func NewCatalog() *Catalog {
	return &Catalog{
		units:     make(map[int64]domain.Subtopic),
		fragments: make(map[int64][]domain.Fragment),
	}
}

// AddUnit registers a subtopic with its ranked fragments.
func (c *Catalog) AddUnit(unit domain.Subtopic, fragments []domain.Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[unit.ID] = unit
	c.fragments[unit.ID] = fragments
}

// Units resolves known ids in request order; unknown ids are silently dropped
// so the caller can diff the result against the request.
func (c *Catalog) Units(_ context.Context, ids []int64) ([]domain.Subtopic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Subtopic, 0, len(ids))
	for _, id := range ids {
		if u, ok := c.units[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// RankedFragments returns the unit's fragments in stored (descending
// confidence) order.
func (c *Catalog) RankedFragments(_ context.Context, unitID int64) ([]domain.Fragment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.fragments[unitID]
	out := make([]domain.Fragment, len(src))
	copy(out, src)
	return out, nil
}
