package app

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pygrounds-generation-service/internal/config"
	"pygrounds-generation-service/internal/domain"
)

// Retriever builds confidence-filtered context bundles from precomputed
// fragment rankings. Rankings are cached per unit with TTL so concurrent
// tasks over overlapping scopes do not hammer the backing store.
type Retriever struct {
	source FragmentSource
	bands  map[string]config.RetrievalBand
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[int64]cachedFragments
}

type cachedFragments struct {
	fragments []domain.Fragment
	expiresAt time.Time
}

func NewRetriever(source FragmentSource, bands map[string]config.RetrievalBand, ttl time.Duration) *Retriever {
	return &Retriever{
		source: source,
		bands:  bands,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedFragments),
	}
}

// Retrieve returns the context bundle for a task's scope units at a
// difficulty. It fails with domain.ErrEmptyContext when no fragment of any
// unit clears the difficulty's confidence threshold; callers must treat that
// as terminal, not retryable.
func (r *Retriever) Retrieve(ctx context.Context, units []domain.Subtopic, difficulty domain.Difficulty) (domain.ContextBundle, error) {
	band, ok := r.bands[string(difficulty)]
	if !ok {
		return domain.ContextBundle{}, fmt.Errorf("no retrieval band configured for difficulty %q", difficulty)
	}

	var fragments []domain.Fragment
	for _, unit := range units {
		ranked, err := r.rankedFragments(ctx, unit.ID)
		if err != nil {
			return domain.ContextBundle{}, fmt.Errorf("fragments for unit %d: %w", unit.ID, err)
		}
		kept := 0
		for _, f := range ranked {
			if f.Confidence < band.MinConfidence {
				continue
			}
			fragments = append(fragments, f)
			kept++
			if kept >= band.MaxFragments {
				break
			}
		}
	}

	if len(fragments) == 0 {
		return domain.ContextBundle{}, fmt.Errorf("%w: units %v at %s", domain.ErrEmptyContext, unitIDs(units), difficulty)
	}

	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].Confidence > fragments[j].Confidence
	})

	return domain.ContextBundle{Units: units, Difficulty: difficulty, Fragments: fragments}, nil
}

func (r *Retriever) rankedFragments(ctx context.Context, unitID int64) ([]domain.Fragment, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[unitID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.fragments, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(fmt.Sprintf("unit:%d", unitID), func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[unitID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.fragments, nil
		}
		r.mu.RUnlock()

		fragments, err := r.source.RankedFragments(ctx, unitID)
		if err != nil {
			return nil, err
		}

		ttl := r.ttlWithJitter()
		r.mu.Lock()
		r.cache[unitID] = cachedFragments{
			fragments: fragments,
			expiresAt: now.Add(ttl),
		}
		r.mu.Unlock()
		return fragments, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Fragment), nil
}

func (r *Retriever) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
