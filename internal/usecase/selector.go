package usecase

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
)

const defaultSamplePool = 5

// SelectorConfig configures the selection policy. SamplePool is the multiple
// of the batch size read as the candidate pool for random order. Seed 0 draws
// a fresh seed.
type SelectorConfig struct {
	Order      domain.OrderPolicy
	Seed       int64
	SamplePool int
}

// WorkSelector reads bounded batches of unanalyzed records.
type WorkSelector struct {
	store      ports.RecordStore
	order      domain.OrderPolicy
	samplePool int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewWorkSelector builds a selector over store.
func NewWorkSelector(store ports.RecordStore, cfg SelectorConfig) *WorkSelector {
	if !cfg.Order.Valid() {
		cfg.Order = domain.OrderByPriority
	}
	if cfg.SamplePool <= 0 {
		cfg.SamplePool = defaultSamplePool
	}
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &WorkSelector{
		store:      store,
		order:      cfg.Order,
		samplePool: cfg.SamplePool,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Select returns at most limit unanalyzed records not listed in exclude.
// An empty result means no work remains.
func (s *WorkSelector) Select(ctx context.Context, limit int, exclude []string) ([]domain.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := ports.ListQuery{Limit: limit, Exclude: exclude}
	if s.order == domain.OrderRandom {
		query.Limit = limit * s.samplePool
	}

	records, err := s.store.ListUnanalyzed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select unanalyzed: %w", err)
	}

	// Stores are expected to filter already; a stale row must never be processed.
	filtered := records[:0]
	for _, rec := range records {
		if !rec.Analyzed {
			filtered = append(filtered, rec)
		}
	}
	records = filtered

	if s.order == domain.OrderRandom {
		s.mu.Lock()
		s.rng.Shuffle(len(records), func(i, j int) {
			records[i], records[j] = records[j], records[i]
		})
		s.mu.Unlock()
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
