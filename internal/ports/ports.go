package ports

import (
	"context"
	"time"

	"CatalogEnricher/internal/domain"
)

// MaxExclude caps ListQuery.Exclude so the query stays within the bind
// variable limits of every supported database.
const MaxExclude = 10000

// ListQuery bounds a read of unanalyzed records. Exclude skips ids the
// current run already gave up on.
type ListQuery struct {
	Limit   int
	Exclude []string
}

// RecordStore reads unanalyzed records and commits enrichment results.
type RecordStore interface {
	// ListUnanalyzed returns records with analyzed=false ordered by priority
	// metric descending, then id.
	ListUnanalyzed(ctx context.Context, q ListQuery) ([]domain.Record, error)
	// CommitEnrichment writes fields and analyzed=true in one statement, only
	// while analyzed is still false. applied=false means another writer won.
	CommitEnrichment(ctx context.Context, id string, fields domain.EnrichedFields) (applied bool, err error)
	// CountUnanalyzed reports how many records still await enrichment.
	CountUnanalyzed(ctx context.Context) (int, error)
}

// AssetFetcher retrieves an optional binary asset. ok=false means absent.
type AssetFetcher interface {
	Fetch(ctx context.Context, ref string) (asset domain.Asset, ok bool)
}

// InferenceRequest is one call to the inference service.
type InferenceRequest struct {
	Prompt string
	Asset  *domain.Asset
	Schema domain.OutputSchema
}

// Invoker issues exactly one inference request and classifies the outcome.
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, req InferenceRequest) domain.Outcome
}

// Notifier publishes the run summary to an operator channel.
type Notifier interface {
	PublishSummary(ctx context.Context, summary domain.RunSummary) error
}

// Scheduler controls when runs execute in watch mode.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
