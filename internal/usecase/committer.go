package usecase

import (
	"context"
	"fmt"

	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
)

// CommitWriter flips a record to analyzed together with its enrichment.
type CommitWriter struct {
	store ports.RecordStore
}

// NewCommitWriter builds a writer over store.
func NewCommitWriter(store ports.RecordStore) *CommitWriter {
	return &CommitWriter{store: store}
}

// Commit applies fields only while the record is still unanalyzed. Losing a
// race to another run is reported as AlreadyCommitted, not as an error.
func (w *CommitWriter) Commit(ctx context.Context, id string, fields domain.EnrichedFields) (domain.CommitResult, error) {
	applied, err := w.store.CommitEnrichment(ctx, id, fields)
	if err != nil {
		return domain.AlreadyCommitted, fmt.Errorf("commit %s: %w", id, err)
	}
	if !applied {
		return domain.AlreadyCommitted, nil
	}
	return domain.Committed, nil
}
