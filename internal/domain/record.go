package domain

import "time"

// Record is a catalog entry awaiting (or holding) structured enrichment.
type Record struct {
	ID             string
	Title          string
	Description    string
	SourceChannel  string
	ThumbnailRef   string
	PriorityMetric float64
	EnrichedFields EnrichedFields
	Analyzed       bool
	AnalyzedAt     *time.Time
}

// EnrichedFields holds the attributes extracted from an inference response.
type EnrichedFields map[string]any

// Asset is an optional binary attachment (typically a thumbnail) sent alongside the prompt.
type Asset struct {
	Data     []byte
	MIMEType string
}

// OrderPolicy selects how unanalyzed records are picked for a batch.
type OrderPolicy string

const (
	// OrderByPriority returns records by descending priority metric.
	OrderByPriority OrderPolicy = "priority"
	// OrderRandom returns a seeded random sample of the highest-priority candidates.
	OrderRandom OrderPolicy = "random"
)

// Valid reports whether the policy is known.
func (p OrderPolicy) Valid() bool {
	switch p {
	case OrderByPriority, OrderRandom:
		return true
	}
	return false
}

// CommitResult reports what a conditional commit did.
type CommitResult int

const (
	// Committed means this call flipped analyzed from false to true.
	Committed CommitResult = iota
	// AlreadyCommitted means another run won the race; nothing was written.
	AlreadyCommitted
)

func (r CommitResult) String() string {
	if r == Committed {
		return "committed"
	}
	return "already_committed"
}
