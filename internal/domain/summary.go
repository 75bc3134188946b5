package domain

import (
	"fmt"
	"time"
)

// RunState is the orchestrator state for a single run.
type RunState string

const (
	StateIdle       RunState = "idle"
	StateSelecting  RunState = "selecting"
	StateProcessing RunState = "processing"
	StateHalted     RunState = "halted"
	StateDone       RunState = "done"
)

// ItemOutcome labels how a single record was handled.
type ItemOutcome string

const (
	ItemEnriched         ItemOutcome = "enriched"
	ItemAlreadyCommitted ItemOutcome = "already_committed"
	ItemSkippedPermanent ItemOutcome = "skipped_permanent"
	ItemSkippedExtract   ItemOutcome = "skipped_extraction"
	ItemSkippedCommit    ItemOutcome = "skipped_commit_error"
	ItemHalted           ItemOutcome = "halted_quota"
)

// RunSummary is reported once per run.
type RunSummary struct {
	RunID            string
	State            RunState
	Processed        int
	Enriched         int
	AlreadyCommitted int
	Skipped          int
	HaltedByQuota    bool
	Remaining        int
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Duration returns how long the run took.
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Message renders a short human-readable summary.
func (s RunSummary) Message() string {
	msg := fmt.Sprintf("enrichment run %s finished (%s): processed=%d enriched=%d already_committed=%d skipped=%d",
		s.RunID, s.State, s.Processed, s.Enriched, s.AlreadyCommitted, s.Skipped)
	if s.HaltedByQuota {
		msg += " halted_by_quota=true"
	}
	if s.Remaining >= 0 {
		msg += fmt.Sprintf(" remaining=%d", s.Remaining)
	}
	return msg
}
