package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"CatalogEnricher/internal/backoff"
	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/extract"
	"CatalogEnricher/internal/logging"
	"CatalogEnricher/internal/metrics"
	"CatalogEnricher/internal/ports"
	"CatalogEnricher/internal/prompt"
)

// OrchestratorConfig shapes a single run.
type OrchestratorConfig struct {
	BatchSize         int
	MaxItemsPerRun    int
	ItemPacing        time.Duration
	BatchCooldown     time.Duration
	DescriptionBudget int
	Schema            domain.OutputSchema
	Selection         SelectorConfig
}

// OrchestratorDeps wires all driven adapters into the enrichment run.
type OrchestratorDeps struct {
	Store    ports.RecordStore
	Assets   ports.AssetFetcher
	Invoker  ports.Invoker
	Retry    *backoff.Controller
	Notifier ports.Notifier
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	// Sleeper performs pacing and cool-down waits. Defaults to a
	// context-aware timer.
	Sleeper func(context.Context, time.Duration) error
	Now     func() time.Time
}

// Orchestrator drives batches of records through fetch, inference,
// extraction and commit, one item at a time.
type Orchestrator struct {
	cfg       OrchestratorConfig
	selector  *WorkSelector
	committer *CommitWriter
	store     ports.RecordStore
	assets    ports.AssetFetcher
	invoker   ports.Invoker
	retry     *backoff.Controller
	notifier  ports.Notifier
	metrics   *metrics.Recorder
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// NewOrchestrator constructs the run driver.
func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	// Every skipped id rides along in the next select as a bind variable.
	if cfg.MaxItemsPerRun <= 0 || cfg.MaxItemsPerRun > ports.MaxExclude {
		cfg.MaxItemsPerRun = ports.MaxExclude
	}
	if len(cfg.Schema.Fields) == 0 {
		cfg.Schema = domain.DefaultSchema()
	}
	o := &Orchestrator{
		cfg:       cfg,
		selector:  NewWorkSelector(deps.Store, cfg.Selection),
		committer: NewCommitWriter(deps.Store),
		store:     deps.Store,
		assets:    deps.Assets,
		invoker:   deps.Invoker,
		retry:     deps.Retry,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		sleep:     deps.Sleeper,
		now:       deps.Now,
	}
	if o.retry == nil {
		o.retry = backoff.New(backoff.Config{})
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Run executes one enrichment run until no work remains, the item budget is
// spent, or the provider quota is exhausted. The returned error is non-nil
// only for cancellation or a failing record store; per-item failures are
// reported through the summary.
func (o *Orchestrator) Run(ctx context.Context) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:     uuid.NewString(),
		State:     domain.StateIdle,
		Remaining: -1,
		StartedAt: o.now(),
	}
	logger := o.logger.With("run_id", summary.RunID)
	logger.Info("enrichment run started",
		"provider", o.invoker.Name(),
		"batch_size", o.cfg.BatchSize,
		"max_items", o.cfg.MaxItemsPerRun,
		"max_attempts", o.retry.MaxAttempts(),
	)

	runErr := o.loop(ctx, logger, &summary)
	return o.finish(ctx, logger, summary), runErr
}

func (o *Orchestrator) loop(ctx context.Context, logger *slog.Logger, summary *domain.RunSummary) error {
	// Committed records drop out of the unanalyzed set on their own, so only
	// skipped ids need excluding.
	var (
		attempted int
		skipped   []string
	)
	for batchNo := 1; ; batchNo++ {
		left := o.cfg.MaxItemsPerRun - attempted
		if left <= 0 {
			logger.Info("item budget reached", "max_items", o.cfg.MaxItemsPerRun)
			summary.State = domain.StateDone
			return nil
		}
		limit := min(o.cfg.BatchSize, left)

		if batchNo > 1 {
			if err := o.sleep(ctx, o.cfg.BatchCooldown); err != nil {
				summary.State = domain.StateHalted
				return err
			}
		}

		summary.State = domain.StateSelecting
		batch, err := o.selector.Select(ctx, limit, skipped)
		if err != nil {
			summary.State = domain.StateHalted
			return err
		}
		if len(batch) == 0 {
			logger.Info("no unanalyzed records left")
			summary.State = domain.StateDone
			return nil
		}
		logger.Debug("batch selected", "batch", batchNo, "size", len(batch))

		summary.State = domain.StateProcessing
		for i, rec := range batch {
			if i > 0 {
				if err := o.sleep(ctx, o.cfg.ItemPacing); err != nil {
					summary.State = domain.StateHalted
					return err
				}
			}
			attempted++

			itemLogger := logger.With("record_id", rec.ID)
			outcome, err := o.process(ctx, itemLogger, rec)
			if ctxErr := ctx.Err(); ctxErr != nil {
				summary.State = domain.StateHalted
				return ctxErr
			}
			o.metrics.Item(outcome)
			o.logOutcome(itemLogger, rec, outcome, err)

			switch outcome {
			case domain.ItemHalted:
				summary.HaltedByQuota = true
				summary.State = domain.StateHalted
				return nil
			case domain.ItemEnriched:
				summary.Enriched++
			case domain.ItemAlreadyCommitted:
				summary.AlreadyCommitted++
			default:
				summary.Skipped++
				skipped = append(skipped, rec.ID)
			}
			summary.Processed++
		}
	}
}

// process handles one record. The error explains a non-enriched outcome.
func (o *Orchestrator) process(ctx context.Context, logger *slog.Logger, rec domain.Record) (domain.ItemOutcome, error) {
	req := ports.InferenceRequest{
		Prompt: prompt.Build(rec, o.cfg.Schema, o.cfg.DescriptionBudget),
		Schema: o.cfg.Schema,
	}
	if rec.ThumbnailRef != "" && o.assets != nil {
		if asset, ok := o.assets.Fetch(ctx, rec.ThumbnailRef); ok {
			req.Asset = &asset
		} else {
			logger.Info("asset unavailable, continuing text-only", "ref", rec.ThumbnailRef)
		}
	}

	text, err := o.retry.Call(ctx, func(ctx context.Context) domain.Outcome {
		out := o.invoker.Invoke(ctx, req)
		o.metrics.Attempt(out.Kind)
		if out.Kind == domain.OutcomeThrottle {
			logger.Warn("inference throttled", "retry_after", out.RetryAfter, "error", out.Err)
		}
		return out
	})
	if err != nil {
		var failure *domain.Failure
		if errors.As(err, &failure) && failure.Kind == domain.FailureQuotaExhausted {
			return domain.ItemHalted, err
		}
		return domain.ItemSkippedPermanent, err
	}

	result, err := extract.Extract(text, o.cfg.Schema)
	if err != nil {
		return domain.ItemSkippedExtract, err
	}

	committed, err := o.committer.Commit(ctx, rec.ID, result.Fields)
	if err != nil {
		return domain.ItemSkippedCommit, err
	}
	if committed == domain.AlreadyCommitted {
		return domain.ItemAlreadyCommitted, nil
	}
	return domain.ItemEnriched, nil
}

func (o *Orchestrator) logOutcome(logger *slog.Logger, rec domain.Record, outcome domain.ItemOutcome, err error) {
	switch outcome {
	case domain.ItemEnriched:
		logger.Info("record enriched", "title", rec.Title)
	case domain.ItemAlreadyCommitted:
		logger.Info("record already committed by another run")
	case domain.ItemHalted:
		logger.Error("inference quota exhausted, halting run", "error", err)
	default:
		logger.Warn("record skipped", "outcome", string(outcome), "error", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, summary domain.RunSummary) domain.RunSummary {
	// The backlog count and the notification still run after cancellation.
	ctx = context.WithoutCancel(ctx)

	if remaining, err := o.store.CountUnanalyzed(ctx); err != nil {
		logger.Warn("count unanalyzed failed", "error", err)
	} else {
		summary.Remaining = remaining
	}
	summary.FinishedAt = o.now()
	o.metrics.Run(summary)

	logger.Info("enrichment run finished",
		"state", string(summary.State),
		"processed", summary.Processed,
		"enriched", summary.Enriched,
		"already_committed", summary.AlreadyCommitted,
		"skipped", summary.Skipped,
		"halted_by_quota", summary.HaltedByQuota,
		"remaining", summary.Remaining,
		"duration", summary.Duration(),
	)

	if o.notifier != nil {
		if err := o.notifier.PublishSummary(ctx, summary); err != nil {
			logger.Warn("publish run summary failed", "error", err)
		}
	}
	return summary
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
