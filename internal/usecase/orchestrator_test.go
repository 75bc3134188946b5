package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogEnricher/internal/backoff"
	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/infrastructure/storage"
	"CatalogEnricher/internal/metrics"
	"CatalogEnricher/internal/ports"
)

var nameSchema = domain.OutputSchema{Fields: []domain.FieldSpec{
	{Name: "name", Type: domain.FieldString},
}}

func openStore(t *testing.T, records ...domain.Record) *storage.SQLStore {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Insert(context.Background(), records...))
	return store
}

func threeRecords() []domain.Record {
	return []domain.Record{
		{ID: "r1", Title: "first", PriorityMetric: 300},
		{ID: "r2", Title: "second", PriorityMetric: 200},
		{ID: "r3", Title: "third", PriorityMetric: 100},
	}
}

// scriptedInvoker answers by record title, taken from the prompt.
type scriptedInvoker struct {
	mu      sync.Mutex
	calls   map[string]int
	assets  map[string]bool
	respond func(title string) domain.Outcome
}

func newScriptedInvoker(respond func(title string) domain.Outcome) *scriptedInvoker {
	return &scriptedInvoker{calls: map[string]int{}, assets: map[string]bool{}, respond: respond}
}

func (s *scriptedInvoker) Name() string { return "scripted" }

func (s *scriptedInvoker) Invoke(_ context.Context, req ports.InferenceRequest) domain.Outcome {
	title := titleFromPrompt(req.Prompt)
	s.mu.Lock()
	s.calls[title]++
	s.assets[title] = req.Asset != nil
	s.mu.Unlock()
	return s.respond(title)
}

func (s *scriptedInvoker) callsFor(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[title]
}

func titleFromPrompt(p string) string {
	for _, line := range strings.Split(p, "\n") {
		if rest, ok := strings.CutPrefix(line, "Title: "); ok {
			return rest
		}
	}
	return ""
}

func echoName(title string) domain.Outcome {
	return domain.Success(fmt.Sprintf("Sure! ```json\n{\"name\": %q}\n```", title))
}

type stubAssets struct {
	ok    bool
	mu    sync.Mutex
	calls []string
}

func (s *stubAssets) Fetch(_ context.Context, ref string) (domain.Asset, bool) {
	s.mu.Lock()
	s.calls = append(s.calls, ref)
	s.mu.Unlock()
	if !s.ok {
		return domain.Asset{}, false
	}
	return domain.Asset{Data: []byte("img"), MIMEType: "image/png"}, true
}

type recordingNotifier struct {
	summaries []domain.RunSummary
}

func (r *recordingNotifier) PublishSummary(_ context.Context, s domain.RunSummary) error {
	r.summaries = append(r.summaries, s)
	return nil
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	l.delays = append(l.delays, d)
	l.mu.Unlock()
	return ctx.Err()
}

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestOrchestrator(store ports.RecordStore, inv ports.Invoker, cfg OrchestratorConfig, tweak func(*OrchestratorDeps)) *Orchestrator {
	if len(cfg.Schema.Fields) == 0 {
		cfg.Schema = nameSchema
	}
	deps := OrchestratorDeps{
		Store:   store,
		Invoker: inv,
		Retry:   backoff.New(backoff.Config{MaxAttempts: 3, BaseDelay: time.Second}, backoff.WithSleeper(noWait)),
		Sleeper: noWait,
	}
	if tweak != nil {
		tweak(&deps)
	}
	return NewOrchestrator(cfg, deps)
}

func TestRunEnrichesBoundedBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t, threeRecords()...)
	inv := newScriptedInvoker(echoName)

	o := newTestOrchestrator(store, inv, OrchestratorConfig{BatchSize: 2, MaxItemsPerRun: 2}, nil)
	summary, err := o.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, summary.State)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Enriched)
	assert.False(t, summary.HaltedByQuota)
	assert.Equal(t, 1, summary.Remaining)
	assert.NotEmpty(t, summary.RunID)

	for id, name := range map[string]string{"r1": "first", "r2": "second"} {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Analyzed, id)
		assert.Equal(t, domain.EnrichedFields{"name": name}, rec.EnrichedFields)
	}
	third, err := store.Get(ctx, "r3")
	require.NoError(t, err)
	assert.False(t, third.Analyzed)
	assert.Empty(t, third.EnrichedFields)
	assert.Zero(t, inv.callsFor("third"))

	count, err := store.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunHaltsOnQuotaExhaustion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t, threeRecords()...)
	inv := newScriptedInvoker(func(title string) domain.Outcome {
		if title == "second" {
			return domain.Throttle(0, errors.New("429"))
		}
		return echoName(title)
	})
	notifier := &recordingNotifier{}
	reg := prometheus.NewRegistry()

	o := newTestOrchestrator(store, inv, OrchestratorConfig{BatchSize: 3}, func(d *OrchestratorDeps) {
		d.Notifier = notifier
		d.Metrics = metrics.New(reg)
	})
	summary, err := o.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StateHalted, summary.State)
	assert.True(t, summary.HaltedByQuota)
	assert.Equal(t, 1, summary.Enriched)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Remaining)
	assert.Equal(t, 3, inv.callsFor("second"))
	assert.Zero(t, inv.callsFor("third"))

	first, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, first.Analyzed)
	for _, id := range []string{"r2", "r3"} {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, rec.Analyzed, id)
	}

	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, summary, notifier.summaries[0])
}

func TestRunIsolatesItemFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t,
		domain.Record{ID: "perm", Title: "permanent", PriorityMetric: 30},
		domain.Record{ID: "junk", Title: "garbled", PriorityMetric: 20},
		domain.Record{ID: "ok", Title: "fine", PriorityMetric: 10, ThumbnailRef: "https://img.example/ok.jpg"},
	)
	inv := newScriptedInvoker(func(title string) domain.Outcome {
		switch title {
		case "permanent":
			return domain.Permanent(errors.New("400 bad request"))
		case "garbled":
			return domain.Success(`{"name": "cut off`)
		default:
			return echoName(title)
		}
	})
	assets := &stubAssets{ok: false}
	sleeps := &sleepLog{}

	o := newTestOrchestrator(store, inv, OrchestratorConfig{
		BatchSize:     10,
		ItemPacing:    4 * time.Second,
		BatchCooldown: 30 * time.Second,
	}, func(d *OrchestratorDeps) {
		d.Assets = assets
		d.Sleeper = sleeps.sleep
	})
	summary, err := o.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, summary.State)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Enriched)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, summary.Remaining)

	// Failing records are attempted once per run and never retried.
	assert.Equal(t, 1, inv.callsFor("permanent"))
	assert.Equal(t, 1, inv.callsFor("garbled"))

	// An absent asset degrades to text-only.
	assert.Equal(t, []string{"https://img.example/ok.jpg"}, assets.calls)
	assert.False(t, inv.assets["fine"])
	rec, err := store.Get(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, rec.Analyzed)

	for _, id := range []string{"perm", "junk"} {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, rec.Analyzed, id)
		assert.Empty(t, rec.EnrichedFields, id)
	}

	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second, 30 * time.Second}, sleeps.delays)
}

func TestRunAttachesFetchedAsset(t *testing.T) {
	t.Parallel()
	store := openStore(t, domain.Record{ID: "a", Title: "with image", ThumbnailRef: "https://img.example/a.jpg"})
	inv := newScriptedInvoker(echoName)

	o := newTestOrchestrator(store, inv, OrchestratorConfig{BatchSize: 1}, func(d *OrchestratorDeps) {
		d.Assets = &stubAssets{ok: true}
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enriched)
	assert.True(t, inv.assets["with image"])
}

func TestRunTreatsLostRaceAsAlreadyCommitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t, domain.Record{ID: "race", Title: "contested"})

	// A concurrent run commits the record while this run waits on inference.
	inv := newScriptedInvoker(func(title string) domain.Outcome {
		applied, err := store.CommitEnrichment(ctx, "race", domain.EnrichedFields{"name": "other run"})
		if err != nil || !applied {
			return domain.Permanent(fmt.Errorf("setup commit failed: applied=%v err=%v", applied, err))
		}
		return echoName(title)
	})

	o := newTestOrchestrator(store, inv, OrchestratorConfig{BatchSize: 1}, nil)
	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlreadyCommitted)
	assert.Zero(t, summary.Enriched)
	assert.Equal(t, domain.StateDone, summary.State)

	rec, err := store.Get(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, "other run", rec.EnrichedFields["name"])
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()
	store := openStore(t, threeRecords()...)
	inv := newScriptedInvoker(echoName)

	ctx, cancel := context.WithCancel(context.Background())
	o := newTestOrchestrator(store, inv, OrchestratorConfig{BatchSize: 3}, func(d *OrchestratorDeps) {
		d.Sleeper = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})
	summary, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StateHalted, summary.State)
	assert.Equal(t, 1, summary.Enriched)
	assert.Equal(t, 2, summary.Remaining)
}

func TestRunWithEmptyStore(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	inv := newScriptedInvoker(echoName)

	summary, err := newTestOrchestrator(store, inv, OrchestratorConfig{BatchSize: 5}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, summary.State)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, 0, summary.Remaining)
}

// queryLog records every ListQuery reaching the store.
type queryLog struct {
	ports.RecordStore
	mu      sync.Mutex
	queries []ports.ListQuery
}

func (q *queryLog) ListUnanalyzed(ctx context.Context, query ports.ListQuery) ([]domain.Record, error) {
	q.mu.Lock()
	q.queries = append(q.queries, ports.ListQuery{Limit: query.Limit, Exclude: append([]string(nil), query.Exclude...)})
	q.mu.Unlock()
	return q.RecordStore.ListUnanalyzed(ctx, query)
}

func TestRunExcludesOnlySkippedRecords(t *testing.T) {
	t.Parallel()
	store := openStore(t,
		domain.Record{ID: "r1", Title: "broken", PriorityMetric: 400},
		domain.Record{ID: "r2", Title: "second", PriorityMetric: 300},
		domain.Record{ID: "r3", Title: "third", PriorityMetric: 200},
		domain.Record{ID: "r4", Title: "fourth", PriorityMetric: 100},
	)
	logged := &queryLog{RecordStore: store}
	inv := newScriptedInvoker(func(title string) domain.Outcome {
		if title == "broken" {
			return domain.Permanent(errors.New("400 bad request"))
		}
		return echoName(title)
	})

	o := newTestOrchestrator(logged, inv, OrchestratorConfig{BatchSize: 2}, nil)
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Enriched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Remaining)

	require.Len(t, logged.queries, 3)
	assert.Empty(t, logged.queries[0].Exclude)
	assert.Equal(t, []string{"r1"}, logged.queries[1].Exclude)
	assert.Equal(t, []string{"r1"}, logged.queries[2].Exclude)
}

func TestNewOrchestratorCapsItemBudget(t *testing.T) {
	t.Parallel()
	inv := newScriptedInvoker(echoName)

	for _, n := range []int{0, -5, ports.MaxExclude * 4} {
		o := newTestOrchestrator(nil, inv, OrchestratorConfig{MaxItemsPerRun: n}, nil)
		assert.Equal(t, ports.MaxExclude, o.cfg.MaxItemsPerRun, "maxItemsPerRun=%d", n)
	}
	o := newTestOrchestrator(nil, inv, OrchestratorConfig{MaxItemsPerRun: 7}, nil)
	assert.Equal(t, 7, o.cfg.MaxItemsPerRun)
}

func TestRunStopsAtItemBudgetWhenItemsAreSkipped(t *testing.T) {
	t.Parallel()
	records := make([]domain.Record, 6)
	for i := range records {
		records[i] = domain.Record{ID: fmt.Sprintf("r%d", i), Title: fmt.Sprintf("item %d", i), PriorityMetric: float64(100 - i)}
	}
	store := openStore(t, records...)
	inv := newScriptedInvoker(func(string) domain.Outcome {
		return domain.Permanent(errors.New("400 bad request"))
	})

	o := newTestOrchestrator(store, inv, OrchestratorConfig{BatchSize: 2, MaxItemsPerRun: 5}, nil)
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, summary.State)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 5, summary.Skipped)
	assert.Zero(t, inv.callsFor("item 5"))
}
