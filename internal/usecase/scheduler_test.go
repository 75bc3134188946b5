package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/logging"
)

type manualDriver struct {
	job     func(time.Time)
	stopped bool
}

func (m *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	m.job = job
	return nil
}

func (m *manualDriver) Stop(context.Context) error {
	m.stopped = true
	return nil
}

type blockingRunner struct {
	runs    atomic.Int32
	release chan struct{}
}

func (b *blockingRunner) Run(context.Context) (domain.RunSummary, error) {
	b.runs.Add(1)
	if b.release != nil {
		<-b.release
	}
	return domain.RunSummary{State: domain.StateDone}, nil
}

func TestSchedulerRunsOnTick(t *testing.T) {
	t.Parallel()
	driver := &manualDriver{}
	runner := &blockingRunner{}
	s := NewScheduler(driver, runner, logging.Discard())

	require.NoError(t, s.Start(context.Background()))
	driver.job(time.Now())
	driver.job(time.Now())
	assert.Equal(t, int32(2), runner.runs.Load())

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, driver.stopped)
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	t.Parallel()
	driver := &manualDriver{}
	runner := &blockingRunner{release: make(chan struct{})}
	s := NewScheduler(driver, runner, logging.Discard())
	require.NoError(t, s.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		driver.job(time.Now())
		close(done)
	}()
	require.Eventually(t, func() bool { return runner.runs.Load() == 1 }, time.Second, time.Millisecond)

	driver.job(time.Now())
	assert.Equal(t, int32(1), runner.runs.Load())

	close(runner.release)
	<-done
}
