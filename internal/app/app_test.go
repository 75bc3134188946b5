package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogEnricher/internal/config"
	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/infrastructure/storage"
	"CatalogEnricher/internal/logging"
)

const geminiReply = `{"candidates":[{"content":{"parts":[{"text":"{\"singer_name\":\"Ado\",\"song_title\":\"Show\",\"tie_up\":\"none\",\"is_official_mv\":true,\"tags\":[\"energetic\"]}"}]}}]}`

func testConfig(t *testing.T, endpoint string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "catalog.db")
	cfg.Inference.Provider = config.ProviderGemini
	cfg.Inference.Endpoint = endpoint
	cfg.Inference.Model = "gemini-test"
	cfg.Inference.APIKey = "key"
	cfg.Inference.Timeout = time.Second
	cfg.Schema = domain.DefaultSchema()
	cfg.Run.ItemPacing = 0
	cfg.Run.BatchCooldown = 0
	return cfg
}

func TestApplicationRunEnrichesThroughGemini(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiReply))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	seed, err := storage.OpenSQLite(ctx, cfg.Database.DSN, nil)
	require.NoError(t, err)
	require.NoError(t, seed.Insert(ctx,
		domain.Record{ID: "v1", Title: "Ado - Show", PriorityMetric: 2},
		domain.Record{ID: "v2", Title: "Ado - Odo", PriorityMetric: 1},
	))
	require.NoError(t, seed.Close())

	application, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	defer application.Close()

	summary, err := application.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, summary.State)
	assert.Equal(t, 2, summary.Enriched)
	assert.Equal(t, 0, summary.Remaining)

	remaining, err := Backlog(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestApplicationRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Inference.APIKey = ""
	_, err := New(context.Background(), cfg, logging.Discard())
	assert.ErrorIs(t, err, config.ErrInvalid)
}
