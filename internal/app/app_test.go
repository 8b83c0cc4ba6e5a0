package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/config"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/pipeline"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Timezone = "UTC"
	cfg.Auth.TriggerToken = "tok"
	cfg.ArtifactLog.Path = filepath.Join(dir, "artifacts.jsonl")
	cfg.ArtifactLog.BlobDir = filepath.Join(dir, "mirror")
	return cfg
}

func TestBuild_MemoryServesAndRuns(t *testing.T) {
	cfg := testConfig(t)
	a, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set("X-Trigger-Token", "tok")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["run_id"])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Orchestrator().Wait(ctx))

	state := a.Orchestrator().State()
	assert.Equal(t, body["run_id"], state.LastRunID)
	assert.Zero(t, state.LastRecordCount)
	assert.Contains(t, state.LastDelivery, "delivery not configured")

	raw, err := os.ReadFile(cfg.ArtifactLog.Path)
	require.NoError(t, err)
	var entry digest.LogEntry
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, body["run_id"], entry.RunID)
	assert.True(t, entry.Artifact.NothingNotable)
}

func TestBuild_SQLiteRunOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "digest.db")
	cfg.Pipeline.Categories = []config.CategoryConfig{{Name: "tech", Topic: "tech"}, {Name: digest.AggregateCategory}}

	a, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary := a.Orchestrator().Run(context.Background(), pipeline.Options{})
	require.NoError(t, summary.Err)
	require.Len(t, summary.Categories, 2)
	for _, c := range summary.Categories {
		assert.False(t, c.Delivery.OK())
	}
}

func TestSchedule_SetsNextRun(t *testing.T) {
	cfg := testConfig(t)
	a, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	sched, err := a.Schedule()
	require.NoError(t, err)
	require.Len(t, sched.Entries(), 2)

	next := a.Orchestrator().State().NextRunAt
	require.NotNil(t, next)
	assert.Equal(t, 7, next.In(time.UTC).Hour())
	assert.Zero(t, next.Minute())
}

func TestSchedule_RejectsBadSpec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Schedule = "every morning"
	a, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Schedule()
	require.Error(t, err)
}

func TestPipelineConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Rollup.Weekday = "Wednesday"
	cfg.Pipeline.Categories = []config.CategoryConfig{{Name: "ai", Topic: "ai"}}

	pc, err := pipelineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, pc.Rollup.Weekday)
	assert.Equal(t, 24*time.Hour, pc.Window)
	assert.Equal(t, 30*24*time.Hour, pc.Retention)
	assert.Equal(t, []pipeline.Category{{Name: "ai", Topic: "ai"}}, pc.Categories)
}
