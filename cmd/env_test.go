package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repairer-sync/internal/config"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/scope"
	"github.com/sells-group/repairer-sync/pkg/geocode"
)

func setTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "cmd.db")},
		Engine: config.EngineConfig{
			MaxAttempts: 1, PipelineConcurrency: 2, MaxPages: 1,
			TestCities: 2, TestQueries: 1, FetchTimeoutSecs: 1,
		},
		Geocode:  config.GeocodeConfig{Providers: []string{"ban"}, BANURL: "http://127.0.0.1:1", TimeoutSecs: 1},
		Classify: config.ClassifyConfig{Enabled: false},
		Server:   config.ServerConfig{Port: 8080},
	}
	t.Cleanup(func() { cfg = prev })
}

func TestInitGeocoder(t *testing.T) {
	gc := config.GeocodeConfig{
		Providers:    []string{"ban", "nominatim", "google", "bing"},
		BANURL:       "https://api-adresse.data.gouv.fr",
		NominatimURL: "https://nominatim.openstreetmap.org",
		UserAgent:    "repairer-sync/test",
		TimeoutSecs:  2,
		CacheSize:    10,
	}
	c := initGeocoder(gc, config.GoogleConfig{Key: "k"})
	require.NotNil(t, c)
	_, ok := c.(*geocode.CascadeClient)
	assert.True(t, ok)

	assert.Nil(t, initGeocoder(config.GeocodeConfig{Providers: []string{"bing"}}, config.GoogleConfig{}))
	assert.Nil(t, initGeocoder(config.GeocodeConfig{}, config.GoogleConfig{}))
}

func TestInitEnv_SQLite(t *testing.T) {
	setTestConfig(t)
	env, err := initEnv(context.Background(), "import")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Walker)
	n, err := env.Store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInitEnv_RejectsBadConfig(t *testing.T) {
	setTestConfig(t)
	cfg.Store.Driver = "oracle"
	_, err := initEnv(context.Background(), "scrape")
	assert.Error(t, err)
}

func TestReadOnlyEngine_StatusAndRetry(t *testing.T) {
	setTestConfig(t)
	ctx := context.Background()

	eng, closeFn, err := readOnlyEngine(ctx)
	require.NoError(t, err)
	defer closeFn()

	_, err = eng.Status(ctx, "")
	assert.Error(t, err)

	jobs, err := eng.ListJobs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPrintStatus(t *testing.T) {
	color.NoColor = true
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rep := &model.JobStatusReport{
		Job: &model.Job{
			ID: "job-1", Scope: model.Scope{Kind: model.KindDepartment, Code: "75"},
			Source: model.SourcePlaces, Mode: model.ModeFull, Status: model.JobFailed,
			Error: "quota exceeded", StartedAt: &started,
		},
		SubScopes: []model.SubScopeProgress{
			{Position: 0, ScopeCode: "75-paris", Status: model.SubScopeDone, Counts: model.Counts{Fetched: 4, Added: 3, Skipped: 1}},
			{Position: 1, ScopeCode: "75-paris-11", Status: model.SubScopeErrored, Error: "quota exceeded"},
			{Position: 2, ScopeCode: "75-paris-12", Status: model.SubScopePending},
		},
	}
	rep.Summarize()

	var buf bytes.Buffer
	printStatus(&buf, rep, false)
	out := buf.String()
	assert.Contains(t, out, "Job job-1  failed")
	assert.Contains(t, out, "1 done, 1 pending, 1 errored")
	assert.Contains(t, out, "4 fetched, 3 added, 0 updated, 1 skipped")
	assert.Contains(t, out, "75-paris-11")
	assert.NotContains(t, out, "75-paris-12")

	buf.Reset()
	printStatus(&buf, rep, true)
	assert.Contains(t, buf.String(), "75-paris-12")
}

func TestPrintJobs(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printJobs(&buf, []model.Job{
		{ID: "b", Scope: model.Scope{Kind: model.KindNation, Code: "FR"}, Source: model.SourceAI, Mode: model.ModeTest, Status: model.JobCompleted},
		{ID: "a", Scope: model.Scope{Kind: model.KindRegion, Code: "84"}, Source: model.SourceWebSearch, Mode: model.ModeFull, Status: model.JobStopped},
	})
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "stopped")
}

func TestExpandScope_TestModeTruncates(t *testing.T) {
	setTestConfig(t)
	ref, err := scope.Builtin()
	require.NoError(t, err)
	walker := scope.NewWalker(ref)

	var buf bytes.Buffer
	require.NoError(t, expandScope(&buf, walker, model.Scope{Kind: model.KindNation, Code: "FR"}, model.ModeTest))
	assert.Contains(t, buf.String(), "2 cities")

	buf.Reset()
	err = expandScope(&buf, walker, model.Scope{Kind: model.KindDepartment, Code: "999"}, model.ModeFull)
	assert.Error(t, err)
}
