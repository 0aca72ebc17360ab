package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facetd/facetd/internal/config"
	"github.com/facetd/facetd/internal/source"
	"github.com/facetd/facetd/internal/storage"
	"github.com/facetd/facetd/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	one := 1
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Executor.BarrierTimeout = 10 * time.Second
	cfg.Facet.Levels = []config.LevelConfig{{
		Collector:           "list",
		Stats:               "n,sum",
		SortType:            "sum",
		SortDirection:       "desc",
		Number:              &one,
		SegmentRegistration: "sort_desc",
	}}
	return cfg
}

// seed writes one partition file per group into the configured storage.
func seed(t *testing.T, cfg *config.Config, groups ...map[string]int64) {
	t.Helper()
	cfg.Resolve()
	store, err := storage.NewLocalStorage(cfg.Storage.Path)
	require.NoError(t, err)

	ctx := context.Background()
	doc := int64(0)
	for i, g := range groups {
		var items []types.Contribution
		for key, value := range g {
			doc++
			items = append(items, types.Contribution{DocID: doc, Path: types.Path{types.K(key)}, Value: types.Int(value), Weight: 1})
		}
		local := filepath.Join(t.TempDir(), "p.sqlite")
		require.NoError(t, source.WriteSQLite(ctx, local, items))
		object := fmt.Sprintf("segments/%s.sqlite", source.PartitionName(i))
		require.NoError(t, store.Upload(ctx, local, object))
		cfg.Partitions = append(cfg.Partitions, object)
	}
}

func TestApp_Run(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg, map[string]int64{"a": 10, "c": 5}, map[string]int64{"b": 20, "a": 3})

	a, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Run(ctx)
	require.Error(t, err, "run before start")

	require.NoError(t, a.Start(ctx))
	report, err := a.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, report.Result.Keys())
	assert.Len(t, report.Stats, 2)
	assert.Len(t, report.Boundaries, 2)

	require.NoError(t, a.Stop(ctx))
	_, err = a.Run(ctx)
	assert.Error(t, err, "run after stop")
}

func TestApp_GRPCAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Facet.Kind = "floating"
	cfg.GRPC.Enabled = true
	cfg.GRPC.Addr = "127.0.0.1:0"
	seed(t, cfg, map[string]int64{"a": 10}, map[string]int64{"a": 6, "b": 2}, map[string]int64{"b": 3})

	a, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)

	report, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Result.Keys())
	item, _ := report.Result.Find("a")
	assert.Equal(t, 16.0, item.Stats["sum"])

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "facetd_boundary_rounds_total")
}

func TestApp_MetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	resp, err := http.Get("http://" + a.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	_, err := New(cfg, nil)
	assert.Error(t, err, "no plan configured")
}
