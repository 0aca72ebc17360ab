package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facetd/facetd/internal/facet"
	"github.com/facetd/facetd/pkg/types"
)

const sampleYAML = `
data_dir: /tmp/facetd
log:
  format: json
  level: debug
executor:
  concurrency: 4
  barrier_timeout: 5s
partitions:
  - segments/p0.sqlite
  - segments/p1.sqlite
facet:
  kind: floating
  levels:
    - collector: list
      stats: n,sum,mean
      sort_type: sum
      sort_direction: desc
      number: 10
      segment_registration: sort_desc
    - collector: data
      stats_type: full
      stats: all
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "facetd.yaml", sampleYAML))
	require.NoError(t, err)
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Executor.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Executor.BarrierTimeout)
	assert.Equal(t, filepath.Join("/tmp/facetd", "work"), cfg.Executor.WorkDir)
	assert.Len(t, cfg.Partitions, 2)

	kind, err := cfg.Facet.NumberKind()
	require.NoError(t, err)
	assert.Equal(t, types.KindFloating, kind)

	plan, err := cfg.Facet.Plan()
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, facet.SegmentSortDesc, plan[0].SegmentRegistration)
	assert.Equal(t, 10, plan[0].Number)
	assert.Equal(t, facet.Descending, plan[0].SortDirection)
	assert.Equal(t, facet.CollectorData, plan[1].CollectorType)
	assert.Equal(t, facet.Unbounded, plan[1].Number)
	assert.True(t, plan[1].Stats.Has(facet.StatKurtosis))
}

func TestLoadFromFile_JSONAndErrors(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "facetd.json",
		`{"facet":{"levels":[{"collector":"data","stats":"n"}]}}`))
	require.NoError(t, err)
	plan, err := cfg.Facet.Plan()
	require.NoError(t, err)
	assert.Equal(t, facet.NewStatSet(facet.StatN), plan[0].Stats)

	_, err = LoadFromFile(writeFile(t, "facetd.toml", "x = 1"))
	assert.Error(t, err)
	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLevelConfig_Defaults(t *testing.T) {
	opts, err := LevelConfig{}.Options()
	require.NoError(t, err)
	assert.Equal(t, facet.CollectorList, opts.CollectorType)
	assert.Equal(t, facet.NewStatSet(facet.StatN), opts.Stats)
	assert.True(t, opts.SortType.IsKey())
	assert.Equal(t, facet.Unbounded, opts.Number)

	_, err = LevelConfig{Stats: "variance"}.Options()
	assert.Error(t, err, "basic levels cannot serve variance")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "a plan is required")

	cfg.Facet.Levels = []LevelConfig{{Collector: "data"}}
	require.NoError(t, cfg.Validate())

	cfg.Storage.Type = "s3"
	assert.Error(t, cfg.Validate())
	cfg.Storage.S3.Bucket = "facets"
	assert.NoError(t, cfg.Validate())

	cfg.Executor.Concurrency = 0
	assert.Error(t, cfg.Validate())
	cfg.Executor.Concurrency = 1

	cfg.Facet.Kind = "decimal"
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "FACETD_LOG_LEVEL=warn\nFACETD_PARTITIONS=a.sqlite, b.sqlite\n")
	t.Setenv("FACETD_LOG_LEVEL", "")
	os.Unsetenv("FACETD_LOG_LEVEL")
	t.Setenv("FACETD_PARTITIONS", "")
	os.Unsetenv("FACETD_PARTITIONS")
	t.Setenv("FACETD_EXECUTOR_CONCURRENCY", "3")
	t.Setenv("FACETD_EXECUTOR_BARRIER_TIMEOUT", "250ms")
	t.Setenv("FACETD_GRPC_ENABLED", "1")

	require.NoError(t, LoadEnvFile(envFile))
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"a.sqlite", "b.sqlite"}, cfg.Partitions)
	assert.Equal(t, 3, cfg.Executor.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.BarrierTimeout)
	assert.True(t, cfg.GRPC.Enabled)

	t.Setenv("FACETD_EXECUTOR_CONCURRENCY", "many")
	assert.Error(t, LoadFromEnv(DefaultConfig()))
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.Executor.WorkDir, cfg.Storage.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
