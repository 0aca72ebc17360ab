// Package config provides configuration for facetd runs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/facetd/facetd/internal/facet"
	"github.com/facetd/facetd/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACETD_"

// Config holds the configuration for a facetd run.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Executor configuration
	Executor ExecutorConfig `json:"executor" yaml:"executor"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Facet is the aggregation plan
	Facet FacetConfig `json:"facet" yaml:"facet"`

	// Partitions lists the object paths of partition files
	Partitions []string `json:"partitions" yaml:"partitions"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Format is logfmt or json
	Format string `json:"format" yaml:"format"`

	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`
}

// ExecutorConfig holds partition execution configuration.
type ExecutorConfig struct {
	// Concurrency is the number of partitions processed at once
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// BarrierTimeout bounds the wait for every partition's first pass
	BarrierTimeout time.Duration `json:"barrier_timeout" yaml:"barrier_timeout"`

	// WorkDir is the directory partition files are downloaded to
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// MaxWorkDirBytes bounds the downloaded files kept in WorkDir
	MaxWorkDirBytes int64 `json:"max_work_dir_bytes" yaml:"max_work_dir_bytes"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	// Addr serves /metrics when set
	Addr string `json:"addr" yaml:"addr"`
}

// GRPCConfig holds the boundary exchange server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled routes boundary exchange through gRPC
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// FacetConfig is the textual form of an aggregation plan.
type FacetConfig struct {
	// Kind is the numeric kind of the tree: integer or floating
	Kind string `json:"kind" yaml:"kind"`

	// Levels configures each depth, outermost first
	Levels []LevelConfig `json:"levels" yaml:"levels"`
}

// LevelConfig is the textual form of facet.LevelOptions.
type LevelConfig struct {
	Collector           string `json:"collector" yaml:"collector"`
	StatsType           string `json:"stats_type" yaml:"stats_type"`
	Stats               string `json:"stats" yaml:"stats"`
	SortType            string `json:"sort_type" yaml:"sort_type"`
	SortDirection       string `json:"sort_direction" yaml:"sort_direction"`
	Start               int    `json:"start" yaml:"start"`
	Number              *int   `json:"number" yaml:"number"`
	SegmentRegistration string `json:"segment_registration" yaml:"segment_registration"`
	Boundary            string `json:"boundary" yaml:"boundary"`
	BoundaryCount       int64  `json:"boundary_count" yaml:"boundary_count"`
}

// Options parses the level. An absent number is unbounded and absent stats
// default to n.
func (l LevelConfig) Options() (facet.LevelOptions, error) {
	var opts facet.LevelOptions
	var err error
	if opts.CollectorType, err = facet.ParseCollectorType(l.Collector); err != nil {
		return opts, err
	}
	if opts.StatsType, err = facet.ParseStatsType(l.StatsType); err != nil {
		return opts, err
	}
	stats := l.Stats
	if strings.TrimSpace(stats) == "" {
		stats = facet.StatN
	}
	if opts.Stats, err = facet.ParseStats(stats, opts.StatsType); err != nil {
		return opts, err
	}
	if opts.SortType, err = facet.ParseSortType(l.SortType); err != nil {
		return opts, err
	}
	if opts.SortDirection, err = facet.ParseSortDirection(l.SortDirection); err != nil {
		return opts, err
	}
	if opts.SegmentRegistration, err = facet.ParseSegmentRegistration(l.SegmentRegistration); err != nil {
		return opts, err
	}
	opts.Start = l.Start
	opts.Number = facet.Unbounded
	if l.Number != nil {
		opts.Number = *l.Number
	}
	opts.Boundary = l.Boundary
	opts.BoundaryCount = l.BoundaryCount
	return opts, opts.Validate()
}

// Plan parses and validates every level.
func (f FacetConfig) Plan() (facet.Plan, error) {
	plan := make(facet.Plan, 0, len(f.Levels))
	for depth, level := range f.Levels {
		opts, err := level.Options()
		if err != nil {
			return nil, fmt.Errorf("facet level %d: %w", depth, err)
		}
		plan = append(plan, opts)
	}
	return plan, plan.Validate()
}

// NumberKind parses the tree's numeric kind, integer by default.
func (f FacetConfig) NumberKind() (types.NumberKind, error) {
	if f.Kind == "" {
		return types.KindInteger, nil
	}
	return types.ParseNumberKind(f.Kind)
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/facetd",
		Log: LogConfig{
			Format: "logfmt",
			Level:  "info",
		},
		Executor: ExecutorConfig{
			Concurrency:     10,
			BarrierTimeout:  time.Minute,
			MaxWorkDirBytes: 10 * 1024 * 1024 * 1024, // 10 GB
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Facet: FacetConfig{
			Kind: "integer",
		},
		GRPC: GRPCConfig{
			Addr: ":9090",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/facetd"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Executor.WorkDir == "" {
		c.Executor.WorkDir = filepath.Join(c.DataDir, "work")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}
	if c.Executor.Concurrency < 1 {
		return fmt.Errorf("executor.concurrency must be positive, got %d", c.Executor.Concurrency)
	}
	if c.Executor.BarrierTimeout < 0 {
		return fmt.Errorf("executor.barrier_timeout must not be negative")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}
	if _, err := c.Facet.NumberKind(); err != nil {
		return err
	}
	if _, err := c.Facet.Plan(); err != nil {
		return err
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process
// environment. A missing file is not an error. Variables already set win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies environment overrides. Variables use the FACETD_
// prefix.
func LoadFromEnv(cfg *Config) error {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Log configuration
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Executor configuration
	if v := getenv("EXECUTOR_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sEXECUTOR_CONCURRENCY: %w", EnvPrefix, err)
		}
		cfg.Executor.Concurrency = n
	}
	if v := getenv("EXECUTOR_BARRIER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sEXECUTOR_BARRIER_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Executor.BarrierTimeout = d
	}
	if v := getenv("EXECUTOR_WORK_DIR"); v != "" {
		cfg.Executor.WorkDir = v
	}
	if v := getenv("EXECUTOR_MAX_WORK_DIR_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sEXECUTOR_MAX_WORK_DIR_BYTES: %w", EnvPrefix, err)
		}
		cfg.Executor.MaxWorkDirBytes = n
	}

	// Storage configuration
	if v := getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv("S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := getenv("S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Facet configuration
	if v := getenv("FACET_KIND"); v != "" {
		cfg.Facet.Kind = v
	}
	if v := getenv("PARTITIONS"); v != "" {
		cfg.Partitions = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Partitions = append(cfg.Partitions, p)
			}
		}
	}

	// Metrics and gRPC configuration
	if v := getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := getenv("GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := getenv("GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}
	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Executor.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
