package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/facetd/facetd/internal/app"
	"github.com/facetd/facetd/internal/config"
	"github.com/facetd/facetd/internal/observability"
	"github.com/facetd/facetd/internal/source"
	"github.com/facetd/facetd/internal/storage"
)

type globalFlags struct {
	configFile string
	envFile    string
	dataDir    string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "facetd",
		Short:         "Hierarchical faceted aggregation over partitioned contributions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional .env file loaded before FACETD_ variables")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Base directory for all data files")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: logfmt or json")

	root.AddCommand(newRunCommand(flags), newSplitCommand(flags), newVersionCommand())
	return root
}

// loadConfig applies, in increasing priority: defaults or the config file,
// the env file, FACETD_ variables and command line flags.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(flags.configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadEnvFile(flags.envFile); err != nil {
		return nil, err
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (log.Logger, error) {
	return observability.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		partitions  []string
		metricsAddr string
		grpcAddr    string
		output      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured plan over the configured partitions and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if len(partitions) > 0 {
				cfg.Partitions = partitions
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if grpcAddr != "" {
				cfg.GRPC.Enabled = true
				cfg.GRPC.Addr = grpcAddr
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := a.Stop(context.Background()); err != nil {
					level.Warn(logger).Log("msg", "shutdown", "err", err)
				}
			}()

			report, err := a.Run(ctx)
			if err != nil {
				return err
			}
			for _, s := range report.Stats {
				level.Info(logger).Log("msg", "partition", "name", s.Partition,
					"contributions", s.Contributions, "data_errors", s.DataErrors,
					"reports", s.Reports, "pruned", s.SlotsPruned,
					"first_pass", s.FirstPass, "second_pass", s.SecondPass)
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringSliceVar(&partitions, "partition", nil, "Partition object path (repeatable, overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "Exchange boundaries over gRPC on this address")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the result to a file instead of stdout")
	return cmd
}

func newSplitCommand(flags *globalFlags) *cobra.Command {
	var (
		input        string
		partitions   int
		outDir       string
		uploadPrefix string
	)
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split a contribution file into hash-routed partition files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" || outDir == "" {
				return fmt.Errorf("--input and --out are required")
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			router, err := source.NewHashRouter(partitions)
			if err != nil {
				return err
			}
			groups, err := router.Split(ctx, source.NewSQLiteSource(filepath.Base(input), input))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			var store storage.ObjectStorage
			if uploadPrefix != "" {
				cfg.Resolve()
				if store, err = storage.New(ctx, cfg.Storage); err != nil {
					return err
				}
			}

			for i, items := range groups {
				name := source.PartitionName(i) + ".sqlite"
				local := filepath.Join(outDir, name)
				if err := source.WriteSQLite(ctx, local, items); err != nil {
					return err
				}
				level.Info(logger).Log("msg", "wrote partition", "path", local, "contributions", len(items))
				if store == nil {
					fmt.Fprintln(cmd.OutOrStdout(), local)
					continue
				}
				object := path.Join(uploadPrefix, name)
				if err := store.Upload(ctx, local, object); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), object)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Contribution SQLite file to split")
	cmd.Flags().IntVar(&partitions, "partitions", 4, "Number of partitions")
	cmd.Flags().StringVar(&outDir, "out", "", "Directory the partition files are written to")
	cmd.Flags().StringVar(&uploadPrefix, "upload-prefix", "", "Upload partitions to the configured storage under this prefix")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "facetd version %s (commit: %s)\n", version, commit)
		},
	}
}
