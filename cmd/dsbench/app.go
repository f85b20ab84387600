package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	dsbench "pkt.systems/dsbench"
	"pkt.systems/pslog"
)

var version = "dev"

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("DSBENCH_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "dsbench")

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCommand(baseLogger)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dsbench",
		Short:         "dsbench loads, benchmarks, and bulk-deletes YCSB datasets on object storage backends",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.String("backend", dsbench.BackendMem, "storage backend: mem, s3, or aws")
	flags.String("endpoint", "", "storage endpoint override (host[:port] or URL)")
	flags.String("region", "", "storage region")
	flags.String("bucket", "", "bucket holding the benchmark collections")
	flags.Bool("insecure", false, "disable TLS verification towards the storage endpoint")
	flags.Bool("force-path-style", false, "force path-style bucket addressing")
	flags.String("access-key", "", "static storage access key (default: provider chain)")
	flags.String("secret-key", "", "static storage secret key")
	flags.String("session-token", "", "static storage session token")
	flags.StringSlice("collection", nil, "collection to benchmark (repeatable; defaults to "+dsbench.DefaultCollection+")")
	flags.String("keyfile", "", "benchmark keyfile: local path or s3://bucket/key")
	flags.String("deletion-keyfile", "", "cleanup keyfile; without it precheck and cleanup are skipped")
	flags.String("private-keyfile", dsbench.DefaultPrivateKeyfile, "local staging path for remote keyfiles")
	flags.Int("read-page-size", dsbench.DefaultReadPageSize, "keys fetched per cleanup page")
	flags.Int("delete-chunk-size", dsbench.DefaultDeleteChunkSize, "keys per delete call")
	flags.Int("cleanup-workers", dsbench.DefaultCleanupWorkers, "cleanup deletion workers")
	flags.Int("throttle-every", dsbench.DefaultThrottleEvery, "pause pagination after every N pages (0 disables)")
	flags.Duration("throttle-pause", dsbench.DefaultThrottlePause, "pagination pause duration")
	flags.Int("max-buffered-pages", 0, "bound on pages read but not yet deleted (0 = 2x workers, negative = unbounded)")
	flags.Int("recordcount", dsbench.DefaultRecordCount, "YCSB record count")
	flags.Int("operationcount", dsbench.DefaultOperationCount, "YCSB operation count")
	flags.Int("threads", dsbench.DefaultThreads, "YCSB client threads")
	flags.Int("target", 0, "YCSB target ops/sec (0 = unthrottled)")
	flags.StringArray("prop", nil, "extra YCSB property name=value (repeatable)")
	flags.String("samples", "", "append emitted samples to this JSON-lines file")
	flags.String("log-level", "", "minimum log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("DSBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := viper.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})

	cmd.AddCommand(
		newRunCommand(baseLogger),
		newLoadCommand(baseLogger),
		newCleanupCommand(baseLogger),
		newCheckCommand(baseLogger),
		newVersionCommand(),
	)
	return cmd
}

func commandLogger(baseLogger pslog.Logger) pslog.Logger {
	logger := baseLogger
	if levelStr := strings.TrimSpace(viper.GetString("log-level")); levelStr != "" {
		if level, ok := pslog.ParseLevel(levelStr); ok {
			logger = logger.LogLevel(level)
		} else {
			logger.Warn("cli.log_level.invalid", "value", levelStr)
		}
	}
	return logger
}

func configFromViper() (dsbench.Config, error) {
	cfg := dsbench.Config{
		Backend:          viper.GetString("backend"),
		Endpoint:         viper.GetString("endpoint"),
		Region:           viper.GetString("region"),
		Bucket:           viper.GetString("bucket"),
		Insecure:         viper.GetBool("insecure"),
		ForcePathStyle:   viper.GetBool("force-path-style"),
		AccessKey:        viper.GetString("access-key"),
		SecretKey:        viper.GetString("secret-key"),
		SessionToken:     viper.GetString("session-token"),
		Collections:      viper.GetStringSlice("collection"),
		Keyfile:          viper.GetString("keyfile"),
		DeletionKeyfile:  viper.GetString("deletion-keyfile"),
		PrivateKeyfile:   viper.GetString("private-keyfile"),
		ReadPageSize:     viper.GetInt("read-page-size"),
		DeleteChunkSize:  viper.GetInt("delete-chunk-size"),
		CleanupWorkers:   viper.GetInt("cleanup-workers"),
		ThrottleEvery:    viper.GetInt("throttle-every"),
		ThrottlePause:    viper.GetDuration("throttle-pause"),
		MaxBufferedPages: viper.GetInt("max-buffered-pages"),
		RecordCount:      viper.GetInt("recordcount"),
		OperationCount:   viper.GetInt("operationcount"),
		Threads:          viper.GetInt("threads"),
		Target:           viper.GetInt("target"),
		SamplePath:       viper.GetString("samples"),
	}
	props, err := parseProps(viper.GetStringSlice("prop"))
	if err != nil {
		return cfg, err
	}
	cfg.WorkloadProps = props
	return cfg, nil
}

func parseProps(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid property %q (expected name=value)", pair)
		}
		props[name] = value
	}
	return props, nil
}

func newBenchmark(baseLogger pslog.Logger) (*dsbench.Benchmark, pslog.Logger, error) {
	logger := commandLogger(baseLogger)
	cfg, err := configFromViper()
	if err != nil {
		return nil, logger, err
	}
	b, err := dsbench.New(cfg, dsbench.WithLogger(logger))
	if err != nil {
		return nil, logger, err
	}
	return b, logger, nil
}

func newRunCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full sequence: stage credentials, precheck, load, workload, cleanup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, logger, err := newBenchmark(baseLogger)
			if err != nil {
				return err
			}
			defer b.Close()
			start := time.Now()
			runSamples, err := b.Run(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("cli.run.done", "samples", len(runSamples), "elapsed", time.Since(start))
			return nil
		},
	}
}

func newLoadCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Stage credentials, verify the target is empty, and load records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, logger, err := newBenchmark(baseLogger)
			if err != nil {
				return err
			}
			defer b.Close()
			ctx := cmd.Context()
			if err := b.Prepare(ctx); err != nil {
				return err
			}
			if err := b.Check(ctx); err != nil {
				return err
			}
			loadSamples, err := b.Load(ctx)
			if err != nil {
				return err
			}
			logger.Info("cli.load.done", "samples", len(loadSamples))
			return nil
		},
	}
}

func newCleanupCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Bulk-delete every record from the configured collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, logger, err := newBenchmark(baseLogger)
			if err != nil {
				return err
			}
			defer b.Close()
			ctx := cmd.Context()
			if err := b.Prepare(ctx); err != nil {
				return err
			}
			cleanupSamples, err := b.Cleanup(ctx)
			if err != nil {
				return err
			}
			logger.Info("cli.cleanup.done", "samples", len(cleanupSamples))
			return nil
		},
	}
}

func newCheckCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the configured collections hold no records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, logger, err := newBenchmark(baseLogger)
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.Check(cmd.Context()); err != nil {
				return err
			}
			logger.Info("cli.check.done")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dsbench version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dsbench %s\n", version)
			return err
		},
	}
}
