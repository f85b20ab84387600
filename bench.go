package dsbench

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"pkt.systems/dsbench/internal/cleanup"
	"pkt.systems/dsbench/internal/clock"
	"pkt.systems/dsbench/internal/credentials"
	"pkt.systems/dsbench/internal/samples"
	"pkt.systems/dsbench/internal/store"
	"pkt.systems/dsbench/internal/store/aws"
	"pkt.systems/dsbench/internal/store/memory"
	"pkt.systems/dsbench/internal/store/s3"
	"pkt.systems/dsbench/internal/ycsbrun"
	"pkt.systems/pslog"
)

// Benchmark orchestrates one end to end run: stage credentials, verify
// the target is empty, load records, run the workload, and clean up.
type Benchmark struct {
	cfg           Config
	logger        pslog.Logger
	clk           clock.Clock
	registry      *prometheus.Registry
	client        store.Client
	storeInjected bool
	writer        *samples.Writer
	runID         string
}

// Option adjusts a Benchmark during New.
type Option func(*Benchmark)

// WithLogger sets the run logger.
func WithLogger(logger pslog.Logger) Option {
	return func(b *Benchmark) { b.logger = logger }
}

// WithClock replaces the run clock.
func WithClock(clk clock.Clock) Option {
	return func(b *Benchmark) { b.clk = clk }
}

// WithStore injects a store client instead of building one from the
// configuration. Staged keyfiles never replace an injected client.
func WithStore(client store.Client) Option {
	return func(b *Benchmark) {
		b.client = client
		b.storeInjected = true
	}
}

// New validates cfg and builds a ready to run Benchmark.
func New(cfg Config, opts ...Option) (*Benchmark, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Benchmark{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		runID:    xid.New().String(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = pslog.NoopLogger()
	}
	if b.clk == nil {
		b.clk = clock.Real{}
	}
	if b.client == nil {
		client, err := newStoreClient(cfg, b.logger)
		if err != nil {
			return nil, err
		}
		b.client = client
	}
	writer, err := samples.NewWriter(cfg.SamplePath, b.logger, b.clk)
	if err != nil {
		return nil, err
	}
	b.writer = writer
	return b, nil
}

func newStoreClient(cfg Config, logger pslog.Logger) (store.Client, error) {
	switch cfg.Backend {
	case BackendMem:
		return memory.New(), nil
	case BackendS3:
		s3cfg := s3.Config{
			Endpoint:       cfg.Endpoint,
			Region:         cfg.Region,
			Bucket:         cfg.Bucket,
			Insecure:       cfg.Insecure,
			ForcePathStyle: cfg.ForcePathStyle,
			Logger:         logger,
		}
		if cfg.AccessKey != "" {
			s3cfg.CustomCreds = miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
		}
		return s3.New(s3cfg)
	case BackendAWS:
		return aws.New(aws.Config{
			Endpoint:     cfg.Endpoint,
			Region:       cfg.Region,
			Bucket:       cfg.Bucket,
			Insecure:     cfg.Insecure,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			SessionToken: cfg.SessionToken,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("dsbench: unsupported backend %q", cfg.Backend)
	}
}

// RunID identifies this benchmark invocation in logs and samples.
func (b *Benchmark) RunID() string { return b.runID }

// Registry exposes the run's metric registry.
func (b *Benchmark) Registry() *prometheus.Registry { return b.registry }

// Close releases the store client and flushes the sample file.
func (b *Benchmark) Close() error {
	var errs []error
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dsbench: close: %v", errs)
	}
	return nil
}

// hasCleanupCredentials reports whether the cleanup phase may run.
// Object store backends need the deletion keyfile; the in-memory
// backend never needs credentials.
func (b *Benchmark) hasCleanupCredentials() bool {
	if b.cfg.Backend == BackendMem {
		return true
	}
	return strings.TrimSpace(b.cfg.DeletionKeyfile) != ""
}

// withKeyfile overlays the staged keyfile's credentials onto the run
// configuration for the store client built from it.
func (c Config) withKeyfile(kf *credentials.Keyfile) Config {
	c.AccessKey = kf.AccessKeyID
	c.SecretKey = kf.SecretAccessKey
	c.SessionToken = kf.SessionToken
	if kf.Endpoint != "" {
		c.Endpoint = kf.Endpoint
	}
	if kf.Region != "" {
		c.Region = kf.Region
	}
	return c
}

// Prepare stages the configured keyfiles to their private local paths
// and rebuilds the store client from the benchmark keyfile's
// credentials. The deletion keyfile is only staged here; Cleanup
// builds its own client from it.
func (b *Benchmark) Prepare(ctx context.Context) error {
	stager := credentials.Stager{Logger: b.logger}
	for _, src := range []string{b.cfg.Keyfile, b.cfg.DeletionKeyfile} {
		if strings.HasPrefix(src, "s3://") {
			fetcher, err := b.newKeyfileFetcher(ctx)
			if err != nil {
				return err
			}
			stager.Fetcher = fetcher
			break
		}
	}
	if b.cfg.Keyfile != "" {
		if err := stager.Stage(ctx, b.cfg.Keyfile, b.cfg.PrivateKeyfile); err != nil {
			return err
		}
		kf, err := credentials.Load(b.cfg.PrivateKeyfile)
		if err != nil {
			return err
		}
		b.logger.Info("credentials.loaded",
			"access_key_id", kf.AccessKeyID,
			"endpoint", kf.Endpoint,
			"region", kf.Region,
		)
		if !b.storeInjected && b.cfg.Backend != BackendMem {
			client, err := newStoreClient(b.cfg.withKeyfile(kf), b.logger)
			if err != nil {
				return err
			}
			if err := b.client.Close(); err != nil {
				b.logger.Warn("store.close_failed", "error", err)
			}
			b.client = client
		}
	}
	if b.cfg.DeletionKeyfile != "" {
		if err := stager.Stage(ctx, b.cfg.DeletionKeyfile, b.deletionKeyfilePath()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Benchmark) deletionKeyfilePath() string {
	return b.cfg.PrivateKeyfile + ".deletion"
}

func (b *Benchmark) newKeyfileFetcher(ctx context.Context) (credentials.Fetcher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if b.cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(b.cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("dsbench: load keyfile fetcher config: %w", err)
	}
	return credentials.S3Fetcher{Client: awss3.NewFromConfig(awsCfg)}, nil
}

// Check refuses to run against a target that already holds records.
// Without cleanup credentials the check is skipped, since a failed run
// could then never be cleaned up anyway.
func (b *Benchmark) Check(ctx context.Context) error {
	if !b.hasCleanupCredentials() {
		b.logger.Warn("precheck.skipped", "reason", "no deletion keyfile configured")
		return nil
	}
	if err := CheckEmpty(ctx, b.client, b.cfg.Collections); err != nil {
		return err
	}
	b.logger.Info("precheck.ok", "collections", strings.Join(b.cfg.Collections, ","))
	return nil
}

func (b *Benchmark) executor() *ycsbrun.Executor {
	return &ycsbrun.Executor{
		Client:  b.client,
		Logger:  b.logger,
		Samples: b.writer,
	}
}

// Load runs the YCSB load phase for every collection.
func (b *Benchmark) Load(ctx context.Context) ([]samples.Sample, error) {
	exec := b.executor()
	var out []samples.Sample
	for _, collection := range b.cfg.Collections {
		phase, err := exec.Load(ctx, ycsbrun.Params{
			Table:          collection,
			RecordCount:    int64(b.cfg.RecordCount),
			OperationCount: int64(b.cfg.OperationCount),
			Threads:        b.cfg.Threads,
			Target:         b.cfg.Target,
			Props:          b.cfg.WorkloadProps,
		})
		if err != nil {
			return out, err
		}
		out = append(out, phase...)
	}
	return out, nil
}

// RunWorkload runs the YCSB transaction phase for every collection.
func (b *Benchmark) RunWorkload(ctx context.Context) ([]samples.Sample, error) {
	exec := b.executor()
	var out []samples.Sample
	for _, collection := range b.cfg.Collections {
		phase, err := exec.Run(ctx, ycsbrun.Params{
			Table:          collection,
			RecordCount:    int64(b.cfg.RecordCount),
			OperationCount: int64(b.cfg.OperationCount),
			Threads:        b.cfg.Threads,
			Target:         b.cfg.Target,
			Props:          b.cfg.WorkloadProps,
		})
		if err != nil {
			return out, err
		}
		out = append(out, phase...)
	}
	return out, nil
}

// Cleanup drains every collection with the paginated bulk deleter and
// emits per-collection samples.
func (b *Benchmark) Cleanup(ctx context.Context) ([]samples.Sample, error) {
	if !b.hasCleanupCredentials() {
		b.logger.Warn("cleanup.skipped", "reason", "no deletion keyfile configured")
		return nil, nil
	}
	client := b.client
	if !b.storeInjected && b.cfg.Backend != BackendMem && b.cfg.DeletionKeyfile != "" {
		kf, err := credentials.Load(b.deletionKeyfilePath())
		if err != nil {
			return nil, err
		}
		deletionClient, err := newStoreClient(b.cfg.withKeyfile(kf), b.logger)
		if err != nil {
			return nil, err
		}
		defer deletionClient.Close()
		client = deletionClient
	}
	maxPages := b.cfg.MaxBufferedPages
	if maxPages == 0 {
		maxPages = -1
	}
	driver := cleanup.NewDriver(cleanup.Config{
		PageSize:         b.cfg.ReadPageSize,
		ChunkSize:        b.cfg.DeleteChunkSize,
		Workers:          b.cfg.CleanupWorkers,
		ThrottleEvery:    b.cfg.ThrottleEvery,
		ThrottlePause:    b.cfg.ThrottlePause,
		MaxBufferedPages: maxPages,
		Clock:            b.clk,
		Logger:           b.logger,
		Metrics:          cleanup.NewMetrics(b.registry),
	})
	start := b.clk.Now()
	result, runErr := driver.Run(ctx, client, b.cfg.Collections)
	elapsed := b.clk.Now().Sub(start)

	var out []samples.Sample
	for _, res := range result.Collections {
		metadata := map[string]string{"collection": res.Collection, "run_id": b.runID}
		out = append(out,
			samples.Sample{Metric: "cleanup read", Value: float64(res.Read), Unit: "entities", Metadata: metadata},
			samples.Sample{Metric: "cleanup deleted", Value: float64(res.Deleted), Unit: "entities", Metadata: metadata},
			samples.Sample{Metric: "cleanup pages", Value: float64(res.Pages), Unit: "pages", Metadata: metadata},
		)
	}
	out = append(out, samples.Sample{
		Metric:   "cleanup elapsed",
		Value:    elapsed.Seconds(),
		Unit:     "s",
		Metadata: map[string]string{"run_id": b.runID},
	})
	for _, s := range out {
		if err := b.writer.Emit(s); err != nil {
			b.logger.Warn("cleanup.sample.emit_failed", "metric", s.Metric, "error", err)
		}
	}
	return out, runErr
}

// Run executes the full benchmark sequence. Once the workload starts,
// cleanup is always attempted: a failed load or run phase may leave a
// partially filled collection behind, and without draining it the next
// run would fail its own precondition check.
func (b *Benchmark) Run(ctx context.Context) ([]samples.Sample, error) {
	b.logger.Info("benchmark.begin",
		"run_id", b.runID,
		"backend", b.cfg.Backend,
		"collections", strings.Join(b.cfg.Collections, ","),
	)
	start := b.clk.Now()
	if err := b.Prepare(ctx); err != nil {
		return nil, err
	}
	if err := b.Check(ctx); err != nil {
		return nil, err
	}
	var out []samples.Sample
	loadSamples, phaseErr := b.Load(ctx)
	out = append(out, loadSamples...)
	if phaseErr == nil {
		runSamples, err := b.RunWorkload(ctx)
		out = append(out, runSamples...)
		phaseErr = err
	}
	if phaseErr != nil {
		b.logger.Error("benchmark.phase.failed", "run_id", b.runID, "error", phaseErr)
		cleanupSamples, cleanupErr := b.Cleanup(ctx)
		out = append(out, cleanupSamples...)
		return out, errors.Join(phaseErr, cleanupErr)
	}
	cleanupSamples, err := b.Cleanup(ctx)
	out = append(out, cleanupSamples...)
	if err != nil {
		return out, err
	}
	b.logger.Info("benchmark.finish", "run_id", b.runID, "elapsed", b.clk.Now().Sub(start))
	return out, nil
}
