package dsbench_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	dsbench "pkt.systems/dsbench"
	"pkt.systems/dsbench/internal/clock"
	"pkt.systems/dsbench/internal/store"
	"pkt.systems/dsbench/internal/store/memory"
	s3store "pkt.systems/dsbench/internal/store/s3"
)

func TestBenchmarkRunEndToEnd(t *testing.T) {
	mem := memory.New()
	samplePath := filepath.Join(t.TempDir(), "samples.jsonl")
	b, err := dsbench.New(dsbench.Config{
		RecordCount:    50,
		OperationCount: 20,
		Threads:        1,
		ReadPageSize:   20,
		SamplePath:     samplePath,
	},
		dsbench.WithStore(mem),
		dsbench.WithClock(clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.RunID() == "" {
		t.Fatal("expected a run id")
	}

	runSamples, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mem.Len("usertable"); got != 0 {
		t.Fatalf("expected cleaned collection, %d records remain", got)
	}

	var deleted float64 = -1
	for _, s := range runSamples {
		if s.Metric == "cleanup deleted" && s.Metadata["collection"] == "usertable" {
			deleted = s.Value
		}
	}
	if deleted != 50 {
		t.Fatalf("expected cleanup deleted sample of 50, got %v", deleted)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	payload, err := os.ReadFile(samplePath)
	if err != nil {
		t.Fatalf("read sample file: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected samples written to file")
	}
}

func TestBenchmarkRunAttemptsCleanupAfterFailedPhase(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	b, err := dsbench.New(dsbench.Config{
		RecordCount: 10,
		// An unregistered workload makes the load phase fail before
		// cleanup would normally be reached.
		WorkloadProps: map[string]string{"workload": "unregistered"},
	},
		dsbench.WithStore(mem),
		dsbench.WithClock(clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	runSamples, err := b.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed load phase to surface an error")
	}
	var sawCleanup bool
	for _, s := range runSamples {
		if s.Metric == "cleanup pages" {
			sawCleanup = true
		}
	}
	if !sawCleanup {
		t.Fatal("expected cleanup to run after the failed phase")
	}
}

func TestBenchmarkKeyfileCredentialsReachTheStore(t *testing.T) {
	backend := s3mem.New()
	server := httptest.NewServer(gofakes3.New(backend).Server())
	defer server.Close()
	bucket := "dsbench-bench"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	dir := t.TempDir()
	keyfilePath := filepath.Join(dir, "key.json")
	keyfile := fmt.Sprintf(`{"access_key_id":"test","secret_access_key":"test","endpoint":%q}`, server.URL)
	if err := os.WriteFile(keyfilePath, []byte(keyfile), 0o600); err != nil {
		t.Fatalf("write keyfile: %v", err)
	}

	ctx := context.Background()
	seed, err := s3store.New(s3store.Config{
		Endpoint:       server.URL,
		Bucket:         bucket,
		ForcePathStyle: true,
		CustomCreds:    miniocreds.NewStaticV4("test", "test", ""),
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := seed.PutRecord(ctx, "usertable", "stale", store.Fields{"f": []byte("v")}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	// The fake server's endpoint lives only in the keyfile, so both
	// the precheck and the cleanup below can reach it only through
	// clients built from the staged credentials.
	b, err := dsbench.New(dsbench.Config{
		Backend:         "s3",
		Bucket:          bucket,
		ForcePathStyle:  true,
		Keyfile:         keyfilePath,
		DeletionKeyfile: keyfilePath,
		PrivateKeyfile:  filepath.Join(dir, "staged", "key.json"),
		ReadPageSize:    10,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if err := b.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := b.Check(ctx); !errors.Is(err, dsbench.ErrNonEmptyDatabase) {
		t.Fatalf("expected ErrNonEmptyDatabase through the keyfile client, got %v", err)
	}
	cleanupSamples, err := b.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	var deleted float64 = -1
	for _, s := range cleanupSamples {
		if s.Metric == "cleanup deleted" {
			deleted = s.Value
		}
	}
	if deleted != 1 {
		t.Fatalf("expected cleanup deleted sample of 1, got %v", deleted)
	}
	page, err := seed.ListKeys(ctx, "usertable", store.ListKeysOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(page.Keys) != 0 {
		t.Fatalf("expected drained collection, got %v", page.Keys)
	}
}

func TestBenchmarkCheckRefusesNonEmptyTarget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := memory.New()
	if err := mem.PutRecord(ctx, "usertable", "stale", store.Fields{"f": []byte("v")}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	b, err := dsbench.New(dsbench.Config{}, dsbench.WithStore(mem))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if err := b.Check(ctx); err == nil {
		t.Fatal("expected precheck failure on non-empty target")
	}
}

func TestBenchmarkSkipsCleanupWithoutDeletionKeyfile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := memory.New()
	if err := mem.PutRecord(ctx, "usertable", "user1", store.Fields{"f": []byte("v")}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	// An object store backend without a deletion keyfile must leave
	// the data alone rather than delete what it could not verify.
	b, err := dsbench.New(dsbench.Config{Backend: "s3", Bucket: "bench"}, dsbench.WithStore(mem))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if err := b.Check(ctx); err != nil {
		t.Fatalf("Check should be skipped, got %v", err)
	}
	cleanupSamples, err := b.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if cleanupSamples != nil {
		t.Fatalf("expected no samples from skipped cleanup, got %d", len(cleanupSamples))
	}
	if got := mem.Len("usertable"); got != 1 {
		t.Fatalf("expected record untouched, got %d", got)
	}
}
