package dsbench

import (
	"strings"
	"testing"
	"time"
)

func TestValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Backend != BackendMem {
		t.Fatalf("expected mem backend default, got %q", cfg.Backend)
	}
	if len(cfg.Collections) != 1 || cfg.Collections[0] != DefaultCollection {
		t.Fatalf("unexpected collections: %v", cfg.Collections)
	}
	if cfg.ReadPageSize != DefaultReadPageSize || cfg.DeleteChunkSize != DefaultDeleteChunkSize {
		t.Fatalf("unexpected page/chunk defaults: %d/%d", cfg.ReadPageSize, cfg.DeleteChunkSize)
	}
	if cfg.CleanupWorkers != DefaultCleanupWorkers {
		t.Fatalf("unexpected worker default: %d", cfg.CleanupWorkers)
	}
	if cfg.ThrottleEvery != DefaultThrottleEvery || cfg.ThrottlePause != DefaultThrottlePause {
		t.Fatalf("unexpected throttle defaults: %d/%v", cfg.ThrottleEvery, cfg.ThrottlePause)
	}
	if cfg.MaxBufferedPages != 2*DefaultCleanupWorkers {
		t.Fatalf("expected buffered pages default %d, got %d", 2*DefaultCleanupWorkers, cfg.MaxBufferedPages)
	}
	if cfg.PrivateKeyfile != DefaultPrivateKeyfile {
		t.Fatalf("unexpected private keyfile: %q", cfg.PrivateKeyfile)
	}
}

func TestValidateBackendRequirements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "s3 without bucket", cfg: Config{Backend: "s3"}, wantErr: "requires a bucket"},
		{name: "aws without bucket", cfg: Config{Backend: "aws", Region: "us-east-1"}, wantErr: "requires a bucket"},
		{name: "aws without region", cfg: Config{Backend: "aws", Bucket: "b"}, wantErr: "requires a region"},
		{name: "unknown backend", cfg: Config{Backend: "bolt"}, wantErr: "unsupported backend"},
		{name: "s3 complete", cfg: Config{Backend: "s3", Bucket: "b"}},
		{name: "aws complete", cfg: Config{Backend: "AWS", Bucket: "b", Region: "us-east-1"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateMaxBufferedPages(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxBufferedPages: 5}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MaxBufferedPages != 5 {
		t.Fatalf("explicit bound changed: %d", cfg.MaxBufferedPages)
	}

	cfg = Config{MaxBufferedPages: -1}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MaxBufferedPages != 0 {
		t.Fatalf("expected unbounded (0) for negative input, got %d", cfg.MaxBufferedPages)
	}
}

func TestValidateNormalizesCollections(t *testing.T) {
	t.Parallel()

	cfg := Config{Collections: []string{" /usertable/ ", "other"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Collections[0] != "usertable" || cfg.Collections[1] != "other" {
		t.Fatalf("unexpected collections: %v", cfg.Collections)
	}

	cfg = Config{Collections: []string{"  "}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for blank collection")
	}
}

func TestValidateRejectsNegativeTuning(t *testing.T) {
	t.Parallel()

	bad := []Config{
		{ReadPageSize: -1},
		{DeleteChunkSize: -1},
		{CleanupWorkers: -1},
		{ThrottlePause: -time.Second},
		{RecordCount: -1},
		{OperationCount: -1},
		{Threads: -1},
		{Target: -1},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
