package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	minio "github.com/minio/minio-go/v7"

	"pkt.systems/dsbench/internal/store"
)

func setupFakeS3(t *testing.T) (*httptest.Server, Config) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	bucket := "dsbench-test"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	endpoint := strings.TrimPrefix(server.URL, "http://")
	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := Config{
		Endpoint:       endpoint,
		Region:         "us-east-1",
		Bucket:         bucket,
		Insecure:       true,
		ForcePathStyle: true,
	}
	return server, cfg
}

func TestS3RecordLifecycle(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	fields := store.Fields{"field0": []byte("alpha")}
	if err := s.PutRecord(ctx, "usertable", "user1", fields); err != nil {
		t.Fatalf("put record: %v", err)
	}
	got, err := s.GetRecord(ctx, "usertable", "user1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if string(got["field0"]) != "alpha" {
		t.Fatalf("unexpected fields: %v", got)
	}
	if err := s.DeleteMulti(ctx, "usertable", []string{"user1"}); err != nil {
		t.Fatalf("delete multi: %v", err)
	}
	if _, err := s.GetRecord(ctx, "usertable", "user1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestS3ListKeysPaginatesWithinCollection(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("user%04d", i)
		if err := s.PutRecord(ctx, "usertable", key, store.Fields{"f": []byte("v")}); err != nil {
			t.Fatalf("put record %s: %v", key, err)
		}
	}
	// A second collection must stay invisible to the usertable scan.
	if err := s.PutRecord(ctx, "othertable", "user9999", store.Fields{"f": []byte("v")}); err != nil {
		t.Fatalf("put record in other collection: %v", err)
	}

	var (
		cursor string
		pages  int
		seen   []string
	)
	for {
		page, err := s.ListKeys(ctx, "usertable", store.ListKeysOptions{StartAfter: cursor, Limit: 5})
		if err != nil {
			t.Fatalf("list keys: %v", err)
		}
		pages++
		seen = append(seen, page.Keys...)
		if !page.Truncated {
			break
		}
		cursor = page.NextStartAfter
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	if len(seen) != 12 {
		t.Fatalf("expected 12 keys, got %d: %v", len(seen), seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("keys out of order at %d: %q >= %q", i, seen[i-1], seen[i])
		}
	}
}

func TestS3DeleteMultiIgnoresMissingKeys(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := s.PutRecord(ctx, "usertable", "user1", store.Fields{"f": []byte("v")}); err != nil {
		t.Fatalf("put record: %v", err)
	}
	if err := s.DeleteMulti(ctx, "usertable", []string{"user1", "ghost"}); err != nil {
		t.Fatalf("delete multi with missing key: %v", err)
	}
	page, err := s.ListKeys(ctx, "usertable", store.ListKeysOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(page.Keys) != 0 {
		t.Fatalf("expected empty collection, got %v", page.Keys)
	}
}

func TestS3NewRequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestS3WrapErrorClassification(t *testing.T) {
	t.Parallel()

	s := &Store{}
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "connection reset", err: syscall.ECONNRESET, transient: true},
		{name: "server error", err: minio.ErrorResponse{Code: "InternalError", StatusCode: 500}, transient: true},
		{name: "slow down", err: minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, transient: true},
		{name: "throttled", err: minio.ErrorResponse{Code: "TooManyRequests", StatusCode: 429}, transient: true},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, transient: false},
		{name: "plain", err: errors.New("boom"), transient: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			wrapped := s.wrapError(tc.err, "s3: list keys")
			if got := store.IsTransient(wrapped); got != tc.transient {
				t.Fatalf("IsTransient(%v) = %v, expected %v", tc.err, got, tc.transient)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatalf("wrapped error lost its cause: %v", wrapped)
			}
		})
	}
	if err := s.wrapError(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, "s3: get record"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for NoSuchKey, got %v", err)
	}
}

func TestS3NewAcceptsURLEndpoint(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Endpoint: "http://127.0.0.1:9000", Bucket: "b"})
	if err != nil {
		t.Fatalf("new store with URL endpoint: %v", err)
	}
	if s == nil {
		t.Fatal("expected a store")
	}
}
