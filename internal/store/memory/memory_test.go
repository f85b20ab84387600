package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pkt.systems/dsbench/internal/store"
	"pkt.systems/dsbench/internal/store/memory"
)

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	fields := store.Fields{"field0": []byte("alpha"), "field1": []byte("beta")}
	if err := s.PutRecord(ctx, "usertable", "user1", fields); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	got, err := s.GetRecord(ctx, "usertable", "user1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(got["field0"]) != "alpha" || string(got["field1"]) != "beta" {
		t.Fatalf("unexpected fields: %v", got)
	}

	// Mutating the returned copy must not touch the stored record.
	got["field0"][0] = 'X'
	again, err := s.GetRecord(ctx, "usertable", "user1")
	if err != nil {
		t.Fatalf("GetRecord again: %v", err)
	}
	if string(again["field0"]) != "alpha" {
		t.Fatalf("stored record was mutated: %v", again)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := memory.New()
	if _, err := s.GetRecord(context.Background(), "usertable", "absent"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMultiIgnoresMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("user%d", i)
		if err := s.PutRecord(ctx, "usertable", key, store.Fields{"f": []byte("v")}); err != nil {
			t.Fatalf("PutRecord: %v", err)
		}
	}
	if err := s.DeleteMulti(ctx, "usertable", []string{"user1", "user3", "ghost"}); err != nil {
		t.Fatalf("DeleteMulti: %v", err)
	}
	if got := s.Len("usertable"); got != 3 {
		t.Fatalf("expected 3 records left, got %d", got)
	}
	if err := s.DeleteMulti(ctx, "nosuch", []string{"a"}); err != nil {
		t.Fatalf("DeleteMulti on missing collection: %v", err)
	}
}

func TestListKeysPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("user%04d", i)
		if err := s.PutRecord(ctx, "usertable", key, store.Fields{"f": []byte("v")}); err != nil {
			t.Fatalf("PutRecord: %v", err)
		}
	}

	var (
		cursor string
		pages  int
		seen   []string
	)
	for {
		page, err := s.ListKeys(ctx, "usertable", store.ListKeysOptions{StartAfter: cursor, Limit: 10})
		if err != nil {
			t.Fatalf("ListKeys: %v", err)
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
	if len(seen) != 25 {
		t.Fatalf("expected 25 keys, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("keys out of order at %d: %q >= %q", i, seen[i-1], seen[i])
		}
	}
}

func TestListKeysStartAfterIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	for _, key := range []string{"a", "b", "c"} {
		if err := s.PutRecord(ctx, "usertable", key, store.Fields{"f": []byte("v")}); err != nil {
			t.Fatalf("PutRecord: %v", err)
		}
	}
	page, err := s.ListKeys(ctx, "usertable", store.ListKeysOptions{StartAfter: "b", Limit: 10})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(page.Keys) != 1 || page.Keys[0] != "c" {
		t.Fatalf("expected only %q after %q, got %v", "c", "b", page.Keys)
	}
	if page.Truncated {
		t.Fatal("final page must not be truncated")
	}
}

func TestListKeysEmptyCollection(t *testing.T) {
	t.Parallel()

	s := memory.New()
	page, err := s.ListKeys(context.Background(), "usertable", store.ListKeysOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(page.Keys) != 0 || page.Truncated {
		t.Fatalf("expected empty final page, got %+v", page)
	}
}
