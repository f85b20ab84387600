package dsbench_test

import (
	"context"
	"errors"
	"testing"

	dsbench "pkt.systems/dsbench"
	"pkt.systems/dsbench/internal/store"
	"pkt.systems/dsbench/internal/store/memory"
)

func TestCheckEmptyPassesOnEmptyCollections(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	if err := dsbench.CheckEmpty(context.Background(), mem, []string{"usertable", "other"}); err != nil {
		t.Fatalf("CheckEmpty: %v", err)
	}
}

func TestCheckEmptyFailsOnExistingRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := memory.New()
	if err := mem.PutRecord(ctx, "other", "user1", store.Fields{"f": []byte("v")}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	err := dsbench.CheckEmpty(ctx, mem, []string{"usertable", "other"})
	if !errors.Is(err, dsbench.ErrNonEmptyDatabase) {
		t.Fatalf("expected ErrNonEmptyDatabase, got %v", err)
	}
}
