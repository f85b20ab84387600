package cleanup

import (
	"context"
	"fmt"

	"pkt.systems/dsbench/internal/store"
	"pkt.systems/pslog"
)

// Task owns one page of keys read from a collection scan and later
// deletes those keys in fixed-size chunks. A task is created per page,
// lives until its chunks are submitted, and is never reused.
type Task struct {
	collection string
	id         int
	pageSize   int
	chunkSize  int
	logger     pslog.Logger

	keys         []string
	readCount    int
	deletedCount int
	failed       bool
	nextCursor   string
	truncated    bool
}

// NewTask constructs a task for one page of collection. The id is a
// monotonically increasing sequence number used only for logging.
func NewTask(collection string, id, pageSize, chunkSize int, logger pslog.Logger) *Task {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Task{
		collection: collection,
		id:         id,
		pageSize:   pageSize,
		chunkSize:  chunkSize,
		logger:     logger,
	}
}

// ReadPage fetches the next page of keys starting at startAfter and
// returns the updated running total of keys read across all pages.
// Read failures propagate unretried.
func (t *Task) ReadPage(ctx context.Context, client store.Client, startAfter string, total int64) (int64, error) {
	page, err := client.ListKeys(ctx, t.collection, store.ListKeysOptions{
		StartAfter: startAfter,
		Limit:      t.pageSize,
	})
	if err != nil {
		return total, fmt.Errorf("cleanup: task %d read page for %s: %w", t.id, t.collection, err)
	}
	t.keys = page.Keys
	t.readCount = len(page.Keys)
	t.nextCursor = page.NextStartAfter
	t.truncated = page.Truncated
	total += int64(t.readCount)
	t.logger.Info("cleanup.page.read",
		"task", t.id,
		"collection", t.collection,
		"page_read", t.readCount,
		"total_read", total,
	)
	return total, nil
}

// DeleteKeys drains the page front-to-back in chunkSize slices, one
// DeleteMulti call per slice. The first failing chunk marks the task
// failed and abandons its remaining keys; other tasks are unaffected.
func (t *Task) DeleteKeys(ctx context.Context, client store.Client) error {
	if t.readCount == 0 {
		t.logger.Info("cleanup.task.empty", "task", t.id, "collection", t.collection)
		return nil
	}
	t.logger.Info("cleanup.task.delete.begin",
		"task", t.id,
		"collection", t.collection,
		"keys", t.readCount,
	)
	for len(t.keys) > 0 {
		n := t.chunkSize
		if n > len(t.keys) {
			n = len(t.keys)
		}
		chunk := t.keys[:n]
		t.keys = t.keys[n:]
		if err := client.DeleteMulti(ctx, t.collection, chunk); err != nil {
			t.failed = true
			t.logger.Error("cleanup.task.delete.failed",
				"task", t.id,
				"collection", t.collection,
				"deleted", t.deletedCount,
				"abandoned", n+len(t.keys),
				"transient", store.IsTransient(err),
				"error", err,
			)
			return fmt.Errorf("cleanup: task %d delete for %s: %w", t.id, t.collection, err)
		}
		t.deletedCount += n
	}
	t.logger.Info("cleanup.task.delete.finish",
		"task", t.id,
		"collection", t.collection,
		"deleted", t.deletedCount,
	)
	return nil
}

// ReadCount reports how many keys this task's page held.
func (t *Task) ReadCount() int { return t.readCount }

// DeletedCount reports how many keys were actually submitted for
// deletion. Unlike the historical driver this is exact: the final
// short chunk credits its real length, not a full chunk.
func (t *Task) DeletedCount() int { return t.deletedCount }

// Failed reports whether a delete chunk errored.
func (t *Task) Failed() bool { return t.failed }

// ChunkCalls reports how many DeleteMulti calls a full drain issues:
// ceil(ReadCount/chunkSize).
func (t *Task) ChunkCalls() int {
	if t.readCount == 0 {
		return 0
	}
	return (t.readCount + t.chunkSize - 1) / t.chunkSize
}

// NextCursor returns the opaque cursor for the following page and
// whether one exists. Valid after ReadPage and before the task is
// submitted for deletion.
func (t *Task) NextCursor() (string, bool) {
	return t.nextCursor, t.truncated
}
