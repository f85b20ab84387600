// Package cleanup drains collections from a storage backend. Pages of
// keys are read sequentially per collection while a fixed pool of
// workers deletes earlier pages in chunks, with a periodic pause so a
// shared backend is not saturated.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"pkt.systems/dsbench/internal/clock"
	"pkt.systems/dsbench/internal/store"
	"pkt.systems/pslog"
)

const (
	defaultPageSize      = 20000
	defaultChunkSize     = 500
	defaultWorkers       = 20
	defaultThrottleEvery = 10
	defaultThrottlePause = 10 * time.Second
)

// Config tunes a Driver. Zero values fall back to the defaults above;
// MaxBufferedPages zero means twice the worker count and a negative
// value disables the bound entirely.
type Config struct {
	PageSize         int
	ChunkSize        int
	Workers          int
	ThrottleEvery    int
	ThrottlePause    time.Duration
	MaxBufferedPages int
	Clock            clock.Clock
	Logger           pslog.Logger
	Metrics          *Metrics
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.ThrottleEvery < 0 {
		c.ThrottleEvery = 0
	}
	if c.ThrottlePause <= 0 {
		c.ThrottlePause = defaultThrottlePause
	}
	if c.MaxBufferedPages == 0 {
		c.MaxBufferedPages = 2 * c.Workers
	}
	if c.MaxBufferedPages < 0 {
		c.MaxBufferedPages = 0
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Logger == nil {
		c.Logger = pslog.NoopLogger()
	}
}

// CollectionResult summarizes one drained collection.
type CollectionResult struct {
	Collection string
	Pages      int
	Read       int64
	Deleted    int64
}

// Result summarizes a Driver run across all collections.
type Result struct {
	Collections []CollectionResult
}

// TotalRead sums keys read across collections.
func (r Result) TotalRead() int64 {
	var total int64
	for _, c := range r.Collections {
		total += c.Read
	}
	return total
}

// TotalDeleted sums keys deleted across collections.
func (r Result) TotalDeleted() int64 {
	var total int64
	for _, c := range r.Collections {
		total += c.Deleted
	}
	return total
}

// Driver runs the paginated bulk deletion.
type Driver struct {
	cfg Config
}

// NewDriver constructs a Driver from cfg with defaults applied.
func NewDriver(cfg Config) *Driver {
	cfg.applyDefaults()
	return &Driver{cfg: cfg}
}

type job struct {
	task *Task
	done chan struct{}
	err  error
}

type runState struct {
	submit chan *job
	work   chan *job
	sem    chan struct{}
}

// Run drains the supplied collections in order. Reads within a
// collection are sequential; deletes run concurrently on the worker
// pool and are fully drained before Run returns. The returned error
// joins every page read and delete chunk failure.
func (d *Driver) Run(ctx context.Context, client store.Client, collections []string) (Result, error) {
	state := &runState{
		submit: make(chan *job),
		work:   make(chan *job),
	}
	if d.cfg.MaxBufferedPages > 0 {
		state.sem = make(chan struct{}, d.cfg.MaxBufferedPages)
	}

	go pump(state.submit, state.work)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx, client, state)
		}()
	}

	var result Result
	var errs []error
	for _, collection := range collections {
		res, collErrs := d.runCollection(ctx, client, collection, state)
		result.Collections = append(result.Collections, res)
		errs = append(errs, collErrs...)
	}
	close(state.submit)
	wg.Wait()
	return result, errors.Join(errs...)
}

// pump queues submitted jobs for the workers so the page reader never
// blocks on a slow delete. The buffered page semaphore, not this
// queue, bounds how far reads may run ahead.
func pump(submit <-chan *job, work chan<- *job) {
	var queue []*job
	for submit != nil || len(queue) > 0 {
		var out chan<- *job
		var head *job
		if len(queue) > 0 {
			out = work
			head = queue[0]
		}
		select {
		case j, ok := <-submit:
			if !ok {
				submit = nil
				continue
			}
			queue = append(queue, j)
		case out <- head:
			queue = queue[1:]
		}
	}
	close(work)
}

func (d *Driver) worker(ctx context.Context, client store.Client, state *runState) {
	for j := range state.work {
		j.err = j.task.DeleteKeys(ctx, client)
		if j.err != nil {
			d.cfg.Metrics.incDeleteError()
		}
		d.cfg.Metrics.addDeleted(j.task.DeletedCount())
		if state.sem != nil {
			<-state.sem
		}
		close(j.done)
	}
}

func (d *Driver) runCollection(ctx context.Context, client store.Client, collection string, state *runState) (CollectionResult, []error) {
	res := CollectionResult{Collection: collection}
	var (
		submitted []*job
		errs      []error
		cursor    string
		total     int64
		taskID    int
	)
	d.cfg.Logger.Info("cleanup.collection.begin", "collection", collection)
	for {
		taskID++
		task := NewTask(collection, taskID, d.cfg.PageSize, d.cfg.ChunkSize, d.cfg.Logger)
		if err := d.acquirePage(ctx, state); err != nil {
			errs = append(errs, err)
			break
		}
		newTotal, err := task.ReadPage(ctx, client, cursor, total)
		if err != nil {
			d.releasePage(state)
			errs = append(errs, err)
			break
		}
		total = newTotal
		next, more := task.NextCursor()
		j := &job{task: task, done: make(chan struct{})}
		state.submit <- j
		submitted = append(submitted, j)
		d.cfg.Metrics.addRead(task.ReadCount())
		if d.cfg.ThrottleEvery > 0 && taskID%d.cfg.ThrottleEvery == 0 {
			d.cfg.Logger.Debug("cleanup.throttle",
				"collection", collection,
				"task", taskID,
				"pause", d.cfg.ThrottlePause,
			)
			d.cfg.Clock.Sleep(d.cfg.ThrottlePause)
			d.cfg.Metrics.incThrottle()
		}
		if !more {
			break
		}
		cursor = next
	}
	for _, j := range submitted {
		<-j.done
		if j.err != nil {
			errs = append(errs, j.err)
		}
		res.Deleted += int64(j.task.DeletedCount())
	}
	res.Pages = len(submitted)
	res.Read = total
	d.cfg.Logger.Info("cleanup.collection.done",
		"collection", collection,
		"pages", res.Pages,
		"read", humanize.Comma(res.Read),
		"deleted", humanize.Comma(res.Deleted),
	)
	return res, errs
}

// acquirePage reserves a buffered page slot, blocking while the worker
// pool is MaxBufferedPages behind the reader.
func (d *Driver) acquirePage(ctx context.Context, state *runState) error {
	if state.sem == nil {
		return ctx.Err()
	}
	select {
	case state.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cleanup: waiting for page slot: %w", ctx.Err())
	}
}

func (d *Driver) releasePage(state *runState) {
	if state.sem != nil {
		<-state.sem
	}
}
