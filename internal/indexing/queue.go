// Package indexing debounces "document changed" notifications and hands
// them to an Indexer in periodic batches.
package indexing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultBatchSize = 10
)

// Job asks for one document to be indexed. UserID is the last editor seen
// before the job was picked up.
type Job struct {
	Room     string
	UserID   string
	Enqueued time.Time
}

// Indexer is the search/metadata backend.
type Indexer interface {
	Index(ctx context.Context, job Job) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Indexer   Indexer
	// Active reports whether a document is still open. Jobs for closed
	// documents are skipped. Nil means every document is active.
	Active  func(room string) bool
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Queue keeps at most one pending job per document; a newer update replaces
// the editor of the pending job without moving it.
type Queue struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  map[string]Job
	order    []string
	inFlight map[string]struct{}
}

func NewQueue(cfg Config) *Queue {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Indexer == nil {
		cfg.Indexer = LogIndexer{Log: log}
	}
	return &Queue{
		cfg:      cfg,
		log:      log,
		metrics:  cfg.Metrics,
		pending:  make(map[string]Job),
		inFlight: make(map[string]struct{}),
	}
}

func (q *Queue) Enqueue(room, userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.pending[room]; ok {
		job.UserID = userID
		q.pending[room] = job
		return
	}
	q.pending[room] = Job{Room: room, UserID: userID, Enqueued: q.cfg.Now()}
	q.order = append(q.order, room)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// take removes up to BatchSize pending jobs whose document is not already
// being indexed.
func (q *Queue) take() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var (
		batch []Job
		keep  = q.order[:0]
	)
	for _, room := range q.order {
		_, busy := q.inFlight[room]
		if busy || len(batch) >= q.cfg.BatchSize {
			keep = append(keep, room)
			continue
		}
		batch = append(batch, q.pending[room])
		delete(q.pending, room)
		q.inFlight[room] = struct{}{}
	}
	q.order = keep
	return batch
}

// ProcessBatch indexes one batch and returns the number of jobs taken.
func (q *Queue) ProcessBatch(ctx context.Context) int {
	batch := q.take()
	if len(batch) == 0 {
		return 0
	}

	var g errgroup.Group
	for _, job := range batch {
		g.Go(func() error {
			defer q.done(job.Room)
			q.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(batch)
}

func (q *Queue) process(ctx context.Context, job Job) {
	if q.cfg.Active != nil && !q.cfg.Active(job.Room) {
		q.metrics.Inc(metrics.IndexSkipped)
		q.log.Debug("index_skipped_inactive", "room", job.Room)
		return
	}
	if err := q.cfg.Indexer.Index(ctx, job); err != nil {
		q.metrics.Inc(metrics.IndexFailures)
		q.log.Warn("index_failed", "room", job.Room, "user_id", job.UserID, "err", err)
		return
	}
	q.metrics.Inc(metrics.IndexRuns)
}

func (q *Queue) done(room string) {
	q.mu.Lock()
	delete(q.inFlight, room)
	q.mu.Unlock()
}

// Run processes a batch every Interval until ctx is done, then drains what
// is still pending.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Drain(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			q.ProcessBatch(ctx)
		}
	}
}

// Drain processes batches until nothing is pending.
func (q *Queue) Drain(ctx context.Context) {
	for q.Len() > 0 {
		if q.ProcessBatch(ctx) == 0 {
			return
		}
	}
}
