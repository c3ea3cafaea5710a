package indexing

import (
	"context"
	"log/slog"
	"time"
)

// LogIndexer records index requests in the log. It stands in for a search
// backend in deployments without one.
type LogIndexer struct {
	Log *slog.Logger
}

func (l LogIndexer) Index(_ context.Context, job Job) error {
	if l.Log != nil {
		l.Log.Info("document_indexed",
			"room", job.Room,
			"user_id", job.UserID,
			"queued_for", time.Since(job.Enqueued).Round(time.Millisecond),
		)
	}
	return nil
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc func(ctx context.Context, job Job) error

func (f IndexerFunc) Index(ctx context.Context, job Job) error {
	return f(ctx, job)
}
