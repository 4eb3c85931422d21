package transcode

import (
	"context"
	"errors"
	"time"

	"github.com/rockimages/rockimages/pkg/rockimages/metrics"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"github.com/rockimages/rockimages/pkg/rockimages/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const jobTimeout = 2 * time.Minute

// Job asks for a preview of one file's current original.
type Job struct {
	FileID uint
	Source storage.Locator
	Kind   models.FileKind
}

// Sink receives finished previews.
type Sink interface {
	ApplyPreview(ctx context.Context, fileID uint, source, preview storage.Locator) error
}

// Dispatcher runs preview jobs on a fixed pool of workers fed by a bounded
// queue. Enqueue never blocks; when the queue is full the job is dropped and
// the file keeps its placeholder.
type Dispatcher struct {
	gen     Generator
	queue   chan Job
	workers int
	log     *zap.Logger
}

// NewDispatcher creates a dispatcher. Jobs may be enqueued before Start.
func NewDispatcher(gen Generator, workers, queueSize int, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		gen:     gen,
		queue:   make(chan Job, queueSize),
		workers: workers,
		log:     log.Named("transcode"),
	}
}

// Enqueue schedules a job without blocking. It reports whether the job was accepted.
func (d *Dispatcher) Enqueue(job Job) bool {
	select {
	case d.queue <- job:
		metrics.PreviewQueueDepth.Inc()
		return true
	default:
		metrics.PreviewJobs.WithLabelValues("dropped").Inc()
		d.log.Warn("preview queue full, job dropped", zap.Uint("file_id", job.FileID))
		return false
	}
}

// Start runs the workers until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, sink Sink) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-d.queue:
					metrics.PreviewQueueDepth.Dec()
					d.process(ctx, sink, job)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) process(ctx context.Context, sink Sink, job Job) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	preview, err := d.gen.Preview(ctx, job.Source, job.Kind)
	if errors.Is(err, ErrTooLarge) {
		metrics.PreviewJobs.WithLabelValues("rejected").Inc()
		d.log.Info("original too large for a preview",
			zap.Uint("file_id", job.FileID),
			zap.Error(err))
		return
	}
	if err != nil {
		metrics.PreviewJobs.WithLabelValues("failed").Inc()
		d.log.Warn("preview generation failed",
			zap.Uint("file_id", job.FileID),
			zap.String("source", string(job.Source)),
			zap.Error(err))
		return
	}

	if err := sink.ApplyPreview(ctx, job.FileID, job.Source, preview); err != nil {
		metrics.PreviewJobs.WithLabelValues("failed").Inc()
		d.log.Error("apply preview", zap.Uint("file_id", job.FileID), zap.Error(err))
		return
	}
	metrics.PreviewJobs.WithLabelValues("applied").Inc()
}
