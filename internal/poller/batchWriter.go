package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nmslite/netmon/internal/config"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/telemetry"
)

// SampleInserter persists a batch of samples.
type SampleInserter interface {
	InsertSamples(ctx context.Context, samples []model.MetricSample) error
}

// BatchWriter buffers metric samples and writes them in bulk. Failed batches
// are requeued and retried with the next flush until maxConsecutiveFails
// flushes in a row have failed.
type BatchWriter struct {
	sink          SampleInserter
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	// Buffering and flow control
	submitCh      chan model.MetricSample
	requeueBuffer []model.MetricSample
	maxBufferSize int
	bufferMu      sync.Mutex

	// Batch management
	currentBatch []model.MetricSample
	batchMu      sync.Mutex

	// Failure tracking
	consecutiveFailures int
	maxConsecutiveFails int
}

// NewBatchWriter creates a new BatchWriter instance
func NewBatchWriter(sink SampleInserter, cfg *config.MetricsConfig, logger *slog.Logger) *BatchWriter {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	flushInterval := cfg.GetFlushInterval()
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &BatchWriter{
		sink:                sink,
		logger:              logger.With("component", "batch_writer"),
		batchSize:           batchSize,
		flushInterval:       flushInterval,
		submitCh:            make(chan model.MetricSample, batchSize*2),
		maxBufferSize:       batchSize * 10,
		currentBatch:        make([]model.MetricSample, 0, batchSize),
		maxConsecutiveFails: 5,
	}
}

// Submit queues a sample. It blocks while the queue is full.
func (bw *BatchWriter) Submit(ctx context.Context, sample model.MetricSample) error {
	select {
	case bw.submitCh <- sample:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit cancelled: %w", ctx.Err())
	}
}

// Run processes submissions until ctx is cancelled, then flushes what is left.
func (bw *BatchWriter) Run(ctx context.Context) error {
	bw.logger.Info("batch writer starting",
		"batch_size", bw.batchSize,
		"flush_interval", bw.flushInterval,
	)

	flushTicker := time.NewTicker(bw.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("batch writer shutting down, flushing remaining samples")
			bw.drain()
			if err := bw.flush(context.Background()); err != nil {
				bw.logger.Error("final flush failed", "error", err)
			}
			return ctx.Err()

		case sample := <-bw.submitCh:
			bw.batchMu.Lock()
			bw.currentBatch = append(bw.currentBatch, sample)
			full := len(bw.currentBatch) >= bw.batchSize
			bw.batchMu.Unlock()

			if full {
				if err := bw.flush(ctx); err != nil {
					bw.logger.Error("flush on batch size failed", "error", err)
				}
			}

		case <-flushTicker.C:
			if err := bw.flush(ctx); err != nil {
				bw.logger.Error("periodic flush failed", "error", err)
			}
		}
	}
}

// drain moves queued submissions into the current batch.
func (bw *BatchWriter) drain() {
	bw.batchMu.Lock()
	defer bw.batchMu.Unlock()
	for {
		select {
		case sample := <-bw.submitCh:
			bw.currentBatch = append(bw.currentBatch, sample)
		default:
			return
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context) error {
	bw.batchMu.Lock()
	batch := bw.currentBatch
	bw.currentBatch = make([]model.MetricSample, 0, bw.batchSize)
	bw.batchMu.Unlock()

	bw.bufferMu.Lock()
	if len(bw.requeueBuffer) > 0 {
		requeued := len(bw.requeueBuffer)
		batch = append(bw.requeueBuffer, batch...)
		bw.requeueBuffer = nil
		bw.logger.Info("including requeued samples in flush", "requeued_count", requeued)
	}
	bw.bufferMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := bw.sink.InsertSamples(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		bw.consecutiveFailures++
		telemetry.RecordFlushFailure()
		bw.logger.Error("batch write failed",
			"error", err,
			"batch_size", len(batch),
			"consecutive_failures", bw.consecutiveFailures,
			"duration_ms", duration.Milliseconds(),
		)

		if bw.consecutiveFailures < bw.maxConsecutiveFails {
			bw.requeue(batch)
		} else {
			telemetry.RecordSamplesDropped(len(batch))
			bw.logger.Error("max consecutive failures reached, dropping batch",
				"dropped_count", len(batch),
			)
			bw.consecutiveFailures = 0
		}
		return err
	}

	bw.consecutiveFailures = 0
	bw.logger.Debug("batch written",
		"batch_size", len(batch),
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// requeue keeps a failed batch for the next flush, up to maxBufferSize.
func (bw *BatchWriter) requeue(batch []model.MetricSample) {
	bw.bufferMu.Lock()
	defer bw.bufferMu.Unlock()

	space := bw.maxBufferSize - len(bw.requeueBuffer)
	if space <= 0 {
		telemetry.RecordSamplesDropped(len(batch))
		bw.logger.Warn("requeue buffer full, dropping batch",
			"buffer_size", len(bw.requeueBuffer),
			"dropping_count", len(batch),
		)
		return
	}

	toRequeue := batch
	if len(batch) > space {
		toRequeue = batch[:space]
		telemetry.RecordSamplesDropped(len(batch) - space)
		bw.logger.Warn("partial requeue due to buffer limit",
			"requested", len(batch),
			"requeued", len(toRequeue),
		)
	}

	bw.requeueBuffer = append(bw.requeueBuffer, toRequeue...)
}
