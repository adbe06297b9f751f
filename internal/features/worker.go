package features

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shen/internal/domain"
	sv "shen/internal/service"
)

type ChunkUploadJob struct {
	SessionID   string
	InterviewID string
	Chunk       domain.MediaChunk
	EnqueuedAt  time.Time
}

// ChunkWorkerPool delivers recorded media chunks upstream. Delivery is
// fire-and-forget: failures are logged, never retried, and a full queue
// drops the chunk rather than stall the recording.
type ChunkWorkerPool struct {
	jobQueue          chan ChunkUploadJob
	workerCount       int
	maxTasksPerWorker int
	maxIdleTime       time.Duration
	ctx               context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	// Metrics
	totalJobsEnqueued  int64
	totalJobsProcessed int64
	totalJobsDropped   int64
	totalJobsFailed    int64
	activeWorkers      int64
}

func NewChunkWorkerPool(size, maxTasksPerWorker, maxIdleTime int) *ChunkWorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	pool := &ChunkWorkerPool{
		jobQueue:          make(chan ChunkUploadJob, size*maxTasksPerWorker),
		workerCount:       size,
		maxTasksPerWorker: maxTasksPerWorker,
		maxIdleTime:       time.Duration(maxIdleTime) * time.Second,
		ctx:               ctx,
		cancel:            cancel,
	}

	return pool
}

func (wp *ChunkWorkerPool) Start(upstream sv.Irelia, logger *zap.Logger) {
	logger.Info("Starting chunk worker pool",
		zap.Int("workerCount", wp.workerCount),
		zap.Int("queueCapacity", cap(wp.jobQueue)),
		zap.Duration("maxIdleTime", wp.maxIdleTime))

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(upstream, logger, i)
	}
}

// Stop quiesces the pool through context cancellation. The queue is never
// closed: producers may still call EnqueueJob while Stop runs, and their
// chunks are dropped rather than panicking a send on a closed channel.
// Chunks left in the queue are dropped with the rest.
func (wp *ChunkWorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
}

func (wp *ChunkWorkerPool) worker(upstream sv.Irelia, logger *zap.Logger, workerID int) {
	defer wp.wg.Done()
	atomic.AddInt64(&wp.activeWorkers, 1)
	defer atomic.AddInt64(&wp.activeWorkers, -1)

	idleTimer := time.NewTimer(wp.maxIdleTime)
	defer idleTimer.Stop()

	jobsProcessed := 0

	for {
		select {
		case job := <-wp.jobQueue:
			waitTime := time.Since(job.EnqueuedAt)
			logger.Debug("Worker uploading chunk",
				zap.Int("workerID", workerID),
				zap.String("sessionID", job.SessionID),
				zap.Int32("chunkIndex", job.Chunk.ChunkIndex),
				zap.Duration("waitTime", waitTime))

			startTime := time.Now()
			if err := upstream.UploadChunk(wp.ctx, job.InterviewID, &job.Chunk); err != nil {
				// Non-critical telemetry: log and move on, no retry
				atomic.AddInt64(&wp.totalJobsFailed, 1)
				logger.Warn("Chunk upload failed",
					zap.String("sessionID", job.SessionID),
					zap.Int32("chunkIndex", job.Chunk.ChunkIndex),
					zap.Error(err))
			}
			processingTime := time.Since(startTime)

			atomic.AddInt64(&wp.totalJobsProcessed, 1)
			jobsProcessed++

			logger.Debug("Worker finished chunk",
				zap.Int("workerID", workerID),
				zap.String("sessionID", job.SessionID),
				zap.Int32("chunkIndex", job.Chunk.ChunkIndex),
				zap.Duration("processingTime", processingTime))

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(wp.maxIdleTime)

		case <-idleTimer.C:
			logger.Info("Worker idle timeout, exiting", zap.Int("workerID", workerID),
				zap.Int("jobsProcessed", jobsProcessed))
			return

		case <-wp.ctx.Done():
			logger.Info("Worker stopping - context cancelled", zap.Int("workerID", workerID),
				zap.Int("jobsProcessed", jobsProcessed))
			return
		}
	}
}

// EnqueueJob offers a chunk to the pool. A full or stopped pool drops
// immediately: chunk loss does not affect correctness and recording must
// not block. Safe to call concurrently with Stop.
func (wp *ChunkWorkerPool) EnqueueJob(logger *zap.Logger, job ChunkUploadJob) bool {
	job.EnqueuedAt = time.Now()

	select {
	case <-wp.ctx.Done():
		atomic.AddInt64(&wp.totalJobsDropped, 1)
		logger.Debug("Pool stopped, dropping chunk",
			zap.String("sessionID", job.SessionID),
			zap.Int32("chunkIndex", job.Chunk.ChunkIndex))
		return false
	default:
	}

	select {
	case wp.jobQueue <- job:
		atomic.AddInt64(&wp.totalJobsEnqueued, 1)
		logger.Debug("Enqueued chunk upload job",
			zap.String("sessionID", job.SessionID),
			zap.Int32("chunkIndex", job.Chunk.ChunkIndex),
			zap.Int("queueSize", len(wp.jobQueue)),
			zap.Int("queueCapacity", cap(wp.jobQueue)))
		return true

	default:
		atomic.AddInt64(&wp.totalJobsDropped, 1)
		logger.Warn("Chunk queue is full, dropping chunk",
			zap.String("sessionID", job.SessionID),
			zap.Int32("chunkIndex", job.Chunk.ChunkIndex),
			zap.Int("queueSize", len(wp.jobQueue)),
			zap.Int64("activeWorkers", atomic.LoadInt64(&wp.activeWorkers)))
		return false
	}
}

// GetMetrics returns worker pool metrics
func (wp *ChunkWorkerPool) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"total_jobs_enqueued":  atomic.LoadInt64(&wp.totalJobsEnqueued),
		"total_jobs_processed": atomic.LoadInt64(&wp.totalJobsProcessed),
		"total_jobs_dropped":   atomic.LoadInt64(&wp.totalJobsDropped),
		"total_jobs_failed":    atomic.LoadInt64(&wp.totalJobsFailed),
		"active_workers":       atomic.LoadInt64(&wp.activeWorkers),
		"queue_size":           len(wp.jobQueue),
		"queue_capacity":       cap(wp.jobQueue),
	}
}
