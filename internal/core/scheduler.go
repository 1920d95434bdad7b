/*
bitsquat — bit-flip domain name auditing tool in Go
Copyright (C) 2025  Pepijn van der Stap <bitsquat@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package core

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/bitsquat/internal/metrics"

	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"
)

// Scheduler manages a pool of worker goroutines, assigns them to CPU cores (on Linux),
// and dispatches WorkItems to them based on a hash of the domain.
// Goal: Maximize parallel enumeration, minimize cross-core communication overhead.
// Sharding by domain hash keeps repeated submissions of the same domain on the
// same worker, so per-worker output batching stays warm in cache.
type Scheduler struct {
	numWorkers   int
	workers      []*worker          // Slice of worker goroutine managers.
	ctx          context.Context    // Master context for shutdown signalling.
	cancel       context.CancelFunc // Function to trigger shutdown.
	shutdown     atomic.Bool        // Flag to prevent submitting work during/after shutdown.
	workItemPool sync.Pool          // Pool for reusing WorkItem structs, reducing GC pressure.
	activeWork   sync.WaitGroup     // Tracks actively processing work items.
}

// worker encapsulates a single worker goroutine and its state.
// Goal: Each worker processes audits independently on its assigned core.
// Memory layout: Contains channel and pointers. Padding is unlikely to be needed
// unless queue access becomes a major bottleneck.
type worker struct {
	id          int             // Identifier for logging/debugging.
	cpuAffinity int             // Target CPU core ID for affinity setting.
	queue       chan *WorkItem  // Buffered channel acting as the work queue for this worker.
	scheduler   *Scheduler      // Pointer back to the scheduler for accessing shared resources (e.g., pool).
	ctx         context.Context // Worker-specific context linked to the scheduler's context.
	limiter     *rate.Limiter   // Rate limiter callers wait on before submitting to this worker.
	adaptive    *AdaptiveRate   // Feedback controller deciding what limit the limiter should enforce.
}

// NewScheduler creates, configures, and starts the scheduler and its worker pool.
// It attempts to set CPU affinity for each worker on Linux systems.
//
// numWorkers <= 0 selects a default based on the CPU count; ratePerSec <= 0
// selects DefaultRatePerSec. Both are clamped to sane bounds.
// Operation: Blocking (at startup), allocates worker/channel resources.
func NewScheduler(parentCtx context.Context, numWorkers int, ratePerSec float64) (*Scheduler, error) {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU() * WorkerMultiplier
	}
	if numWorkers <= 0 {
		numWorkers = 1 // Safety: Ensure at least one worker exists.
	}
	if numWorkers > MaxWorkers {
		numWorkers = MaxWorkers
	}
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}

	// Create a cancellable context for the scheduler and its workers.
	sctx, cancel := context.WithCancel(parentCtx)

	// Initialize the scheduler struct.
	s := &Scheduler{
		numWorkers: numWorkers,
		workers:    make([]*worker, numWorkers), // Preallocate worker slice.
		ctx:        sctx,
		cancel:     cancel,
		workItemPool: sync.Pool{ // Initialize the WorkItem pool.
			New: func() interface{} {
				// Allocate a new WorkItem only when the pool is empty.
				return &WorkItem{}
			},
		},
		// shutdown flag defaults to false (zero value).
	}

	// Allow bursts up to the queue size so a fresh worker can fill its queue
	// without throttling.
	initialRate := rate.Limit(ratePerSec)
	burstSize := MaxShardQueueSize

	// Create and start each worker goroutine.
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:          i,
			cpuAffinity: i % runtime.NumCPU(),                    // Simple round-robin core assignment.
			queue:       make(chan *WorkItem, MaxShardQueueSize), // Create buffered channel queue.
			scheduler:   s,
			ctx:         sctx,
			limiter:     rate.NewLimiter(initialRate, burstSize),
			adaptive:    NewAdaptiveRate(ratePerSec),
		}
		s.workers[i] = w
		if metrics.IsMetricsEnabled() {
			m := metrics.GetMetrics()
			m.QueueCapacity.WithLabelValues(metrics.WorkerLabel(i)).Set(float64(MaxShardQueueSize))
			m.UpdateWorkerRateLimit(i, ratePerSec)
		}
		go w.run() // Launch the worker's main loop non-blockingly.
	}

	log.Printf("Scheduler initialized with %d workers (rate %.0f/s per worker).\n", numWorkers, ratePerSec)
	return s, nil
}

// NumWorkers returns the size of the worker pool.
func (s *Scheduler) NumWorkers() int {
	return s.numWorkers
}

// shardFor returns the worker a domain hashes to. Same-package callers use
// this to wait on the worker's rate limiter before submitting.
func (s *Scheduler) shardFor(domain string) *worker {
	return s.workers[int(xxh3.HashString(domain)%uint64(s.numWorkers))]
}

// applyRate pushes the adaptive controller's current rate into the worker's
// token-bucket limiter. Called from SubmitWork whenever the controller reports
// a change, so the limiter callers wait on always reflects queue feedback.
func (w *worker) applyRate() {
	current := w.adaptive.Current()
	w.limiter.SetLimit(rate.Limit(current))
	if metrics.IsMetricsEnabled() {
		metrics.GetMetrics().UpdateWorkerRateLimit(w.id, current)
	}
}

// run is the main processing loop for a single worker goroutine.
// It first attempts to set CPU affinity, then enters a loop reading from its queue.
// Hot Path: Yes. Must be low-GC, non-blocking (except on queue read).
func (w *worker) run() {
	// Set CPU Affinity - this is best-effort.
	setAffinity(w.id, w.cpuAffinity)

	collect := metrics.IsMetricsEnabled()
	var m *metrics.Metrics
	var workerLabel string
	if collect {
		m = metrics.GetMetrics()
		workerLabel = metrics.WorkerLabel(w.id)
	}

	// Loop indefinitely, processing work items until context is cancelled.
	for {
		var idleStart time.Time
		if collect {
			idleStart = time.Now()
		}

		select {
		// Prioritize checking for shutdown signal.
		case <-w.ctx.Done():
			return // Exit goroutine on context cancellation.
		// Read the next work item from the dedicated channel queue.
		// This blocks if the queue is empty, yielding the CPU.
		case item := <-w.queue:
			if item == nil { // Safety check, queue should only receive non-nil items.
				continue
			}

			if collect {
				m.WorkerIdleDuration.WithLabelValues(workerLabel).Observe(time.Since(idleStart).Seconds())
				m.QueueLatency.WithLabelValues(workerLabel).Observe(time.Since(item.CreatedAt).Seconds())
				m.WorkerBusy.WithLabelValues(workerLabel).Set(1)
				m.UpdateQueueMetrics(w.id, len(w.queue), MaxShardQueueSize)
			}

			// Mark work as done when the callback finishes or panics
			func() {
				defer w.scheduler.activeWork.Done() // Signal completion via WaitGroup
				defer func() {
					if r := recover(); r != nil {
						// Log panics in callbacks
						log.Printf("Panic recovered in worker %d processing %q from %s: %v", w.id, item.Domain, item.Source, r)
						if collect {
							m.WorkerPanics.WithLabelValues(workerLabel).Inc()
						}
					}
				}()

				// Execute the assigned audit. This is the core work
				// (enumerate, classify, render, write).
				err := item.Callback(item)
				if err != nil {
					log.Printf("Error auditing %q from %s: %v\n", item.Domain, item.Source, err)
					if collect {
						m.WorkerErrors.WithLabelValues(workerLabel, "callback").Inc()
						m.SchedulerWorkFailed.WithLabelValues(item.Source, "callback").Inc()
					}
				} else if collect {
					m.SchedulerWorkCompleted.WithLabelValues(item.Source).Inc()
				}
				if collect {
					m.WorkerProcessed.WithLabelValues(workerLabel).Inc()
				}
			}()

			if collect {
				m.WorkerBusy.WithLabelValues(workerLabel).Set(0)
			}

			// Return the WorkItem struct to the pool for reuse.
			// Reset fields to avoid data leakage between uses.
			item.Callback = nil
			item.Domain = ""
			item.Source = ""
			item.Seq = 0
			item.Ctx = nil
			item.Error = nil
			w.scheduler.workItemPool.Put(item) // Reduces allocation churn.
		}
	}
}

// SubmitWork routes a work item to a specific worker queue based on hashing the domain.
// It uses a non-blocking send to the worker's channel to provide backpressure.
// Rate limiting is handled by the CALLER using the shard's limiter.Wait()
// before calling SubmitWork; this function focuses on the atomic queue
// submission attempt and feeds the outcome back into the worker's adaptive
// rate controller, tightening the limiter after a bounce and relaxing it
// again as submissions get accepted.
// Hot Path: Yes, called once per input domain.
// Operation: Non-blocking (unless pool Get blocks), low allocation (pool Get/Put).
func (s *Scheduler) SubmitWork(ctx context.Context, domain, source string, seq int64, callback WorkCallback) error {
	if s.shutdown.Load() {
		return ErrWorkerShutdown
	}
	targetWorker := s.shardFor(domain)

	item := s.workItemPool.Get().(*WorkItem)
	item.Domain = domain
	item.Source = source
	item.Seq = seq
	item.Attempt = 0
	item.Callback = callback
	item.Ctx = ctx
	item.CreatedAt = time.Now()
	item.Error = nil
	s.activeWork.Add(1)

	select {
	case targetWorker.queue <- item:
		if targetWorker.adaptive.RecordSuccess() {
			targetWorker.applyRate()
		}
		if metrics.IsMetricsEnabled() {
			metrics.GetMetrics().SchedulerWorkSubmitted.WithLabelValues(source).Inc()
		}
		return nil // Success
	default:
		// Queue is full - signal backpressure immediately
		s.activeWork.Done()
		s.workItemPool.Put(item)
		if targetWorker.adaptive.RecordBackpressure() {
			targetWorker.applyRate()
		}
		if metrics.IsMetricsEnabled() {
			metrics.GetMetrics().QueueBackpressureHit.WithLabelValues(metrics.WorkerLabel(targetWorker.id)).Inc()
		}
		return fmt.Errorf("worker %d for domain %s: %w", targetWorker.id, domain, ErrQueueFull)
	}
}

// Wait waits until all submitted work items have been processed.
func (s *Scheduler) Wait() {
	log.Println("Scheduler waiting for active work to complete...")
	s.activeWork.Wait()
	log.Println("Scheduler active work completed.")
}

// Shutdown initiates a graceful shutdown of the scheduler and its workers.
// Operation: Non-blocking signal, does not wait for workers to finish.
// Callers that need completion should call Wait before Shutdown.
func (s *Scheduler) Shutdown() {
	// Use atomic CompareAndSwap to ensure shutdown logic runs only once.
	if s.shutdown.CompareAndSwap(false, true) {
		log.Println("Scheduler shutting down...")
		// Cancel the context, signalling all workers listening on w.ctx.Done().
		s.cancel()
		log.Println("Scheduler shutdown signal sent.")
	}
}
