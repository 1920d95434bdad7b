package core

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

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/bitsquat/internal/bitflip"
	bsio "github.com/x-stp/bitsquat/internal/io"
	"github.com/x-stp/bitsquat/internal/metrics"
	"github.com/x-stp/bitsquat/internal/tldset"
	"github.com/x-stp/bitsquat/internal/util"
)

// Output formats the auditor can render reports in.
const (
	FormatText  = "text"
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// Source is one stream of input domains, typically an opened file or stdin.
// Name is used for logs, metric labels, and per-source output file naming.
type Source struct {
	Name   string
	Reader io.Reader
}

// Auditor orchestrates reading input domains, enumerating their bit-flip
// variants, classifying candidate TLDs, and writing rendered reports.
// Goal: High-throughput, purely local audit pipeline. No network calls.
// Concurrency: Uses the core Scheduler for parallel processing of domains.
// Manages output writers concurrently using sync.Map.
type Auditor struct {
	scheduler *Scheduler // Manages worker goroutines and dispatch.
	config    *AuditConfig
	stats     *AuditStats        // Holds atomic counters for metrics.
	ctx       context.Context    // Main context for cancellation.
	cancel    context.CancelFunc // Function to trigger cancellation.
	ref       *tldset.Set        // Reference TLD set candidates are classified against.

	// outputMap maps source names to their report writers.
	// sync.Map is used for concurrent-safe access from multiple worker callbacks.
	outputMap sync.Map // Maps source name -> reportWriter

	// pool owns the asynchronous file buffers. nil when writing to stdout only.
	pool *bsio.BufferPool

	// Completed file outputs are written under a .tmp name and renamed into
	// place only after a clean run, so readers never see a truncated file.
	renameMu sync.Mutex
	renames  []pendingRename

	flusherWg    sync.WaitGroup
	shutdownOnce sync.Once
}

type pendingRename struct {
	tmp   string
	final string
}

// AuditConfig holds operational parameters.
// Memory layout: Simple fields, padding unlikely needed unless part of a highly contended larger struct.
type AuditConfig struct {
	// OutputPath is a single file all reports are written to. Empty or "-"
	// means stdout. Ignored when OutputDir is set.
	OutputPath string
	// OutputDir enables one output file per input source, named after the source.
	OutputDir string
	// Format selects the report rendering: FormatText, FormatCSV, or FormatJSONL.
	Format string
	// ShowInvalid includes unregistrable TLD variants in reports.
	ShowInvalid bool
	// TldOnly skips name-label enumeration and audits only the TLD.
	TldOnly bool
	// BufferSize for disk I/O. Zero selects DefaultDiskBufferSize.
	BufferSize int
	// CompressOutput gzips file outputs. Has no effect on stdout.
	CompressOutput bool
	// Workers sets the scheduler pool size. Zero selects a CPU-based default.
	Workers int
	// RatePerSec caps per-worker audit throughput. Zero selects DefaultRatePerSec.
	RatePerSec float64
	// ReferenceTlds overrides the embedded TLD set. nil selects the embedded set.
	ReferenceTlds *tldset.Set
}

// AuditStats uses atomic counters for safe concurrent updates from workers.
// Goal: Provide observability without lock contention.
// Memory layout: Uses atomic.Int64. Ensure fields are 64-bit aligned.
type AuditStats struct {
	TotalDomains       atomic.Int64 // Domains accepted from input and submitted.
	ProcessedDomains   atomic.Int64 // Audits completed and written.
	FailedDomains      atomic.Int64 // Audits dropped or failed.
	SkippedInputs      atomic.Int64 // Malformed input lines.
	TldVariantsFound   atomic.Int64 // Candidate TLDs considered across all audits.
	NameVariantsFound  atomic.Int64 // Name variants generated across all audits.
	RegistrableFound   atomic.Int64 // Registrable TLD variants found.
	OutputBytesWritten atomic.Int64
	RetryCount         atomic.Int64 // Submit retries due to full worker queues.
	SuccessFirstTry    atomic.Int64 // Submissions that needed no retry.
	StartTime          time.Time
}

// GetRetryRate returns submit retries per processed domain.
// A rising rate means the worker queues are saturated for the configured rate limit.
func (s *AuditStats) GetRetryRate() float64 {
	processed := s.ProcessedDomains.Load()
	if processed == 0 {
		return 0
	}
	return float64(s.RetryCount.Load()) / float64(processed)
}

// NewAuditor initializes the auditor, including the core scheduler.
// Operation: Blocking (at startup), allocates scheduler and its resources.
func NewAuditor(ctx context.Context, config *AuditConfig) (*Auditor, error) {
	if config == nil {
		return nil, fmt.Errorf("nil audit config")
	}
	switch config.Format {
	case FormatText, FormatCSV, FormatJSONL:
	case "":
		config.Format = FormatText
	default:
		return nil, fmt.Errorf("unsupported output format %q (want %s, %s or %s)",
			config.Format, FormatText, FormatCSV, FormatJSONL)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultDiskBufferSize
	}
	ref := config.ReferenceTlds
	if ref == nil {
		ref = tldset.Default()
	}

	// Initialize the core scheduler.
	scheduler, err := NewScheduler(ctx, config.Workers, config.RatePerSec)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	// Create a dedicated cancellable context for this run.
	auditorCtx, cancel := context.WithCancel(ctx)

	a := &Auditor{
		scheduler: scheduler,
		config:    config,
		stats:     &AuditStats{StartTime: time.Now()},
		ctx:       auditorCtx,
		cancel:    cancel,
		ref:       ref,
		// outputMap is ready for use (zero value of sync.Map).
	}
	return a, nil
}

// Run is the main entry point for the audit command. It sets up output
// writers, scans every source, dispatches one work item per domain, and waits
// for all audits to complete before finalizing output files.
// Operation: Long-running, potentially blocking on setup semaphore and context cancellation.
func (a *Auditor) Run(sources []Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("no input sources")
	}
	log.Printf("Starting bit-flip audit of %d input source(s), reference set of %d TLDs...",
		len(sources), a.ref.Len())

	// 1. Prepare the output layer.
	var sharedWriter reportWriter
	if a.config.OutputDir != "" {
		// Per-source files. Potentially blocking I/O, but only at startup.
		if err := os.MkdirAll(a.config.OutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory '%s': %w", a.config.OutputDir, err)
		}
		a.pool = bsio.NewBufferPool(a.ctx, a.bufferOptions())
	} else if a.config.OutputPath != "" && a.config.OutputPath != "-" {
		// One file shared by every source.
		a.pool = bsio.NewBufferPool(a.ctx, a.bufferOptions())
		w, err := a.openFileWriter(a.config.OutputPath)
		if err != nil {
			return err
		}
		sharedWriter = w
	} else {
		// Interleaved reports on stdout.
		w := newLockedWriter(os.Stdout, a.config.BufferSize)
		if err := a.writeHeader(w); err != nil {
			return fmt.Errorf("failed to write header to stdout: %w", err)
		}
		sharedWriter = w
	}

	// Keep stdout and the async buffers moving while workers run.
	a.flusherWg.Add(1)
	go a.periodicFlush()

	var wg sync.WaitGroup
	var failedSources atomic.Int64
	// setupSem limits concurrency during the initial phase for each source
	// (output file creation, header write) so a long source list does not
	// open every file at once before processing begins.
	setupSem := make(chan struct{}, runtime.NumCPU())

	// 2. Launch a setup-and-submit goroutine per source.
	for i := range sources {
		select {
		case <-a.ctx.Done(): // Check for early cancellation.
			log.Println("Audit cancelled during source setup launch.")
			wg.Wait()
			a.Shutdown()
			return a.ctx.Err()
		case setupSem <- struct{}{}: // Acquire semaphore slot.
			wg.Add(1)
			go func(src Source) {
				defer wg.Done()
				defer func() { <-setupSem }() // Release semaphore slot.

				// processSource creates the writer, scans the input, and submits all domains.
				if err := a.processSource(src, sharedWriter); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("Error processing source %s: %v", src.Name, err)
					failedSources.Add(1)
				}
			}(sources[i]) // Pass source by value (copy) to the goroutine.
		}
	}

	wg.Wait() // Wait for all source goroutines (writer setup, scan, submission) to complete.

	// Check if context was cancelled during the scan phase.
	if a.ctx.Err() != nil {
		log.Println("Audit cancelled during input scan phase.")
		a.Shutdown()
		return a.ctx.Err()
	}

	// 3. Wait for all submitted work items (audits) to complete.
	log.Println("All input scanned, waiting for scheduler workers to process submitted domains...")
	a.scheduler.Wait()
	log.Println("Scheduler finished processing all submitted domains.")

	// Check context again in case of cancellation received *during* processing.
	if a.ctx.Err() != nil {
		log.Println("Audit cancelled during processing phase.")
		a.Shutdown()
		return a.ctx.Err()
	}

	// 4. Flush, close, and move completed outputs into place.
	log.Println("Processing complete. Finalizing...")
	a.Shutdown()
	if err := a.finalizeOutputs(); err != nil {
		return err
	}
	if n := failedSources.Load(); n > 0 {
		return fmt.Errorf("%d of %d input sources failed", n, len(sources))
	}
	if a.stats.TotalDomains.Load() == 0 {
		return fmt.Errorf("no domains found in input (%d malformed lines skipped)", a.stats.SkippedInputs.Load())
	}
	log.Println("Bit-flip audit finished successfully.")
	return nil
}

func (a *Auditor) bufferOptions() *bsio.AsyncBufferOptions {
	return &bsio.AsyncBufferOptions{
		BufferSize:    a.config.BufferSize,
		FlushInterval: OutputFlushInterval,
		Compressed:    a.config.CompressOutput,
	}
}

// openFileWriter creates the async buffer for an output path (via its .tmp
// name), writes the format header, and records the pending rename. Sources
// whose sanitized names collide share one output file; the header is written
// and the rename recorded only once.
func (a *Auditor) openFileWriter(path string) (reportWriter, error) {
	if a.config.CompressOutput {
		path += ".gz"
	}
	tmp := path + ".tmp"

	a.renameMu.Lock()
	defer a.renameMu.Unlock()
	for _, r := range a.renames {
		if r.tmp == tmp {
			// Already set up by another source.
			return a.pool.GetBuffer(tmp)
		}
	}

	buffer, err := a.pool.GetBuffer(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", tmp, err)
	}
	if err := a.writeHeader(buffer); err != nil {
		return nil, fmt.Errorf("failed to write header to %s: %w", tmp, err)
	}
	a.renames = append(a.renames, pendingRename{tmp: tmp, final: path})
	return buffer, nil
}

// writeHeader emits the per-file preamble for the configured format.
// JSONL output is self-describing and gets none.
func (a *Auditor) writeHeader(w reportWriter) error {
	var header string
	switch a.config.Format {
	case FormatCSV:
		header = bitflip.CSVHeader
	case FormatText:
		header = bitflip.HeaderText
	}
	if header == "" {
		return nil
	}
	_, err := w.Write([]byte(header))
	return err
}

// processSource sets up the output writer for a single source, then scans its
// domains and submits one work item per accepted domain.
// Operation: Can block on disk (file create) and on worker rate limiters.
// Should be run concurrently, one goroutine per source.
func (a *Auditor) processSource(src Source, sharedWriter reportWriter) error {
	log.Printf("Processing source: %s", src.Name)

	// 1. Resolve the output writer for this source.
	writer := sharedWriter
	if writer == nil {
		ext := a.config.Format
		if ext == FormatText {
			ext = "txt"
		}
		filename := fmt.Sprintf("%s_bitflips.%s", util.OutputBasename(src.Name), ext)
		w, err := a.openFileWriter(filepath.Join(a.config.OutputDir, filename))
		if err != nil {
			return err
		}
		writer = w
	}
	a.outputMap.Store(src.Name, writer)

	// 2. Scan and submit. ScanDomains stops when the callback reports a
	// context error, so cancellation aborts the read loop promptly.
	accepted, skipped, err := ScanDomains(src.Reader, src.Name, func(domain string) error {
		return a.submitDomain(domain, src.Name)
	})
	a.stats.SkippedInputs.Add(skipped)
	if err != nil {
		return err
	}
	log.Printf("Source %s: submitted %d domains (%d lines skipped).", src.Name, accepted, skipped)
	return nil
}

// submitDomain routes one domain to the scheduler, pacing on the target
// worker's rate limiter and retrying briefly when its queue is full.
// Hot Path: Yes, called once per input domain.
func (a *Auditor) submitDomain(domain, source string) error {
	if a.ctx.Err() != nil {
		return a.ctx.Err()
	}

	// Index assigned in acceptance order; used as the CSV index column.
	seq := a.stats.TotalDomains.Add(1) - 1

	// Wait on the rate limiter of the worker this domain hashes to.
	target := a.scheduler.shardFor(domain)
	stop := metrics.MeasureDuration(metrics.GetMetrics().SchedulerRateLimitDelay, source)
	if err := target.limiter.Wait(a.ctx); err != nil {
		// Context cancelled while waiting.
		return err
	}
	stop()

	// Now attempt submission (with retry for transient full queue).
	retryDelay := RetryBaseDelay
	for attempt := 0; attempt < SubmitRetryLimit; attempt++ {
		if a.ctx.Err() != nil {
			return a.ctx.Err()
		}

		err := a.scheduler.SubmitWork(a.ctx, domain, source, seq, a.auditCallback)
		if err == nil {
			if attempt == 0 {
				a.stats.SuccessFirstTry.Add(1)
			}
			return nil // Success
		}

		if IsRetryable(err) {
			// Queue was full even after the rate limit wait. Back off and retry.
			a.stats.RetryCount.Add(1)
			if metrics.IsMetricsEnabled() {
				metrics.GetMetrics().UpdateRetriesRate(source, a.stats.GetRetryRate())
			}
			// Exponential backoff with jitter
			jitter := time.Duration(float64(retryDelay) * (1 + RetryJitterFactor*rand.Float64()))
			select {
			case <-time.After(jitter):
				retryDelay = time.Duration(float64(retryDelay) * RetryBackoffMultiplier)
				if retryDelay > RetryMaxDelay {
					retryDelay = RetryMaxDelay
				}
				continue // Retry submit
			case <-a.ctx.Done():
				return a.ctx.Err()
			}
		}

		// Permanent error (e.g. scheduler already shut down).
		log.Printf("Permanent error submitting %q from %s: %v", domain, source, err)
		a.stats.FailedDomains.Add(1)
		return err
	}

	log.Printf("Dropped domain %q from %s after %d submit retries (post-rate limit).", domain, source, SubmitRetryLimit)
	a.stats.FailedDomains.Add(1)
	return nil // Keep scanning; one saturated queue must not abort the source.
}

// auditCallback is the function executed by each worker goroutine.
// It enumerates bit-flip variants for one domain, classifies candidate TLDs
// against the reference set, renders the report, and writes it to the
// source's output writer.
// Hot Path: Yes. Must be highly concurrent, low-allocation, and non-blocking where possible.
func (a *Auditor) auditCallback(item *WorkItem) error {
	collect := metrics.IsMetricsEnabled()
	stop := metrics.MeasureDuration(metrics.GetMetrics().AuditDuration, item.Source)

	// 1. Enumerate and classify.
	report := bitflip.BuildReport(item.Domain, a.ref, bitflip.Options{
		ShowInvalid: a.config.ShowInvalid,
		TldOnly:     a.config.TldOnly,
	})

	// 2. Render in the configured format.
	var line string
	switch a.config.Format {
	case FormatCSV:
		line = report.ToCSVLine(item.Seq)
	case FormatJSONL:
		rendered, err := report.ToJSONLine()
		if err != nil {
			a.stats.FailedDomains.Add(1)
			if collect {
				metrics.GetMetrics().DomainsProcessed.WithLabelValues(item.Source, "error").Inc()
			}
			return fmt.Errorf("failed to encode report for %q: %w", item.Domain, err)
		}
		line = rendered
	default:
		line = report.ToText()
	}

	// 3. Find the output writer.
	writerUntyped, ok := a.outputMap.Load(item.Source)
	if !ok {
		a.stats.FailedDomains.Add(1)
		return fmt.Errorf("output writer not found for source %s", item.Source)
	}
	// MUST be the interface assertion with ok check.
	writer, ok := writerUntyped.(reportWriter)
	if !ok || writer == nil {
		a.stats.FailedDomains.Add(1)
		return fmt.Errorf("invalid writer type in map for source %s", item.Source)
	}

	// 4. Write the whole report in one call so concurrent audits never
	// interleave inside a record.
	writeStart := time.Now()
	n, err := writer.Write([]byte(line))
	writeDuration := time.Since(writeStart)
	if err != nil {
		a.stats.FailedDomains.Add(1)
		if collect {
			m := metrics.GetMetrics()
			m.DiskErrors.WithLabelValues(item.Source, "write").Inc()
			m.DomainsProcessed.WithLabelValues(item.Source, "error").Inc()
		}
		return fmt.Errorf("error writing report for %q to %s output: %w", item.Domain, item.Source, err)
	}

	// 5. Update statistics (atomically).
	registrable := report.RegistrableCount()
	a.stats.ProcessedDomains.Add(1)
	a.stats.TldVariantsFound.Add(int64(report.TldConsidered))
	a.stats.NameVariantsFound.Add(int64(len(report.NameCandidates)))
	a.stats.RegistrableFound.Add(int64(registrable))
	a.stats.OutputBytesWritten.Add(int64(n))

	if collect {
		m := metrics.GetMetrics()
		m.DomainsProcessed.WithLabelValues(item.Source, "ok").Inc()
		m.VariantsGenerated.WithLabelValues("tld").Add(float64(report.TldConsidered))
		m.VariantsGenerated.WithLabelValues("name").Add(float64(len(report.NameCandidates)))
		if registrable > 0 {
			m.RegistrableHitsTotal.WithLabelValues(item.Source).Add(float64(registrable))
		}
		m.DiskWriteDuration.WithLabelValues(item.Source).Observe(writeDuration.Seconds())
		m.DiskWriteBytes.WithLabelValues(item.Source).Observe(float64(n))
		m.DiskWriteOps.WithLabelValues(item.Source).Inc()
	}
	stop()
	return nil // Success for this domain.
}

// periodicFlush keeps output writers flushed while the audit runs, so stdout
// shows progress and a crash loses at most one interval of buffered reports.
func (a *Auditor) periodicFlush() {
	defer a.flusherWg.Done()
	ticker := time.NewTicker(OutputFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushAllWriters()
		}
	}
}

// flushAllWriters flushes every distinct writer currently registered.
// Multiple sources may share one writer; flush each underlying writer once.
func (a *Auditor) flushAllWriters() {
	seen := make(map[reportWriter]bool)
	a.outputMap.Range(func(key, value interface{}) bool {
		writer, ok := value.(reportWriter)
		if !ok || writer == nil || seen[writer] {
			return true
		}
		seen[writer] = true
		if err := writer.Flush(); err != nil && !errors.Is(err, bsio.ErrBufferClosed) {
			log.Printf("Error flushing writer for %v: %v", key, err)
		}
		return true
	})
}

// Shutdown gracefully cancels the context, shuts down the scheduler, and
// flushes and closes all output writers. Safe to call more than once.
// Operation: Blocks briefly on the flusher goroutine and final buffer drain.
func (a *Auditor) Shutdown() {
	a.shutdownOnce.Do(func() {
		log.Println("Shutting down auditor...")
		a.cancel() // Signal all operations using the auditor's context.

		if a.scheduler != nil {
			// Stop accepting new work and cancel the workers.
			a.scheduler.Shutdown()
		}

		// Stop the periodic flusher before touching writers for the last time.
		a.flusherWg.Wait()

		log.Println("Flushing and closing output writers...")
		a.flushAllWriters()
		if a.pool != nil {
			// Drains queued chunks, flushes, syncs, and closes every file buffer.
			if err := a.pool.Close(); err != nil {
				log.Printf("Error closing output buffers on shutdown: %v", err)
			}
		}
		log.Println("Auditor shutdown complete.")
	})
}

// finalizeOutputs renames completed .tmp outputs to their final names.
// Called only after a clean run; cancelled runs keep their .tmp files so a
// partial result is never mistaken for a finished one.
func (a *Auditor) finalizeOutputs() error {
	a.renameMu.Lock()
	defer a.renameMu.Unlock()

	var lastErr error
	for _, r := range a.renames {
		if err := os.Rename(r.tmp, r.final); err != nil {
			log.Printf("Error finalizing output %s: %v", r.final, err)
			lastErr = fmt.Errorf("failed to finalize output %s: %w", r.final, err)
		}
	}
	a.renames = a.renames[:0]
	return lastErr
}

// GetStats returns the pointer
func (a *Auditor) GetStats() *AuditStats { return a.stats }
