package io

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
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O
	DefaultBufferSize = 256 * 1024 // 256KB

	// FlushInterval is how often buffers flush automatically
	FlushInterval = 2 * time.Second

	// DefaultQueueDepth is how many pending write chunks a buffer holds
	// before callers feel backpressure
	DefaultQueueDepth = 256

	// writeStallTimeout bounds how long a backpressured Write blocks
	// before giving up with ErrBufferFull
	writeStallTimeout = 5 * time.Second
)

var (
	// ErrBufferFull is returned when the buffer stayed full for the whole
	// backpressure window
	ErrBufferFull = errors.New("write buffer full, applying backpressure")

	// ErrBufferClosed is returned when writing to or flushing a closed buffer
	ErrBufferClosed = errors.New("write buffer closed")
)

// BufferMetrics holds metrics for a buffer.
// WriteCount/BytesWritten count what callers handed in, BytesFlushed counts
// what reached the OS. The gap between them is data still in flight.
type BufferMetrics struct {
	BytesWritten     atomic.Int64
	BytesFlushed     atomic.Int64
	FlushCount       atomic.Int64
	WriteCount       atomic.Int64
	BackpressureHits atomic.Int64
	ErrorCount       atomic.Int64
	LastFlushTime    atomic.Int64 // Unix timestamp in nanoseconds
	LastWriteTime    atomic.Int64 // Unix timestamp in nanoseconds
	LastErrorTime    atomic.Int64 // Unix timestamp in nanoseconds
}

// BufferStats is a point-in-time copy of BufferMetrics, safe to pass around.
type BufferStats struct {
	BytesWritten     int64
	BytesFlushed     int64
	FlushCount       int64
	WriteCount       int64
	BackpressureHits int64
	ErrorCount       int64
}

// AsyncBuffer decouples report writers from disk latency. Callers enqueue
// chunks; a single flusher goroutine owns the bufio/gzip/file chain, so the
// writer stack itself is never touched from two goroutines.
//
// Operation: Write is non-blocking until the queue fills, then blocks up to
// writeStallTimeout. Flush is a barrier: it returns after everything
// enqueued before the call is on disk.
type AsyncBuffer struct {
	// Write side.
	queue  chan []byte
	mu     sync.RWMutex
	closed bool

	// Flusher-owned. Only the flusher goroutine touches these.
	file *os.File
	gz   *gzip.Writer
	bw   *bufio.Writer

	flushReq chan chan error
	quit     chan struct{}
	done     chan struct{}
	closeErr error

	ctx        context.Context
	interval   time.Duration
	identifier string

	metrics BufferMetrics
}

// AsyncBufferOptions configures an AsyncBuffer.
type AsyncBufferOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	QueueDepth    int
	Compressed    bool
	Identifier    string
}

// DefaultAsyncBufferOptions returns the default options for AsyncBuffer.
func DefaultAsyncBufferOptions() *AsyncBufferOptions {
	return &AsyncBufferOptions{
		BufferSize:    DefaultBufferSize,
		FlushInterval: FlushInterval,
		QueueDepth:    DefaultQueueDepth,
		Compressed:    false,
		Identifier:    "",
	}
}

// NewAsyncBuffer opens path for writing (truncating) and starts the flusher
// goroutine. The buffer stops accepting writes when ctx is cancelled; Close
// must still be called to collect the final error.
func NewAsyncBuffer(ctx context.Context, path string, options *AsyncBufferOptions) (*AsyncBuffer, error) {
	if options == nil {
		options = DefaultAsyncBufferOptions()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	identifier := options.Identifier
	if identifier == "" {
		identifier = path
	}

	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	queueDepth := options.QueueDepth
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	interval := options.FlushInterval
	if interval <= 0 {
		interval = FlushInterval
	}

	ab := &AsyncBuffer{
		queue:      make(chan []byte, queueDepth),
		file:       file,
		flushReq:   make(chan chan error),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		interval:   interval,
		identifier: identifier,
	}

	if options.Compressed {
		gzw, err := gzip.NewWriterLevel(file, gzip.BestSpeed)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		ab.gz = gzw
		ab.bw = bufio.NewWriterSize(gzw, bufferSize)
	} else {
		ab.bw = bufio.NewWriterSize(file, bufferSize)
	}

	go ab.run()

	return ab, nil
}

// Write enqueues a copy of data for the flusher. Safe for concurrent use.
func (ab *AsyncBuffer) Write(data []byte) (int, error) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	if ab.closed {
		return 0, ErrBufferClosed
	}

	// The flusher recycles nothing, and callers may reuse data, so the
	// queue owns its own copy.
	chunk := make([]byte, len(data))
	copy(chunk, data)

	select {
	case ab.queue <- chunk:
	case <-ab.done:
		return 0, ErrBufferClosed
	default:
		// Queue is full. Block for a bounded window instead of dropping.
		ab.metrics.BackpressureHits.Add(1)
		select {
		case ab.queue <- chunk:
		case <-ab.done:
			return 0, ErrBufferClosed
		case <-time.After(writeStallTimeout):
			return 0, ErrBufferFull
		}
	}

	ab.metrics.WriteCount.Add(1)
	ab.metrics.BytesWritten.Add(int64(len(data)))
	ab.metrics.LastWriteTime.Store(time.Now().UnixNano())
	return len(data), nil
}

// Flush blocks until every chunk enqueued before the call is flushed and
// synced to disk.
func (ab *AsyncBuffer) Flush() error {
	ab.mu.RLock()
	closed := ab.closed
	ab.mu.RUnlock()
	if closed {
		return ErrBufferClosed
	}

	ack := make(chan error, 1)
	select {
	case ab.flushReq <- ack:
		select {
		case err := <-ack:
			return err
		case <-ab.done:
			return ErrBufferClosed
		}
	case <-ab.done:
		return ErrBufferClosed
	}
}

// Close drains the queue, flushes, closes the file and stops the flusher.
// Idempotent; every call returns the shutdown error.
func (ab *AsyncBuffer) Close() error {
	ab.mu.Lock()
	already := ab.closed
	ab.closed = true
	ab.mu.Unlock()

	if !already {
		close(ab.quit)
	}
	<-ab.done
	return ab.closeErr
}

// Stats returns a snapshot of the buffer metrics.
func (ab *AsyncBuffer) Stats() BufferStats {
	return BufferStats{
		BytesWritten:     ab.metrics.BytesWritten.Load(),
		BytesFlushed:     ab.metrics.BytesFlushed.Load(),
		FlushCount:       ab.metrics.FlushCount.Load(),
		WriteCount:       ab.metrics.WriteCount.Load(),
		BackpressureHits: ab.metrics.BackpressureHits.Load(),
		ErrorCount:       ab.metrics.ErrorCount.Load(),
	}
}

// run is the flusher loop. It is the only goroutine that touches the
// writer chain.
func (ab *AsyncBuffer) run() {
	ticker := time.NewTicker(ab.interval)
	defer ticker.Stop()

	for {
		select {
		case chunk := <-ab.queue:
			ab.writeChunk(chunk)
		case ack := <-ab.flushReq:
			ab.drain()
			ack <- ab.flush()
		case <-ticker.C:
			if err := ab.flush(); err != nil {
				log.Printf("[buffer %s] periodic flush failed: %v", ab.identifier, err)
			}
		case <-ab.quit:
			ab.shutdown()
			return
		case <-ab.ctx.Done():
			ab.shutdown()
			return
		}
	}
}

// drain consumes everything currently queued into the bufio writer.
func (ab *AsyncBuffer) drain() {
	for {
		select {
		case chunk := <-ab.queue:
			ab.writeChunk(chunk)
		default:
			return
		}
	}
}

func (ab *AsyncBuffer) writeChunk(chunk []byte) {
	if _, err := ab.bw.Write(chunk); err != nil {
		ab.recordError()
		log.Printf("[buffer %s] write failed: %v", ab.identifier, err)
	}
}

// flush pushes the bufio contents through the (optional) gzip stream and
// syncs the file. A no-op when nothing is buffered.
func (ab *AsyncBuffer) flush() error {
	buffered := ab.bw.Buffered()
	if buffered == 0 {
		return nil
	}

	if err := ab.bw.Flush(); err != nil {
		ab.recordError()
		return fmt.Errorf("failed to flush buffer for %s: %w", ab.identifier, err)
	}
	if ab.gz != nil {
		if err := ab.gz.Flush(); err != nil {
			ab.recordError()
			return fmt.Errorf("failed to flush gzip stream for %s: %w", ab.identifier, err)
		}
	}
	if err := ab.file.Sync(); err != nil {
		ab.recordError()
		return fmt.Errorf("failed to sync %s: %w", ab.identifier, err)
	}

	ab.metrics.FlushCount.Add(1)
	ab.metrics.BytesFlushed.Add(int64(buffered))
	ab.metrics.LastFlushTime.Store(time.Now().UnixNano())
	return nil
}

// shutdown drains, flushes, finalizes the gzip stream and closes the file.
// Runs on the flusher goroutine; the stored error is what Close reports.
func (ab *AsyncBuffer) shutdown() {
	ab.drain()
	err := ab.flush()

	if ab.gz != nil {
		if cerr := ab.gz.Close(); cerr != nil {
			ab.recordError()
			if err == nil {
				err = fmt.Errorf("failed to close gzip stream for %s: %w", ab.identifier, cerr)
			}
		} else if serr := ab.file.Sync(); serr != nil && err == nil {
			// The gzip footer lands after the last flush-sync.
			err = fmt.Errorf("failed to sync %s: %w", ab.identifier, serr)
		}
	}

	if cerr := ab.file.Close(); cerr != nil {
		ab.recordError()
		if err == nil {
			err = fmt.Errorf("failed to close %s: %w", ab.identifier, cerr)
		}
	}

	ab.closeErr = err
	close(ab.done)
}

func (ab *AsyncBuffer) recordError() {
	ab.metrics.ErrorCount.Add(1)
	ab.metrics.LastErrorTime.Store(time.Now().UnixNano())
}

// BufferPool manages one AsyncBuffer per output path.
type BufferPool struct {
	mu      sync.RWMutex
	buffers map[string]*AsyncBuffer
	ctx     context.Context
	options *AsyncBufferOptions
}

// NewBufferPool creates a new BufferPool. All buffers it creates inherit ctx.
func NewBufferPool(ctx context.Context, options *AsyncBufferOptions) *BufferPool {
	return &BufferPool{
		buffers: make(map[string]*AsyncBuffer),
		ctx:     ctx,
		options: options,
	}
}

// GetBuffer returns the buffer for path, creating it on first use.
func (bp *BufferPool) GetBuffer(path string) (*AsyncBuffer, error) {
	bp.mu.RLock()
	buffer, exists := bp.buffers[path]
	bp.mu.RUnlock()
	if exists {
		return buffer, nil
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	// Another goroutine may have won the race.
	if buffer, exists = bp.buffers[path]; exists {
		return buffer, nil
	}

	options := *bp.options
	options.Identifier = path

	buffer, err := NewAsyncBuffer(bp.ctx, path, &options)
	if err != nil {
		return nil, err
	}
	bp.buffers[path] = buffer
	return buffer, nil
}

// Flush flushes every buffer in the pool, returning the last error seen.
func (bp *BufferPool) Flush() error {
	bp.mu.RLock()
	defer bp.mu.RUnlock()

	var lastErr error
	for path, buffer := range bp.buffers {
		if err := buffer.Flush(); err != nil {
			lastErr = fmt.Errorf("failed to flush buffer %s: %w", path, err)
		}
	}
	return lastErr
}

// Close closes every buffer in the pool, returning the last error seen.
func (bp *BufferPool) Close() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var lastErr error
	for path, buffer := range bp.buffers {
		if err := buffer.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close buffer %s: %w", path, err)
		}
	}
	return lastErr
}
