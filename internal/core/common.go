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
	"bufio"
	"context"
	"io"
	"sync"
	"time"
)

// Common constants
const (
	// MaxShardQueueSize is the capacity of a worker's queue
	MaxShardQueueSize = 1000

	// WorkerMultiplier is the multiplier for the number of workers
	WorkerMultiplier = 2

	// Retry constants
	RetryBaseDelay         = 125 * time.Millisecond
	RetryMaxDelay          = 30 * time.Second
	RetryBackoffMultiplier = 1.5
	RetryJitterFactor      = 0.2
)

// WorkItem represents one domain audit to be processed by the scheduler.
// It is pooled via sync.Pool to reduce allocations in the hot path.
// Memory layout: Struct fields are standard types. Padding is not explicitly
// added here but could be considered if profiling reveals false sharing on
// Callback access.
type WorkItem struct {
	// Immutable fields
	Domain    string          // Normalized domain to audit. Used for sharding work across workers.
	Source    string          // Input source name (file path or "stdin"), selects the output writer.
	Seq       int64           // Position of the domain within its source, used for CSV index columns.
	Callback  WorkCallback    // Function to execute for this work item. Zero-alloc if it's a method value.
	Ctx       context.Context // Context for the specific task.
	CreatedAt time.Time       // Submission time, used for queue latency observation.

	// Mutable fields
	Attempt int
	Error   error
}

// WorkCallback is the function signature for work item callbacks
type WorkCallback func(item *WorkItem) error

// reportWriter is the sink a worker callback writes rendered report lines to.
// Each Write call carries one whole report, so sinks only need to keep
// individual writes atomic for output lines never to interleave.
type reportWriter interface {
	io.Writer
	Flush() error
}

// lockedWriter adapts a plain buffered writer (stdout, or a caller-provided
// stream) into a reportWriter by serializing access with a mutex. File
// outputs use the async buffer pool instead.
type lockedWriter struct {
	writer *bufio.Writer
	mu     sync.Mutex
}

func newLockedWriter(w io.Writer, size int) *lockedWriter {
	return &lockedWriter{writer: bufio.NewWriterSize(w, size)}
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.writer.Write(p)
}

func (lw *lockedWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.writer.Flush()
}
