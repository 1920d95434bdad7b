/*
Package core constants that are not specific to a single component but are shared across the core logic.
This file centralizes various configurable parameters related to memory management, scheduling behavior,
input handling defaults, disk I/O, and observability.

These constants are intended to provide sensible defaults and can be tuned for different performance profiles
or operational environments. They are distinct from the very fundamental constants defined in common.go
(like worker multipliers or base retry delays) and focus more on higher-level application behavior settings.
*/
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
	"time"
)

// Application-wide constants for tuning performance and behavior.
const (
	// --- Memory ---

	// MaxWorkers defines the absolute upper limit on the number of concurrent worker goroutines
	// that the scheduler will create. This acts as a safeguard regardless of CPU core count or multipliers.
	MaxWorkers = 2048

	// CacheLineSize is a common CPU cache line size in bytes. It's used as a guideline for padding
	// in data structures to help prevent false sharing when multiple CPU cores access adjacent memory locations.
	CacheLineSize = 64

	// DefaultDiskBufferSize is the default size for buffered writers used for disk I/O.
	// Larger buffers trade memory for fewer write syscalls.
	DefaultDiskBufferSize = 256 * 1024 // 256KB

	// --- Scheduling ---

	// DefaultRatePerSec is the per-worker submission rate applied when the caller
	// does not configure one. Enumeration is pure CPU work, so the default is
	// deliberately high; the knob exists for machines shared with other loads.
	DefaultRatePerSec = 1000

	// SubmitRetryLimit is the maximum number of times a work item submission is
	// retried when the target worker's queue is full (ErrQueueFull). Retrying the
	// submission, not the audit itself. Delays between attempts grow from
	// RetryBaseDelay by RetryBackoffMultiplier up to RetryMaxDelay.
	SubmitRetryLimit = 15

	// --- Input ---

	// MaxDomainLength is the longest accepted input domain in bytes, per RFC 1035
	// presentation format.
	MaxDomainLength = 253

	// MaxLabelLength is the longest accepted label between dots.
	MaxLabelLength = 63

	// --- Disk I/O ---

	// OutputFlushInterval is how often the stdout writer and any open output
	// buffers are flushed while a run is in progress, so partial results are
	// visible during long audits.
	OutputFlushInterval = 2 * time.Second

	// --- Observability ---

	// StatsDisplayInterval specifies how frequently the in-place progress line
	// is refreshed when statistics display is enabled.
	StatsDisplayInterval = 2 * time.Second
)
