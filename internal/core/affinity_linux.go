//go:build linux
// +build linux

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
	"log"
	"runtime"

	"golang.org/x/sys/unix"
)

// setAffinity pins the calling goroutine's OS thread to a specific CPU core.
// Goal: Reduce scheduler migrations and keep per-worker caches warm.
// Operation: Best-effort. Failure is logged, not fatal; the worker keeps
// running on whatever core the kernel picks.
func setAffinity(workerID, cpu int) {
	// Lock the goroutine to its current OS thread. The affinity mask applies
	// to the thread, so the goroutine must not migrate off it afterwards.
	// Note: We never call UnlockOSThread; the thread belongs to this worker
	// for the lifetime of the process.
	runtime.LockOSThread()

	var cpuSet unix.CPUSet
	cpuSet.Zero()   // Clear the mask.
	cpuSet.Set(cpu) // Add the target core to the mask.

	// Apply the affinity mask to the current thread (tid 0 means calling thread,
	// but we pass the explicit tid for clarity in strace output).
	tid := unix.Gettid()
	if err := unix.SchedSetaffinity(tid, &cpuSet); err != nil {
		log.Printf("Warning: Failed to set CPU affinity for worker %d to core %d: %v\n", workerID, cpu, err)
	}
}
