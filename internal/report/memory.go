// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package report

import (
	"os"
	"runtime"
	"sync/atomic"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/voxtime/voxtime/internal/logging"
)

// memoryMonitor samples the process RSS after each batch and decides when
// backpressure cleanup should run. A threshold of zero disables monitoring.
type memoryMonitor struct {
	thresholdMB uint64
	proc        *process.Process
	lastMB      atomic.Uint64
}

func newMemoryMonitor(thresholdMB uint64) *memoryMonitor {
	m := &memoryMonitor{thresholdMB: thresholdMB}
	if thresholdMB == 0 {
		return m
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logging.Warn().Err(err).
			Msg("Process handle unavailable, memory backpressure disabled")
		return m
	}
	m.proc = proc
	return m
}

// overThreshold samples RSS and reports whether it exceeds the threshold.
func (m *memoryMonitor) overThreshold() bool {
	if m.proc == nil {
		return false
	}
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return false
	}
	rssMB := info.RSS / (1 << 20)
	m.lastMB.Store(rssMB)
	return rssMB > m.thresholdMB
}

// cleanup asks the runtime to release memory after stale operation contexts
// were dropped.
func (m *memoryMonitor) cleanup() {
	runtime.GC()
}

// lastRSSMB returns the most recent RSS sample.
func (m *memoryMonitor) lastRSSMB() uint64 {
	return m.lastMB.Load()
}
