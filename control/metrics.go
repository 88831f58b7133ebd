// File: control/metrics.go
// Package control exposes runtime metrics of the event loop for system-level
// monitoring. The registry does not store free-form key/value pairs; it
// samples the live components through typed reader functions, so a snapshot
// is always a consistent, domain-shaped view of the loop.
// License: Apache-2.0

package control

import (
	"sync"
	"time"
)

// LoopStats is a point-in-time view of the event loop runtime.
type LoopStats struct {
	ActiveDevices  int       // active read or write directions of non-inferior devices
	QueuedTasks    int       // closures waiting in the worker queue
	Workers        int       // worker goroutines draining the queue
	GarbagePending bool      // devices awaiting destruction on the event thread
	Taken          time.Time // when the snapshot was taken
}

// Sources are the live readers a registry samples. A nil reader reports the
// zero value, so components can be wired piecemeal.
type Sources struct {
	ActiveDevices  func() int
	QueuedTasks    func() int
	Workers        func() int
	GarbagePending func() bool
}

// MetricsRegistry samples the event loop on demand and remembers the last
// snapshot.
type MetricsRegistry struct {
	mu   sync.Mutex
	src  Sources
	last LoopStats
}

// NewMetricsRegistry creates a registry over the given readers.
func NewMetricsRegistry(src Sources) *MetricsRegistry {
	return &MetricsRegistry{src: src}
}

// Snapshot reads every source once, under the registry lock so concurrent
// callers each get an internally consistent sample.
func (mr *MetricsRegistry) Snapshot() LoopStats {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	s := LoopStats{Taken: time.Now()}
	if f := mr.src.ActiveDevices; f != nil {
		s.ActiveDevices = f()
	}
	if f := mr.src.QueuedTasks; f != nil {
		s.QueuedTasks = f()
	}
	if f := mr.src.Workers; f != nil {
		s.Workers = f()
	}
	if f := mr.src.GarbagePending; f != nil {
		s.GarbagePending = f()
	}
	mr.last = s
	return s
}

// Last returns the most recent snapshot without resampling.
func (mr *MetricsRegistry) Last() LoopStats {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.last
}
