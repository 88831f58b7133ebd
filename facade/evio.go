// File: facade/evio.go
// Package facade aggregates the library's components behind a single root
// object: the worker pool, the dispatcher and the metrics registry are
// constructed from one Config and share a lifecycle. Construct one EventLoop
// at the start of the program and call Terminate before returning from main.
// License: Apache-2.0

package facade

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/Community-of-Gia-Lai-Team/evio/control"
	"github.com/Community-of-Gia-Lai-Team/evio/loop"
	"github.com/Community-of-Gia-Lai-Team/evio/pool"
)

// EventLoop is the root object of the library.
type EventLoop struct {
	cfg     *Config
	log     *logrus.Logger
	queue   *pool.TaskQueue
	exec    *pool.Executor
	disp    *loop.Dispatcher
	metrics *control.MetricsRegistry
}

// New builds and starts an event loop from cfg. A nil cfg uses the defaults.
func New(cfg *Config) (*EventLoop, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	q := pool.NewTaskQueue(cfg.QueueCapacity)
	exec := pool.NewExecutor(cfg.NumWorkers, q)
	disp, err := loop.NewDispatcher(q, unix.Signal(cfg.WakeupSignal), log)
	if err != nil {
		exec.Close()
		return nil, err
	}

	var src control.Sources
	if cfg.EnableMetrics {
		src = control.Sources{
			ActiveDevices:  disp.ActiveCount,
			QueuedTasks:    q.Length,
			Workers:        exec.NumWorkers,
			GarbagePending: disp.QueuedGarbage,
		}
	}
	e := &EventLoop{
		cfg:     cfg,
		log:     log,
		queue:   q,
		exec:    exec,
		disp:    disp,
		metrics: control.NewMetricsRegistry(src),
	}
	disp.Start()
	return e, nil
}

// Dispatcher returns the event-loop dispatcher, for device creation.
func (e *EventLoop) Dispatcher() *loop.Dispatcher { return e.disp }

// Executor returns the worker pool.
func (e *EventLoop) Executor() *pool.Executor { return e.exec }

// Metrics returns the runtime metrics registry.
func (e *EventLoop) Metrics() *control.MetricsRegistry { return e.metrics }

// Logger returns the shared logger.
func (e *EventLoop) Logger() *logrus.Logger { return e.log }

// Terminate shuts the loop down. A clean terminate waits until the last
// active device is gone; a forced one stops the dispatcher at the next
// wakeup. The worker pool is drained afterwards.
func (e *EventLoop) Terminate(clean bool) {
	e.disp.Terminate(clean)
	e.exec.Close()
}
