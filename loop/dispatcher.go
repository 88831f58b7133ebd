// File: loop/dispatcher.go
// License: Apache-2.0
//
// The Dispatcher is the event loop: one goroutine, locked to its OS thread,
// around an edge-triggered readiness wait. Ready events are claimed through
// the device's processing bitmask and handed to the worker pool; devices
// whose last reference dropped are destructed from the garbage list between
// iterations. Shutdown is a tri-state: a clean terminate keeps the loop
// running until the last active fd is gone, a forced terminate stops it at
// the next wakeup.

package loop

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/Community-of-Gia-Lai-Team/evio/api"
	"github.com/Community-of-Gia-Lai-Team/evio/pool"
	"github.com/Community-of-Gia-Lai-Team/evio/reactor"
)

const maxEvents = 256

// Terminate states.
const (
	terminateNotYet int32 = iota
	terminateCleanly
	terminateForced
)

// Dispatcher owns the poll fd, the event thread and the set of registered
// devices. Construct one per process, start it, and terminate it before
// returning from main.
type Dispatcher struct {
	log     *logrus.Entry
	reactor *reactor.Reactor
	queue   *pool.TaskQueue
	signum  unix.Signal

	devices sync.Map // fd -> *FileDescriptor; the event cookie table

	terminate   atomic.Int32
	stopRunning atomic.Bool
	active      atomic.Int32 // active directions of non-inferior devices
	running     atomic.Bool
	tid         atomic.Int32 // event thread id, for the wakeup signal

	garbage garbageList

	started chan struct{}
	done    chan struct{}
	sigCh   chan os.Signal
}

// NewDispatcher creates the dispatcher around the given worker queue and
// wakeup signal.
func NewDispatcher(q *pool.TaskQueue, signum unix.Signal, logger *logrus.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r, err := reactor.New()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		log:     logger.WithField("component", "dispatcher"),
		reactor: r,
		queue:   q,
		signum:  signum,
		started: make(chan struct{}),
		done:    make(chan struct{}),
		sigCh:   make(chan os.Signal, 1),
	}, nil
}

// Start launches the event thread and returns once it is running.
func (d *Dispatcher) Start() {
	go d.main()
	<-d.started
}

// Running reports whether the event thread is inside its loop.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// ActiveCount returns the number of active directions of non-inferior
// devices; a device with both input and output active counts twice.
func (d *Dispatcher) ActiveCount() int { return int(d.active.Load()) }

// QueuedGarbage reports whether devices await destruction.
func (d *Dispatcher) QueuedGarbage() bool { return !d.garbage.empty() }

// wakeupCheck is the wakeup handler's predicate: stop the loop iff a forced
// terminate is pending, or a clean one and no active device remains. Go
// cannot run user code in a signal handler, so the predicate runs in WakeUp
// before the signal is sent and again when the wait returns EINTR.
func (d *Dispatcher) wakeupCheck() {
	t := d.terminate.Load()
	if t == terminateForced || (t == terminateCleanly && d.active.Load() == 0) {
		d.stopRunning.Store(true)
	}
}

// WakeUp interrupts the readiness wait.
func (d *Dispatcher) WakeUp() {
	d.wakeupCheck()
	tid := d.tid.Load()
	if tid == 0 {
		d.log.Warn("wake_up without a running event thread; was the dispatcher started?")
		return
	}
	_ = unix.Tgkill(unix.Getpid(), int(tid), d.signum)
}

func (d *Dispatcher) bumpTerminate() {
	if d.terminate.Load() != terminateNotYet {
		d.WakeUp()
	}
}

// Terminate asks the loop to stop: cleanly waits for the last active device,
// forced stops at the next wakeup. Blocks until the event thread exited.
// Registering devices after a clean terminate is a contract violation.
func (d *Dispatcher) Terminate(clean bool) {
	if clean {
		d.terminate.Store(terminateCleanly)
	} else {
		d.terminate.Store(terminateForced)
	}
	d.bumpTerminate()
	<-d.done
}

// main is the event thread.
func (d *Dispatcher) main() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d.tid.Store(int32(unix.Gettid()))

	// Install the runtime handler so delivery interrupts instead of killing
	// the process, then block the signal on this thread; it is unmasked only
	// for the duration of the readiness wait.
	signal.Notify(d.sigCh, d.signum)
	var blockSet, pwaitMask unix.Sigset_t
	sigaddset(&blockSet, d.signum)
	_ = unix.PthreadSigmask(unix.SIG_BLOCK, &blockSet, &pwaitMask)
	sigdelset(&pwaitMask, d.signum)

	d.stopRunning.Store(false)
	d.running.Store(true)
	close(d.started)

	events := make([]unix.EpollEvent, maxEvents)
	for !d.stopRunning.Load() {
		nfds := -1
		for {
			// While the signal is blocked, deal with a pending wakeup.
			if d.stopRunning.Load() {
				d.garbage.drain()
				break
			}
			n, err := d.reactor.Pwait(events, &pwaitMask)
			if err == unix.EINTR {
				d.wakeupCheck()
				continue
			}
			if err != nil {
				d.log.WithError(err).Error("readiness wait failed")
				d.stopRunning.Store(true)
				break
			}
			nfds = n
			break
		}

		for nfds > 0 {
			nfds--
			d.handleEvent(&events[nfds])
		}
		d.garbage.drain()
	}

	d.running.Store(false)
	d.tid.Store(0)
	signal.Stop(d.sigCh)
	if err := d.reactor.Close(); err != nil {
		d.log.WithError(err).Warn("closing poll fd failed")
	}
	d.terminate.Store(terminateNotYet)
	close(d.done)
}

// handleEvent claims the event bits on the device and queues the worker
// closure. Bits already being processed by a worker are dropped; the edge
// will be re-observed because the handler drains until EAGAIN.
func (d *Dispatcher) handleEvent(ev *unix.EpollEvent) {
	v, ok := d.devices.Load(int(ev.Fd))
	if !ok {
		return // removed while the event was in flight
	}
	dev := v.(*FileDescriptor)

	mask := ev.Events & (unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR)
	already := dev.testAndSetProcessing(mask)
	mask &^= already
	if mask == 0 {
		return
	}

	dev.inhibitDeletion()
	d.enqueue(func() {
		if mask&^uint32(unix.EPOLLIN|unix.EPOLLOUT) != 0 {
			if mask&unix.EPOLLHUP != 0 {
				dev.hupEvent()
				dev.Close() // leaving it alive would cause a flood of events
				dev.clearProcessing(unix.EPOLLHUP)
			} else if mask&unix.EPOLLERR != 0 {
				dev.exceptionalEvent()
				dev.clearProcessing(unix.EPOLLERR)
			}
		} else {
			if mask&unix.EPOLLIN != 0 {
				dev.readEvent()
				dev.clearProcessing(unix.EPOLLIN)
			}
			if mask&unix.EPOLLOUT != 0 {
				dev.writeEvent()
				dev.clearProcessing(unix.EPOLLOUT)
			}
		}
		dev.allowDeletion(1)
	})
}

// enqueue moves a closure into the worker queue, blocking on the producer
// condition while the queue is at capacity. This is the only place the
// dispatcher blocks outside the readiness wait.
func (d *Dispatcher) enqueue(t pool.Task) {
	acc := d.queue.ProducerAccess()
	wasFull := false
	for acc.Length() == acc.Capacity() {
		if !wasFull {
			d.log.Warn("worker queue is full; pausing event dispatch")
			wasFull = true
		}
		acc.Wait()
	}
	if wasFull {
		d.log.Info("worker queue has room again; resuming event dispatch")
	}
	acc.MoveIn(t)
	acc.Release()
	d.queue.NotifyOne()
}

//
// Device interest management. All of these run under the device state lock.
//

func (d *Dispatcher) start(dev *FileDescriptor, dir direction) {
	if !dev.flags.test(dir.openFlag()) {
		d.log.WithField("fd", dev.fd).Warnf("start of a closed %s direction", dir)
		return
	}
	if dev.flags.test(dir.disabledFlag()) {
		d.log.WithField("fd", dev.fd).Warnf("start of a disabled %s device", dir)
		return
	}
	if !dev.flags.testAndSet(dir.activeFlag()) {
		return // already active
	}
	d.activate(dev, dir)
}

// startIf re-tests a fuzzy condition inside the state lock before enabling.
// The caller guarantees the sampled value is momentary or transitory true; a
// transitory false means two producers raced, which is a programming bug.
func (d *Dispatcher) startIf(dev *FileDescriptor, cond api.FuzzyCondition, dir direction) bool {
	if cond.Sampled().IsFalse() {
		d.log.WithField("fd", dev.fd).Warnf("start_if(%s) with a condition that cannot hold", dir)
		return false
	}
	if cond.Sampled().IsTransitoryFalse() {
		api.Abort("start_if with a transitory false condition: two producers are racing")
	}
	if !dev.flags.test(dir.openFlag()) {
		return true // closed while the caller was deciding
	}
	if dev.flags.test(dir.disabledFlag()) {
		d.log.WithField("fd", dev.fd).Warnf("start_if of a disabled %s device", dir)
		return true
	}
	if !dev.flags.testAndSet(dir.activeFlag()) {
		return true // already active
	}
	if cond.Sampled().IsTransitoryTrue() && cond.Recheck().IsMomentaryFalse() {
		dev.flags.clear(dir.activeFlag())
		return false
	}
	d.activate(dev, dir)
	return true
}

// activate finishes a start: bump the active tally, then register or re-arm
// interest; regular files bypass the poller and go straight to a worker.
func (d *Dispatcher) activate(dev *FileDescriptor, dir direction) {
	needsAdding := !dev.flags.test(dir.addedFlag())
	wasRegistered := dev.flags.test(fdsRAdded | fdsWAdded)
	if needsAdding {
		dev.flags.set(dir.addedFlag())
	}
	if !dev.flags.test(fdsInferior) {
		d.active.Add(1)
	}
	if dev.flags.test(fdsRegularFile) {
		d.handleRegularFile(dev, dir)
		return
	}
	if needsAdding {
		// The reference is lent to the poller until the direction is
		// removed.
		dev.inhibitDeletion()
	}
	events := dev.epollEvents()
	var err error
	if wasRegistered {
		err = d.reactor.Modify(dev.fd, events)
	} else {
		d.devices.Store(dev.fd, dev)
		err = d.reactor.Add(dev.fd, events)
	}
	if err != nil {
		d.log.WithField("fd", dev.fd).WithError(err).Error("poller registration failed")
	}
}

func (d *Dispatcher) stop(dev *FileDescriptor, dir direction) {
	if !dev.flags.testAndClear(dir.activeFlag()) {
		return // already inactive
	}
	d.stopWatching(dev)
	d.deactivate(dev)
}

// stopWatching drops the interest bit of a stopped direction. The fd stays
// registered; restarting is a cheap modify.
func (d *Dispatcher) stopWatching(dev *FileDescriptor) {
	if dev.flags.test(fdsRegularFile) || !dev.flags.test(fdsRAdded|fdsWAdded) {
		return
	}
	if err := d.reactor.Modify(dev.fd, dev.epollEvents()); err != nil {
		d.log.WithField("fd", dev.fd).WithError(err).Warn("poller update failed")
	}
}

func (d *Dispatcher) stopIf(dev *FileDescriptor, cond api.FuzzyCondition, dir direction) bool {
	if cond.Sampled().IsFalse() {
		d.log.WithField("fd", dev.fd).Warnf("stop_if(%s) with a condition that cannot hold", dir)
		return false
	}
	if cond.Sampled().IsTransitoryFalse() {
		api.Abort("stop_if with a transitory false condition: two producers are racing")
	}
	if !dev.flags.testAndClear(dir.activeFlag()) {
		return true // already inactive
	}
	if cond.Sampled().IsTransitoryTrue() && cond.Recheck().IsMomentaryFalse() {
		dev.flags.set(dir.activeFlag())
		return false
	}
	d.stopWatching(dev)
	d.deactivate(dev)
	return true
}

func (d *Dispatcher) deactivate(dev *FileDescriptor) {
	if !dev.flags.test(fdsInferior) {
		if d.active.Add(-1) == 0 {
			d.bumpTerminate()
		}
	}
}

// remove clears a direction completely: interest, registration and, when it
// was the last registered direction, the poller's device entry. Returns the
// number of references the caller must release after dropping the state
// lock.
func (d *Dispatcher) remove(dev *FileDescriptor, dir direction) int32 {
	var deferred int32
	wasAdded := dev.flags.testAndClear(dir.addedFlag())
	clearedActive := dev.flags.testAndClear(dir.activeFlag())

	if wasAdded && !dev.flags.test(fdsRegularFile) {
		deferred++ // the reference lent to the poller comes back
		if dev.flags.test(fdsRAdded | fdsWAdded) {
			if err := d.reactor.Modify(dev.fd, dev.epollEvents()); err != nil {
				d.log.WithField("fd", dev.fd).WithError(err).Warn("poller update failed")
			}
		} else {
			d.devices.Delete(dev.fd)
			if err := d.reactor.Delete(dev.fd); err != nil {
				d.log.WithField("fd", dev.fd).WithError(err).Warn("poller removal failed")
			}
		}
	}
	if clearedActive {
		d.deactivate(dev)
	}
	return deferred
}

// handleRegularFile bypasses the poller: regular files are always ready, so
// the I/O closure goes straight to the worker pool.
func (d *Dispatcher) handleRegularFile(dev *FileDescriptor, dir direction) {
	dev.inhibitDeletion()
	if dir == dirRead {
		d.enqueue(func() {
			dev.readEvent()
			dev.allowDeletion(1)
		})
	} else {
		d.enqueue(func() {
			dev.writeEvent()
			dev.allowDeletion(1)
		})
	}
}
