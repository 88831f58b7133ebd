// File: loop/output.go
// License: Apache-2.0
//
// The write side of a device: drain the output buffer into the fd until
// EAGAIN or the buffer runs empty, in which case write interest is dropped.
// The application is the producer of the output buffer; the worker running
// writeEvent is its consumer.

package loop

import (
	"golang.org/x/sys/unix"

	"github.com/Community-of-Gia-Lai-Team/evio/api"
)

// writeEvent drains the output buffer until EAGAIN or empty. Runs on a pool
// worker, at most once at a time per device.
func (fd *FileDescriptor) writeEvent() {
	out := fd.out
	if out == nil {
		return // spurious readiness on a read-only device
	}
	for {
		view := out.dev.ReadView()
		if len(view) == 0 {
			// Empty is transitory from the consumer side: a producer flush
			// may race with the stop, so the emptiness is re-tested under
			// the state lock. A failed stop means new data arrived.
			cond := api.NewFuzzyCondition(func() api.FuzzyBool { return out.dev.NothingToGet() })
			if cond.Sampled().IsMomentaryTrue() && fd.StopOutputIf(cond) {
				return
			}
			continue // new data raced in; keep draining
		}

		var n int
		var err error
		for {
			n, err = unix.Write(fd.fd, view)
			if err != unix.EINTR {
				break
			}
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			fd.writeError(&api.IOError{Op: "write", Err: err})
			return
		}

		out.dev.Consume(n)
		// Edge-triggered full-to-not-full: restart a linked input device
		// that stopped on a full buffer.
		out.buf.RestartInputDeviceIfNeeded()
		if !fd.isWritable() {
			return
		}
	}
}

// writeError reports a write-side failure and closes the output direction.
func (fd *FileDescriptor) writeError(err error) {
	if fd.onWriteError != nil {
		fd.onWriteError(fd, err)
	} else {
		fd.log.WithError(err).Error("write error")
	}
	fd.CloseOutput()
}

// Flush guarantees the device will attempt a write of everything buffered so
// far. Idempotent; call after writing to the output buffer.
func (fd *FileDescriptor) Flush() { fd.RestartIfNonActive() }

// RestartIfNonActive implements streambuf.OutputDevice: the producer side
// enables write interest when the buffer is non-empty. The emptiness test is
// fuzzy outside the lock and re-evaluated under it.
func (fd *FileDescriptor) RestartIfNonActive() {
	prod := fd.out.user
	cond := api.NewFuzzyCondition(func() api.FuzzyBool { return prod.NothingToGet().Not() })
	if cond.Sampled().IsMomentaryTrue() {
		fd.StartOutputIf(cond)
	}
}

// hupEvent runs the hang-up callback; the dispatcher closes the device right
// after, since leaving it alive would cause a flood of events.
func (fd *FileDescriptor) hupEvent() {
	if fd.onHup != nil {
		fd.onHup(fd)
	} else {
		fd.log.Debug("hup")
	}
}

// exceptionalEvent runs the error-condition callback and closes the device.
func (fd *FileDescriptor) exceptionalEvent() {
	if fd.onExc != nil {
		fd.onExc(fd)
	} else {
		fd.log.Warn("exceptional event")
	}
	fd.Close()
}
