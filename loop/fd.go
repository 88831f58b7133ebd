// File: loop/fd.go
// License: Apache-2.0
//
// FileDescriptor is the device: per-fd state, an owning reference count, the
// buffer bindings and the readiness callbacks the dispatcher fans out to the
// worker pool. The state lock serializes enable/disable/close; it is held
// only for brief flag transitions and the poller calls, never across device
// I/O.

package loop

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/Community-of-Gia-Lai-Team/evio/api"
	"github.com/Community-of-Gia-Lai-Team/evio/streambuf"
)

// Decoder-facing buffer defaults.
const (
	defaultInputBlockSize = 512
	unlimited             = int(^uint(0) >> 1)
)

type inputState struct {
	buf     *streambuf.StreamBuf
	dev     streambuf.Producer // filled by read syscalls on workers
	user    streambuf.Consumer // drained by the decoder on the same worker
	decoder Decoder
}

type outputState struct {
	buf  *streambuf.StreamBuf
	user streambuf.Producer // filled by the application
	dev  streambuf.Consumer // drained by write syscalls on workers
}

// FileDescriptor wraps one fd registered with the dispatcher.
type FileDescriptor struct {
	disp *Dispatcher
	fd   int
	log  *logrus.Entry

	mu    sync.Mutex // state lock
	flags deviceFlags

	refs       atomic.Int32  // owning reference count
	processing atomic.Uint32 // event bits currently handled by a worker
	gnext      *FileDescriptor

	in  *inputState
	out *outputState

	onClosed     func(*FileDescriptor)
	onHup        func(*FileDescriptor)
	onExc        func(*FileDescriptor)
	onReadError  func(*FileDescriptor, error)
	onWriteError func(*FileDescriptor, error)
}

// DeviceOption configures a device created by Dispatcher.NewDevice.
type DeviceOption func(*FileDescriptor)

// WithDecoder attaches a decoder and an input buffer with the decoder
// defaults: a 512 byte minimum block, a watermark of eight blocks and no
// allocation limit.
func WithDecoder(dec Decoder) DeviceOption {
	return WithDecoderBuffer(dec, defaultInputBlockSize, 8*defaultInputBlockSize, unlimited)
}

// WithDecoderBuffer attaches a decoder and an input buffer with explicit
// sizing.
func WithDecoderBuffer(dec Decoder, minBlockSize, watermark, maxAlloc int) DeviceOption {
	return func(fd *FileDescriptor) {
		buf := streambuf.New(minBlockSize, watermark, maxAlloc)
		fd.in = &inputState{
			buf:     buf,
			dev:     buf.WriteEnd(),
			user:    buf.ReadEnd(),
			decoder: dec,
		}
		fd.flags.set(fdsInput)
	}
}

// WithOutputBuffer attaches an output buffer; its write end is returned by
// OutputBuffer.
func WithOutputBuffer(minBlockSize, watermark, maxAlloc int) DeviceOption {
	return func(fd *FileDescriptor) {
		buf := streambuf.New(minBlockSize, watermark, maxAlloc)
		fd.out = &outputState{
			buf:  buf,
			user: buf.WriteEnd(),
			dev:  buf.ReadEnd(),
		}
		fd.flags.set(fdsOutput)
	}
}

// WithClosed registers the callback fired once no open direction remains.
func WithClosed(fn func(*FileDescriptor)) DeviceOption {
	return func(fd *FileDescriptor) { fd.onClosed = fn }
}

// WithReadError registers the read-side error callback. The default logs and
// closes the input direction.
func WithReadError(fn func(*FileDescriptor, error)) DeviceOption {
	return func(fd *FileDescriptor) { fd.onReadError = fn }
}

// WithWriteError registers the write-side error callback.
func WithWriteError(fn func(*FileDescriptor, error)) DeviceOption {
	return func(fd *FileDescriptor) { fd.onWriteError = fn }
}

// WithHup and WithExceptional register the corresponding event callbacks;
// after either fires the fd is closed.
func WithHup(fn func(*FileDescriptor)) DeviceOption {
	return func(fd *FileDescriptor) { fd.onHup = fn }
}

func WithExceptional(fn func(*FileDescriptor)) DeviceOption {
	return func(fd *FileDescriptor) { fd.onExc = fn }
}

// Inferior marks the device as not counting toward the active-fd tally, for
// subordinate fds whose lifetime is driven by a parent.
func Inferior() DeviceOption {
	return func(fd *FileDescriptor) { fd.flags.set(fdsInferior) }
}

// DontClose leaves fd ownership with the caller; Close* removes interest but
// never closes the fd itself.
func DontClose() DeviceOption {
	return func(fd *FileDescriptor) { fd.flags.set(fdsDontClose) }
}

// NewDevice creates a device owned by the caller: the returned pointer holds
// one owning reference, released with Release. The device becomes usable
// after Init.
func (d *Dispatcher) NewDevice(opts ...DeviceOption) *FileDescriptor {
	fd := &FileDescriptor{disp: d, fd: -1, log: d.log}
	fd.refs.Store(1)
	for _, opt := range opts {
		opt(fd)
	}
	return fd
}

// Fd returns the wrapped file descriptor.
func (fd *FileDescriptor) Fd() int { return fd.fd }

// InputBuffer returns the decoder-facing read end of the input buffer.
func (fd *FileDescriptor) InputBuffer() streambuf.Consumer { return fd.in.user }

// OutputBuffer returns the application-facing write end of the output
// buffer.
func (fd *FileDescriptor) OutputBuffer() streambuf.Producer { return fd.out.user }

// Init validates rawFd, makes it non-blocking, resets the device state and
// binds the attached buffers. Must be called with a valid, open fd before
// any Start call.
func (fd *FileDescriptor) Init(rawFd int) error {
	if _, err := unix.FcntlInt(uintptr(rawFd), unix.F_GETFL, 0); err != nil {
		return api.ErrInvalidFd
	}
	if rawFd <= 2 {
		fd.log.WithField("fd", rawFd).Warn(
			"making a standard stream non-blocking causes erratic write failures on all of them")
	}
	if err := unix.SetNonblock(rawFd, true); err != nil {
		return &api.IOError{Op: "fcntl", Err: err}
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.flags.reset()
	fd.fd = rawFd
	fd.log = fd.disp.log.WithField("fd", rawFd)

	var st unix.Stat_t
	if err := unix.Fstat(rawFd, &st); err == nil && st.Mode&unix.S_IFMT == unix.S_IFREG {
		fd.flags.set(fdsRegularFile)
	}
	if fd.in != nil {
		fd.flags.set(fdsROpen)
		fd.in.buf.SetInputDevice(fd)
	}
	if fd.out != nil {
		fd.flags.set(fdsWOpen)
		fd.out.buf.SetOutputDevice(fd)
	}
	if fd.in != nil && fd.out != nil {
		fd.flags.set(fdsSameFd)
	}
	return nil
}

//
// Owning reference count. The event loop holds one reference for each
// direction registered with the poller; every in-flight worker closure holds
// one; the last release
// pushes the device on the garbage list so destruction never runs on a
// worker.
//

func (fd *FileDescriptor) inhibitDeletion() { fd.refs.Add(1) }

func (fd *FileDescriptor) allowDeletion(n int32) {
	if n > 0 && fd.refs.Add(-n) == 0 {
		fd.disp.garbage.push(fd)
	}
}

// Release drops the caller's owning reference.
func (fd *FileDescriptor) Release() { fd.allowDeletion(1) }

// destruct runs on the event thread after the last reference is gone.
func (fd *FileDescriptor) destruct() {
	if fd.in != nil {
		fd.in.buf.ReleaseDevice()
	}
	if fd.out != nil {
		fd.out.buf.ReleaseDevice()
	}
}

//
// Worker dispatch bookkeeping.
//

// testAndSetProcessing atomically claims event bits for a worker and returns
// the bits that were already claimed. This is what keeps a second poller
// iteration from double-dispatching a direction that a worker is still
// draining.
func (fd *FileDescriptor) testAndSetProcessing(mask uint32) uint32 {
	for {
		old := fd.processing.Load()
		if fd.processing.CompareAndSwap(old, old|mask) {
			return old & mask
		}
	}
}

func (fd *FileDescriptor) clearProcessing(mask uint32) {
	for {
		old := fd.processing.Load()
		if fd.processing.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

//
// Enable / disable / close. All take the state lock.
//

// StartInput registers read interest.
func (fd *FileDescriptor) StartInput() {
	fd.mu.Lock()
	fd.disp.start(fd, dirRead)
	fd.mu.Unlock()
}

// StartOutput registers write interest.
func (fd *FileDescriptor) StartOutput() {
	fd.mu.Lock()
	fd.disp.start(fd, dirWrite)
	fd.mu.Unlock()
}

// StartInputIf registers read interest if cond still holds under the state
// lock.
func (fd *FileDescriptor) StartInputIf(cond api.FuzzyCondition) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.disp.startIf(fd, cond, dirRead)
}

// StartOutputIf registers write interest if cond still holds under the
// state lock.
func (fd *FileDescriptor) StartOutputIf(cond api.FuzzyCondition) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.disp.startIf(fd, cond, dirWrite)
}

// StopInput drops read interest; the fd stays registered with the poller
// because restarting is cheap.
func (fd *FileDescriptor) StopInput() {
	fd.mu.Lock()
	fd.disp.stop(fd, dirRead)
	fd.mu.Unlock()
}

// StopOutput drops write interest.
func (fd *FileDescriptor) StopOutput() {
	fd.mu.Lock()
	fd.disp.stop(fd, dirWrite)
	fd.mu.Unlock()
}

// StopInputIf drops read interest if cond still holds under the state lock.
func (fd *FileDescriptor) StopInputIf(cond api.FuzzyCondition) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.disp.stopIf(fd, cond, dirRead)
}

// StopOutputIf drops write interest if cond still holds under the state
// lock.
func (fd *FileDescriptor) StopOutputIf(cond api.FuzzyCondition) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.disp.stopIf(fd, cond, dirWrite)
}

// DisableInput stops the input direction until EnableInput.
func (fd *FileDescriptor) DisableInput() {
	fd.mu.Lock()
	if fd.flags.testAndSet(fdsRDisabled) {
		fd.disp.stop(fd, dirRead)
	}
	fd.mu.Unlock()
}

// EnableInput re-enables and, when the direction is still open, restarts it.
func (fd *FileDescriptor) EnableInput() {
	fd.mu.Lock()
	if fd.flags.testAndClear(fdsRDisabled) && fd.flags.test(fdsROpen) {
		fd.disp.start(fd, dirRead)
	}
	fd.mu.Unlock()
}

// DisableOutput stops the output direction until EnableOutput.
func (fd *FileDescriptor) DisableOutput() {
	fd.mu.Lock()
	if fd.flags.testAndSet(fdsWDisabled) {
		fd.disp.stop(fd, dirWrite)
	}
	fd.mu.Unlock()
}

// EnableOutput re-enables and, when the direction is still open, restarts
// it.
func (fd *FileDescriptor) EnableOutput() {
	fd.mu.Lock()
	if fd.flags.testAndClear(fdsWDisabled) && fd.flags.test(fdsWOpen) {
		fd.disp.start(fd, dirWrite)
	}
	fd.mu.Unlock()
}

// CloseInput removes the read direction. The fd itself is closed unless the
// write direction still shares it.
func (fd *FileDescriptor) CloseInput() { fd.closeDirection(dirRead) }

// CloseOutput removes the write direction.
func (fd *FileDescriptor) CloseOutput() { fd.closeDirection(dirWrite) }

// Close removes both directions.
func (fd *FileDescriptor) Close() {
	fd.closeDirection(dirRead)
	fd.closeDirection(dirWrite)
}

func (fd *FileDescriptor) closeDirection(dir direction) {
	deferred := int32(0)
	needClosed := false

	fd.mu.Lock()
	if fd.flags.testAndClear(dir.openFlag()) {
		deferred = fd.disp.remove(fd, dir)
		other := dirRead
		if dir == dirRead {
			other = dirWrite
		}
		stillShared := fd.flags.test(fdsSameFd) && fd.flags.test(other.openFlag())
		if !fd.flags.test(fdsDontClose) && !stillShared {
			if err := unix.Close(fd.fd); err != nil {
				fd.log.WithError(err).Warn("close failed")
			}
		}
		fd.flags.clear(dir.disabledFlag())
		if !fd.flags.test(fdsROpen) && !fd.flags.test(fdsWOpen) {
			fd.flags.set(fdsDead)
			needClosed = true
		}
	}
	fd.mu.Unlock()

	fd.allowDeletion(deferred)
	if needClosed && fd.onClosed != nil {
		fd.onClosed(fd)
	}
}

// IsDead reports whether no open direction remains.
func (fd *FileDescriptor) IsDead() bool { return fd.flags.test(fdsDead) }

func (fd *FileDescriptor) isReadable() bool {
	return fd.flags.test(fdsROpen) && !fd.flags.test(fdsRDisabled)
}

func (fd *FileDescriptor) isWritable() bool {
	return fd.flags.test(fdsWOpen) && !fd.flags.test(fdsWDisabled)
}
