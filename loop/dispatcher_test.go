// File: loop/dispatcher_test.go
// License: Apache-2.0

//go:build linux

package loop

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Community-of-Gia-Lai-Team/evio/pool"
	"github.com/Community-of-Gia-Lai-Team/evio/streambuf"
)

type liveLoop struct {
	disp *Dispatcher
	exec *pool.Executor
}

func startLiveLoop(t *testing.T) *liveLoop {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	q := pool.NewTaskQueue(64)
	exec := pool.NewExecutor(2, q)
	d, err := NewDispatcher(q, DefaultWakeupSignal, log)
	require.NoError(t, err)
	d.Start()
	require.True(t, d.Running())
	return &liveLoop{disp: d, exec: exec}
}

func (l *liveLoop) stop(clean bool) {
	l.disp.Terminate(clean)
	l.exec.Close()
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

// chunkDecoder treats every read as one complete message and counts bytes.
type chunkDecoder struct {
	received atomic.Int64
}

func (c *chunkDecoder) EndOfMsgFinder(newData []byte) int { return len(newData) }

func (c *chunkDecoder) Decode(msg streambuf.MsgBlock) error {
	c.received.Add(int64(msg.Len()))
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestGracefulShutdown sources 1 MiB through an input device, lets EOF close
// it, and then terminates cleanly: the dispatcher must exit with no active
// devices and all buffer blocks freed.
func TestGracefulShutdown(t *testing.T) {
	l := startLiveLoop(t)
	a, b := socketpair(t)

	dec := &chunkDecoder{}
	dead := make(chan struct{})
	fd := l.disp.NewDevice(
		WithDecoderBuffer(dec, 4096, 1<<30, 1<<30),
		WithClosed(func(*FileDescriptor) { close(dead) }),
	)
	require.NoError(t, fd.Init(a))
	fd.StartInput()
	assert.Equal(t, 1, l.disp.ActiveCount())

	const total = 1 << 20
	go func() {
		payload := bytes.Repeat([]byte("x"), 8192)
		sent := 0
		for sent < total {
			n, err := unix.Write(b, payload)
			if err == unix.EAGAIN {
				time.Sleep(time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			sent += n
		}
		unix.Close(b)
	}()

	waitFor(t, "all bytes received", func() bool { return dec.received.Load() == total })
	<-dead
	waitFor(t, "active count zero", func() bool { return l.disp.ActiveCount() == 0 })

	buf := fd.in.buf
	l.stop(true)
	assert.False(t, l.disp.Running())
	assert.Equal(t, 0, l.disp.ActiveCount())

	fd.Release()
	l.disp.garbage.drain()
	assert.Equal(t, buf.TotalAllocated(), buf.TotalFreed())
}

// TestForcedShutdown terminates with a registered, active device: the
// dispatcher must exit within one wakeup regardless of the active count, and
// the device must still be safely closable afterwards.
func TestForcedShutdown(t *testing.T) {
	l := startLiveLoop(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	dec := &chunkDecoder{}
	fd := l.disp.NewDevice(WithDecoderBuffer(dec, 4096, 1<<30, 1<<30))
	require.NoError(t, fd.Init(a))
	fd.StartInput()
	require.Equal(t, 1, l.disp.ActiveCount())

	done := make(chan struct{})
	go func() {
		l.stop(false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("forced terminate did not stop the dispatcher")
	}
	assert.False(t, l.disp.Running())

	fd.Close()
	fd.Release()
	l.disp.garbage.drain()
	assert.False(t, l.disp.QueuedGarbage())
}

// TestEchoRoundtrip wires a line decoder to the device's own output buffer:
// a full input-to-output round trip through the dispatcher and the worker
// pool.
func TestEchoRoundtrip(t *testing.T) {
	l := startLiveLoop(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	var fd *FileDescriptor
	dec := &echoDecoder{}
	fd = l.disp.NewDevice(
		WithDecoderBuffer(dec, 4096, 1<<20, 1<<30),
		WithOutputBuffer(4096, 1<<20, 1<<30),
	)
	dec.fd = fd
	require.NoError(t, fd.Init(a))
	fd.StartInput()

	_, err := unix.Write(b, []byte("hello\nworld\n"))
	require.NoError(t, err)

	got := make([]byte, 0, 12)
	buf := make([]byte, 64)
	waitFor(t, "echo", func() bool {
		_ = unix.SetNonblock(b, true)
		n, err := unix.Read(b, buf)
		if n > 0 {
			got = append(got, buf[:n]...)
		}
		_ = err
		return len(got) >= 12
	})
	assert.Equal(t, []byte("hello\nworld\n"), got)

	fd.Close()
	fd.Release()
	l.stop(true)
}

type echoDecoder struct {
	fd *FileDescriptor
}

func (e *echoDecoder) EndOfMsgFinder(newData []byte) int {
	if i := bytes.IndexByte(newData, '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

func (e *echoDecoder) Decode(msg streambuf.MsgBlock) error {
	out := e.fd.OutputBuffer()
	if _, err := out.WriteBytes(msg.Bytes()); err != nil {
		return err
	}
	out.Flush()
	return nil
}

// TestCleanTerminateWithIdleLoop exercises the wakeup signal: a clean
// terminate with no devices must interrupt the readiness wait and stop the
// loop.
func TestCleanTerminateWithIdleLoop(t *testing.T) {
	l := startLiveLoop(t)
	done := make(chan struct{})
	go func() {
		l.stop(true)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("clean terminate of an idle loop did not return")
	}
	assert.False(t, l.disp.Running())
}

// TestStopInputSuppressesEvents checks that a stopped direction is not
// dispatched again even though the fd stays registered.
func TestStopInputSuppressesEvents(t *testing.T) {
	l := startLiveLoop(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	dec := &chunkDecoder{}
	fd := l.disp.NewDevice(WithDecoderBuffer(dec, 4096, 1<<30, 1<<30))
	require.NoError(t, fd.Init(a))
	fd.StartInput()

	_, err := unix.Write(b, []byte("first"))
	require.NoError(t, err)
	waitFor(t, "first chunk", func() bool { return dec.received.Load() == 5 })

	fd.StopInput()
	waitFor(t, "active count zero", func() bool { return l.disp.ActiveCount() == 0 })

	// StartInput picks the edge back up: with epoll the level is re-armed by
	// the modify, so buffered data is eventually delivered again.
	_, err = unix.Write(b, []byte("second"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(5), dec.received.Load(), "a stopped direction must not be dispatched")
	fd.StartInput()
	waitFor(t, "second chunk", func() bool { return dec.received.Load() == 11 })

	fd.Close()
	fd.Release()
	l.stop(true)
}
