// File: loop/input.go
// License: Apache-2.0
//
// The read side of a device: drain the kernel until EAGAIN into the input
// buffer, then hand every complete message to the decoder. On the worker
// that runs readEvent the input buffer is accessed as both producer (the
// read syscall) and consumer (the decoder), so no other thread may touch it
// while an input event is in flight; the processing bitmask enforces that.

package loop

import (
	"golang.org/x/sys/unix"

	"github.com/Community-of-Gia-Lai-Team/evio/api"
	"github.com/Community-of-Gia-Lai-Team/evio/streambuf"
)

// readEvent drains fd until EAGAIN, copying into the input buffer and
// decoding complete messages. Runs on a pool worker, at most once at a time
// per device.
func (fd *FileDescriptor) readEvent() {
	in := fd.in
	if in == nil {
		return // spurious readiness on a write-only device
	}
	for {
		view, err := in.dev.WriteView()
		if err != nil {
			// The buffer is full. Stop reading. For a link buffer the
			// output device's writeEvent restarts the device once the
			// buffer drained below the watermark; a decoder-bound input is
			// not restarted by the decoder path.
			fd.StopInput()
			return
		}

		var n int
		for {
			n, err = unix.Read(fd.fd, view)
			if err != unix.EINTR {
				break
			}
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			fd.readError(&api.IOError{Op: "read", Err: err})
			return
		}
		if n == 0 {
			fd.readReturnedZero()
			return
		}

		in.dev.Commit(n)
		// From here on this worker is the consumer thread.
		if fd.dataReceived(view[:n]) {
			return // closed underneath us
		}
		if !fd.isReadable() {
			return
		}
	}
}

// dataReceived walks the freshly read bytes, calling the decoder's
// end-of-message finder and feeding each complete message to decode.
// A message that straddles block boundaries is rematerialized into a fresh
// single block so the decoder always sees contiguous memory. Reports whether
// the input direction went away while decoding.
func (fd *FileDescriptor) dataReceived(newData []byte) bool {
	in := fd.in
	user := in.user
	buf := in.buf
	rlen := len(newData)

	for rlen > 0 {
		msgTail := in.decoder.EndOfMsgFinder(newData)
		if msgTail <= 0 {
			break // the rest is not a complete message
		}
		// The message starts at the read cursor; everything buffered up to
		// the end of the found sequence belongs to it.
		msgLen := int(buf.DataSize()) - rlen + msgTail

		if user.IsContiguous(msgLen) {
			msg := streambuf.NewMsgBlock(user.MsgView(msgLen), user.Block())
			fd.decodeMsg(msg)
			user.Consume(msgLen)
		} else {
			blockSize := buf.MinimumBlockSize()
			if msgLen > blockSize {
				blockSize = streambuf.MallocSize(msgLen)
			}
			mb := streambuf.NewMemoryBlock(blockSize)
			user.ReadBytes(mb.Bytes()[:msgLen])
			msg := streambuf.NewMsgBlock(mb.Bytes()[:msgLen], mb)
			fd.decodeMsg(msg)
			mb.Release()
		}

		buf.ReduceBufferIfEmpty()
		if !fd.isReadable() {
			return true
		}
		rlen -= msgTail
		newData = newData[msgTail:]
	}
	return false
}

func (fd *FileDescriptor) decodeMsg(msg streambuf.MsgBlock) {
	err := fd.in.decoder.Decode(msg)
	msg.Release()
	if err != nil {
		fd.readError(err)
	}
}

// readReturnedZero handles EOF: the read direction is closed.
func (fd *FileDescriptor) readReturnedZero() {
	fd.log.Debug("read returned zero, closing input")
	fd.CloseInput()
}

// readError reports a read-side failure and closes the input direction.
func (fd *FileDescriptor) readError(err error) {
	if fd.onReadError != nil {
		fd.onReadError(fd, err)
	} else {
		fd.log.WithError(err).Error("read error")
	}
	fd.CloseInput()
}

// StartInputDevice implements streambuf.InputDevice: the consumer side
// restarts a device that stopped on a full buffer.
func (fd *FileDescriptor) StartInputDevice() { fd.StartInput() }
