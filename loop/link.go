// File: loop/link.go
// License: Apache-2.0
//
// A link buffer splices two devices together: what the input device reads
// goes straight into the output device's buffer. The end-of-message hook of
// the input side is hijacked to start the output device; it frames nothing.

package loop

import (
	"github.com/Community-of-Gia-Lai-Team/evio/streambuf"
)

type linkDecoder struct {
	out *FileDescriptor
}

// EndOfMsgFinder runs on the worker that read the data, the producer of the
// shared buffer; the output device's write worker is its consumer. Starting
// the output device only takes that device's state lock. Must return 0: the
// link frames no messages.
func (l *linkDecoder) EndOfMsgFinder([]byte) int {
	l.out.StartOutput()
	return 0
}

func (l *linkDecoder) Decode(streambuf.MsgBlock) error { return nil }

// WithLink wires the device's input into out's output through one shared
// stream buffer. Apply to the reading device; out must not carry its own
// output buffer and must be initialized after this option is applied.
func WithLink(out *FileDescriptor, minBlockSize, watermark, maxAlloc int) DeviceOption {
	return func(fd *FileDescriptor) {
		buf := streambuf.New(minBlockSize, watermark, maxAlloc)
		fd.in = &inputState{
			buf:     buf,
			dev:     buf.WriteEnd(),
			user:    buf.ReadEnd(),
			decoder: &linkDecoder{out: out},
		}
		fd.flags.set(fdsInput)
		out.out = &outputState{
			buf:  buf,
			user: buf.WriteEnd(),
			dev:  buf.ReadEnd(),
		}
		out.flags.set(fdsOutput)
	}
}
