// File: loop/decoder.go
// License: Apache-2.0

package loop

import "github.com/Community-of-Gia-Lai-Team/evio/streambuf"

// Decoder frames and consumes the byte stream of an input device. Both
// methods run on the worker that drained the fd, one invocation at a time
// per device.
type Decoder interface {
	// EndOfMsgFinder returns the total length of the first complete message
	// beginning at the current read cursor, given the freshly read bytes, or
	// zero when no complete message is buffered yet.
	EndOfMsgFinder(newData []byte) int

	// Decode consumes one complete message. The view is only valid during
	// the call; use msg.Clone to keep the bytes alive.
	Decode(msg streambuf.MsgBlock) error
}
