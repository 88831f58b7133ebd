// File: protocol/line.go
// Package protocol provides stock decoders for common wire framings.
// License: Apache-2.0

package protocol

import (
	"bytes"

	"github.com/Community-of-Gia-Lai-Team/evio/streambuf"
)

// LineDecoder frames messages on newline and hands every complete line,
// newline included, to the OnLine callback.
type LineDecoder struct {
	OnLine func(msg streambuf.MsgBlock) error
}

// EndOfMsgFinder returns the length of the string up to and including the
// first newline in the freshly read bytes, or zero.
func (d *LineDecoder) EndOfMsgFinder(newData []byte) int {
	if i := bytes.IndexByte(newData, '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

// Decode consumes one complete line.
func (d *LineDecoder) Decode(msg streambuf.MsgBlock) error {
	if d.OnLine == nil {
		return nil
	}
	return d.OnLine(msg)
}
