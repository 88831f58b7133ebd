// File: protocol/line_test.go
// License: Apache-2.0

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Community-of-Gia-Lai-Team/evio/streambuf"
)

func TestLineDecoderFinder(t *testing.T) {
	d := &LineDecoder{}
	assert.Equal(t, 0, d.EndOfMsgFinder([]byte("no newline yet")))
	assert.Equal(t, 6, d.EndOfMsgFinder([]byte("hello\nworld")))
	assert.Equal(t, 1, d.EndOfMsgFinder([]byte("\n")))
	assert.Equal(t, 0, d.EndOfMsgFinder(nil))
}

func TestLineDecoderDecode(t *testing.T) {
	var got []byte
	d := &LineDecoder{OnLine: func(msg streambuf.MsgBlock) error {
		got = append([]byte(nil), msg.Bytes()...)
		return nil
	}}
	msg := streambuf.NewMsgBlock([]byte("abc\n"), nil)
	assert.NoError(t, d.Decode(msg))
	assert.Equal(t, []byte("abc\n"), got)

	d.OnLine = nil
	assert.NoError(t, d.Decode(msg))
}
