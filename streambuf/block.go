// File: streambuf/block.go
// License: Apache-2.0

package streambuf

import "sync/atomic"

// MemoryBlock is a reference counted memory block, singly linked into the
// chain of blocks that makes up one StreamBuf.
//
// Once a block is linked into a chain its next pointer is written exactly
// once, by the producer, and is read by the consumer only after the producer
// published a write cursor beyond this block. The reference count starts at
// one (the buffer's own reference); every MsgBlock handed to a decoder adds
// one, so the data stays alive as long as any decoder still holds it even
// when the buffer itself has moved on.
type MemoryBlock struct {
	count atomic.Int32
	next  atomic.Pointer[MemoryBlock]
	data  []byte
}

// NewMemoryBlock creates a block with a reference count of one and no
// successor. blockSize must be pre-rounded with MallocSize.
func NewMemoryBlock(blockSize int) *MemoryBlock {
	m := &MemoryBlock{data: getBytes(blockSize)}
	m.count.Store(1)
	return m
}

func (m *MemoryBlock) addRef() {
	m.count.Add(1)
}

// Release drops one reference. The last release returns the backing storage
// to the byte pool; the block must not be touched afterwards.
func (m *MemoryBlock) Release() {
	if m.count.Add(-1) == 0 {
		putBytes(m.data)
		m.data = nil
	}
}

// Size returns the byte capacity of the block.
func (m *MemoryBlock) Size() int { return len(m.data) }

// Bytes returns the full data area of the block.
func (m *MemoryBlock) Bytes() []byte { return m.data }

// MsgBlock is a view over a complete message handed to a decoder. It is only
// used by the consumer thread. When the view lies inside a MemoryBlock the
// MsgBlock borrows a reference so the bytes outlive the buffer's own use of
// the block.
type MsgBlock struct {
	data  []byte
	block *MemoryBlock
}

// NewMsgBlock creates a view over data. block may be nil for views that do
// not borrow buffer storage.
func NewMsgBlock(data []byte, block *MemoryBlock) MsgBlock {
	if block != nil {
		block.addRef()
	}
	return MsgBlock{data: data, block: block}
}

// Bytes returns the message bytes. The slice is valid until Release.
func (m *MsgBlock) Bytes() []byte { return m.data }

// Len returns the message length in bytes.
func (m *MsgBlock) Len() int { return len(m.data) }

// RemovePrefix shrinks the view from the front.
func (m *MsgBlock) RemovePrefix(n int) { m.data = m.data[n:] }

// RemoveSuffix shrinks the view from the back.
func (m *MsgBlock) RemoveSuffix(n int) { m.data = m.data[:len(m.data)-n] }

// Clone returns a second view holding its own block reference.
func (m *MsgBlock) Clone() MsgBlock {
	return NewMsgBlock(m.data, m.block)
}

// Release drops the borrowed block reference, if any.
func (m *MsgBlock) Release() {
	if m.block != nil {
		m.block.Release()
		m.block = nil
	}
}
