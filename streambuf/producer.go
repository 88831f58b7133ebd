// File: streambuf/producer.go
// License: Apache-2.0
//
// The write end of a StreamBuf. Exactly one thread at a time may use this
// interface; it owns putBlock and pptr outright and communicates with the
// read end only through the atomic transfer variables.
//
// Every operation that makes bytes visible ends with syncEgptr: first the
// bytes are copied into the block, then the cursor is published. That
// store/load pairing on lastPptr is the happens-before edge that makes the
// data visible to the consumer.

package streambuf

import "github.com/Community-of-Gia-Lai-Team/evio/api"

// Producer is the write end of a StreamBuf.
type Producer struct {
	b *StreamBuf
}

// Buf returns the underlying buffer for accounting accessors.
func (p Producer) Buf() *StreamBuf { return p.b }

// syncEgptr publishes the current put cursor. While a reset is pending the
// cursor travels through nextEgptr2 only; the consumer folds it back into
// lastPptr when it acknowledges the reset.
func (b *StreamBuf) syncEgptr() {
	pos := &position{block: b.putBlock, off: b.pptr}
	b.nextEgptr2.Store(pos)
	if !b.resetting.Load() {
		b.lastPptr.Store(pos)
	}
}

// tryReset starts a reset cycle when the whole buffer is empty but the put
// cursor sits deep in the block: both ends then agree on the empty state
// (pptr == lastGptr while lastPptr is published), so the producer may rewind
// to block start without the consumer ever reading past the old cursor.
// No second reset is started until the consumer acknowledged this one.
func (b *StreamBuf) tryReset() {
	if b.pptr == 0 || b.lastPptr.Load() == nil || b.resetting.Load() {
		return
	}
	lg := b.lastGptr.Load()
	if lg == nil || lg.block != b.putBlock || lg.off != b.pptr {
		return
	}
	b.nextEgptr2.Store(&position{block: b.putBlock, off: 0})
	b.resetting.Store(true) // the signal; nextEgptr2 is read only after this is seen
	b.totalReset += int64(b.pptr)
	b.pptr = 0
}

// newBlockSize sizes the next block from the amount of currently buffered
// data, clamped from below by the minimum block size.
func (b *StreamBuf) newBlockSize() int {
	size := b.DataSizeUpperBound()
	if size < int64(b.minimumBlockSize) {
		size = int64(b.minimumBlockSize)
	}
	return MallocSize(int(size))
}

// growPutArea links a fresh block behind the current one and moves the put
// area into it. Returns api.ErrBufferFull when even the minimum block would
// exceed maxAllocatedBlockSize.
func (b *StreamBuf) growPutArea() error {
	blockSize := b.newBlockSize()
	if b.AllocatedUpperBound()+int64(blockSize) > int64(b.maxAllocatedBlockSize) {
		blockSize = maxMallocSize(b.maxAllocatedBlockSize - int(b.AllocatedUpperBound()))
		if blockSize < b.minimumBlockSize {
			b.bufferWasFull.Store(true)
			return api.ErrBufferFull
		}
	}
	fresh := b.createMemoryBlock(blockSize)
	// Link before publishing: the consumer will not read next until it sees
	// a cursor beyond this block.
	b.putBlock.next.Store(fresh)
	b.putBlock = fresh
	b.pptr = 0
	b.syncEgptr()
	return nil
}

// WriteBytes copies src into the put area, allocating blocks as needed.
// Returns the number of bytes written; a short write with api.ErrBufferFull
// means the allocation limit was reached.
func (p Producer) WriteBytes(src []byte) (int, error) {
	b := p.b
	written := 0
	for written < len(src) {
		b.tryReset()
		if avail := b.putBlock.Size() - b.pptr; avail > 0 {
			n := min(avail, len(src)-written)
			copy(b.putBlock.data[b.pptr:], src[written:written+n])
			b.pptr += n // bytes are in memory before the cursor moves
			b.syncEgptr()
			written += n
		}
		if written < len(src) {
			if err := b.growPutArea(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// ContiguousSpace returns the bytes that can be written directly at the put
// cursor right now.
func (p Producer) ContiguousSpace() int { return p.b.putBlock.Size() - p.b.pptr }

// WriteView returns a writable view at the put cursor, growing the buffer
// when the current block is full. The returned slice is empty only on
// api.ErrBufferFull. Bytes must be written into the view before Commit.
func (p Producer) WriteView() ([]byte, error) {
	b := p.b
	b.tryReset()
	if b.pptr == b.putBlock.Size() {
		if err := b.growPutArea(); err != nil {
			return nil, err
		}
	}
	return b.putBlock.data[b.pptr:], nil
}

// Commit publishes n bytes previously written into the WriteView.
func (p Producer) Commit(n int) {
	p.b.pptr += n
	p.b.syncEgptr()
}

// Flush guarantees the bound output device will attempt a write. Idempotent.
func (p Producer) Flush() {
	if p.b.odevice != nil {
		p.b.odevice.RestartIfNonActive()
	}
}

// NothingToGet is the producer-side emptiness test. The producer cannot make
// the buffer fuller behind its own back, so a true answer is stable; a false
// answer may become true the moment the consumer reads.
func (p Producer) NothingToGet() api.FuzzyBool {
	b := p.b
	if b.resetting.Load() {
		if b.pptr == 0 {
			return api.FuzzyTrue // rewound and nothing written since
		}
		return api.FuzzyWasFalse
	}
	lp := b.lastPptr.Load()
	if lp == nil {
		return api.FuzzyTrue // never published anything
	}
	lg := b.lastGptr.Load()
	if lg != nil && *lg == *lp {
		return api.FuzzyTrue
	}
	return api.FuzzyWasFalse
}
