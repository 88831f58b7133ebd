// File: streambuf/consumer.go
// License: Apache-2.0
//
// The read end of a StreamBuf. Exactly one thread at a time may use this
// interface; it owns getBlock, gptr and egptr and learns about new data by
// acquiring the producer's published cursor.

package streambuf

import "github.com/Community-of-Gia-Lai-Team/evio/api"

// Consumer is the read end of a StreamBuf.
type Consumer struct {
	b *StreamBuf
}

// Buf returns the underlying buffer for accounting accessors.
func (c Consumer) Buf() *StreamBuf { return c.b }

// storeLastGptr publishes the read cursor of an empty buffer, enabling the
// producer's empty-buffer detection.
func (b *StreamBuf) storeLastGptr() {
	b.lastGptr.Store(&position{block: b.getBlock, off: b.gptr})
}

// resetCycle acknowledges a put area rewind. The consumer rewinds its own
// view to block start, takes over the transfer variable, reopens direct
// publication, and then converges on the newest producer cursor. The
// compare-and-swap loop guarantees a cursor published concurrently with the
// acknowledgement is never skipped.
func (b *StreamBuf) resetCycle() {
	start := &position{block: b.getBlock, off: 0}
	b.lastGptr.Store(start)
	b.lastPptr.Store(start)
	b.resetting.Store(false)
	expected := start
	for {
		next := b.nextEgptr2.Load()
		if b.lastPptr.CompareAndSwap(expected, next) {
			break
		}
		// The producer published directly in the meantime; converge on the
		// newer cursor and retry.
		expected = b.lastPptr.Load()
	}
	b.gptr, b.egptr = 0, 0
}

// refreshGetArea recomputes the get area against the latest published
// producer cursor. Three cases: the cursor lies in the current block (the
// get area ends at the cursor), the cursor lies beyond it (the get area ends
// at the block end, and once consumed the block is released and the area
// advances to its successor), or the block end is reached without a
// successor, which the linking order of the producer makes impossible.
//
// Returns the immediately available byte count and whether egptr stopped at
// the end of a block that has a successor.
func (b *StreamBuf) refreshGetArea() (available int, atEndWithNext bool) {
	for {
		if b.resetting.Load() {
			b.resetCycle()
		}
		lp := b.lastPptr.Load()
		if lp == nil {
			// Nothing was ever published.
			b.egptr = b.gptr
			return 0, false
		}
		if lp.block == b.getBlock {
			b.egptr = lp.off
			return b.egptr - b.gptr, false
		}
		b.egptr = b.getBlock.Size()
		if b.egptr > b.gptr {
			return b.egptr - b.gptr, true
		}
		// Block consumed. The producer cursor lies beyond this block, so a
		// successor must have been linked before that cursor was published.
		next := b.getBlock.next.Load()
		if next == nil {
			api.Abort("streambuf: get area at block end without successor")
		}
		b.advanceGetBlock(next)
	}
}

// advanceGetBlock moves the get area to the successor block and releases the
// consumed one. The new cursor is published before the release so the
// producer can never match a stale lastGptr against recycled storage.
func (b *StreamBuf) advanceGetBlock(next *MemoryBlock) {
	prev := b.getBlock
	b.getBlock = next
	b.gptr, b.egptr = 0, 0
	b.lastGptr.Store(&position{block: next, off: 0})
	b.totalFreed.Add(int64(prev.Size()))
	prev.Release()
}

// bumpTotalRead publishes n additional read bytes. Only the consumer writes
// totalRead, so the read-modify-write needs no atomicity beyond the store.
func (b *StreamBuf) bumpTotalRead(n int) {
	b.totalRead.Store(b.totalRead.Load() + int64(n))
}

// ReadBytes copies up to len(dst) bytes out of the buffer and returns the
// number copied. When the buffer is empty, including when this read drained
// it, the read cursor is published so the producer's empty detection can
// fire.
func (c Consumer) ReadBytes(dst []byte) int {
	b := c.b
	read := 0
	for {
		available, _ := b.refreshGetArea()
		if available == 0 {
			b.storeLastGptr()
			break
		}
		if read == len(dst) {
			break
		}
		n := min(available, len(dst)-read)
		copy(dst[read:], b.getBlock.data[b.gptr:b.gptr+n])
		b.gptr += n
		read += n
	}
	if read > 0 {
		b.bumpTotalRead(read)
	}
	return read
}

// ContiguousData returns the bytes between the read cursor and the last
// refreshed end of the get area, without consulting the producer cursor.
func (c Consumer) ContiguousData() []byte {
	return c.b.getBlock.data[c.b.gptr:c.b.egptr]
}

// ReadView refreshes the get area and returns the contiguous readable bytes
// at the read cursor. An empty view means the buffer is empty; the read
// cursor has then been published for the producer's empty detection.
func (c Consumer) ReadView() []byte {
	b := c.b
	available, _ := b.refreshGetArea()
	if available == 0 {
		b.storeLastGptr()
		return nil
	}
	return b.getBlock.data[b.gptr : b.gptr+available]
}

// Consume advances the read cursor over n bytes previously obtained through
// ReadView, ContiguousData or MsgView.
func (c Consumer) Consume(n int) {
	c.b.gptr += n
	c.b.bumpTotalRead(n)
}

// Block returns the current get area block, for MsgBlock construction.
func (c Consumer) Block() *MemoryBlock { return c.b.getBlock }

// IsContiguous reports whether n bytes starting at the read cursor lie
// within the current get area block.
func (c Consumer) IsContiguous(n int) bool {
	return c.b.gptr+n <= c.b.getBlock.Size()
}

// MsgView returns a view of n contiguous bytes at the read cursor. The
// caller must have checked IsContiguous(n).
func (c Consumer) MsgView(n int) []byte {
	return c.b.getBlock.data[c.b.gptr : c.b.gptr+n]
}

// NothingToGet is the consumer-side emptiness test. The consumer cannot make
// the buffer emptier behind its own back, so a false answer is stable; a
// true answer may become false the moment the producer publishes.
func (c Consumer) NothingToGet() api.FuzzyBool {
	b := c.b
	if b.resetting.Load() {
		return api.FuzzyWasTrue
	}
	lp := b.lastPptr.Load()
	if lp == nil || (lp.block == b.getBlock && lp.off == b.gptr) {
		return api.FuzzyWasTrue
	}
	return api.FuzzyFalse
}

// Unread would push a byte back into the get area. The buffer only supports
// the single look-ahead idiom while the byte is still inside the current
// block; anything else is a programming bug.
func (c Consumer) Unread() {
	if c.b.gptr == 0 {
		api.Abort("streambuf: unread across a block boundary is not thread-safe")
	}
	c.b.gptr--
	c.b.bumpTotalRead(-1)
}
