// File: streambuf/streambuf.go
// Package streambuf implements the cross-thread byte stream of the library:
// a single-producer / single-consumer buffer over a linked list of reference
// counted memory blocks. Data is never moved; the consumer drops blocks
// lazily and an empty buffer is rewound in place through a lock-free
// handshake, so neither the write nor the read path ever takes a lock.
// License: Apache-2.0

package streambuf

import (
	"sync/atomic"
)

// position is a published stream cursor: a block and a byte offset in it.
// Cursors cross threads as immutable *position values; pointer identity is
// what the reset handshake's compare-and-swap relies on.
type position struct {
	block *MemoryBlock
	off   int
}

// InputDevice is the restart hook the consumer side uses once a previously
// full buffer has drained below the watermark.
type InputDevice interface {
	StartInputDevice()
}

// OutputDevice is the flush hook the producer side uses to guarantee the
// bound device will attempt a write.
type OutputDevice interface {
	RestartIfNonActive()
}

// StreamBuf holds exactly one SPSC byte stream. At most two threads access
// it concurrently, statically distinguished by role: the producer owns the
// put area (putBlock, pptr), the consumer owns the get area (getBlock, gptr,
// egptr). Everything crossing the two roles goes through the atomic transfer
// variables below.
//
// Use the WriteEnd and ReadEnd handles; they carry the role contract in the
// type.
type StreamBuf struct {
	// Transfer variables.
	lastPptr   atomic.Pointer[position] // producer's latest published write cursor
	lastGptr   atomic.Pointer[position] // consumer's cursor when it last saw an empty buffer
	resetting  atomic.Bool              // producer asked the consumer to rewind to block start
	nextEgptr2 atomic.Pointer[position] // cursor channel used while resetting is set

	totalFreed    atomic.Int64 // accumulated bytes of released blocks; only grows
	totalRead     atomic.Int64 // accumulated bytes read; grows except when Unread takes one byte back
	bufferWasFull atomic.Bool  // latched by the producer when an allocation was refused

	// Configuration. Written single threaded, read by the producer.
	minimumBlockSize      int
	bufferFullWatermark   int
	maxAllocatedBlockSize int

	// Producer state.
	totalAllocated int64 // accumulated bytes of created blocks; only grows
	totalReset     int64 // accumulated bytes reclaimed by put area rewinds
	putBlock       *MemoryBlock
	pptr           int

	// Consumer state.
	getBlock *MemoryBlock
	gptr     int
	egptr    int

	// Device bindings. Written single threaded.
	idevice       InputDevice
	odevice       OutputDevice
	deviceCounter int
}

// RoundUpMinimumBlockSize turns a requested minimum block size into the real
// one the buffer will use (allocator friendly).
func RoundUpMinimumBlockSize(requested int) int {
	return MallocSize(requested)
}

// New creates a StreamBuf whose smallest block holds minimumBlockSize bytes.
// BufferFull reports true once bufferFullWatermark bytes are buffered, and
// block allocation is refused once the total allocated size would exceed
// maxAllocatedBlockSize.
func New(minimumBlockSize, bufferFullWatermark, maxAllocatedBlockSize int) *StreamBuf {
	b := &StreamBuf{
		minimumBlockSize:      RoundUpMinimumBlockSize(minimumBlockSize),
		bufferFullWatermark:   bufferFullWatermark,
		maxAllocatedBlockSize: maxAllocatedBlockSize,
	}
	first := b.createMemoryBlock(b.minimumBlockSize)
	b.putBlock = first
	b.getBlock = first
	return b
}

func (b *StreamBuf) createMemoryBlock(blockSize int) *MemoryBlock {
	m := NewMemoryBlock(blockSize)
	b.totalAllocated += int64(blockSize)
	return m
}

// WriteEnd returns the producer handle. Exactly one thread at a time may use
// it.
func (b *StreamBuf) WriteEnd() Producer { return Producer{b} }

// ReadEnd returns the consumer handle. Exactly one thread at a time may use
// it.
func (b *StreamBuf) ReadEnd() Consumer { return Consumer{b} }

// MinimumBlockSize returns the rounded minimum block size.
func (b *StreamBuf) MinimumBlockSize() int { return b.minimumBlockSize }

// ChangeSpecs adjusts the buffer limits. May only be called by the producer
// thread, typically from a decoder while it owns both roles.
func (b *StreamBuf) ChangeSpecs(minimumBlockSize, bufferFullWatermark, maxAllocatedBlockSize int) {
	b.minimumBlockSize = RoundUpMinimumBlockSize(minimumBlockSize)
	b.bufferFullWatermark = bufferFullWatermark
	b.maxAllocatedBlockSize = maxAllocatedBlockSize
}

// SetInputDevice binds the input device that fills this buffer.
func (b *StreamBuf) SetInputDevice(d InputDevice) {
	b.deviceCounter++
	b.idevice = d
}

// SetOutputDevice binds the output device that drains this buffer.
func (b *StreamBuf) SetOutputDevice(d OutputDevice) {
	b.deviceCounter++
	b.odevice = d
}

// ReleaseDevice is called by each bound device when it is destructed. When
// the last device lets go the block chain is released.
func (b *StreamBuf) ReleaseDevice() bool {
	b.deviceCounter--
	if b.deviceCounter > 0 {
		b.idevice = nil
		return false
	}
	b.releaseAll()
	return true
}

// releaseAll drops the buffer's own reference on every block in the chain.
func (b *StreamBuf) releaseAll() {
	for m := b.getBlock; m != nil; {
		next := m.next.Load()
		b.totalFreed.Add(int64(m.Size()))
		m.Release()
		m = next
	}
	b.getBlock = nil
	b.putBlock = nil
}

//
// Lock-free size accounting.
//

// unusedInLastBlock returns the free space of the put area. Producer only.
func (b *StreamBuf) unusedInLastBlock() int { return b.putBlock.Size() - b.pptr }

// unusedInFirstBlock returns the consumed space of the get area. Consumer
// only.
func (b *StreamBuf) unusedInFirstBlock() int { return b.gptr }

// AllocatedUpperBound returns the amount of allocated memory currently in
// the buffer. Producer only; an upper bound because totalFreed may grow.
func (b *StreamBuf) AllocatedUpperBound() int64 {
	return b.totalAllocated - b.totalFreed.Load()
}

// DataSizeUpperBound returns the number of bytes currently buffered.
// Producer only; an upper bound because totalRead may grow.
func (b *StreamBuf) DataSizeUpperBound() int64 {
	return b.totalAllocated - int64(b.unusedInLastBlock()) + b.totalReset - b.totalRead.Load()
}

// DataSize is the exact buffered byte count. Only meaningful on a thread
// that is currently both the producer and the consumer.
func (b *StreamBuf) DataSize() int64 {
	return b.totalAllocated - int64(b.unusedInLastBlock()) + b.totalReset - b.totalRead.Load()
}

// updateTotalRead corrects totalRead from a known buffered byte count, after
// a single-threaded operation rearranged the block chain.
func (b *StreamBuf) updateTotalRead(dataSize int64) {
	b.totalRead.Store(b.totalAllocated - int64(b.unusedInLastBlock()) + b.totalReset - dataSize)
}

// BufferFull reports whether the buffered data reached the watermark.
// Producer only.
func (b *StreamBuf) BufferFull() bool {
	return b.DataSizeUpperBound() >= int64(b.bufferFullWatermark)
}

// BufferEmpty reports emptiness. Single threaded.
func (b *StreamBuf) BufferEmpty() bool {
	return b.getBlock == b.putBlock && b.gptr == b.pptr
}

// HasMultipleBlocks reports whether more than one block is allocated. Only
// meaningful on a thread that is both producer and consumer.
func (b *StreamBuf) HasMultipleBlocks() bool { return b.getBlock != b.putBlock }

// BufferNotFullAnymore is called by the consumer thread, after it read some
// data, while the producer is inhibited because the buffer ran full.
func (b *StreamBuf) BufferNotFullAnymore() bool {
	return b.AllocatedUpperBound()-int64(b.unusedInFirstBlock()) < int64(b.bufferFullWatermark)
}

// RestartInputDeviceIfNeeded fires the edge-triggered full-to-not-full event:
// when the producer latched bufferWasFull and the buffer drained below the
// watermark, the bound input device is started again.
func (b *StreamBuf) RestartInputDeviceIfNeeded() {
	if b.bufferWasFull.Load() && b.idevice != nil && b.BufferNotFullAnymore() {
		b.bufferWasFull.Store(false)
		b.idevice.StartInputDevice()
	}
}

//
// Single threaded operations: neither the producer nor the consumer thread
// may be running concurrently.
//

// ReduceBufferIfEmpty shrinks an empty buffer back to its minimum block and
// rewinds both areas to block start.
func (b *StreamBuf) ReduceBufferIfEmpty() {
	if b.BufferEmpty() {
		b.reduceBuffer()
	}
}

func (b *StreamBuf) reduceBuffer() {
	if b.getBlock.Size() > b.minimumBlockSize {
		old := b.getBlock
		fresh := b.createMemoryBlock(b.minimumBlockSize)
		b.getBlock = fresh
		b.putBlock = fresh
		b.totalFreed.Add(int64(old.Size()))
		old.Release()
	}
	reclaimed := b.pptr
	b.gptr, b.egptr = 0, 0
	b.pptr = 0
	b.totalReset += int64(reclaimed)
	// The block swap above breaks the assumption behind the lock-free size
	// bound (every block but the last fully written); resynchronize
	// totalRead against the known-empty buffer.
	b.updateTotalRead(0)
	b.syncEgptr()
	b.storeLastGptr()
}

//
// Test and introspection hooks.
//

// TotalAllocated returns the accumulated created-block byte count.
func (b *StreamBuf) TotalAllocated() int64 { return b.totalAllocated }

// TotalFreed returns the accumulated released-block byte count.
func (b *StreamBuf) TotalFreed() int64 { return b.totalFreed.Load() }

// TotalRead returns the accumulated read byte count.
func (b *StreamBuf) TotalRead() int64 { return b.totalRead.Load() }

// TotalReset returns the accumulated byte count reclaimed by rewinds.
func (b *StreamBuf) TotalReset() int64 { return b.totalReset }
