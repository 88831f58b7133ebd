// File: loop/flags.go
// License: Apache-2.0

package loop

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// deviceFlags is the per-device state bitset. Compound updates happen under
// the device state lock; loads outside the lock are advisory.
type deviceFlags struct {
	bits atomic.Uint32
}

const (
	fdsROpen uint32 = 1 << iota // reading side of the fd is open
	fdsWOpen
	fdsRActive // read interest enabled
	fdsWActive
	fdsRAdded // read direction registered with the poller
	fdsWAdded
	fdsRDisabled
	fdsWDisabled
	fdsRegularFile // fd bypasses the poller
	fdsSameFd      // both directions share one fd; close only when both closed
	fdsDead        // no open direction remains
	fdsInferior    // does not count toward the active-fd tally
	fdsDontClose   // fd ownership stays with the caller
	fdsInput       // device was built with an input direction
	fdsOutput      // device was built with an output direction
)

// fdsKind are the device-kind bits that survive a reset by Init.
const fdsKind = fdsInput | fdsOutput | fdsInferior | fdsDontClose

func (f *deviceFlags) test(mask uint32) bool { return f.bits.Load()&mask != 0 }

func (f *deviceFlags) set(mask uint32)   { f.bits.Store(f.bits.Load() | mask) }
func (f *deviceFlags) clear(mask uint32) { f.bits.Store(f.bits.Load() &^ mask) }

// testAndSet sets mask and reports whether it changed.
func (f *deviceFlags) testAndSet(mask uint32) bool {
	old := f.bits.Load()
	if old&mask == mask {
		return false
	}
	f.bits.Store(old | mask)
	return true
}

// testAndClear clears mask and reports whether it changed.
func (f *deviceFlags) testAndClear(mask uint32) bool {
	old := f.bits.Load()
	if old&mask == 0 {
		return false
	}
	f.bits.Store(old &^ mask)
	return true
}

func (f *deviceFlags) reset() { f.bits.Store(f.bits.Load() & fdsKind) }

// direction selects the read or write half of a device.
type direction int

const (
	dirRead direction = iota
	dirWrite
)

func (d direction) openFlag() uint32 {
	if d == dirRead {
		return fdsROpen
	}
	return fdsWOpen
}

func (d direction) activeFlag() uint32 {
	if d == dirRead {
		return fdsRActive
	}
	return fdsWActive
}

func (d direction) addedFlag() uint32 {
	if d == dirRead {
		return fdsRAdded
	}
	return fdsWAdded
}

func (d direction) disabledFlag() uint32 {
	if d == dirRead {
		return fdsRDisabled
	}
	return fdsWDisabled
}

func (d direction) String() string {
	if d == dirRead {
		return "input"
	}
	return "output"
}

// epollEvents returns the edge-triggered interest set for the directions
// currently active. A stopped direction stays registered with the poller but
// carries no interest bit, so restarting it is a cheap modify.
func (fd *FileDescriptor) epollEvents() uint32 {
	var ev uint32 = unix.EPOLLET & 0xffffffff
	if fd.flags.test(fdsRActive) {
		ev |= unix.EPOLLIN
	}
	if fd.flags.test(fdsWActive) {
		ev |= unix.EPOLLOUT
	}
	return ev
}
