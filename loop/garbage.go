// File: loop/garbage.go
// License: Apache-2.0

package loop

import "sync/atomic"

// garbageList is a lock-free intrusive LIFO of devices awaiting destruction.
// Any thread that drops the last reference pushes; only the event thread
// drains, once per loop iteration, so the final destruction of a device
// never runs on a worker whose closure may still be executing.
type garbageList struct {
	head atomic.Pointer[FileDescriptor]
}

func (l *garbageList) push(fd *FileDescriptor) {
	for {
		old := l.head.Load()
		fd.gnext = old
		if l.head.CompareAndSwap(old, fd) {
			return
		}
	}
}

// drain detaches the whole list and destructs it sequentially. Event thread
// only.
func (l *garbageList) drain() {
	fd := l.head.Swap(nil)
	for fd != nil {
		next := fd.gnext
		fd.gnext = nil
		fd.destruct()
		fd = next
	}
}

// empty reports whether no device is pending destruction.
func (l *garbageList) empty() bool { return l.head.Load() == nil }
