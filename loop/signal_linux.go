// File: loop/signal_linux.go
// License: Apache-2.0

//go:build linux

package loop

import "golang.org/x/sys/unix"

// DefaultWakeupSignal is the realtime signal used to interrupt the event
// thread's readiness wait. Realtime signals are not used by the Go runtime,
// so delivery is visible only as EINTR on the blocked wait.
const DefaultWakeupSignal = unix.Signal(34) // SIGRTMIN under glibc

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	set.Val[(sig-1)/64] |= 1 << uint((sig-1)%64)
}

func sigdelset(set *unix.Sigset_t, sig unix.Signal) {
	set.Val[(sig-1)/64] &^= 1 << uint((sig-1)%64)
}
