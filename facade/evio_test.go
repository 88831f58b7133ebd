// File: facade/evio_test.go
// License: Apache-2.0

//go:build linux

package facade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopLifecycle(t *testing.T) {
	ev, err := New(nil)
	require.NoError(t, err)
	require.True(t, ev.Dispatcher().Running())

	snap := ev.Metrics().Snapshot()
	assert.Equal(t, 0, snap.ActiveDevices)
	assert.Greater(t, snap.Workers, 0)
	assert.False(t, snap.GarbagePending)

	done := make(chan struct{})
	go func() {
		ev.Terminate(true)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminate did not return")
	}
	assert.False(t, ev.Dispatcher().Running())
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = -1
	_, err := New(cfg)
	assert.Error(t, err)
}
