// File: control/metrics_test.go
// License: Apache-2.0

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotSamplesSources(t *testing.T) {
	active := 3
	mr := NewMetricsRegistry(Sources{
		ActiveDevices:  func() int { return active },
		QueuedTasks:    func() int { return 7 },
		Workers:        func() int { return 2 },
		GarbagePending: func() bool { return true },
	})

	s := mr.Snapshot()
	assert.Equal(t, 3, s.ActiveDevices)
	assert.Equal(t, 7, s.QueuedTasks)
	assert.Equal(t, 2, s.Workers)
	assert.True(t, s.GarbagePending)
	assert.False(t, s.Taken.IsZero())

	// Last replays the sample without re-reading the sources.
	active = 9
	assert.Equal(t, 3, mr.Last().ActiveDevices)
	assert.Equal(t, 9, mr.Snapshot().ActiveDevices)
}

func TestSnapshotWithNilSources(t *testing.T) {
	mr := NewMetricsRegistry(Sources{})
	s := mr.Snapshot()
	assert.Equal(t, 0, s.ActiveDevices)
	assert.Equal(t, 0, s.QueuedTasks)
	assert.False(t, s.GarbagePending)
}
