// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpeedMonitorSnapshot(t *testing.T) {
	counter := &HashCounter{}
	monitor := NewSpeedMonitor(counter, 20*time.Millisecond)
	monitor.Start()
	defer monitor.Stop()

	counter.Add(5000)

	// Snapshot reads the counter live, independent of the sampling tick.
	snap := monitor.Snapshot()
	require.Equal(t, uint64(5000), snap.TotalHashes)

	// After at least one full interval the derived rate turns positive.
	require.Eventually(t, func() bool {
		counter.Add(1000)
		return monitor.Snapshot().HashesPerSec > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSpeedMonitorStartStopIdempotent(t *testing.T) {
	monitor := NewSpeedMonitor(&HashCounter{}, time.Millisecond)
	monitor.Start()
	monitor.Start()
	monitor.Stop()
	monitor.Stop()
}

// A stopped monitor can be started again; the sampling goroutine must come
// back up and the second Stop must terminate it cleanly.
func TestSpeedMonitorRestart(t *testing.T) {
	monitor := NewSpeedMonitor(&HashCounter{}, time.Millisecond)
	monitor.Start()
	monitor.Stop()
	monitor.Start()
	monitor.Stop()
}

func TestMinerMonitorLifecycle(t *testing.T) {
	m, err := New(&Options{Backend: "cpu", NumWorkers: 1})
	require.NoError(t, err)

	first := m.StartMonitor(time.Millisecond)
	require.NotNil(t, first)
	require.Same(t, first, m.StartMonitor(time.Millisecond))

	m.StopMonitor()
	m.StopMonitor()
}
