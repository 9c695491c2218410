// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"sync"
	"time"
)

// DefaultSampleInterval is the wall-clock interval between hash-rate
// samples when the caller does not specify one.
const DefaultSampleInterval = 10 * time.Second

// Sample is one hash-rate observation derived from the shared counter.
type Sample struct {
	// TotalHashes is the counter value at sampling time.
	TotalHashes uint64

	// HashesPerSec is the rate over the last sampling interval.
	HashesPerSec float64

	// When is the sampling time.
	When time.Time
}

// SpeedMonitor periodically samples the shared hash counter and derives a
// hashes-per-second rate for observability.  It only reads the counter, so
// it cannot block or perturb the search it observes.
type SpeedMonitor struct {
	counter  *HashCounter
	interval time.Duration

	mtx       sync.Mutex
	last      Sample
	prevTotal uint64
	prevTime  time.Time
	started   bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewSpeedMonitor returns a monitor over the given counter.  A
// non-positive interval selects DefaultSampleInterval.
func NewSpeedMonitor(counter *HashCounter, interval time.Duration) *SpeedMonitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &SpeedMonitor{
		counter:  counter,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Start launches the sampling goroutine.  Starting twice is a no-op.
func (s *SpeedMonitor) Start() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.started {
		return
	}
	s.started = true
	// A previous Stop closed the quit channel; a restarted monitor needs a
	// fresh one.
	s.quit = make(chan struct{})
	s.prevTotal = s.counter.Total()
	s.prevTime = time.Now()

	s.wg.Add(1)
	go s.run()
	log.Trace("Speed monitor started")
}

// Stop terminates the sampling goroutine and waits for it to exit.
// Stopping a monitor that was never started is a no-op.
func (s *SpeedMonitor) Stop() {
	s.mtx.Lock()
	if !s.started {
		s.mtx.Unlock()
		return
	}
	s.started = false
	s.mtx.Unlock()

	close(s.quit)
	s.wg.Wait()
	log.Trace("Speed monitor done")
}

func (s *SpeedMonitor) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sample := s.sample()
			if sample.HashesPerSec > 0 {
				log.Debugf("Hash speed: %6.0f kilohashes/s",
					sample.HashesPerSec/1000)
			}

		case <-s.quit:
			return
		}
	}
}

// sample derives the rate since the previous sample and records it.
func (s *SpeedMonitor) sample() Sample {
	now := time.Now()
	total := s.counter.Total()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	elapsed := now.Sub(s.prevTime).Seconds()
	var rate float64
	if elapsed > 0 && total >= s.prevTotal {
		rate = float64(total-s.prevTotal) / elapsed
	}
	s.prevTotal = total
	s.prevTime = now
	s.last = Sample{TotalHashes: total, HashesPerSec: rate, When: now}
	return s.last
}

// Snapshot returns the current counter total together with the rate of the
// most recent sampling interval.  The rate is zero until a full interval
// has elapsed.
func (s *SpeedMonitor) Snapshot() Sample {
	total := s.counter.Total()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return Sample{
		TotalHashes:  total,
		HashesPerSec: s.last.HashesPerSec,
		When:         time.Now(),
	}
}
