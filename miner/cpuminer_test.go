// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/pow"
)

// testJob returns a job that a bounded scan solves quickly.  The target
// admits roughly one in sixteen digests.
func testJob() *Job {
	var challenge, minerID [32]byte
	for i := range challenge {
		challenge[i] = byte(i)
		minerID[i] = byte(i * 3)
	}
	return &Job{
		Challenge:   challenge,
		MinerID:     minerID,
		BlockNumber: 9,
		Target:      uint128.Max.Div64(16),
		MaxNonce:    uint128.From64(1 << 16),
	}
}

func TestPartitionCoversRange(t *testing.T) {
	maxNonces := []uint128.Uint128{
		uint128.From64(1),
		uint128.From64(7),
		uint128.From64(1000),
		uint128.From64(1 << 32),
		uint128.New(3, 5),
		uint128.Max,
	}
	for _, maxNonce := range maxNonces {
		for workers := 1; workers <= 8; workers++ {
			ranges := partition(maxNonce, workers)
			require.Len(t, ranges, workers)

			// Contiguous, non-overlapping and gap-free: each range starts
			// where the previous one ends, the first starts at zero and
			// the last ends at maxNonce.
			require.True(t, ranges[0].start.IsZero())
			for i, r := range ranges {
				require.True(t, r.start.Cmp(r.end) <= 0,
					"range %d inverted", i)
				if i > 0 {
					require.Equal(t, ranges[i-1].end, r.start,
						"gap before range %d", i)
				}
			}
			require.Equal(t, maxNonce, ranges[workers-1].end)
		}
	}
}

func TestPartitionSmallRangeManyWorkers(t *testing.T) {
	// Fewer nonces than workers: the head ranges collapse to empty and the
	// last one carries the whole span.
	ranges := partition(uint128.From64(3), 8)
	require.Len(t, ranges, 8)
	for i := 0; i < 7; i++ {
		require.Equal(t, ranges[i].start, ranges[i].end)
	}
	require.Equal(t, uint128.From64(3), ranges[7].end)
}

func TestStaticFindsValidNonce(t *testing.T) {
	counter := &HashCounter{}
	m := NewCPUMiner(&CPUConfig{NumWorkers: 4, Counter: counter})

	job := testJob()
	sol, err := m.Mine(job)
	require.NoError(t, err)
	require.NotNil(t, sol)
	require.True(t, job.Verify(sol.Nonce))
	require.Equal(t, pow.ComputeHash(&job.Challenge, &job.MinerID,
		sol.Nonce, job.BlockNumber), sol.Hash)
	require.Positive(t, counter.Total())
}

func TestBatchedFindsValidNonce(t *testing.T) {
	counter := &HashCounter{}
	m := NewCPUMiner(&CPUConfig{
		NumWorkers: 3,
		Batched:    true,
		BatchSize:  64,
		Counter:    counter,
	})

	job := testJob()
	sol, err := m.Mine(job)
	require.NoError(t, err)
	require.NotNil(t, sol)
	require.True(t, job.Verify(sol.Nonce))
	require.Positive(t, counter.Total())
}

func TestSerialFindsSmallestNonce(t *testing.T) {
	job := testJob()

	// Brute-force the smallest valid nonce for reference.
	want := uint128.Zero
	for ; want.Cmp(job.MaxNonce) < 0; want = want.Add64(1) {
		if job.Verify(want) {
			break
		}
	}
	require.True(t, want.Cmp(job.MaxNonce) < 0, "test job has no solution")

	m := NewSerialMiner(nil, nil)
	sol, err := m.Mine(job)
	require.NoError(t, err)
	require.NotNil(t, sol)
	require.Equal(t, want, sol.Nonce)
}

// An impossible target exercises the exhaustion path and checks counter
// accuracy: every nonce in the range is hashed exactly once.
func TestExhaustionScansWholeRange(t *testing.T) {
	job := testJob()
	job.Target = uint128.Zero
	job.MaxNonce = uint128.From64(4096)

	for name, m := range map[string]Backend{
		"serial":  NewSerialMiner(nil, nil),
		"static":  NewCPUMiner(&CPUConfig{NumWorkers: 4}),
		"batched": NewCPUMiner(&CPUConfig{NumWorkers: 2, Batched: true, BatchSize: 100}),
	} {
		counter := &HashCounter{}
		switch b := m.(type) {
		case *SerialMiner:
			b.counter = counter
		case *CPUMiner:
			b.counter = counter
		}

		sol, err := m.Mine(job)
		require.NoError(t, err, name)
		require.Nil(t, sol, name)
		require.Equal(t, uint64(4096), counter.Total(), name)
	}
}

func TestZeroMaxNonceRejected(t *testing.T) {
	job := testJob()
	job.MaxNonce = uint128.Zero

	m := NewCPUMiner(&CPUConfig{NumWorkers: 2})
	sol, err := m.Mine(job)
	require.ErrorIs(t, err, ErrZeroMaxNonce)
	require.Nil(t, sol)
}

func TestCancellationStopsSearch(t *testing.T) {
	job := testJob()
	job.Target = uint128.Zero
	job.MaxNonce = uint128.New(0, 1)

	flag := NewFlag()
	m := NewCPUMiner(&CPUConfig{NumWorkers: 2, Flag: flag})

	done := make(chan *Solution, 1)
	go func() {
		sol, _ := m.Mine(job)
		done <- sol
	}()

	time.Sleep(50 * time.Millisecond)
	flag.Stop()

	select {
	case sol := <-done:
		require.Nil(t, sol)
	case <-time.After(10 * time.Second):
		t.Fatal("search did not observe cancellation")
	}
}

// Batch mode exists to bound per-poll cancellation latency, so it gets the
// same cancellation check as the static partition.
func TestCancellationStopsBatchedSearch(t *testing.T) {
	job := testJob()
	job.Target = uint128.Zero
	job.MaxNonce = uint128.New(0, 1)

	flag := NewFlag()
	m := NewCPUMiner(&CPUConfig{
		NumWorkers: 2,
		Batched:    true,
		BatchSize:  256,
		Flag:       flag,
	})

	done := make(chan *Solution, 1)
	go func() {
		sol, _ := m.Mine(job)
		done <- sol
	}()

	time.Sleep(50 * time.Millisecond)
	flag.Stop()

	select {
	case sol := <-done:
		require.Nil(t, sol)
	case <-time.After(10 * time.Second):
		t.Fatal("batched search did not observe cancellation")
	}
}

func TestFlagLifecycle(t *testing.T) {
	f := NewFlag()
	require.True(t, f.Running())
	f.Stop()
	require.False(t, f.Running())
	f.Reset()
	require.True(t, f.Running())
}

func TestHashCounter(t *testing.T) {
	c := &HashCounter{}
	require.Zero(t, c.Total())
	c.Add(10)
	c.Add(32)
	require.Equal(t, uint64(42), c.Total())
}
