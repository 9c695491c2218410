// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestExplicitCPUSelection(t *testing.T) {
	m, err := New(&Options{Backend: "cpu", NumWorkers: 2})
	require.NoError(t, err)
	require.Equal(t, "CPU (2 workers)", m.Name())
}

func TestAutoSelection(t *testing.T) {
	m, err := New(&Options{Backend: "auto", NumWorkers: 1})
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestUnknownBackendRejected(t *testing.T) {
	_, err := New(&Options{Backend: "tpu"})
	require.Error(t, err)
}

func TestRegisteredBackendsIncludeCPU(t *testing.T) {
	require.Contains(t, Backends(), "cpu")
}

// A backend construction failure during automatic selection falls back to
// the next candidate instead of propagating.
func TestAutoSelectionFallsBack(t *testing.T) {
	RegisterBackend(BackendFactory{
		Name:     "broken-accelerator",
		Priority: 1000,
		New: func(opts *Options) (Backend, error) {
			return nil, errors.New("no such device")
		},
	})

	m, err := New(&Options{Backend: "auto", NumWorkers: 1})
	require.NoError(t, err)
	require.Equal(t, "CPU (1 workers)", m.Name())
}

func TestSolvedJobCacheHit(t *testing.T) {
	counter := &HashCounter{}
	m, err := New(&Options{Backend: "cpu", NumWorkers: 2, Counter: counter})
	require.NoError(t, err)

	job := testJob()
	first, err := m.Mine(job)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The identical job is answered from the cache without hashing.
	before := counter.Total()
	second, err := m.Mine(job)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, before, counter.Total())
	require.Equal(t, first.Nonce, second.Nonce)

	// A different round misses the cache.
	other := testJob()
	other.BlockNumber++
	third, err := m.Mine(other)
	require.NoError(t, err)
	require.NotNil(t, third)
	require.Greater(t, counter.Total(), before)
}

// A cached solution found under a wide range must not be replayed for the
// same round with a narrower range that excludes it.
func TestCacheRespectsMaxNonce(t *testing.T) {
	counter := &HashCounter{}
	m, err := New(&Options{Backend: "cpu", NumWorkers: 1, Counter: counter})
	require.NoError(t, err)

	// A single worker scans from zero, so the cached solution is the
	// smallest valid nonce in the range.
	job := testJob()
	first, err := m.Mine(job)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Shrink the range to exclude every valid nonce found so far.  The
	// cache hit is unusable and the backend must re-search the narrower
	// range, which by construction holds no solution.
	narrow := testJob()
	narrow.MaxNonce = first.Nonce
	if narrow.MaxNonce.IsZero() {
		t.Skip("smallest valid nonce is zero, no narrower range exists")
	}

	before := counter.Total()
	sol, err := m.Mine(narrow)
	require.NoError(t, err)
	require.Nil(t, sol)
	require.Greater(t, counter.Total(), before)
}

func TestCacheDisabled(t *testing.T) {
	counter := &HashCounter{}
	m, err := New(&Options{
		Backend:      "cpu",
		NumWorkers:   2,
		Counter:      counter,
		DisableCache: true,
	})
	require.NoError(t, err)

	job := testJob()
	_, err = m.Mine(job)
	require.NoError(t, err)

	before := counter.Total()
	_, err = m.Mine(job)
	require.NoError(t, err)
	require.Greater(t, counter.Total(), before)
}

// lyingBackend reports a nonce that fails verification.
type lyingBackend struct{}

func (lyingBackend) Name() string { return "lying" }

func (lyingBackend) Mine(job *Job) (*Solution, error) {
	return &Solution{Nonce: uint128.From64(1)}, nil
}

func TestBadSolutionRejected(t *testing.T) {
	RegisterBackend(BackendFactory{
		Name:     "lying",
		Priority: -1,
		New: func(opts *Options) (Backend, error) {
			return lyingBackend{}, nil
		},
	})

	m, err := New(&Options{Backend: "lying"})
	require.NoError(t, err)

	// A near-impossible target guarantees the reported nonce is invalid.
	job := testJob()
	job.Target = uint128.From64(1)
	require.False(t, job.Verify(uint128.From64(1)))

	sol, err := m.Mine(job)
	require.ErrorIs(t, err, ErrBadSolution)
	require.Nil(t, sol)
}

func TestMineValidatesJob(t *testing.T) {
	m, err := New(&Options{Backend: "cpu", NumWorkers: 1})
	require.NoError(t, err)

	job := testJob()
	job.MaxNonce = uint128.Zero
	_, err = m.Mine(job)
	require.ErrorIs(t, err, ErrZeroMaxNonce)
}
