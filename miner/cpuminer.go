// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"crypto/sha256"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/cpu"
	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/pow"
)

const (
	// pollInterval is the number of nonces a worker scans between checks
	// of the shared found flag and the cancellation flag.  Checking every
	// iteration is correct but wasteful; this amortizes the check to a
	// small fraction of the hashing cost while keeping the bound on extra
	// work after cancellation low.
	pollInterval = 4096

	// DefaultBatchSize is the number of nonces issued per worker batch in
	// round-robin mode, balancing cancellation responsiveness against
	// per-batch scheduling overhead.
	DefaultBatchSize = 10000
)

// defaultNumWorkers returns the number of physical cores, falling back to
// the logical count when the physical topology cannot be read.
func defaultNumWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return n
}

// CPUConfig holds the knobs of the general-purpose backend.
type CPUConfig struct {
	// NumWorkers is the number of parallel scanning goroutines.  Values
	// below one select the physical core count.
	NumWorkers int

	// Batched selects the round-robin batch mode instead of the static
	// partition.  Batch mode bounds per-poll cancellation latency to one
	// batch at the cost of per-batch scheduling overhead.
	Batched bool

	// BatchSize is the nonces per batch in batched mode.  Zero selects
	// DefaultBatchSize.
	BatchSize uint64

	// Counter receives per-batch hash-count increments.
	Counter *HashCounter

	// Flag is the shared cancellation switch.
	Flag *Flag
}

// CPUMiner is the general-purpose multi-core backend.  It partitions
// [0, maxNonce) across worker goroutines which scan their sub-ranges
// sequentially in increasing nonce order.  The partition is computed once,
// purely, before the workers start; the only shared mutable state is the
// found flag, the write-once result slot and the hash counter.
type CPUMiner struct {
	numWorkers int
	batched    bool
	batchSize  uint64
	counter    *HashCounter
	flag       *Flag
}

// NewCPUMiner returns a CPU backend for the given configuration.  The
// returned miner is safe for sequential reuse across jobs.
func NewCPUMiner(cfg *CPUConfig) *CPUMiner {
	numWorkers := cfg.NumWorkers
	if numWorkers < 1 {
		numWorkers = defaultNumWorkers()
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	counter := cfg.Counter
	if counter == nil {
		counter = &HashCounter{}
	}
	flag := cfg.Flag
	if flag == nil {
		flag = NewFlag()
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		log.Debugf("CPU backend on %q, %d workers", infos[0].ModelName,
			numWorkers)
	}

	return &CPUMiner{
		numWorkers: numWorkers,
		batched:    cfg.Batched,
		batchSize:  batchSize,
		counter:    counter,
		flag:       flag,
	}
}

// Name returns a diagnostic description of the backend.
func (m *CPUMiner) Name() string {
	if m.batched {
		return fmt.Sprintf("CPU (%d workers, batched)", m.numWorkers)
	}
	return fmt.Sprintf("CPU (%d workers)", m.numWorkers)
}

// Mine searches the job's nonce range.  See the Backend contract for the
// meaning of a nil result.
func (m *CPUMiner) Mine(job *Job) (*Solution, error) {
	if err := job.Check(); err != nil {
		return nil, err
	}
	if m.batched {
		return m.mineBatched(job), nil
	}
	return m.mineStatic(job), nil
}

// nonceRange is a half-open sub-range [start, end) of the nonce space.
type nonceRange struct {
	start, end uint128.Uint128
}

// partition splits [0, maxNonce) into contiguous, non-overlapping, gap-free
// sub-ranges, one per worker.  The last worker absorbs the remainder of the
// integer division so the union of the ranges is exactly [0, maxNonce).
func partition(maxNonce uint128.Uint128, workers int) []nonceRange {
	if workers < 1 {
		workers = 1
	}
	span := maxNonce.Div64(uint64(workers))
	ranges := make([]nonceRange, 0, workers)
	start := uint128.Zero
	for i := 0; i < workers; i++ {
		end := start.AddWrap(span)
		if i == workers-1 {
			end = maxNonce
		}
		ranges = append(ranges, nonceRange{start: start, end: end})
		start = end
	}
	return ranges
}

// mineStatic runs one worker per partition sub-range.  The first worker to
// find a valid nonce claims the result slot with a compare-and-set; the
// others observe the found flag at the next poll and stop.  If several
// workers race distinct valid nonces, whichever wins the swap is returned.
func (m *CPUMiner) mineStatic(job *Job) *Solution {
	var (
		found  atomic.Bool
		winner Solution
		wg     sync.WaitGroup
	)
	for _, r := range partition(job.MaxNonce, m.numWorkers) {
		wg.Add(1)
		go func(r nonceRange) {
			defer wg.Done()
			sol := scanRange(job, r.start, r.end, m.counter, m.flag, &found)
			if sol != nil && found.CompareAndSwap(false, true) {
				winner = *sol
			}
		}(r)
	}
	wg.Wait()

	if found.Load() {
		return &winner
	}
	return nil
}

// mineBatched issues fixed-size batches to each worker in round-robin
// fashion: worker w scans batches w, w+N, w+2N, ...  Cancellation is also
// observed between batches, so the per-poll latency is bounded by one batch
// regardless of the overall range size.
func (m *CPUMiner) mineBatched(job *Job) *Solution {
	stride := uint128.From64(m.batchSize).Mul64(uint64(m.numWorkers))

	var (
		found  atomic.Bool
		winner Solution
		wg     sync.WaitGroup
	)
	for w := 0; w < m.numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			start := uint128.From64(m.batchSize).Mul64(uint64(w))
			for start.Cmp(job.MaxNonce) < 0 {
				if found.Load() || !m.flag.Running() {
					return
				}

				end := start.AddWrap64(m.batchSize)
				if end.Cmp(start) < 0 || end.Cmp(job.MaxNonce) > 0 {
					end = job.MaxNonce
				}
				sol := scanRange(job, start, end, m.counter, m.flag, &found)
				if sol != nil {
					if found.CompareAndSwap(false, true) {
						winner = *sol
					}
					return
				}

				next := start.AddWrap(stride)
				if next.Cmp(start) <= 0 {
					// Advancing wrapped the nonce space, so the range
					// is exhausted for this worker.
					return
				}
				start = next
			}
		}(w)
	}
	wg.Wait()

	if found.Load() {
		return &winner
	}
	return nil
}

// scanRange scans [start, end) sequentially in increasing nonce order,
// reusing one serialized message buffer and patching the nonce bytes in
// place between digests.  The shared found flag and the cancellation flag
// are polled every pollInterval nonces, and locally accumulated hash counts
// are flushed to the counter at the same cadence.
//
// A non-nil return is a candidate solution only; the caller owns the
// compare-and-set on the shared found flag.
func scanRange(job *Job, start, end uint128.Uint128, counter *HashCounter,
	flag *Flag, found *atomic.Bool) *Solution {

	var pending uint64
	flush := func() {
		if pending > 0 {
			counter.Add(pending)
			pending = 0
		}
	}
	defer flush()

	msg := pow.Message(&job.Challenge, &job.MinerID, start, job.BlockNumber)
	nonce := start
	for i := uint64(0); nonce.Cmp(end) < 0; i++ {
		if i != 0 && i%pollInterval == 0 {
			flush()
			if found.Load() || !flag.Running() {
				return nil
			}
		}

		nonce.PutBytes(msg[64:80])
		hash := sha256.Sum256(msg[:])
		pending++

		if pow.IsValidHash(&hash, job.Target) {
			return &Solution{Nonce: nonce, Hash: hash}
		}

		nonce = nonce.AddWrap64(1)
	}
	return nil
}
