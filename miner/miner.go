// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/pow"
)

var (
	// ErrZeroMaxNonce is returned when a job specifies an empty search
	// range.  Configuration errors of this kind are reported immediately
	// and never silently defaulted.
	ErrZeroMaxNonce = errors.New("max nonce must be greater than zero")

	// ErrBadSolution is returned when a backend reports a nonce that fails
	// independent re-verification against the proof function.  A backend
	// and the proof function disagreeing on a digest is a fatal bug in the
	// backend, not a retryable condition.
	ErrBadSolution = errors.New("backend returned a nonce that fails verification")
)

// Job describes one proof search.  All fields are immutable for the
// lifetime of a Mine call.
type Job struct {
	// Challenge identifies the current proof round.
	Challenge [pow.ChallengeSize]byte

	// MinerID identifies the party performing the search.  It is mixed
	// into every digest so distinct identities explore disjoint hash
	// outputs.
	MinerID [pow.MinerIDSize]byte

	// BlockNumber ties the search to a single round.
	BlockNumber uint64

	// Target is the threshold a digest value must be strictly below.
	Target uint128.Uint128

	// MaxNonce bounds the search to the half-open range [0, MaxNonce).
	MaxNonce uint128.Uint128
}

// Check validates the job preconditions shared by every backend.
func (job *Job) Check() error {
	if job.MaxNonce.IsZero() {
		return ErrZeroMaxNonce
	}
	return nil
}

// fingerprint returns a stable digest of the job inputs, used as the key of
// the solved-job cache.
func (job *Job) fingerprint() [32]byte {
	var buf [pow.MessageSize]byte
	copy(buf[0:32], job.Challenge[:])
	copy(buf[32:64], job.MinerID[:])
	job.Target.PutBytes(buf[64:80])
	binary.LittleEndian.PutUint64(buf[80:88], job.BlockNumber)
	return sha256.Sum256(buf[:])
}

// Verify recomputes the proof digest for the given nonce and reports
// whether it satisfies this job's target.
func (job *Job) Verify(nonce uint128.Uint128) bool {
	return pow.VerifyNonce(&job.Challenge, &job.MinerID, nonce,
		job.BlockNumber, job.Target)
}

// Solution is a discovered valid nonce together with its digest.
type Solution struct {
	Nonce uint128.Uint128
	Hash  [pow.HashSize]byte
}

// Backend is the uniform contract every execution strategy implements.
//
// Mine searches [0, job.MaxNonce) for a nonce whose digest value is below
// job.Target.  A nil Solution with a nil error means the range was
// exhausted or the search was cooperatively cancelled; both are normal,
// non-error outcomes and are indistinguishable at this boundary.  A
// non-nil Solution always re-verifies under the proof function alone,
// independent of which backend produced it.
type Backend interface {
	Mine(job *Job) (*Solution, error)
	Name() string
}

// HashCounter is a process-wide accumulator of hashes attempted, shared by
// every backend and read concurrently by the speed monitor.  Increments use
// relaxed semantics: the exact value between increments carries no ordering
// guarantee, only eventual accuracy within one batch.
type HashCounter struct {
	n atomic.Uint64
}

// Add records that n more candidate nonces were hashed.
func (c *HashCounter) Add(n uint64) {
	c.n.Add(n)
}

// Total returns the number of hashes attempted so far.
func (c *HashCounter) Total() uint64 {
	return c.n.Load()
}

// Flag is the shared cooperative-cancellation switch.  It starts in the
// running state; an external controller clears it to request that every
// backend stop.  There is no acknowledgement protocol: consumers only
// guarantee bounded-latency observation, so a few extra candidates may be
// scanned after the flag is cleared.
type Flag struct {
	running atomic.Bool
}

// NewFlag returns a flag in the running state.
func NewFlag() *Flag {
	f := &Flag{}
	f.running.Store(true)
	return f
}

// Running reports whether the search should keep going.
func (f *Flag) Running() bool {
	return f.running.Load()
}

// Stop requests that every consumer of the flag wind down.
func (f *Flag) Stop() {
	f.running.Store(false)
}

// Reset re-arms the flag for a new search.
func (f *Flag) Reset() {
	f.running.Store(true)
}
