// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"sync/atomic"

	"lukechampine.com/uint128"
)

// SerialMiner scans the nonce range on a single goroutine.  It is the
// simplest possible rendition of the backend contract and serves as the
// conformance baseline the concurrent backends are tested against.
type SerialMiner struct {
	counter *HashCounter
	flag    *Flag
}

// NewSerialMiner returns a single-threaded CPU backend.
func NewSerialMiner(counter *HashCounter, flag *Flag) *SerialMiner {
	if counter == nil {
		counter = &HashCounter{}
	}
	if flag == nil {
		flag = NewFlag()
	}
	return &SerialMiner{counter: counter, flag: flag}
}

// Name returns a diagnostic description of the backend.
func (m *SerialMiner) Name() string {
	return "CPU (serial)"
}

// Mine scans [0, job.MaxNonce) in increasing order and returns the first
// valid nonce, which for this backend is always the smallest one.
func (m *SerialMiner) Mine(job *Job) (*Solution, error) {
	if err := job.Check(); err != nil {
		return nil, err
	}

	var never atomic.Bool
	sol := scanRange(job, uint128.Zero, job.MaxNonce, m.counter, m.flag,
		&never)
	return sol, nil
}
