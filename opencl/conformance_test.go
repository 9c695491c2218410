// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build opencl
// +build opencl

package opencl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/miner"
	"github.com/powsuite/pow-miner/pow"
)

// The device kernel is a second implementation of the proof function, so it
// has to be checked against the host implementation on real hardware.  The
// easy target below makes a hit near-certain within a few launches, and
// Mine itself re-verifies the device digest on the host.
func TestDeviceMatchesHostHash(t *testing.T) {
	backend, err := NewMiner(&Config{GlobalWorkSize: 1 << 14})
	if errors.Is(err, ErrUnavailable) {
		t.Skipf("no OpenCL device present: %v", err)
	}
	require.NoError(t, err)

	var challenge, minerID [32]byte
	for i := range challenge {
		challenge[i] = byte(i)
		minerID[i] = byte(0xff - i)
	}
	job := &miner.Job{
		Challenge:   challenge,
		MinerID:     minerID,
		BlockNumber: 42,
		Target:      uint128.Max.Div64(100),
		MaxNonce:    uint128.From64(1 << 20),
	}

	sol, err := backend.Mine(job)
	require.NoError(t, err)
	require.NotNil(t, sol)
	require.True(t, job.Verify(sol.Nonce))
	require.Equal(t, pow.ComputeHash(&challenge, &minerID, sol.Nonce, 42),
		sol.Hash)
}
