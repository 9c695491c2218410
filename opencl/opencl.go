// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package opencl implements the massively-parallel accelerator backend on
// top of OpenCL.  The real driver is only compiled when the "opencl" build
// tag is set; without it the package still registers itself so automatic
// selection can report the backend as unavailable and fall back to the CPU.
package opencl

import (
	"errors"

	"github.com/powsuite/pow-miner/miner"
)

// DefaultGlobalWorkSize is the number of device lanes per kernel launch
// when the caller does not specify one.  Each lane computes exactly one
// candidate nonce, so this is also the batch size and the bound on
// cancellation latency.
const DefaultGlobalWorkSize = 1 << 18

// ErrUnavailable is returned when OpenCL support is not compiled in or no
// compatible device is present.  It is a recoverable condition: the caller
// falls back to the general-purpose backend.
var ErrUnavailable = errors.New("opencl backend unavailable")

// Config holds the accelerator backend knobs.
type Config struct {
	// Device is the index into the flattened platform/device list.
	Device int

	// GlobalWorkSize is the lanes per launch.  Zero selects
	// DefaultGlobalWorkSize.
	GlobalWorkSize uint64

	// Counter receives per-launch hash-count increments.
	Counter *miner.HashCounter

	// Flag is the shared cancellation switch, polled between launches.  A
	// single in-flight launch is not interruptible, so cancellation
	// latency is bounded by one launch's kernel execution time.
	Flag *miner.Flag
}

// NewMiner returns the OpenCL backend, or ErrUnavailable when no device or
// runtime is present.
func NewMiner(cfg *Config) (miner.Backend, error) {
	return newMiner(cfg)
}

func init() {
	miner.RegisterBackend(miner.BackendFactory{
		Name:     "opencl",
		Priority: 100,
		New: func(opts *miner.Options) (miner.Backend, error) {
			return newMiner(&Config{
				Device:         opts.Device,
				GlobalWorkSize: opts.GlobalWorkSize,
				Counter:        opts.Counter,
				Flag:           opts.Flag,
			})
		},
	})
}
