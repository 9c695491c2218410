// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !opencl
// +build !opencl

package opencl

import (
	"fmt"

	"github.com/powsuite/pow-miner/miner"
)

// Devices reports the available OpenCL devices.  This build carries no
// OpenCL support, so there are never any.
func Devices() ([]string, error) {
	return nil, fmt.Errorf("binary built without OpenCL support: %w",
		ErrUnavailable)
}

func newMiner(cfg *Config) (miner.Backend, error) {
	return nil, fmt.Errorf("binary built without OpenCL support: %w",
		ErrUnavailable)
}
