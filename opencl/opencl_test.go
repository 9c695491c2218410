// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !opencl
// +build !opencl

package opencl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// Without the opencl build tag the backend must refuse construction with
// ErrUnavailable so automatic selection can fall back.
func TestNewMinerUnavailableWithoutSupport(t *testing.T) {
	backend, err := NewMiner(&Config{})
	require.Nil(t, backend)
	require.True(t, errors.Is(err, ErrUnavailable))

	devices, err := Devices()
	require.Nil(t, devices)
	require.True(t, errors.Is(err, ErrUnavailable))
}
