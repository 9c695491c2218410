// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestParseHex32(t *testing.T) {
	want := [32]byte{0: 0x01, 31: 0xff}
	hexStr := "01" + strings.Repeat("00", 30) + "ff"

	got, err := ParseHex32(hexStr)
	require.NoError(t, err)
	require.Equal(t, want, got)

	got, err = ParseHex32("0x" + hexStr)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseHex32Rejects(t *testing.T) {
	_, err := ParseHex32("abcd")
	require.Error(t, err, "short input")

	_, err = ParseHex32(strings.Repeat("00", 33))
	require.Error(t, err, "long input")

	_, err = ParseHex32(strings.Repeat("zz", 32))
	require.Error(t, err, "non-hex input")
}

func TestParseUint128(t *testing.T) {
	v, err := ParseUint128("0")
	require.NoError(t, err)
	require.True(t, v.IsZero())

	v, err = ParseUint128("18446744073709551616")
	require.NoError(t, err)
	require.Equal(t, uint128.New(0, 1), v)

	v, err = ParseUint128("340282366920938463463374607431768211455")
	require.NoError(t, err)
	require.Equal(t, uint128.Max, v)
}

func TestParseUint128Rejects(t *testing.T) {
	_, err := ParseUint128("340282366920938463463374607431768211456")
	require.Error(t, err, "2^128 overflows")

	_, err = ParseUint128("-1")
	require.Error(t, err, "negative")

	_, err = ParseUint128("not a number")
	require.Error(t, err)
}
