// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utils

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/uint128"
)

// ParseHex32 decodes a hex string into a 32-byte array.  The input must
// encode exactly 32 bytes; an optional 0x prefix is accepted.
func ParseHex32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex string: %v", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// ParseUint128 parses a decimal string into an unsigned 128-bit integer.
func ParseUint128(s string) (uint128.Uint128, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return uint128.Zero, fmt.Errorf("invalid decimal integer %q", s)
	}
	if v.Sign() < 0 || v.BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("value %q out of 128-bit range", s)
	}
	return uint128.FromBig(v), nil
}
