// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"lukechampine.com/uint128"
)

// Sizes of the fixed-width fields that make up a proof message, in bytes.
const (
	// ChallengeSize is the size of the round-identifying challenge.
	ChallengeSize = 32

	// MinerIDSize is the size of the miner identity mixed into the hash.
	MinerIDSize = 32

	// NonceSize is the size of the little-endian serialized nonce.
	NonceSize = 16

	// BlockNumberSize is the size of the little-endian serialized block
	// number.
	BlockNumberSize = 8

	// MessageSize is the total size of the serialized proof message.
	MessageSize = ChallengeSize + MinerIDSize + NonceSize + BlockNumberSize

	// HashSize is the size of the proof digest.
	HashSize = sha256.Size
)

// ErrZeroDifficulty is returned by TargetFromDifficulty when the supplied
// difficulty is zero and therefore has no defined target.
var ErrZeroDifficulty = errors.New("difficulty must be nonzero")

// Message serializes the proof inputs into the canonical 88-byte message
// hashed by every backend: the 32-byte challenge, the 32-byte miner
// identity, the nonce as 16 little-endian bytes, and the block number as 8
// little-endian bytes.
func Message(challenge *[ChallengeSize]byte, minerID *[MinerIDSize]byte,
	nonce uint128.Uint128, blockNumber uint64) [MessageSize]byte {

	var msg [MessageSize]byte
	copy(msg[0:32], challenge[:])
	copy(msg[32:64], minerID[:])
	nonce.PutBytes(msg[64:80])
	binary.LittleEndian.PutUint64(msg[80:88], blockNumber)
	return msg
}

// ComputeHash returns SHA256(challenge || minerID || nonce || blockNumber).
//
// Mixing the miner identity into the digest gives every miner a disjoint
// search space and prevents one party's partial work from being replayed by
// another.  Mixing the block number in prevents the same (challenge,
// identity) pair from being replayed across rounds.
//
// The function is pure.  Any two backends producing different digests for
// the same inputs disagree on the proof itself, which is a fatal bug rather
// than a tunable.
func ComputeHash(challenge *[ChallengeSize]byte, minerID *[MinerIDSize]byte,
	nonce uint128.Uint128, blockNumber uint64) [HashSize]byte {

	msg := Message(challenge, minerID, nonce, blockNumber)
	return sha256.Sum256(msg[:])
}

// HashValue interprets the first 16 bytes of a proof digest as a
// little-endian 128-bit integer.
func HashValue(hash *[HashSize]byte) uint128.Uint128 {
	return uint128.FromBytes(hash[:16])
}

// IsValidHash reports whether the digest satisfies the proof inequality,
// i.e. whether its 128-bit value is strictly less than the target.
func IsValidHash(hash *[HashSize]byte, target uint128.Uint128) bool {
	return HashValue(hash).Cmp(target) < 0
}

// VerifyNonce recomputes the proof digest for the given inputs and reports
// whether the nonce is valid under the target.  Callers use this to
// re-verify results independently of whichever backend produced them.
func VerifyNonce(challenge *[ChallengeSize]byte, minerID *[MinerIDSize]byte,
	nonce uint128.Uint128, blockNumber uint64, target uint128.Uint128) bool {

	hash := ComputeHash(challenge, minerID, nonce, blockNumber)
	return IsValidHash(&hash, target)
}

// TargetFromDifficulty derives the validity threshold from an externally
// supplied difficulty scalar: target = UINT128_MAX / difficulty.  Smaller
// targets admit exponentially fewer valid nonces.
func TargetFromDifficulty(difficulty uint128.Uint128) (uint128.Uint128, error) {
	if difficulty.IsZero() {
		return uint128.Zero, ErrZeroDifficulty
	}
	return uint128.Max.Div(difficulty), nil
}
