// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow_test

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/pow"
)

func fixedChallenge() [pow.ChallengeSize]byte {
	return [pow.ChallengeSize]byte{}
}

func fixedMinerID() [pow.MinerIDSize]byte {
	var id [pow.MinerIDSize]byte
	for i := range id {
		id[i] = 1
	}
	return id
}

func TestMessageLayout(t *testing.T) {
	challenge := [pow.ChallengeSize]byte{}
	for i := range challenge {
		challenge[i] = byte(i)
	}
	minerID := [pow.MinerIDSize]byte{}
	for i := range minerID {
		minerID[i] = byte(0xa0 + i)
	}
	nonce := uint128.New(0x0807060504030201, 0x100f0e0d0c0b0a09)
	blockNumber := uint64(0x1817161514131211)

	msg := pow.Message(&challenge, &minerID, nonce, blockNumber)

	require.Equal(t, pow.MessageSize, len(msg), "wrong message size")
	assert.Equal(t, challenge[:], msg[0:32], "wrong challenge bytes")
	assert.Equal(t, minerID[:], msg[32:64], "wrong miner identity bytes")

	// Nonce and block number are serialized little-endian.
	for i := 0; i < pow.NonceSize; i++ {
		assert.Equal(t, byte(i+1), msg[64+i], "wrong nonce byte %d", i)
	}
	for i := 0; i < pow.BlockNumberSize; i++ {
		assert.Equal(t, byte(0x11+i), msg[80+i], "wrong block number byte %d", i)
	}

	// The digest is a single SHA-256 over the serialized message.
	want := sha256.Sum256(msg[:])
	got := pow.ComputeHash(&challenge, &minerID, nonce, blockNumber)
	assert.Equal(t, want, got, "digest does not match SHA-256 of message")
}

func TestComputeHashDeterminism(t *testing.T) {
	challenge := fixedChallenge()
	minerID := fixedMinerID()
	nonce := uint128.From64(12345)
	blockNumber := uint64(100)

	first := pow.ComputeHash(&challenge, &minerID, nonce, blockNumber)
	second := pow.ComputeHash(&challenge, &minerID, nonce, blockNumber)
	assert.Equal(t, first, second, "digest is not deterministic")
}

func TestComputeHashRoundSeparation(t *testing.T) {
	challenge := fixedChallenge()
	minerID := fixedMinerID()
	nonce := uint128.From64(12345)

	base := pow.ComputeHash(&challenge, &minerID, nonce, 100)
	next := pow.ComputeHash(&challenge, &minerID, nonce, 101)
	assert.NotEqual(t, base, next, "block number change did not change digest")
}

func TestComputeHashIdentitySeparation(t *testing.T) {
	challenge := fixedChallenge()
	minerID := fixedMinerID()
	otherID := [pow.MinerIDSize]byte{}
	for i := range otherID {
		otherID[i] = 2
	}
	nonce := uint128.From64(12345)

	base := pow.ComputeHash(&challenge, &minerID, nonce, 100)
	other := pow.ComputeHash(&challenge, &otherID, nonce, 100)
	assert.NotEqual(t, base, other, "identity change did not change digest")
}

func TestHashValueLittleEndian(t *testing.T) {
	var hash [pow.HashSize]byte
	hash[0] = 0x01
	hash[15] = 0x80

	v := pow.HashValue(&hash)
	assert.Equal(t, uint64(1), v.Lo, "wrong low word")
	assert.Equal(t, uint64(0x8000000000000000), v.Hi, "wrong high word")
}

func TestIsValidHashBoundary(t *testing.T) {
	var hash [pow.HashSize]byte
	hash[0] = 10

	// Strictly-less-than: equal to the target is invalid.
	assert.True(t, pow.IsValidHash(&hash, uint128.From64(11)))
	assert.False(t, pow.IsValidHash(&hash, uint128.From64(10)))
	assert.False(t, pow.IsValidHash(&hash, uint128.From64(9)))
}

func TestTargetFromDifficulty(t *testing.T) {
	target, err := pow.TargetFromDifficulty(uint128.From64(1))
	require.NoError(t, err)
	assert.Equal(t, uint128.Max, target, "difficulty 1 must admit everything")

	harder, err := pow.TargetFromDifficulty(uint128.From64(1000))
	require.NoError(t, err)
	assert.True(t, harder.Cmp(target) < 0, "higher difficulty must lower target")

	_, err = pow.TargetFromDifficulty(uint128.Zero)
	assert.ErrorIs(t, err, pow.ErrZeroDifficulty)
}

// TestTargetMonotonicity checks that the set of valid nonces under a lower
// target is a subset of those valid under a higher one.
func TestTargetMonotonicity(t *testing.T) {
	challenge := fixedChallenge()
	minerID := fixedMinerID()
	blockNumber := uint64(100)

	lowTarget := uint128.Max.Div64(5000)
	highTarget := uint128.Max.Div64(500)

	for n := uint64(0); n < 20000; n++ {
		nonce := uint128.From64(n)
		if pow.VerifyNonce(&challenge, &minerID, nonce, blockNumber, lowTarget) {
			assert.True(t,
				pow.VerifyNonce(&challenge, &minerID, nonce, blockNumber, highTarget),
				"nonce %d valid under low target but not high target", n)
		}
	}
}

// TestKnownScenario mirrors the canonical search scenario: an all-zero
// challenge, an all-ones identity, block 100 and target MAX/1000 must yield
// at least one valid nonce within the first 10k candidates, and that nonce
// must re-verify.
func TestKnownScenario(t *testing.T) {
	challenge := fixedChallenge()
	minerID := fixedMinerID()
	blockNumber := uint64(100)
	target := uint128.Max.Div64(1000)

	found := false
	for n := uint64(0); n < 10000; n++ {
		nonce := uint128.From64(n)
		hash := pow.ComputeHash(&challenge, &minerID, nonce, blockNumber)
		if pow.IsValidHash(&hash, target) {
			assert.True(t, pow.VerifyNonce(&challenge, &minerID, nonce,
				blockNumber, target), "found nonce fails re-verification")
			found = true
			break
		}
	}
	assert.True(t, found, "no valid nonce in 10k attempts")
}
