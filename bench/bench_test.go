// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bench

import (
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/miner"
)

func TestRunReportsEveryTier(t *testing.T) {
	counter := &miner.HashCounter{}
	backend := miner.NewSerialMiner(counter, miner.NewFlag())

	tiers := []Tier{
		{Name: "tiny", Difficulty: 2},
		{Name: "small", Difficulty: 16},
	}
	results, err := Run(&Config{
		Backend:     backend,
		Counter:     counter,
		BlockNumber: 7,
		MaxNonce:    uint128.From64(1 << 16),
		Tiers:       tiers,
	})
	require.NoError(t, err)
	require.Len(t, results, len(tiers))

	for i, res := range results {
		require.Equal(t, tiers[i], res.Tier)
		require.True(t, res.Found, "tier %q should find a solution", res.Tier.Name)
		require.NotNil(t, res.Solution)
		require.Positive(t, res.HashesPerSec)
	}
}

func TestRunZeroDifficultyTier(t *testing.T) {
	counter := &miner.HashCounter{}
	backend := miner.NewSerialMiner(counter, miner.NewFlag())

	_, err := Run(&Config{
		Backend:  backend,
		Counter:  counter,
		MaxNonce: uint128.From64(16),
		Tiers:    []Tier{{Name: "broken", Difficulty: 0}},
	})
	require.Error(t, err)
}
