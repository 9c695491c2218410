// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bench times a mining backend against a ladder of fixed
// difficulties and reports per-tier elapsed time and hash rate.
package bench

import (
	"time"

	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/miner"
	"github.com/powsuite/pow-miner/pow"
)

// Tier is one rung of the difficulty ladder.  The search target for a tier
// is the maximum hash value divided by its difficulty.
type Tier struct {
	Name       string
	Difficulty uint64
}

// DefaultTiers returns the standard ladder, spanning four orders of
// magnitude of expected work.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "very easy", Difficulty: 1_000},
		{Name: "easy", Difficulty: 10_000},
		{Name: "medium", Difficulty: 100_000},
		{Name: "hard", Difficulty: 1_000_000},
		{Name: "very hard", Difficulty: 10_000_000},
	}
}

// Config describes a benchmark run.
type Config struct {
	// Backend is the miner under test.
	Backend miner.Backend

	// Counter must be the hash counter the backend reports into.  Per-tier
	// hash rates are derived from its deltas.
	Counter *miner.HashCounter

	// Challenge and MinerID are the fixed message inputs for every tier.
	Challenge [pow.ChallengeSize]byte
	MinerID   [pow.MinerIDSize]byte

	// BlockNumber is the fixed block number for every tier.
	BlockNumber uint64

	// MaxNonce bounds each tier's search.  Zero means the full nonce space.
	MaxNonce uint128.Uint128

	// Tiers is the difficulty ladder.  Nil selects DefaultTiers.
	Tiers []Tier
}

// Result is the outcome of a single tier.
type Result struct {
	Tier         Tier
	Found        bool
	Solution     *miner.Solution
	Elapsed      time.Duration
	HashesPerSec float64
}

// Run executes every tier in order against cfg.Backend and returns one
// Result per tier.  A tier whose search exhausts or is cancelled yields a
// Result with Found false; backend errors abort the run.
func Run(cfg *Config) ([]Result, error) {
	tiers := cfg.Tiers
	if tiers == nil {
		tiers = DefaultTiers()
	}
	maxNonce := cfg.MaxNonce
	if maxNonce.IsZero() {
		maxNonce = uint128.Max
	}

	log.Infof("Benchmarking %s over %d difficulty tiers", cfg.Backend.Name(),
		len(tiers))

	results := make([]Result, 0, len(tiers))
	for _, tier := range tiers {
		target, err := pow.TargetFromDifficulty(uint128.From64(tier.Difficulty))
		if err != nil {
			return nil, err
		}
		job := &miner.Job{
			Challenge:   cfg.Challenge,
			MinerID:     cfg.MinerID,
			BlockNumber: cfg.BlockNumber,
			Target:      target,
			MaxNonce:    maxNonce,
		}

		before := uint64(0)
		if cfg.Counter != nil {
			before = cfg.Counter.Total()
		}
		start := time.Now()
		sol, err := cfg.Backend.Mine(job)
		elapsed := time.Since(start)
		if err != nil {
			return nil, err
		}

		rate := 0.0
		if cfg.Counter != nil && elapsed > 0 {
			rate = float64(cfg.Counter.Total()-before) / elapsed.Seconds()
		}

		result := Result{
			Tier:         tier,
			Found:        sol != nil,
			Solution:     sol,
			Elapsed:      elapsed,
			HashesPerSec: rate,
		}
		results = append(results, result)

		if sol != nil {
			log.Infof("%s (difficulty %d): nonce %s in %v (%.2f MH/s)",
				tier.Name, tier.Difficulty, sol.Nonce, elapsed,
				rate/1e6)
		} else {
			log.Infof("%s (difficulty %d): no solution in %v",
				tier.Name, tier.Difficulty, elapsed)
		}
	}
	return results, nil
}
