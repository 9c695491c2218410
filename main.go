// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/powsuite/pow-miner/bench"
	"github.com/powsuite/pow-miner/miner"
	"github.com/powsuite/pow-miner/opencl"
	"github.com/powsuite/pow-miner/pow"
	"github.com/powsuite/pow-miner/stats"
)

var (
	cfg *config
)

func startProfileServer() {
	listenAddr := net.JoinHostPort("localhost", cfg.ProfilePort)
	mainLog.Infof("Profile server listening on %s", listenAddr)
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mainLog.Errorf("%v", http.ListenAndServe(listenAddr, mux))
}

// listDevices prints the available accelerator devices, one per line, in
// selection-index order.
func listDevices() error {
	devices, err := opencl.Devices()
	if err != nil {
		return err
	}
	for i, name := range devices {
		fmt.Printf("%d: %s\n", i, name)
	}
	return nil
}

// runBenchmark runs the difficulty ladder against the selected backend.
func runBenchmark(m *miner.Miner) error {
	_, err := bench.Run(&bench.Config{
		Backend:     m,
		Counter:     m.Counter(),
		Challenge:   cfg.challenge,
		MinerID:     cfg.minerID,
		BlockNumber: cfg.BlockNumber,
		MaxNonce:    cfg.maxNonce,
	})
	return err
}

// runSearch solves a single round and prints the result.
func runSearch(m *miner.Miner) error {
	target, err := pow.TargetFromDifficulty(cfg.difficulty)
	if err != nil {
		return err
	}
	job := &miner.Job{
		Challenge:   cfg.challenge,
		MinerID:     cfg.minerID,
		BlockNumber: cfg.BlockNumber,
		Target:      target,
		MaxNonce:    cfg.maxNonce,
	}

	mainLog.Infof("Searching block %d at difficulty %s with %s",
		job.BlockNumber, cfg.difficulty, m.Name())

	start := time.Now()
	sol, err := m.Mine(job)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	if sol == nil {
		if !m.Flag().Running() {
			mainLog.Infof("Search cancelled after %v (%d hashes)", elapsed,
				m.Counter().Total())
			return nil
		}
		mainLog.Infof("Nonce space exhausted after %v (%d hashes), no "+
			"valid solution", elapsed, m.Counter().Total())
		return nil
	}

	rate := float64(m.Counter().Total()) / elapsed.Seconds()
	mainLog.Infof("Found nonce %s in %v (%.2f MH/s)", sol.Nonce, elapsed,
		rate/1e6)
	fmt.Printf("nonce: %s\nhash: %x\n", sol.Nonce, sol.Hash)
	return nil
}

func minerMain() error {
	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	defer mainLog.Info("Shutdown complete")

	// Enable http profiling server if requested.
	if cfg.ProfilePort != "" {
		go func() {
			startProfileServer()
		}()
	}

	if cfg.ListDevices {
		return listDevices()
	}

	m, err := miner.New(&miner.Options{
		Backend:        cfg.Backend,
		NumWorkers:     cfg.NumWorkers,
		Batched:        cfg.Batched,
		BatchSize:      cfg.BatchSize,
		Device:         cfg.Device,
		GlobalWorkSize: cfg.GlobalSize,
		DisableCache:   cfg.NoJobCache,
	})
	if err != nil {
		return err
	}

	monitor := m.StartMonitor(miner.DefaultSampleInterval)
	defer m.StopMonitor()

	addInterruptHandler(func() {
		m.Flag().Stop()
	})

	if cfg.StatsListen != "" {
		statsServer := stats.NewServer(cfg.StatsListen, m.Name(), monitor, 0)
		if err := statsServer.Start(); err != nil {
			return err
		}
		addInterruptHandler(func() {
			statsServer.Stop()
		})
	}

	if cfg.Benchmark {
		return runBenchmark(m)
	}
	return runSearch(m)
}

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := minerMain(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
