// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/powsuite/pow-miner/stats"
)

func printReport(report *stats.HashrateReport) {
	fmt.Printf("%s  %s  %d hashes  %.2f MH/s\n",
		time.Unix(report.Time, 0).Format(time.RFC3339), report.Backend,
		report.TotalHashes, report.HashesPerSec/1e6)
}

// snapshot fetches and prints a single hashrate sample.
func snapshot(server string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/hashrate", server))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stats server returned %s", resp.Status)
	}

	var report stats.HashrateReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return err
	}
	printReport(&report)
	return nil
}

// follow streams samples over a websocket until the connection drops.
func follow(server string) error {
	ws, resp, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/ws", server), nil)
	if err != nil {
		return err
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var report stats.HashrateReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return err
		}
		printReport(&report)
	}
}

func main() {
	cfg, _, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}

	if cfg.Follow {
		err = follow(cfg.Server)
	} else {
		err = snapshot(cfg.Server)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
