// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package stats exposes the miner's hash-rate telemetry over HTTP.  A plain
// GET returns the latest sample as JSON; a websocket upgrade streams one
// sample per push interval until the client disconnects.
package stats

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/powsuite/pow-miner/miner"
)

// DefaultPushInterval is how often a websocket client receives a sample
// when no interval is configured.
const DefaultPushInterval = 10 * time.Second

// HashrateReport is the JSON document served on /hashrate and pushed to
// websocket clients.
type HashrateReport struct {
	Backend      string  `json:"backend"`
	TotalHashes  uint64  `json:"totalhashes"`
	HashesPerSec float64 `json:"hashespersec"`
	Time         int64   `json:"time"`
}

// Server serves hash-rate telemetry on a TCP listen address.
type Server struct {
	listenAddr   string
	backendName  string
	monitor      *miner.SpeedMonitor
	pushInterval time.Duration

	httpServer *http.Server
	listener   net.Listener

	wg        sync.WaitGroup
	quit      chan struct{}
	startStop sync.Mutex
	started   bool
}

// NewServer returns a stats server that reports samples from monitor under
// the given backend name.  A pushInterval of zero selects
// DefaultPushInterval.
func NewServer(listenAddr, backendName string, monitor *miner.SpeedMonitor,
	pushInterval time.Duration) *Server {

	if pushInterval <= 0 {
		pushInterval = DefaultPushInterval
	}
	return &Server{
		listenAddr:   listenAddr,
		backendName:  backendName,
		monitor:      monitor,
		pushInterval: pushInterval,
		quit:         make(chan struct{}),
	}
}

func (s *Server) report() HashrateReport {
	sample := s.monitor.Snapshot()
	return HashrateReport{
		Backend:      s.backendName,
		TotalHashes:  sample.TotalHashes,
		HashesPerSec: sample.HashesPerSec,
		Time:         sample.When.Unix(),
	}
}

func (s *Server) handleHashrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "405 Method Not Allowed.", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.report()); err != nil {
		log.Errorf("Failed to encode hashrate report: %v", err)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	// Attempt to upgrade the connection to a websocket connection using the
	// default size for read/write buffers.
	ws, err := websocket.Upgrade(w, r, nil, 0, 0)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.Errorf("Unexpected websocket error: %v", err)
		}
		http.Error(w, "400 Bad Request.", http.StatusBadRequest)
		return
	}

	log.Debugf("New websocket client %s", r.RemoteAddr)
	s.wg.Add(1)
	go s.pushSamples(ws, r.RemoteAddr)
}

// pushSamples streams one report per push interval to a connected client.
// It exits when the client disconnects or the server shuts down.
func (s *Server) pushSamples(ws *websocket.Conn, remoteAddr string) {
	defer s.wg.Done()
	defer ws.Close()

	// Discard client frames so control messages keep being processed and a
	// closed connection is noticed promptly.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		payload, err := json.Marshal(s.report())
		if err != nil {
			log.Errorf("Failed to marshal hashrate report: %v", err)
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debugf("Websocket client %s disconnected: %v", remoteAddr,
				err)
			return
		}

		select {
		case <-ticker.C:
		case <-readDone:
			log.Debugf("Websocket client %s disconnected", remoteAddr)
			return
		case <-s.quit:
			return
		}
	}
}

// Start binds the listen address and begins serving.  It returns once the
// listener is accepting connections.
func (s *Server) Start() error {
	s.startStop.Lock()
	defer s.startStop.Unlock()
	if s.started {
		return nil
	}

	// A previous Stop closed the quit channel; clients of a restarted
	// server need a fresh one.
	s.quit = make(chan struct{})

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/hashrate", s.handleHashrate)
	mux.HandleFunc("/ws", s.handleWebsocket)
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Infof("Stats server listening on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			log.Errorf("Stats server error: %v", err)
		}
	}()
	s.started = true
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down and waits for client goroutines to finish.
func (s *Server) Stop() error {
	s.startStop.Lock()
	defer s.startStop.Unlock()
	if !s.started {
		return nil
	}

	close(s.quit)
	err := s.httpServer.Close()
	s.wg.Wait()
	s.started = false
	log.Infof("Stats server stopped")
	return err
}
