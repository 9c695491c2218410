// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// defaultCacheSize is the number of solved jobs remembered by the
// orchestrator so a re-issued identical round is answered without
// re-searching.
const defaultCacheSize = 64

// BackendFactory describes a registered execution strategy.  Accelerator
// packages register themselves from their init functions; the CPU backend
// is registered here and is the guaranteed fallback.
type BackendFactory struct {
	// Name is the identifier recognized by explicit backend selection.
	Name string

	// Priority orders automatic selection; higher-capability backends
	// carry higher priorities and are attempted first.
	Priority int

	// New constructs the backend.  A backend whose device or runtime is
	// absent returns an error here, which the selection policy treats as
	// recoverable.
	New func(opts *Options) (Backend, error)
}

var (
	factoryMtx sync.Mutex
	factories  []BackendFactory
)

// RegisterBackend adds an execution strategy to the selection table.  It is
// intended to be called from package init functions.
func RegisterBackend(f BackendFactory) {
	factoryMtx.Lock()
	defer factoryMtx.Unlock()
	factories = append(factories, f)
	sort.SliceStable(factories, func(i, j int) bool {
		return factories[i].Priority > factories[j].Priority
	})
}

// Backends returns the names of all registered execution strategies in
// automatic-selection order.
func Backends() []string {
	factoryMtx.Lock()
	defer factoryMtx.Unlock()
	names := make([]string, 0, len(factories))
	for _, f := range factories {
		names = append(names, f.Name)
	}
	return names
}

func lookupFactory(name string) (BackendFactory, bool) {
	factoryMtx.Lock()
	defer factoryMtx.Unlock()
	for _, f := range factories {
		if f.Name == name {
			return f, true
		}
	}
	return BackendFactory{}, false
}

func init() {
	RegisterBackend(BackendFactory{
		Name:     "cpu",
		Priority: 0,
		New: func(opts *Options) (Backend, error) {
			return NewCPUMiner(&CPUConfig{
				NumWorkers: opts.NumWorkers,
				Batched:    opts.Batched,
				BatchSize:  opts.BatchSize,
				Counter:    opts.Counter,
				Flag:       opts.Flag,
			}), nil
		},
	})
}

// Options configures backend selection and the shared search
// instrumentation.
type Options struct {
	// Backend selects an execution strategy by name.  Empty or "auto"
	// tries registered backends in descending priority order, falling
	// back on failure; the CPU backend always succeeds.
	Backend string

	// NumWorkers is the CPU worker count; values below one select the
	// physical core count.
	NumWorkers int

	// Batched and BatchSize select the CPU round-robin batch mode.
	Batched   bool
	BatchSize uint64

	// Device is the accelerator device index.
	Device int

	// GlobalWorkSize is the number of device lanes per accelerator
	// launch.  Zero selects the backend default.
	GlobalWorkSize uint64

	// DisableCache turns off the solved-job cache.
	DisableCache bool

	// CacheSize overrides the solved-job cache capacity.
	CacheSize int

	// Counter and Flag are the shared instrumentation.  Nil values are
	// replaced with fresh instances.
	Counter *HashCounter
	Flag    *Flag
}

// Miner is the search orchestrator: it owns the selected backend, the
// shared hash counter and cancellation flag, the solved-job cache, and the
// hash-rate monitor registration point.
type Miner struct {
	backend Backend
	counter *HashCounter
	flag    *Flag
	cache   *lru.Cache

	monitorMtx sync.Mutex
	monitor    *SpeedMonitor
}

// New selects a backend per the policy in Options and returns the
// orchestrator wrapping it.  Selection failures for accelerator backends
// are logged as warnings and trigger fallback rather than propagating,
// since the CPU backend is always available.  An unrecognized explicit
// backend name is a configuration error.
func New(opts *Options) (*Miner, error) {
	o := *opts
	if o.Counter == nil {
		o.Counter = &HashCounter{}
	}
	if o.Flag == nil {
		o.Flag = NewFlag()
	}

	backend, err := selectBackend(&o)
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s backend", backend.Name())

	m := &Miner{
		backend: backend,
		counter: o.Counter,
		flag:    o.Flag,
	}
	if !o.DisableCache {
		size := o.CacheSize
		if size <= 0 {
			size = defaultCacheSize
		}
		// Size is positive, so construction cannot fail.
		m.cache, _ = lru.New(size)
	}
	return m, nil
}

func selectBackend(opts *Options) (Backend, error) {
	name := opts.Backend
	if name != "" && name != "auto" {
		f, ok := lookupFactory(name)
		if !ok {
			return nil, fmt.Errorf("unknown backend %q (registered: %v)",
				name, Backends())
		}
		backend, err := f.New(opts)
		if err == nil {
			return backend, nil
		}
		log.Warnf("Backend %q unavailable: %v; falling back", f.Name, err)
	}

	factoryMtx.Lock()
	candidates := make([]BackendFactory, len(factories))
	copy(candidates, factories)
	factoryMtx.Unlock()

	for _, f := range candidates {
		if f.Name == opts.Backend {
			// Already attempted above.
			continue
		}
		backend, err := f.New(opts)
		if err != nil {
			log.Warnf("Backend %q unavailable: %v", f.Name, err)
			continue
		}
		return backend, nil
	}
	return nil, fmt.Errorf("no usable backend among %v", Backends())
}

// Name returns the selected backend's diagnostic name.
func (m *Miner) Name() string {
	return m.backend.Name()
}

// Counter returns the shared hash counter.
func (m *Miner) Counter() *HashCounter {
	return m.counter
}

// Flag returns the shared cancellation flag.
func (m *Miner) Flag() *Flag {
	return m.flag
}

// Mine validates the job, consults the solved-job cache, and delegates to
// the selected backend.  Every backend result is re-verified against the
// proof function before it is returned or cached; a backend producing an
// unverifiable nonce is reported as ErrBadSolution.
func (m *Miner) Mine(job *Job) (*Solution, error) {
	if err := job.Check(); err != nil {
		return nil, err
	}

	var fp [32]byte
	if m.cache != nil {
		fp = job.fingerprint()
		if v, ok := m.cache.Get(fp); ok {
			sol := v.(Solution)
			// The fingerprint does not cover MaxNonce, so a cached
			// solution may come from a wider range than this job allows.
			// Such a hit is unusable; search the narrower range instead.
			if sol.Nonce.Cmp(job.MaxNonce) < 0 {
				log.Debugf("Solved-job cache hit, nonce %s", sol.Nonce)
				return &sol, nil
			}
		}
	}

	sol, err := m.backend.Mine(job)
	if err != nil || sol == nil {
		return nil, err
	}
	if !job.Verify(sol.Nonce) {
		return nil, ErrBadSolution
	}
	if m.cache != nil {
		m.cache.Add(fp, *sol)
	}
	return sol, nil
}

// StartMonitor begins hash-rate sampling at the given wall-clock interval
// and returns the monitor for observability consumers.  Sampling only reads
// the shared counter and never blocks or perturbs the search.  Starting an
// already-started monitor is a no-op.
func (m *Miner) StartMonitor(interval time.Duration) *SpeedMonitor {
	m.monitorMtx.Lock()
	defer m.monitorMtx.Unlock()
	if m.monitor == nil {
		m.monitor = NewSpeedMonitor(m.counter, interval)
		m.monitor.Start()
	}
	return m.monitor
}

// StopMonitor stops hash-rate sampling, if it was started.
func (m *Miner) StopMonitor() {
	m.monitorMtx.Lock()
	defer m.monitorMtx.Unlock()
	if m.monitor != nil {
		m.monitor.Stop()
		m.monitor = nil
	}
}
