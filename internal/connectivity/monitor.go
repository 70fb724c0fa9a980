// Package connectivity observes network reachability and exposes a boolean
// online signal with transition notifications.
//
// The polling monitor probes the backend at a fixed interval. Subscribers
// are notified on transitions only; "became online" is the transition that
// triggers a sync pass, "became offline" merely suppresses new passes.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Monitor exposes the current reachability signal.
type Monitor interface {
	// IsOnline reports the current signal.
	IsOnline() bool

	// Subscribe registers fn for transition notifications. fn is invoked
	// with the new state each time the signal flips. The returned func
	// unregisters the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Prober answers a single reachability check.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProbe checks reachability with a HEAD request against a lightweight
// endpoint (typically the backend's /health). Any response at all counts as
// online; only transport failure counts as offline.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// Probe implements Prober.
func (p *HTTPProbe) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// PollingConfig configures the polling monitor.
type PollingConfig struct {
	// Interval is how often to probe (default: 15s).
	Interval time.Duration

	// InitialState is the assumed state before the first probe completes.
	InitialState bool

	// Logger for transition activity.
	Logger *log.Logger
}

// PollingMonitor polls a Prober and fans transition notifications out to
// subscribers.
type PollingMonitor struct {
	prober Prober
	config PollingConfig

	mu     sync.RWMutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollingMonitor creates a monitor over the given prober.
func NewPollingMonitor(prober Prober, config PollingConfig) *PollingMonitor {
	if config.Interval == 0 {
		config.Interval = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &PollingMonitor{
		prober: prober,
		config: config,
		online: config.InitialState,
		subs:   make(map[int]func(online bool)),
	}
}

// Start begins polling. It returns immediately; polling continues until
// Stop is called or ctx is cancelled.
func (m *PollingMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// Probe once up front so daemons don't wait a full interval for
		// their first real signal.
		m.setOnline(m.prober.Probe(ctx))

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.setOnline(m.prober.Probe(ctx))
			}
		}
	}()
}

// Stop halts polling and waits for the poll goroutine to exit.
func (m *PollingMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// IsOnline implements Monitor.
func (m *PollingMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe implements Monitor.
func (m *PollingMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// setOnline records the probe result and notifies subscribers on change.
func (m *PollingMonitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		m.config.Logger.Printf("Connectivity regained")
	} else {
		m.config.Logger.Printf("Connectivity lost")
	}

	// Notify outside the lock so a subscriber can re-enter the monitor.
	for _, fn := range subs {
		fn(online)
	}
}

// Static is a fixed-signal monitor used by one-shot commands and tests.
type Static struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

// NewStatic creates a monitor pinned to the given state until Set is called.
func NewStatic(online bool) *Static {
	return &Static{online: online, subs: make(map[int]func(online bool))}
}

// IsOnline implements Monitor.
func (s *Static) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Subscribe implements Monitor.
func (s *Static) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Set flips the signal, notifying subscribers on change.
func (s *Static) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}
