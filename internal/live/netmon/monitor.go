// Package netmon tracks network reachability and quality for live session
// consumers.
//
// The monitor is a passive observer: transports and platform hooks report
// transitions into it, and consumers read snapshots or subscribe to change
// notifications. It never drains queues or reconnects sockets itself; the
// justReconnected window is the signal consumers use to trigger that work.
package netmon

import (
	"log"
	"os"
	"sync"
	"time"
)

// Quality describes the coarse network quality bucket.
type Quality int

const (
	// QualityGood indicates a healthy connection.
	QualityGood Quality = iota
	// QualitySlow indicates a degraded but usable connection.
	QualitySlow
	// QualityOffline indicates no connectivity.
	QualityOffline
)

// String returns a human-readable representation of the quality.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualitySlow:
		return "slow"
	case QualityOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// State is a snapshot of current connectivity, recomputed on every
// reported network event.
type State struct {
	// Online reports whether the network is reachable at all.
	Online bool

	// Quality is the coarse quality bucket for the current connection.
	Quality Quality

	// JustReconnected is true for a fixed window after an offline→online
	// transition. Consumers use it to trigger a queue drain or refetch.
	JustReconnected bool

	// LastChanged is when the state last changed.
	LastChanged time.Time
}

// Config holds monitor configuration.
type Config struct {
	// ReconnectWindow is how long JustReconnected stays true after an
	// offline→online transition (default: 5s).
	ReconnectWindow time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger

	// Now returns the current time. Overridable for tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReconnectWindow: 5 * time.Second,
		Logger:          log.New(os.Stderr, "[netmon] ", log.LstdFlags),
		Now:             time.Now,
	}
}

// Monitor observes reported connectivity transitions and emits State
// snapshots to subscribers.
type Monitor struct {
	config *Config

	mu          sync.Mutex
	state       State
	subs        map[int]chan State
	nextSub     int
	windowTimer *time.Timer
	closed      bool
}

// New creates a Monitor. The initial state is online with good quality;
// the first reported transition corrects it.
func New(config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ReconnectWindow == 0 {
		config.ReconnectWindow = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Monitor{
		config: config,
		state: State{
			Online:      true,
			Quality:     QualityGood,
			LastChanged: config.Now(),
		},
		subs: make(map[int]chan State),
	}
}

// State returns the current connectivity snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReportOnline records an online transition. Coming from offline it opens
// the justReconnected window.
func (m *Monitor) ReportOnline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	wasOffline := !m.state.Online
	m.state.Online = true
	if m.state.Quality == QualityOffline {
		m.state.Quality = QualityGood
	}
	m.state.LastChanged = m.config.Now()

	if wasOffline {
		m.config.Logger.Printf("back online, reconnect window open for %v", m.config.ReconnectWindow)
		m.state.JustReconnected = true
		if m.windowTimer != nil {
			m.windowTimer.Stop()
		}
		m.windowTimer = time.AfterFunc(m.config.ReconnectWindow, m.closeWindow)
	}

	m.notifyLocked()
}

// ReportOffline records an offline transition.
func (m *Monitor) ReportOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if m.windowTimer != nil {
		m.windowTimer.Stop()
		m.windowTimer = nil
	}

	m.state.Online = false
	m.state.Quality = QualityOffline
	m.state.JustReconnected = false
	m.state.LastChanged = m.config.Now()
	m.notifyLocked()
}

// ReportQuality records a quality-change signal. Reporting QualityOffline
// is equivalent to ReportOffline.
func (m *Monitor) ReportQuality(q Quality) {
	if q == QualityOffline {
		m.ReportOffline()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state.Quality == q {
		return
	}

	m.state.Quality = q
	m.state.LastChanged = m.config.Now()
	m.notifyLocked()
}

// closeWindow clears the justReconnected flag after the window elapses.
func (m *Monitor) closeWindow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.state.JustReconnected {
		return
	}
	m.state.JustReconnected = false
	m.state.LastChanged = m.config.Now()
	m.notifyLocked()
}

// Subscribe returns a buffered channel of state snapshots plus a cancel
// function detaching the subscription. Slow subscribers drop updates
// rather than blocking reporters.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan State, 16)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// notifyLocked fans the current state out to subscribers. Callers hold mu.
func (m *Monitor) notifyLocked() {
	for _, ch := range m.subs {
		select {
		case ch <- m.state:
		default:
		}
	}
}

// Close stops the reconnect window timer and detaches all subscribers.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.windowTimer != nil {
		m.windowTimer.Stop()
		m.windowTimer = nil
	}
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
