// Package netstatus tracks backend connectivity and fans out "back online"
// signals to any number of independent subscribers.
package netstatus

import (
	"sync"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
)

// Monitor holds the current connectivity state.
type Monitor struct {
	mu          sync.RWMutex
	online      bool
	wasOffline  bool
	lastChange  time.Time
	subscribers map[chan struct{}]struct{}
}

// New creates a monitor with the given initial state.
func New(online bool) *Monitor {
	metrics.SetNetworkOnline(online)
	return &Monitor{
		online:      online,
		wasOffline:  !online,
		lastChange:  time.Now(),
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// IsOnline reports the last observed connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// WasOffline reports whether the monitor has ever observed an offline state.
func (m *Monitor) WasOffline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wasOffline
}

// LastChange returns when connectivity last flipped.
func (m *Monitor) LastChange() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChange
}

// SetOnline records a connectivity observation. Repeated observations of the
// same state are no-ops; an offline to online flip notifies every subscriber
// once.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.lastChange = time.Now()
	if !online {
		m.wasOffline = true
	}

	var subs []chan struct{}
	if online {
		subs = make([]chan struct{}, 0, len(m.subscribers))
		for ch := range m.subscribers {
			subs = append(subs, ch)
		}
	}
	m.mu.Unlock()

	metrics.SetNetworkOnline(online)
	metrics.RecordNetworkTransition(online)

	if !online {
		logging.Warn("Backend unreachable, switching to offline mode")
		return
	}

	logging.Info("Backend is back online", logging.Int("subscribers", len(subs)))
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			// A signal is already pending for this subscriber.
		}
	}
}

// Subscribe registers for "back online" signals. The channel has a buffer of
// one, so a subscriber that is busy refreshing coalesces signals instead of
// blocking others. cancel is idempotent.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}
