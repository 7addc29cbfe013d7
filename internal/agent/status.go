package agent

import (
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/datahooks"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/session"
)

// Status is the JSON view of the agent served on /status.
type Status struct {
	InstanceID    string               `json:"instanceId"`
	Source        string               `json:"source"`
	Network       NetworkStatus        `json:"network"`
	Session       session.View         `json:"session"`
	SafeMode      SafeModeStatus       `json:"safeMode"`
	Licenses      LicenseStatus        `json:"licenses"`
	ResponseCache *ResponseCacheStatus `json:"responseCache,omitempty"`
	Hooks         []HookStatus         `json:"hooks"`
}

type NetworkStatus struct {
	Online     bool      `json:"online"`
	WasOffline bool      `json:"wasOffline"`
	LastChange time.Time `json:"lastChange,omitzero"`
}

type SafeModeStatus struct {
	Active    bool       `json:"active"`
	Remaining string     `json:"remaining,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type LicenseStatus struct {
	Count    int        `json:"count"`
	Version  int64      `json:"version"`
	LastSync *time.Time `json:"lastSync,omitempty"`
}

type ResponseCacheStatus struct {
	Registered bool  `json:"registered"`
	Entries    int   `json:"entries"`
	Size       int64 `json:"size"`
	MaxSize    int64 `json:"maxSize"`
}

// HookStatus summarizes a running data hook.
type HookStatus struct {
	Resource  string    `json:"resource"`
	ID        string    `json:"id"`
	Items     int       `json:"items"`
	FromCache bool      `json:"fromCache"`
	Fresh     bool      `json:"fresh"`
	SyncedAt  time.Time `json:"syncedAt,omitzero"`
}

type hookHandle interface {
	Stop()
	status() HookStatus
}

type trackedHook[T any] struct {
	h *datahooks.Hook[T]
}

func (t trackedHook[T]) Stop() { t.h.Stop() }

func (t trackedHook[T]) status() HookStatus {
	snap := t.h.Snapshot()
	return HookStatus{
		Resource:  t.h.Cache().Resource(),
		ID:        t.h.ID(),
		Items:     len(snap.Items),
		FromCache: snap.FromCache,
		Fresh:     snap.Fresh,
		SyncedAt:  snap.SyncedAt,
	}
}

// Status collects the current state of every component.
func (a *Agent) Status() Status {
	now := time.Now()
	st := Status{
		InstanceID: a.InstanceID,
		Source:     a.sourceName(),
		Network: NetworkStatus{
			Online:     a.Monitor.IsOnline(),
			WasOffline: a.Monitor.WasOffline(),
			LastChange: a.Monitor.LastChange(),
		},
		Session: a.Guard.View(now),
		Licenses: LicenseStatus{
			Count:   len(a.Licenses.Licenses()),
			Version: a.Licenses.Version(),
		},
		Hooks: []HookStatus{},
	}

	if a.SafeMode.IsActive() {
		st.SafeMode.Active = true
		if d, ok := a.SafeMode.TimeRemaining(); ok {
			st.SafeMode.Remaining = d.Round(time.Second).String()
		}
		if exp, err := a.SafeMode.ExpiresAt(); err == nil {
			st.SafeMode.ExpiresAt = &exp
		}
	}
	if last, ok := a.Licenses.LastSync(); ok {
		st.Licenses.LastSync = &last
	}
	if a.ResponseCache != nil {
		size, maxSize, count := a.ResponseCache.Stats()
		st.ResponseCache = &ResponseCacheStatus{
			Registered: a.REST != nil && a.REST.Registered(),
			Entries:    count,
			Size:       size,
			MaxSize:    maxSize,
		}
	}

	a.mu.Lock()
	for _, h := range a.hooks {
		st.Hooks = append(st.Hooks, h.status())
	}
	a.mu.Unlock()
	return st
}
