package telemetry

import (
	"sort"
	"sync"
	"time"
)

// HealthTracker aggregates named liveness beats from background loops.
type HealthTracker struct {
	mu    sync.Mutex
	beats map[string]*Heartbeat
	now   func() time.Time
}

type Heartbeat struct {
	tracker    *HealthTracker
	name       string
	staleAfter time.Duration

	mu   sync.Mutex
	last time.Time
}

type HealthReport struct {
	Status string        `json:"status"`
	Checks []HealthCheck `json:"checks,omitempty"`
}

type HealthCheck struct {
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	LastBeat     time.Time `json:"lastBeat"`
	StaleAfterMs int64     `json:"staleAfterMs"`
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		beats: make(map[string]*Heartbeat),
		now:   time.Now,
	}
}

// Register adds a named beat that turns stale when not refreshed within staleAfter.
func (t *HealthTracker) Register(name string, staleAfter time.Duration) *Heartbeat {
	beat := &Heartbeat{
		tracker:    t,
		name:       name,
		staleAfter: staleAfter,
		last:       t.now(),
	}
	t.mu.Lock()
	t.beats[name] = beat
	t.mu.Unlock()
	return beat
}

func (h *Heartbeat) Beat() {
	if h == nil {
		return
	}
	now := h.tracker.now()
	h.mu.Lock()
	h.last = now
	h.mu.Unlock()
}

// Stop removes the beat from its tracker.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.tracker.mu.Lock()
	if current, ok := h.tracker.beats[h.name]; ok && current == h {
		delete(h.tracker.beats, h.name)
	}
	h.tracker.mu.Unlock()
}

func (t *HealthTracker) Report() HealthReport {
	t.mu.Lock()
	beats := make([]*Heartbeat, 0, len(t.beats))
	for _, beat := range t.beats {
		beats = append(beats, beat)
	}
	t.mu.Unlock()

	sort.Slice(beats, func(i, j int) bool { return beats[i].name < beats[j].name })

	now := t.now()
	report := HealthReport{Status: "ok"}
	for _, beat := range beats {
		beat.mu.Lock()
		last := beat.last
		beat.mu.Unlock()

		status := "ok"
		if beat.staleAfter > 0 && now.Sub(last) > beat.staleAfter {
			status = "stale"
			report.Status = "degraded"
		}
		report.Checks = append(report.Checks, HealthCheck{
			Name:         beat.name,
			Status:       status,
			LastBeat:     last,
			StaleAfterMs: beat.staleAfter.Milliseconds(),
		})
	}
	return report
}
