package engine

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of a single layer within a run.
type Status int

const (
	StatusNotStarted Status = iota
	StatusInitializing
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusInitializing:
		return "initializing"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether a layer in this state is done for the run.
// Terminal states never transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// LayerProgress is the tracked state of one layer.
type LayerProgress struct {
	LayerID   int
	Status    Status
	Percent   float64
	Message   string
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Metrics summarizes a whole run.
type Metrics struct {
	StartedAt time.Time
	EndedAt   time.Time
	Requested int
	Completed int
	Failed    int
	Cancelled int
}

// SuccessRate returns completed layers as a fraction of requested
// layers, or 0 when nothing was requested.
func (m Metrics) SuccessRate() float64 {
	if m.Requested == 0 {
		return 0
	}
	return float64(m.Completed) / float64(m.Requested)
}

// Elapsed returns the wall time of the run so far, using now for runs
// that have not ended yet.
func (m Metrics) Elapsed(now time.Time) time.Duration {
	if m.StartedAt.IsZero() {
		return 0
	}
	end := m.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(m.StartedAt)
}

// ProgressFunc receives progress updates. Callbacks run outside the
// tracker lock and panics are recovered, so a misbehaving callback
// cannot stall or kill a run.
type ProgressFunc func(p LayerProgress)

// StatusFunc receives status transitions.
type StatusFunc func(layerID int, from, to Status)

// Tracker records per-layer progress for one run. Safe for concurrent
// use. Terminal statuses are final: later transitions are ignored.
type Tracker struct {
	mu         sync.Mutex
	layers     map[int]*LayerProgress
	onProgress []ProgressFunc
	onStatus   []StatusFunc

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		layers: make(map[int]*LayerProgress),
		now:    time.Now,
	}
}

// OnProgress registers a progress callback.
func (t *Tracker) OnProgress(fn ProgressFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProgress = append(t.onProgress, fn)
}

// OnStatus registers a status-transition callback.
func (t *Tracker) OnStatus(fn StatusFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = append(t.onStatus, fn)
}

func (t *Tracker) layer(id int) *LayerProgress {
	p, ok := t.layers[id]
	if !ok {
		p = &LayerProgress{LayerID: id}
		t.layers[id] = p
	}
	return p
}

// SetStatus transitions a layer to s. Transitions out of a terminal
// state are dropped. StartedAt is stamped on the first transition away
// from not-started and EndedAt on the first terminal transition.
func (t *Tracker) SetStatus(id int, s Status, err error) {
	t.mu.Lock()
	p := t.layer(id)
	if p.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	from := p.Status
	if from == s {
		t.mu.Unlock()
		return
	}
	p.Status = s
	if err != nil {
		p.Err = err
		p.Message = err.Error()
	}
	if from == StatusNotStarted && p.StartedAt.IsZero() {
		p.StartedAt = t.now()
	}
	if s.Terminal() {
		p.EndedAt = t.now()
		if s == StatusCompleted {
			p.Percent = 100
		}
	}
	callbacks := append([]StatusFunc(nil), t.onStatus...)
	t.mu.Unlock()

	for _, fn := range callbacks {
		safeCall(func() { fn(id, from, s) })
	}
}

// SetProgress records fractional progress for a layer that is still
// running. Updates for terminal layers are ignored.
func (t *Tracker) SetProgress(id int, percent float64, message string) {
	t.mu.Lock()
	p := t.layer(id)
	if p.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	p.Percent = percent
	p.Message = message
	snap := *p
	callbacks := append([]ProgressFunc(nil), t.onProgress...)
	t.mu.Unlock()

	for _, fn := range callbacks {
		safeCall(func() { fn(snap) })
	}
}

// Status returns the current status of a layer.
func (t *Tracker) Status(id int) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.layers[id]; ok {
		return p.Status
	}
	return StatusNotStarted
}

// Snapshot returns a copy of all tracked layer states.
func (t *Tracker) Snapshot() map[int]LayerProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]LayerProgress, len(t.layers))
	for id, p := range t.layers {
		out[id] = *p
	}
	return out
}

// Reset discards all tracked state, keeping registered callbacks.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layers = make(map[int]*LayerProgress)
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: progress callback panicked", "panic", r)
		}
	}()
	fn()
}
