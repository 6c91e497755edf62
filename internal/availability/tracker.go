// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package availability tracks per-model success and error counts and decides
// which models are eligible to receive traffic.
package availability

import (
	"sort"
	"sync"
	"time"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/sigil-dev/freeroute/pkg/health"
)

// DefaultDecayWindow is how long a model must go without errors before its
// error count is forgiven.
const DefaultDecayWindow = 300 * time.Second

// DefaultErrorThreshold is the number of errors that ejects a model.
const DefaultErrorThreshold = 3

// Record holds the counters for one model. A zero LastError means no error
// has been recorded yet.
type Record struct {
	Successes uint64
	Errors    uint64
	LastError time.Time
}

// Tracker is safe for concurrent use. Every operation, including the
// read-with-decay in IsAvailable, runs under a single mutex.
type Tracker struct {
	mu          sync.Mutex
	records     map[string]*Record
	threshold   uint64
	decayWindow time.Duration
	nowFunc     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDecayWindow overrides DefaultDecayWindow.
func WithDecayWindow(d time.Duration) Option {
	return func(t *Tracker) {
		t.decayWindow = d
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.nowFunc = now
	}
}

// New creates a Tracker that ejects a model after threshold errors.
// Threshold and decay window are fixed for the tracker's lifetime.
func New(threshold uint64, opts ...Option) (*Tracker, error) {
	if threshold == 0 {
		return nil, frerr.New(frerr.CodeConfigValidateInvalidValue,
			"error threshold must be at least 1")
	}

	t := &Tracker{
		records:     make(map[string]*Record),
		threshold:   threshold,
		decayWindow: DefaultDecayWindow,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.decayWindow <= 0 {
		return nil, frerr.Errorf(frerr.CodeConfigValidateInvalidValue,
			"decay window must be positive, got %s", t.decayWindow)
	}
	return t, nil
}

// Threshold returns the configured error threshold.
func (t *Tracker) Threshold() uint64 { return t.threshold }

// DecayWindow returns the configured decay window.
func (t *Tracker) DecayWindow() time.Duration { return t.decayWindow }

// RecordError counts a failed call against model and stamps the error time.
func (t *Tracker) RecordError(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.recordLocked(model)
	r.Errors++
	r.LastError = t.nowFunc()
}

// RecordSuccess counts a successful call for model.
func (t *Tracker) RecordSuccess(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recordLocked(model).Successes++
}

// IsAvailable reports whether model may receive traffic. Unknown models are
// available. Once the decay window has passed since the last error the
// error count is reset as a side effect.
func (t *Tracker) IsAvailable(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.availableLocked(model)
}

// SuccessRate returns successes/(successes+errors), or 1.0 for models with
// no observations.
func (t *Tracker) SuccessRate(model string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successRateLocked(model)
}

// Reset drops every record.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// Len returns the number of models with a record.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Record returns a copy of the record for model.
func (t *Tracker) Record(model string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[model]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Snapshot returns the health of every tracked model, sorted by model id.
// It applies decay the same way IsAvailable does.
func (t *Tracker) Snapshot() []health.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]health.Metrics, 0, len(t.records))
	for id, r := range t.records {
		available := t.availableLocked(id)
		m := health.Metrics{
			Model:       id,
			Successes:   r.Successes,
			Errors:      r.Errors,
			SuccessRate: t.successRateLocked(id),
			Available:   available,
		}
		if !r.LastError.IsZero() {
			last := r.LastError
			decays := last.Add(t.decayWindow)
			m.LastErrorAt = &last
			m.DecaysAt = &decays
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// recordLocked returns the record for model, creating it if absent.
// Caller must hold t.mu.
func (t *Tracker) recordLocked(model string) *Record {
	r, ok := t.records[model]
	if !ok {
		r = &Record{}
		t.records[model] = r
	}
	return r
}

// availableLocked implements IsAvailable. Caller must hold t.mu.
func (t *Tracker) availableLocked(model string) bool {
	r, ok := t.records[model]
	if !ok {
		return true
	}
	if !r.LastError.IsZero() && t.nowFunc().Sub(r.LastError) > t.decayWindow {
		r.Errors = 0
		return true
	}
	return r.Errors < t.threshold
}

// successRateLocked implements SuccessRate. Caller must hold t.mu.
func (t *Tracker) successRateLocked(model string) float64 {
	r, ok := t.records[model]
	if !ok {
		return 1.0
	}
	total := r.Successes + r.Errors
	if total == 0 {
		return 1.0
	}
	return float64(r.Successes) / float64(total)
}

// resetLocked clears every record. Caller must hold t.mu.
func (t *Tracker) resetLocked() {
	t.records = make(map[string]*Record)
}
