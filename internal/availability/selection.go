// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package availability

import (
	"github.com/sigil-dev/freeroute/internal/catalog"
)

// Selector is the view of the tracker that failover routing needs.
type Selector interface {
	SelectBest(candidates []catalog.Model) (catalog.Model, bool)
	RecordSuccess(model string)
	RecordError(model string)
	IsAvailable(model string) bool
}

// Compile-time check that Tracker implements Selector.
var _ Selector = (*Tracker)(nil)

// SelectBest picks the available candidate with the highest success rate.
// Unseen models score 1.0 and ties go to the earliest candidate. When no
// candidate is available every record is cleared and the first candidate is
// returned. The boolean is false only for an empty candidate list.
func (t *Tracker) SelectBest(candidates []catalog.Model) (catalog.Model, bool) {
	if len(candidates) == 0 {
		return catalog.Model{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	best := -1
	bestRate := -1.0
	for i, m := range candidates {
		if !t.availableLocked(m.ID) {
			continue
		}
		if rate := t.successRateLocked(m.ID); rate > bestRate {
			best, bestRate = i, rate
		}
	}

	if best < 0 {
		t.resetLocked()
		return candidates[0], true
	}
	return candidates[best], true
}
