// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// Metrics exposes the current health state of a single model for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	Model       string     `json:"model"`
	Successes   uint64     `json:"successes"`
	Errors      uint64     `json:"errors"`
	SuccessRate float64    `json:"success_rate"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	DecaysAt    *time.Time `json:"decays_at,omitempty"`
	Available   bool       `json:"available"`
}
