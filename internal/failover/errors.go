// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package failover

import (
	"errors"
	"fmt"
)

// ExhaustedError is returned when every model the selector offered has
// failed. Err is the last failure observed.
type ExhaustedError struct {
	Model    string // last model tried
	Attempts int    // attempts made across all models
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failover: pool exhausted after %d attempts (last model %s): %v", e.Attempts, e.Model, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is, or wraps, an ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final: Execute returns it unchanged without
// recording an error against the model or trying another one. Use it for
// upstream answers that say nothing about the model's availability.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
