// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package failover runs a call against the best available model, retrying
// with exponential backoff and switching models when one is ejected or its
// retry budget runs out.
package failover

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sigil-dev/freeroute/internal/availability"
	"github.com/sigil-dev/freeroute/internal/catalog"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Operation performs one upstream call against model.
type Operation[T any] func(ctx context.Context, model catalog.Model) (T, error)

// ModelReporter is implemented by results that know which model actually
// served the call. A non-empty ServedModel is credited with the success
// instead of the requested model.
type ModelReporter interface {
	ServedModel() string
}

// Controller holds the retry policy. It is stateless between calls apart
// from the shared selector, so one Controller serves any number of
// concurrent Execute calls.
type Controller struct {
	selector    availability.Selector
	maxRetries  int
	baseDelay   time.Duration
	maxAttempts int
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func() float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetries sets how many times a model is retried after its first
// failed attempt before switching.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		c.maxRetries = max(n, 0)
	}
}

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.baseDelay = d
	}
}

// WithMaxAttempts caps the attempts made across all models for one call.
// Zero leaves the total unbounded.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		c.maxAttempts = max(n, 0)
	}
}

// WithLogger sets the logger used for retry and switch events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleep overrides the backoff wait (for testing). fn must return
// ctx.Err() when ctx is done before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// WithJitter overrides the jitter source (for testing). fn returns the
// jitter fraction, clamped by Backoff to [JitterMin, JitterMax].
func WithJitter(fn func() float64) Option {
	return func(c *Controller) {
		c.jitter = fn
	}
}

// New creates a Controller that records outcomes into sel.
func New(sel availability.Selector, opts ...Option) *Controller {
	c := &Controller{
		selector:   sel,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     slog.Default(),
		sleep:      sleepContext,
		jitter:     uniformJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxRetries returns the per-model retry budget.
func (c *Controller) MaxRetries() int { return c.maxRetries }

// With returns a copy of c with opts applied. The copy shares c's selector.
func (c *Controller) With(opts ...Option) *Controller {
	cp := *c
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

type state int

const (
	stateSelect state = iota
	stateAttempt
	stateBackoff
	stateSwitch
	stateSuccess
	stateExhausted
)

// Execute runs op against models from pool until one attempt succeeds or
// no alternative model remains.
//
// Every failure is recorded against the model that produced it. A model
// gets MaxRetries+1 attempts, separated by Backoff delays, and loses the
// rest of its budget as soon as the selector reports it unavailable. After
// that the selector picks again from pool; picking nothing, or the model
// just given up on, ends the call with an *ExhaustedError wrapping the last
// failure. With WithMaxAttempts the attempt ceiling bounds the call, so a
// model left earlier may get another budget. Without it, picking any model
// this call already gave up on also ends the call.
//
// Errors wrapped with Permanent are returned as-is and recorded nowhere.
// A cancelled ctx ends the call with a failover.call.cancelled error and
// leaves the in-flight attempt unrecorded.
func Execute[T any](ctx context.Context, c *Controller, pool []catalog.Model, op Operation[T]) (T, error) {
	var (
		zero     T
		result   T
		current  catalog.Model
		lastErr  error
		attempt  int // index within the current model's budget
		attempts int // across all models
		left     = make(map[string]struct{}, len(pool))
		st       = stateSelect
	)

	log := c.logger.With("call_id", uuid.NewString())

	for {
		if err := ctx.Err(); err != nil && st != stateSuccess {
			return zero, cancelled(err, current.ID)
		}

		switch st {
		case stateSelect:
			m, ok := c.selector.SelectBest(pool)
			if !ok {
				return zero, frerr.New(frerr.CodeFailoverNoModel, "no model available: pool is empty")
			}
			current, attempt = m, 0
			log.Debug("failover: selected model", "model", current.ID, "pool_size", len(pool))
			st = stateAttempt

		case stateAttempt:
			attempts++
			res, err := op(ctx, current)
			if err == nil {
				result = res
				st = stateSuccess
				continue
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, cancelled(ctxErr, current.ID)
			}
			var perm *permanentError
			if errors.As(err, &perm) {
				log.Debug("failover: permanent failure, not retrying", "model", current.ID, "error", perm.err)
				return zero, perm.err
			}

			lastErr = err
			c.selector.RecordError(current.ID)

			switch {
			case c.maxAttempts > 0 && attempts >= c.maxAttempts:
				log.Warn("failover: attempt ceiling reached", "model", current.ID, "attempts", attempts, "error", err)
				st = stateExhausted
			case !c.selector.IsAvailable(current.ID):
				log.Warn("failover: model ejected", "model", current.ID, "attempt", attempt+1, "error", err)
				st = stateSwitch
			case attempt >= c.maxRetries:
				log.Warn("failover: retries exhausted for model", "model", current.ID, "attempts", attempt+1, "error", err)
				st = stateSwitch
			default:
				st = stateBackoff
			}

		case stateBackoff:
			delay := Backoff(c.baseDelay, attempt, c.jitter())
			log.Info("failover: attempt failed, backing off",
				"model", current.ID,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return zero, cancelled(err, current.ID)
			}
			attempt++
			st = stateAttempt

		case stateSwitch:
			left[current.ID] = struct{}{}
			next, ok := c.selector.SelectBest(pool)
			_, seen := left[next.ID]
			if !ok || next.ID == current.ID || (seen && c.maxAttempts == 0) {
				log.Warn("failover: no alternative model", "model", current.ID, "attempts", attempts)
				st = stateExhausted
				continue
			}
			log.Info("failover: switching model", "from", current.ID, "to", next.ID)
			current, attempt = next, 0
			st = stateAttempt

		case stateSuccess:
			served := current.ID
			if r, ok := any(result).(ModelReporter); ok {
				if id := r.ServedModel(); id != "" {
					served = id
				}
			}
			c.selector.RecordSuccess(served)
			log.Debug("failover: call succeeded", "model", current.ID, "served_by", served, "attempts", attempts)
			return result, nil

		case stateExhausted:
			return zero, &ExhaustedError{Model: current.ID, Attempts: attempts, Err: lastErr}
		}
	}
}

func cancelled(err error, model string) error {
	return frerr.Wrap(err, frerr.CodeFailoverCallCancelled, "failover: call cancelled", frerr.FieldModel(model))
}
