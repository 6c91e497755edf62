// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
)

// rateLimitMarker is looked for (case-insensitively) in error bodies that
// do not carry a 429 status.
const rateLimitMarker = "rate"

// Response is a fully read upstream HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RateLimitError reports that the upstream refused the call for quota
// reasons. It is always worth trying another model.
type RateLimitError struct {
	StatusCode int
	Body       string
	Response   *Response // set when the raw response is available
	Err        error     // set when the error came from the SDK
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limited (status %d): %s", e.StatusCode, truncate(e.Body, 200))
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// StatusError is a non-2xx answer unrelated to rate limiting.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Response.StatusCode, truncate(string(e.Response.Body), 200))
}

// IsRateLimitBody reports whether an error response looks like a rate limit:
// status 429, or any status >= 400 whose body mentions a rate.
func IsRateLimitBody(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 400 && strings.Contains(strings.ToLower(body), rateLimitMarker)
}

// Classify turns a response into nil (2xx), a *RateLimitError, or a
// *StatusError.
func Classify(resp *Response) error {
	if resp.OK() {
		return nil
	}
	if IsRateLimitBody(resp.StatusCode, string(resp.Body)) {
		return &RateLimitError{
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Response:   resp,
		}
	}
	return &StatusError{Response: resp}
}

// IsRateLimited reports whether err is, or wraps, a *RateLimitError or an
// SDK error carrying status 429.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var apiErr *openaisdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
