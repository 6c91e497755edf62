// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// DefaultForwardTimeout bounds one forwarded request.
const DefaultForwardTimeout = 60 * time.Second

// DefaultMaxResponseBytes caps the upstream body the forwarder buffers.
const DefaultMaxResponseBytes = 10 << 20

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	BaseURL          string // optional, defaults to DefaultBaseURL
	Timeout          time.Duration
	Referer          string
	Title            string
	HTTPClient       *http.Client // optional; Timeout is ignored when set
	MaxResponseBytes int64        // zero means DefaultMaxResponseBytes
}

// Forwarder posts raw chat-completion bodies upstream and hands the response
// back unparsed, so the proxy can relay it byte for byte.
type Forwarder struct {
	endpoint string
	client   *http.Client
	referer  string
	title    string
	maxBody  int64
}

// NewForwarder creates a Forwarder for cfg.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultForwardTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	referer, title := cfg.Referer, cfg.Title
	if referer == "" {
		referer = DefaultReferer
	}
	if title == "" {
		title = DefaultTitle
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Forwarder{
		endpoint: strings.TrimSuffix(base, "/") + "/chat/completions",
		client:   client,
		referer:  referer,
		title:    title,
		maxBody:  maxBody,
	}
}

// Endpoint returns the URL requests are posted to.
func (f *Forwarder) Endpoint() string { return f.endpoint }

// Forward posts body with apiKey as bearer token. Any response, whatever its
// status, is returned with a nil error; err is set only when no response
// was received.
func (f *Forwarder) Forward(ctx context.Context, apiKey string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, frerr.Wrap(err, frerr.CodeUpstreamRequestInvalid, "building upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("HTTP-Referer", f.referer)
	req.Header.Set("X-Title", f.title)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, frerr.Wrap(err, frerr.CodeUpstreamRequestFailure, "forwarding to upstream")
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, frerr.Wrap(err, frerr.CodeUpstreamRequestFailure, "reading upstream response")
	}
	if int64(len(data)) > f.maxBody {
		return nil, frerr.Errorf(frerr.CodeUpstreamRequestFailure,
			"upstream response exceeds %d bytes", f.maxBody)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}
