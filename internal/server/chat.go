// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sigil-dev/freeroute/internal/catalog"
	"github.com/sigil-dev/freeroute/internal/failover"
	"github.com/sigil-dev/freeroute/internal/upstream"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	defaultMaxBodyBytes = 10 << 20
)

func (s *Server) registerChatRoute() {
	s.router.With(requireBearer).Post(chatCompletionsPath, s.handleChatCompletions)

	// The proxy relays request and response bytes untouched, so it cannot use
	// huma's typed handler signature. The chi route above serves requests;
	// this entry documents it in the OpenAPI spec.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "create-chat-completion",
		Method:      http.MethodPost,
		Path:        chatCompletionsPath,
		Summary:     "Create a chat completion on the best available model",
		Description: "OpenAI-compatible. The model field is ignored: the proxy picks the healthiest model of its pool and fails over on rate limits and transport errors. The bearer token is forwarded upstream as the OpenRouter API key.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:                 "object",
						Required:             []string{"messages"},
						AdditionalProperties: true,
						Properties: map[string]*huma.Schema{
							"model": {
								Type:        "string",
								Description: "Advisory only; replaced by the selected model",
							},
							"messages": {
								Type:        "array",
								Description: "Chat messages, forwarded unchanged",
								Items:       &huma.Schema{Type: "object"},
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Upstream completion, relayed verbatim",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Type: "object"}},
				},
			},
			"400": {Description: "Body is not a JSON object with a messages array"},
			"401": {Description: "Missing or malformed bearer token"},
			"429": {Description: "Every attempted model was rate limited; last upstream response relayed"},
			"502": {Description: "Upstream unreachable on every attempt"},
			"503": {Description: "No model available"},
		},
	})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.logger.With("request_id", middleware.GetReqID(ctx))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request_error", "reading request body failed")
		return
	}
	if err := validateChatBody(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	pool := s.Pool()
	log.Info("chat completion requested",
		"requested_model", gjson.GetBytes(body, "model").String(),
		"pool_size", len(pool),
	)

	ctrl := s.controller.With(
		failover.WithMaxRetries(0),
		failover.WithMaxAttempts(max(min(s.cfg.MaxAttempts, len(pool)), 1)),
		failover.WithLogger(log),
	)
	key := apiKeyFrom(ctx)

	resp, err := failover.Execute(ctx, ctrl, pool,
		func(ctx context.Context, m catalog.Model) (*upstream.Response, error) {
			return s.forward(ctx, key, body, m)
		})
	if err == nil {
		writeRaw(w, resp.StatusCode, resp.Header, resp.Body)
		return
	}
	s.writeFailure(w, r, err)
}

// forward sends body with its model replaced by m. Rate limits and
// transport errors are retryable; any other non-2xx answer is relayed to
// the caller without counting against m.
func (s *Server) forward(ctx context.Context, key string, body []byte, m catalog.Model) (*upstream.Response, error) {
	payload, err := sjson.SetBytes(body, "model", m.ID)
	if err != nil {
		return nil, failover.Permanent(frerr.Wrap(err, frerr.CodeServerInternalFailure,
			"rewriting model field", frerr.FieldModel(m.ID)))
	}

	resp, err := s.forwarder.Forward(ctx, key, payload)
	if err != nil {
		return nil, err
	}

	cerr := upstream.Classify(resp)
	switch {
	case cerr == nil:
		return resp, nil
	case upstream.IsRateLimited(cerr):
		return nil, cerr
	default:
		return nil, failover.Permanent(cerr)
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.With("request_id", middleware.GetReqID(r.Context()))

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		log.Info("relaying upstream error", "status", statusErr.Response.StatusCode)
		writeRaw(w, statusErr.Response.StatusCode, statusErr.Response.Header, statusErr.Response.Body)
		return
	}

	var rateErr *upstream.RateLimitError
	if failover.IsExhausted(err) && errors.As(err, &rateErr) && rateErr.Response != nil {
		log.Warn("all attempts rate limited, relaying last response", "error", err)
		writeRaw(w, rateErr.Response.StatusCode, rateErr.Response.Header, rateErr.Response.Body)
		return
	}

	if frerr.HasCode(err, frerr.CodeFailoverCallCancelled) {
		log.Info("client went away, call abandoned", "error", err)
		return
	}

	status := frerr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("chat completion failed", "error", err)
	} else {
		log.Warn("chat completion failed", "status", status, "error", err)
	}
	writeError(w, status, errorType(status), http.StatusText(status)+": "+err.Error())
}

func validateChatBody(body []byte) error {
	if !gjson.ValidBytes(body) {
		return frerr.New(frerr.CodeServerRequestInvalid, "request body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return frerr.New(frerr.CodeServerRequestInvalid, "request body must be a JSON object")
	}
	if !doc.Get("messages").IsArray() {
		return frerr.New(frerr.CodeServerRequestInvalid, "request body must contain a messages array")
	}
	return nil
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return "upstream_error"
	default:
		return "server_error"
	}
}
