// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sigil-dev/freeroute/pkg/health"
)

// ownedBy is reported for every model; the pool is always OpenRouter's.
const ownedBy = "openrouter"

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

// ModelObject is one entry of the OpenAI-style model list.
type ModelObject struct {
	ID         string  `json:"id" doc:"Model id"`
	Object     string  `json:"object" example:"model"`
	Created    int64   `json:"created" doc:"Unix time the model was published"`
	OwnedBy    string  `json:"owned_by" example:"openrouter"`
	Permission []any   `json:"permission"`
	Root       string  `json:"root"`
	Parent     *string `json:"parent"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string        `json:"object" example:"list"`
	Data   []ModelObject `json:"data"`
}

type listModelsOutput struct {
	Body ModelList
}

// StatsBody reports the tracker snapshot.
type StatsBody struct {
	Models []health.Metrics `json:"models" doc:"Per-model health, sorted by id"`
}

type statsOutput struct {
	Body StatsBody
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-models",
		Method:      http.MethodGet,
		Path:        "/v1/models",
		Summary:     "List the models requests are routed over",
		Tags:        []string{"models"},
	}, s.handleListModels)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/v1/stats",
		Summary:     "Per-model success and error counts",
		Tags:        []string{"system"},
	}, s.handleStats)
}

func (s *Server) handleListModels(_ context.Context, _ *struct{}) (*listModelsOutput, error) {
	pool := s.Pool()
	data := make([]ModelObject, 0, len(pool))
	for _, m := range pool {
		data = append(data, ModelObject{
			ID:         m.ID,
			Object:     "model",
			Created:    m.Created,
			OwnedBy:    ownedBy,
			Permission: []any{},
			Root:       m.ID,
		})
	}
	return &listModelsOutput{Body: ModelList{Object: "list", Data: data}}, nil
}

func (s *Server) handleStats(_ context.Context, _ *struct{}) (*statsOutput, error) {
	return &statsOutput{Body: StatsBody{Models: s.tracker.Snapshot()}}, nil
}
