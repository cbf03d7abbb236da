package handlers

import (
	"context"

	"github.com/invopop/jsonschema"

	"github.com/maruel/mdbooks/internal/models"
)

// HealthRequest is the request type for health check (empty).
type HealthRequest struct{}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Health returns a health check handler reporting version.
func Health(version string) func(context.Context, HealthRequest) (*HealthResponse, error) {
	return func(ctx context.Context, req HealthRequest) (*HealthResponse, error) {
		return &HealthResponse{Status: "ok", Version: version}, nil
	}
}

// BookSchema returns the JSON schema of book.json.
func BookSchema(ctx context.Context, _ struct{}) (*jsonschema.Schema, error) {
	return models.BookSchema(), nil
}
