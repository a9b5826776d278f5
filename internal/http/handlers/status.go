// Package handlers provides the status API handlers for hlssplit.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/hlssplit/internal/engine"
)

// StatusProvider is implemented by *engine.Engine.
type StatusProvider interface {
	Status() engine.Status
}

// StatusHandler serves the recorder's live status.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a status handler reading from provider.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// StatusInput is the input for the status endpoint.
type StatusInput struct{}

// StatusOutput is the output for the status endpoint.
type StatusOutput struct {
	Body engine.Status
}

// Register registers the status routes with the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/status",
		Summary:     "Recorder status",
		Description: "Returns the engine state, the open and last closed segment, and counters",
		Tags:        []string{"Recorder"},
	}, h.GetStatus)
}

// GetStatus returns a snapshot of the engine status.
func (h *StatusHandler) GetStatus(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	return &StatusOutput{Body: h.provider.Status()}, nil
}
