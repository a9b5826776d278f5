package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/hlssplit/internal/observability"
)

// SettingsHandler exposes runtime-adjustable settings.
type SettingsHandler struct{}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler() *SettingsHandler {
	return &SettingsHandler{}
}

// LogLevelBody carries the log level.
type LogLevelBody struct {
	Level string `json:"level" enum:"trace,debug,info,warn,error" doc:"Log level"`
}

// GetLogLevelInput is the input for reading the log level.
type GetLogLevelInput struct{}

// LogLevelOutput is the output for the log level endpoints.
type LogLevelOutput struct {
	Body LogLevelBody
}

// UpdateLogLevelInput is the input for changing the log level.
type UpdateLogLevelInput struct {
	Body LogLevelBody
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLogLevel",
		Method:      "GET",
		Path:        "/log-level",
		Summary:     "Get log level",
		Tags:        []string{"System"},
	}, h.GetLogLevel)

	huma.Register(api, huma.Operation{
		OperationID: "updateLogLevel",
		Method:      "PUT",
		Path:        "/log-level",
		Summary:     "Set log level",
		Description: "Changes the log level of the running process immediately",
		Tags:        []string{"System"},
	}, h.UpdateLogLevel)
}

// GetLogLevel returns the current log level.
func (h *SettingsHandler) GetLogLevel(ctx context.Context, input *GetLogLevelInput) (*LogLevelOutput, error) {
	return &LogLevelOutput{Body: LogLevelBody{Level: observability.GetLogLevel()}}, nil
}

// UpdateLogLevel applies a new log level.
func (h *SettingsHandler) UpdateLogLevel(ctx context.Context, input *UpdateLogLevelInput) (*LogLevelOutput, error) {
	observability.SetLogLevel(input.Body.Level)
	return &LogLevelOutput{Body: LogLevelBody{Level: observability.GetLogLevel()}}, nil
}
