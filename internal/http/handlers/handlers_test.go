package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlssplit/internal/engine"
	"github.com/jmylchreest/hlssplit/internal/observability"
)

type statusFunc func() engine.Status

func (f statusFunc) Status() engine.Status { return f() }

func TestStatusHandler_GetStatus(t *testing.T) {
	handler := NewStatusHandler(statusFunc(func() engine.Status {
		return engine.Status{State: "rotating", Segments: 4}
	}))

	output, err := handler.GetStatus(context.Background(), &StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, "rotating", output.Body.State)
	assert.Equal(t, 4, output.Body.Segments)
}

func TestHealthHandler_GetHealth(t *testing.T) {
	dir := t.TempDir()
	handler := NewHealthHandler("1.0.0", dir)

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "healthy", output.Body.Status)
	assert.Equal(t, "1.0.0", output.Body.Version)
	assert.NotEmpty(t, output.Body.Uptime)
	assert.NotZero(t, output.Body.CPUInfo.Cores)
	assert.Equal(t, dir, output.Body.Output.Path)
}

func TestHealthHandler_NoOutputDir(t *testing.T) {
	output, err := NewHealthHandler("1.0.0", "").GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Zero(t, output.Body.Output.FreeMB)
}

func TestSettingsHandler_LogLevel(t *testing.T) {
	t.Cleanup(func() { observability.SetLogLevel("info") })
	handler := NewSettingsHandler()

	out, err := handler.UpdateLogLevel(context.Background(), &UpdateLogLevelInput{Body: LogLevelBody{Level: "warn"}})
	require.NoError(t, err)
	assert.Equal(t, "warn", out.Body.Level)

	out, err = handler.GetLogLevel(context.Background(), &GetLogLevelInput{})
	require.NoError(t, err)
	assert.Equal(t, "warn", out.Body.Level)
}
