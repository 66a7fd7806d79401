package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate(), "defaults must validate")

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate(), "enabled against localhost is fine")

	cfg.Endpoint = ""
	assert.Error(t, cfg.Validate())

	cfg.Endpoint = "collector.example.com:4318"
	assert.Error(t, cfg.Validate(), "insecure remote endpoint rejected")

	cfg.Insecure = false
	assert.NoError(t, cfg.Validate())

	cfg.SampleRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}
