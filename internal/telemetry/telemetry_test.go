package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Endpoint = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.SampleRate = 1.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ExportInterval = 0
	assert.Error(t, bad.Validate())
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	res := newResource(cfg)

	var found bool
	for _, attr := range res.Attributes() {
		if string(attr.Key) == "service.name" {
			assert.Equal(t, "minutes", attr.Value.AsString())
			found = true
		}
	}
	assert.True(t, found)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.example:4318", stripScheme("https://otel.example:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.False(t, tel.Enabled())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}
