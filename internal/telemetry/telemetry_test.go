package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Options{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, p.Shutdown(ctx))

	// Instruments on the no-op provider are usable and inert.
	meter := otel.Meter("sudocode/test")
	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(ctx, 1)
}

func TestInitEnabledStdout(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Options{
		Enabled:  true,
		Interval: time.Hour, // never fires during the test
		Service:  "sudocode-test",
		Version:  "0.0.0",
	})
	require.NoError(t, err)

	meter := otel.Meter("sudocode/test")
	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(shutdownCtx))
}
