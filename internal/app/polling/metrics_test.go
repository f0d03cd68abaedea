package polling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	m.IncPolls(ctx)
	m.IncNotFound(ctx)
	m.IncSessionsStarted(ctx)
	m.ObserveSessionEnd(ctx, OutcomeSucceeded, time.Second)
}
