package arbiter

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	meter                = otel.GetMeterProvider().Meter("arbiterd/arbiter")
	stateDispatchLatency otelmetric.Float64Histogram
	simulatorCallLatency otelmetric.Float64Histogram
	simulatorRetryCount  otelmetric.Int64Counter
)

func init() {
	var err error
	stateDispatchLatency, err = meter.Float64Histogram("arbiter.match.state_dispatch.duration", otelmetric.WithUnit("ms"))
	if err != nil {
		stateDispatchLatency, _ = meter.Float64Histogram("arbiter.match.state_dispatch.duration.fallback", otelmetric.WithUnit("ms"))
	}
	simulatorCallLatency, err = meter.Float64Histogram("arbiter.simulator.call.duration", otelmetric.WithUnit("ms"))
	if err != nil {
		simulatorCallLatency, _ = meter.Float64Histogram("arbiter.simulator.call.duration.fallback", otelmetric.WithUnit("ms"))
	}
	simulatorRetryCount, err = meter.Int64Counter("arbiter.simulator.retry_count")
	if err != nil {
		simulatorRetryCount, _ = meter.Int64Counter("arbiter.simulator.retry_count.fallback")
	}
}

// recordSimulatorCall reports how long a single retryingSimulator call took
// and, separately, how many retries it consumed before returning (0 for a
// call that succeeded on the first attempt).
func recordSimulatorCall(op string, start time.Time, retries int) {
	ctx := context.Background()
	attrs := otelmetric.WithAttributes(attribute.String("arbiter.simulator.op", op))
	simulatorCallLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if retries > 0 {
		simulatorRetryCount.Add(ctx, int64(retries), attrs)
	}
}

// recordStateDispatch reports how long one onState fan-out to every
// identified participant and spectator channel took.
func recordStateDispatch(start time.Time) {
	stateDispatchLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()))
}
