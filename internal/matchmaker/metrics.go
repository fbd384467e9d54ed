package matchmaker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	meter           = otel.GetMeterProvider().Meter("arbiterd/matchmaker")
	tickDuration    otelmetric.Float64Histogram
	pairingsEmitted otelmetric.Int64Counter
)

func init() {
	var err error
	tickDuration, err = meter.Float64Histogram("matchmaker.tick.duration", otelmetric.WithUnit("ms"))
	if err != nil {
		tickDuration, _ = meter.Float64Histogram("matchmaker.tick.duration.fallback", otelmetric.WithUnit("ms"))
	}
	pairingsEmitted, err = meter.Int64Counter("matchmaker.tick.pairings")
	if err != nil {
		pairingsEmitted, _ = meter.Int64Counter("matchmaker.tick.pairings.fallback")
	}
}

// recordTick reports how long one full Tick scan across every mode took and
// how many pairings it emitted, mirroring the request-count/duration pair
// tracingMiddleware records for HTTP.
func recordTick(start time.Time, outcomes []TickOutcome) {
	ctx := context.Background()
	pairings := 0
	for _, o := range outcomes {
		pairings += len(o.Pairings)
	}
	tickDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if pairings > 0 {
		pairingsEmitted.Add(ctx, int64(pairings))
	}
}
