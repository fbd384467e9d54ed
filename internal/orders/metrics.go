package orders

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	meter          = otel.GetMeterProvider().Meter("arbiterd/orders")
	ordersAccepted otelmetric.Int64Counter
	ordersRejected otelmetric.Int64Counter
)

func init() {
	var err error
	ordersAccepted, err = meter.Int64Counter("orders.pipeline.accepted")
	if err != nil {
		ordersAccepted, _ = meter.Int64Counter("orders.pipeline.accepted.fallback")
	}
	ordersRejected, err = meter.Int64Counter("orders.pipeline.rejected")
	if err != nil {
		ordersRejected, _ = meter.Int64Counter("orders.pipeline.rejected.fallback")
	}
}

// recordPipelineResult reports how many orders in one batch survived the
// pipeline versus were rejected at either stage, tagged by rejection stage
// so rate-limit rejections and validation rejections are distinguishable.
func recordPipelineResult(result PipelineResult) {
	ctx := context.Background()
	if n := len(result.Accepted); n > 0 {
		ordersAccepted.Add(ctx, int64(n))
	}
	if n := len(result.RateLimited); n > 0 {
		ordersRejected.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("orders.pipeline.stage", "rate_limit")))
	}
	if n := len(result.Invalid); n > 0 {
		ordersRejected.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("orders.pipeline.stage", "validate")))
	}
}
