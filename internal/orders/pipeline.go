package orders

import (
	"context"
	"time"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// PipelineResult is the combined outcome of rate-limiting then validating
// one batch (spec §4.4: "the pipeline is the composition rate-limit →
// validate").
type PipelineResult struct {
	Accepted        []model.Order
	RateLimited     []model.Order
	RateViolations  []model.Violation
	Invalid         []model.Order
	ValidViolations []model.Violation
}

// Pipeline composes a RateLimiter and Validator. A rejected order in either
// stage never reaches the second stage.
type Pipeline struct {
	limiter   *RateLimiter
	validator *Validator
}

// NewPipeline constructs the two-stage Order Pipeline.
func NewPipeline(limiter *RateLimiter, validator *Validator) *Pipeline {
	return &Pipeline{limiter: limiter, validator: validator}
}

// Process runs orders through the rate limiter and then the validator,
// against the agent's current fog view.
func (p *Pipeline) Process(ctx context.Context, agentID string, orders []model.Order, profile Profile, view model.FogView, batchTime time.Time, arrivals []time.Time) (PipelineResult, error) {
	rl, err := p.limiter.Process(ctx, agentID, orders, profile, batchTime, arrivals)
	if err != nil {
		return PipelineResult{}, err
	}

	vr := p.validator.Validate(rl.Allowed, view)

	result := PipelineResult{
		Accepted:        vr.Valid,
		RateLimited:     rl.Rejected,
		RateViolations:  rl.Violations,
		Invalid:         vr.Rejected,
		ValidViolations: vr.Violations,
	}
	recordPipelineResult(result)
	return result, nil
}
