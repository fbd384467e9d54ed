package orders

import (
	"fmt"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// ValidationResult is the outcome of processing one batch through the
// Command Validator (spec §4.4.2).
type ValidationResult struct {
	Valid      []model.Order
	Rejected   []model.Order
	Violations []model.Violation
}

// Validator checks command legality against a fog-filtered view. Unlike
// the rate limiter it never touches a shared counter across calls that
// would require network I/O — every check is a pure function of the order
// and the view, matching spec §4.4.2's "never surfaces errors, only
// classifies" failure semantics.
type Validator struct{}

// NewValidator constructs a stateless Command Validator.
func NewValidator() *Validator { return &Validator{} }

// Validate classifies every order in the batch as valid or rejected
// against view, following the check order in spec §4.4.2.
func (v *Validator) Validate(orders []model.Order, view model.FogView) ValidationResult {
	result := ValidationResult{}

	for i, o := range orders {
		if violation, ok := v.checkOrder(i, o, view); ok {
			result.Rejected = append(result.Rejected, o)
			result.Violations = append(result.Violations, violation)
			continue
		}
		result.Valid = append(result.Valid, o)
	}
	return result
}

// checkOrder runs the ordered checks against a single order, stopping at
// the first violation (spec §4.4.2 step 1: "stop evaluation of this
// order" once the type check fails; later steps are likewise exclusive
// since an order is rejected on its first fault).
func (v *Validator) checkOrder(index int, o model.Order, view model.FogView) (model.Violation, bool) {
	reject := func(category model.ViolationCategory, severity model.ViolationSeverity, reason string) (model.Violation, bool) {
		return model.Violation{OrderIndex: index, Category: category, Severity: severity, Reason: reason}, true
	}

	// 1. Type.
	if !model.IsValidOrderType(o.Type) {
		return reject(model.ViolationUnknownType, model.SeverityCritical, fmt.Sprintf("unrecognized order type %q", o.Type))
	}

	// 2. Required-field shape.
	if model.IsUnitOrder(o.Type) && len(o.UnitIDs) == 0 {
		return reject(model.ViolationMalformed, model.SeverityLow, "unit order missing unit_ids")
	}
	if model.IsBuildingOrder(o.Type) && o.BuildingID == "" {
		return reject(model.ViolationMalformed, model.SeverityLow, "building order missing building_id")
	}
	if model.IsPositionOrder(o.Type) && o.TargetCell == nil {
		return reject(model.ViolationMalformed, model.SeverityLow, "position order missing target_cell")
	}

	// 3. Ownership.
	for _, id := range o.UnitIDs {
		if _, ok := view.OwnUnit(id); !ok {
			return reject(model.ViolationOwnership, model.SeverityCritical, fmt.Sprintf("unit %q is not owned by agent", id))
		}
	}
	if model.IsBuildingOrder(o.Type) {
		if _, ok := view.OwnStructure(o.BuildingID); !ok {
			return reject(model.ViolationOwnership, model.SeverityCritical, fmt.Sprintf("structure %q is not owned by agent", o.BuildingID))
		}
	}

	// 4. Bounds.
	if o.TargetCell != nil && !view.Map.InBounds(*o.TargetCell) {
		return reject(model.ViolationBounds, model.SeverityLow, fmt.Sprintf("target cell %v out of bounds", *o.TargetCell))
	}

	// 5. Fog compliance (attack only; guard targets must be own units).
	switch o.Type {
	case model.OrderAttack:
		if o.TargetID != "" {
			if _, ownUnit := view.OwnUnit(o.TargetID); !ownUnit {
				if !view.VisibleEnemyID(o.TargetID) {
					return reject(model.ViolationFog, model.SeverityCritical, fmt.Sprintf("target %q is not currently visible", o.TargetID))
				}
			}
		}
	case model.OrderGuard:
		if o.TargetID != "" {
			if _, ok := view.OwnUnit(o.TargetID); !ok {
				return reject(model.ViolationFog, model.SeverityCritical, fmt.Sprintf("guard target %q is not an own unit", o.TargetID))
			}
		}
	}

	// 6. Production.
	if o.Type == model.OrderTrain {
		if o.BuildType == "" {
			return reject(model.ViolationProduction, model.SeverityLow, "train order missing build_type")
		}
		if o.Count != nil && (*o.Count < 1 || *o.Count > 20) {
			return reject(model.ViolationProduction, model.SeverityLow, fmt.Sprintf("train count %d out of range [1,20]", *o.Count))
		}
	}

	// 7. Build / use-power.
	if o.Type == model.OrderBuild && o.BuildType == "" {
		return reject(model.ViolationMalformed, model.SeverityLow, "build order missing build_type")
	}
	if o.Type == model.OrderUsePower && o.PowerType == "" {
		return reject(model.ViolationMalformed, model.SeverityLow, "use_power order missing power_type")
	}

	return model.Violation{}, false
}
