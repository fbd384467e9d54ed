package orders

import "time"

// Profile names a fixed rate-limit envelope applied to one agent's order
// batches within one match (spec §4.4.1).
type Profile string

const (
	ProfileCompetitive  Profile = "competitive"
	ProfilePermissive   Profile = "permissive"
	ProfileUnrestricted Profile = "unrestricted"
)

// Limits is the numeric envelope a profile resolves to.
type Limits struct {
	MaxAPM             int           // orders per rolling 60s window; 0 means unbounded
	MaxOrdersPerTick   int           // per-batch cap
	MinSpacing         time.Duration // minimum gap between orders within one batch
	MaxUnitsPerCommand int           // 0 means unbounded
}

var profileLimits = map[Profile]Limits{
	ProfileCompetitive: {
		MaxAPM: 600, MaxOrdersPerTick: 8,
		MinSpacing: 10 * time.Millisecond, MaxUnitsPerCommand: 50,
	},
	ProfilePermissive: {
		MaxAPM: 200, MaxOrdersPerTick: 3,
		MinSpacing: 50 * time.Millisecond, MaxUnitsPerCommand: 12,
	},
	ProfileUnrestricted: {
		MaxAPM: 0, MaxOrdersPerTick: 100,
		MinSpacing: 0, MaxUnitsPerCommand: 0,
	},
}

// Resolve returns the numeric envelope for a profile name, and false if the
// name is not one of the three recognized profiles.
func Resolve(p Profile) (Limits, bool) {
	l, ok := profileLimits[p]
	return l, ok
}
