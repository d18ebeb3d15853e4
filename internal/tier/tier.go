// Package tier selects the active precision tier for a given RPM: the
// timer resolution, angular tolerance, and injection tolerance the
// rest of the core should budget for at the current engine speed.
package tier

// Tier describes one precision band.
type Tier struct {
	RPMThreshold      int     // upper bound of this band
	TimerResolutionHz int64   // hardware timer resolution to target
	AngularToleranceD float64 // degrees
	InjectionTolPct   float64 // percent
}

// Table is the static 4-tier precision table. Thresholds strictly
// increase; resolutions strictly decrease.
var Table = [4]Tier{
	{RPMThreshold: 1000, TimerResolutionHz: 10_000_000, AngularToleranceD: 0.2, InjectionTolPct: 1.0},
	{RPMThreshold: 2500, TimerResolutionHz: 5_000_000, AngularToleranceD: 0.3, InjectionTolPct: 1.5},
	{RPMThreshold: 4500, TimerResolutionHz: 2_000_000, AngularToleranceD: 0.5, InjectionTolPct: 2.0},
	{RPMThreshold: 8000, TimerResolutionHz: 1_000_000, AngularToleranceD: 0.8, InjectionTolPct: 3.0},
}

const hysteresisRPM = 100

// Selector tracks the currently active tier with hysteresis so a
// steady RPM sitting exactly on a boundary does not thrash between two
// tiers under small RPM dither.
type Selector struct {
	current     int
	transitions uint64
}

// NewSelector creates a Selector starting at tier 0.
func NewSelector() *Selector {
	return &Selector{}
}

func gainFactor(t Tier) float64 {
	base := Table[len(Table)-1]
	// Precision gain relative to the 1MHz/0.8deg baseline tier.
	return float64(t.TimerResolutionHz) / float64(base.TimerResolutionHz)
}

// Observe feeds a new RPM reading and returns the (possibly unchanged)
// active tier index.
func (s *Selector) Observe(rpm int) int {
	// Candidate tier under a simple no-hysteresis rule.
	candidate := s.current
	for i, t := range Table {
		if rpm <= t.RPMThreshold {
			candidate = i
			break
		}
		candidate = len(Table) - 1
	}

	if candidate == s.current {
		return s.current
	}

	// Apply hysteresis: only cross a boundary once RPM clears it by
	// more than hysteresisRPM, in the direction of the crossing.
	if candidate > s.current {
		boundary := Table[s.current].RPMThreshold
		if rpm < boundary+hysteresisRPM {
			return s.current
		}
	} else {
		boundary := Table[candidate].RPMThreshold
		if rpm > boundary-hysteresisRPM {
			return s.current
		}
	}

	s.current = candidate
	s.transitions++
	return s.current
}

// Current returns the active tier index.
func (s *Selector) Current() int { return s.current }

// CurrentTier returns the active Tier value.
func (s *Selector) CurrentTier() Tier { return Table[s.current] }

// Transitions returns the running count of tier changes.
func (s *Selector) Transitions() uint64 { return s.transitions }

// PrecisionGain returns the current tier's timer resolution relative
// to the lowest (1MHz/0.8deg) baseline tier.
func (s *Selector) PrecisionGain() float64 {
	return gainFactor(Table[s.current])
}
