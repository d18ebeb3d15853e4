package output

import "github.com/openefi/core/internal/predictor"

// Stage owns the four injector and four ignition channels and applies
// the dwell-selection and latency-compensation rules before writing
// any compare.
type Stage struct {
	Injectors [4]*Channel
	Ignition  [4]*Channel

	InjectorLimits Limits
	DwellMin       float64 // IGN_DWELL_MS_MIN, in us
	DwellMax       float64 // IGN_DWELL_MS_MAX, in us

	Latency predictor.Latency

	FreqHz int64

	SkipCounter uint64
}

// NewStage builds a Stage from eight timer capabilities (one per
// channel), in the order inj0..inj3, ign0..ign3.
func NewStage(freqHz int64, timers [8]AbsoluteCompareTimer, injLimits Limits, dwellMinUs, dwellMaxUs float64, latency predictor.Latency) *Stage {
	s := &Stage{
		FreqHz:         freqHz,
		InjectorLimits: injLimits,
		DwellMin:       dwellMinUs,
		DwellMax:       dwellMaxUs,
		Latency:        latency,
	}
	for i := 0; i < 4; i++ {
		s.Injectors[i] = NewChannel(injName(i), timers[i])
		s.Ignition[i] = NewChannel(ignName(i), timers[4+i])
	}
	return s
}

func injName(i int) string { return "inj" + itoa(i) }
func ignName(i int) string { return "ign" + itoa(i) }

func itoa(i int) string {
	return string(rune('0' + i))
}

// ResolveDwellUs applies the piecewise dwell selection: base dwell
// from battery voltage, scaled by RPM, then clamped to
// [DwellMin, DwellMax] *after* scaling (scaling can push the base over
// the cap).
func (s *Stage) ResolveDwellUs(vbat float64, rpm int) float64 {
	var baseMs float64
	switch {
	case vbat <= 11:
		baseMs = 4.5
	case vbat <= 12.5:
		baseMs = 3.5
	case vbat <= 14:
		baseMs = 3.0
	default:
		baseMs = 2.8
	}

	scale := 1.0
	if rpm < 1000 {
		scale = 1.15
	} else if rpm > 8000 {
		scale = 0.85
	}

	dwellUs := baseMs * 1000 * scale

	if s.DwellMin > 0 && dwellUs < s.DwellMin {
		dwellUs = s.DwellMin
	}
	if s.DwellMax > 0 && dwellUs > s.DwellMax {
		dwellUs = s.DwellMax
	}
	return dwellUs
}

// minDwellGuardUs is the safety margin below which a spark is skipped
// rather than truncated: a target less than min_dwell + 200us from
// now cannot get a full dwell, so it doesn't fire at all.
const minDwellGuardUs = 200

// FireInjectorOpen schedules an injector-open pulse ending at
// absoluteTargetUs (the end-of-injection time), applying injector
// latency compensation. currentCounterUs is the current free-running
// counter value, in the same clock units as absoluteTargetUs.
func (s *Stage) FireInjectorOpen(cyl int, absoluteTargetUs, pulseUs float64, currentCounterUs int64, vbat, clt float64) error {
	if cyl < 0 || cyl > 3 {
		return ErrTargetInPast
	}
	latency := s.Latency.InjectorDelay(vbat, clt)
	targetTicks := usToTicks(absoluteTargetUs+latency, s.FreqHz)
	return s.Injectors[cyl].ScheduleOneShotAbsolute(targetTicks, pulseUs, currentCounterUs, s.FreqHz, s.InjectorLimits)
}

// FireIgnitionDwell schedules an ignition dwell-then-spark ending
// (the spark) at absoluteTargetUs. Dwell is computed internally from
// rpm/vbat. Returns (false, nil) if the event was
// deliberately skipped to protect the coil — not an error.
func (s *Stage) FireIgnitionDwell(cyl int, absoluteTargetUs float64, rpm int, vbat, clt float64, currentCounterUs int64) (fired bool, err error) {
	if cyl < 0 || cyl > 3 {
		return false, ErrTargetInPast
	}
	dwellUs := s.ResolveDwellUs(vbat, rpm)
	latency := s.Latency.CoilDelay(vbat, clt)

	currentUs := ticksToUs(currentCounterUs, s.FreqHz)
	delayToSpark := absoluteTargetUs - currentUs
	if delayToSpark < s.DwellMin+minDwellGuardUs {
		s.SkipCounter++
		return false, nil
	}

	targetTicks := usToTicks(absoluteTargetUs+latency, s.FreqHz)
	lim := Limits{MinUs: s.DwellMin, MaxUs: s.DwellMax, HardCeil: s.DwellMax * 2}
	if err := s.Ignition[cyl].ScheduleOneShotAbsolute(targetTicks, dwellUs, currentCounterUs, s.FreqHz, lim); err != nil {
		return false, err
	}
	return true, nil
}

// StopAllChannels forces every channel's pin low, used on sync loss
// and at shutdown.
func (s *Stage) StopAllChannels() {
	for _, c := range s.Injectors {
		c.StopAll()
	}
	for _, c := range s.Ignition {
		c.StopAll()
	}
}

func usToTicks(us float64, freqHz int64) int64 {
	return int64(us * float64(freqHz) / 1_000_000)
}

func ticksToUs(ticks int64, freqHz int64) float64 {
	return float64(ticks) * 1_000_000 / float64(freqHz)
}
