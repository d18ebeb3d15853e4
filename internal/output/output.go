// Package output implements the high-precision output stage: four
// injector channels and four ignition channels, each driven by a
// free-running absolute-compare timer. The timer capability is a
// small interface so the scheduler's tests can run against an
// in-memory mock instead of real hardware.
package output

import "fmt"

// AbsoluteCompareTimer is the hardware capability the output stage
// consumes: a free-running counter with a rising/falling compare pair
// and a forced-low override. The timer never stops; scheduling only
// rewrites the compare registers.
type AbsoluteCompareTimer interface {
	// ReadCounter returns the timer's current free-running tick value.
	ReadCounter() int64
	// SetCompare arms rising/falling compares. The generator produces
	// a high level between a rising match and the following falling
	// match.
	SetCompare(rising, falling int64)
	// ForceLow overrides the generator output to low immediately,
	// regardless of pending compares.
	ForceLow()
}

// ChannelState is the per-channel state machine position: Idle ->
// Armed -> Firing -> Idle.
type ChannelState int

const (
	Idle ChannelState = iota
	Armed
	Firing
)

func (s ChannelState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	default:
		return "unknown"
	}
}

// Channel owns one free-running timer and pin for either an injector
// or an ignition coil.
type Channel struct {
	Name  string
	Timer AbsoluteCompareTimer

	state       ChannelState
	lastPulseUs float64
	cmpRising   int64
	cmpFalling  int64
}

// NewChannel creates a Channel bound to the given timer capability.
func NewChannel(name string, timer AbsoluteCompareTimer) *Channel {
	c := &Channel{Name: name, Timer: timer, state: Idle}
	c.Timer.ForceLow()
	return c
}

// Limits bounds a channel's allowed pulse/dwell width.
type Limits struct {
	MinUs    float64
	MaxUs    float64 // configured operating ceiling; values above are clamped to this
	HardCeil float64 // absolute ceiling; exceeding it stops the channel
}

// ErrTargetInPast is returned when a scheduling request's target lies
// at or before the current counter value.
var ErrTargetInPast = fmt.Errorf("output: target is in the past")

// ErrCeilingExceeded is returned (after forcing the channel low) when
// the requested pulse/dwell exceeds the hard safety ceiling.
var ErrCeilingExceeded = fmt.Errorf("output: pulsewidth exceeds hard ceiling, channel stopped")

// ScheduleOneShotAbsolute is the channel's scheduling API. It rejects
// requests whose target lies at/before currentCounter,
// clamps pulseOrDwellUs into lim, and stops the channel outright if
// the unclamped request exceeds lim.HardCeil.
func (c *Channel) ScheduleOneShotAbsolute(targetCounter int64, pulseOrDwellUs float64, currentCounter int64, freqHz int64, lim Limits) error {
	if lim.HardCeil > 0 && pulseOrDwellUs > lim.HardCeil {
		c.StopAll()
		return ErrCeilingExceeded
	}

	pulse := pulseOrDwellUs
	if lim.MinUs > 0 && pulse < lim.MinUs {
		pulse = lim.MinUs
	}
	if lim.MaxUs > 0 && pulse > lim.MaxUs {
		pulse = lim.MaxUs
	}

	if targetCounter <= currentCounter {
		return ErrTargetInPast
	}

	pulseTicks := int64(pulse * float64(freqHz) / 1_000_000)
	rising := targetCounter - pulseTicks
	falling := targetCounter

	c.Timer.SetCompare(rising, falling)
	c.cmpRising, c.cmpFalling = rising, falling
	c.lastPulseUs = pulse
	c.state = Armed
	return nil
}

// StopAll forces the channel's pin low immediately and returns it to
// Idle, independent of any armed compare.
func (c *Channel) StopAll() {
	c.Timer.ForceLow()
	c.state = Idle
}

// NoteFiring transitions Armed -> Firing -> Idle as compare matches
// are observed. Production hardware would drive this from the
// generator's own match interrupts; in this software model nothing
// calls it (the mock timer has no interrupt of its own), so a channel
// stays Armed after a compare write until StopAll returns it to Idle.
func (c *Channel) NoteFiring() {
	if c.state == Armed {
		c.state = Firing
	} else if c.state == Firing {
		c.state = Idle
	}
}

// State returns the channel's current state-machine position.
func (c *Channel) State() ChannelState { return c.state }

// LastPulseUs returns the most recently scheduled (post-clamp) pulse
// or dwell width in microseconds.
func (c *Channel) LastPulseUs() float64 { return c.lastPulseUs }
