// Package hptime implements the high-precision timing primitives the
// real-time core builds on: a free-running cycle counter abstraction,
// microsecond<->cycle conversion, and overflow-safe elapsed/deadline
// checks. Every conversion here runs on Core 0's tooth-ISR path, so it
// allocates nothing and never blocks.
package hptime

import "time"

// Clock abstracts a free-running hardware counter. Production code
// reads a real timer; tests substitute FakeClock for deterministic,
// reproducible tooth-period math.
type Clock interface {
	// NowCycles returns the counter's current tick value. Ticks are
	// counted at Frequency() Hz and wrap silently; callers must use
	// Elapsed to handle wraparound.
	NowCycles() int64
	// Frequency returns the counter's tick rate in Hz.
	Frequency() int64
}

// SystemClock is the production Clock, backed by time.Now() scaled to
// a configurable tick frequency. Real hardware would read a timer
// peripheral directly; this stands in for it on a host build.
type SystemClock struct {
	freq  int64
	epoch time.Time
}

// NewSystemClock creates a SystemClock ticking at freqHz.
func NewSystemClock(freqHz int64) *SystemClock {
	return &SystemClock{freq: freqHz, epoch: time.Now()}
}

func (c *SystemClock) Frequency() int64 { return c.freq }

func (c *SystemClock) NowCycles() int64 {
	return int64(time.Since(c.epoch)) * c.freq / int64(time.Second)
}

// FakeClock is a manually advanced Clock for deterministic tests.
type FakeClock struct {
	freq int64
	now  int64
}

// NewFakeClock creates a FakeClock ticking at freqHz, starting at 0.
func NewFakeClock(freqHz int64) *FakeClock {
	return &FakeClock{freq: freqHz}
}

func (c *FakeClock) Frequency() int64   { return c.freq }
func (c *FakeClock) NowCycles() int64   { return c.now }
func (c *FakeClock) Advance(d int64)    { c.now += d }
func (c *FakeClock) Set(cycles int64)   { c.now = cycles }
func (c *FakeClock) AdvanceUs(us int64) { c.now += UsToCycles(us, c.freq) }

// UsToCycles converts a microsecond duration to ticks at freqHz.
func UsToCycles(us int64, freqHz int64) int64 {
	return us * freqHz / 1_000_000
}

// CyclesToUs converts a tick count at freqHz to microseconds.
func CyclesToUs(cycles int64, freqHz int64) int64 {
	return cycles * 1_000_000 / freqHz
}

// Elapsed returns now-then in cycles, correct even if the counter
// wrapped through the 64-bit boundary an implementation-defined number
// of times, so long as it wrapped at most once between reads — true
// for any freeRunning counter whose period vastly exceeds the gap
// between calls, which holds for every caller in this codebase.
func Elapsed(then, now int64) int64 {
	return now - then
}

// DeadlineExceeded reports whether now is at or past deadline, given a
// monotonically increasing (mod 2^64) counter.
func DeadlineExceeded(now, deadline int64) bool {
	return now-deadline >= 0
}
