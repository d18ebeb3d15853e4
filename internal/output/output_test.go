package output

import (
	"testing"

	"github.com/openefi/core/internal/predictor"
)

func TestScheduleRejectsPastTarget(t *testing.T) {
	timer := NewMockTimer()
	ch := NewChannel("inj0", timer)
	timer.Advance(1000)

	err := ch.ScheduleOneShotAbsolute(500, 2000, timer.ReadCounter(), 1_000_000, Limits{MaxUs: 20000})
	if err != ErrTargetInPast {
		t.Fatalf("err = %v, want ErrTargetInPast", err)
	}
	if timer.WriteCount() != 0 {
		t.Error("expected no compare write for a past target")
	}
}

func TestScheduleWritesRisingFalling(t *testing.T) {
	timer := NewMockTimer()
	ch := NewChannel("inj0", timer)

	// Target at 10000 ticks, 2000us pulse at 1MHz => 2000 ticks.
	if err := ch.ScheduleOneShotAbsolute(10000, 2000, 0, 1_000_000, Limits{MaxUs: 20000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timer.Rising() != 8000 || timer.Falling() != 10000 {
		t.Errorf("rising/falling = %d/%d, want 8000/10000", timer.Rising(), timer.Falling())
	}
}

func TestScheduleClampsToMax(t *testing.T) {
	timer := NewMockTimer()
	ch := NewChannel("inj0", timer)
	lim := Limits{MaxUs: 5000, HardCeil: 50000}
	if err := ch.ScheduleOneShotAbsolute(100000, 9000, 0, 1_000_000, lim); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.LastPulseUs() != 5000 {
		t.Errorf("LastPulseUs() = %v, want clamped to 5000", ch.LastPulseUs())
	}
}

func TestScheduleHardCeilingStopsChannel(t *testing.T) {
	timer := NewMockTimer()
	ch := NewChannel("inj0", timer)
	ch.ScheduleOneShotAbsolute(100000, 10000, 0, 1_000_000, Limits{MaxUs: 20000}) // arm first
	lim := Limits{MaxUs: 20000, HardCeil: 25000}
	err := ch.ScheduleOneShotAbsolute(200000, 30000, 0, 1_000_000, lim)
	if err != ErrCeilingExceeded {
		t.Fatalf("err = %v, want ErrCeilingExceeded", err)
	}
	if ch.State() != Idle {
		t.Errorf("State() = %v, want Idle after hard-ceiling stop", ch.State())
	}
	if !timer.forcedLow {
		t.Error("expected pin forced low after hard-ceiling stop")
	}
}

func testStage() *Stage {
	var timers [8]AbsoluteCompareTimer
	for i := range timers {
		timers[i] = NewMockTimer()
	}
	return NewStage(1_000_000, timers, Limits{MaxUs: 25000, HardCeil: 30000}, 2800, 4500, predictor.DefaultLatency())
}

func TestDwellBatteryPiecewise(t *testing.T) {
	s := testStage()
	cases := []struct {
		vbat     float64
		rpm      int
		wantMsGE float64
	}{
		{10.5, 3000, 4.5 * 1000},
		{12.0, 3000, 3.5 * 1000},
		{13.0, 3000, 3.0 * 1000},
		{15.0, 3000, 2.8 * 1000},
	}
	for _, c := range cases {
		got := s.ResolveDwellUs(c.vbat, c.rpm)
		if got < s.DwellMin || got > s.DwellMax {
			t.Errorf("vbat=%v rpm=%v dwell=%v out of clamp range [%v,%v]", c.vbat, c.rpm, got, s.DwellMin, s.DwellMax)
		}
		if got < c.wantMsGE {
			t.Errorf("vbat=%v rpm=%v dwell=%v, want >= %v", c.vbat, c.rpm, got, c.wantMsGE)
		}
	}
}

func TestDwellClampAfterScaling(t *testing.T) {
	s := testStage()
	// Low RPM scale (x1.15) on an already-high base can exceed DwellMax.
	got := s.ResolveDwellUs(10.5, 500)
	if got > s.DwellMax {
		t.Errorf("ResolveDwellUs() = %v, want clamped to DwellMax=%v", got, s.DwellMax)
	}
}

func TestIgnitionSkippedWhenTooCloseToSpark(t *testing.T) {
	s := testStage()
	// Target only 100us away: below DwellMin+200.
	fired, err := s.FireIgnitionDwell(0, 100, 3000, 13.0, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired {
		t.Error("expected ignition event to be skipped, not fired")
	}
	if s.SkipCounter != 1 {
		t.Errorf("SkipCounter = %d, want 1", s.SkipCounter)
	}
}

func TestIgnitionFiresWithSufficientMargin(t *testing.T) {
	s := testStage()
	fired, err := s.FireIgnitionDwell(0, 50000, 3000, 13.0, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Error("expected ignition event to fire with ample margin")
	}
}

func TestStopAllChannelsForcesLow(t *testing.T) {
	var timers [8]AbsoluteCompareTimer
	mocks := make([]*MockTimer, 8)
	for i := range timers {
		m := NewMockTimer()
		mocks[i] = m
		timers[i] = m
	}
	s := NewStage(1_000_000, timers, Limits{MaxUs: 25000}, 2800, 4500, predictor.DefaultLatency())
	for _, c := range s.Injectors {
		c.ScheduleOneShotAbsolute(100000, 2000, 0, 1_000_000, s.InjectorLimits)
	}
	s.StopAllChannels()
	for i, c := range s.Injectors {
		if c.State() != Idle {
			t.Errorf("injector %d state = %v, want Idle", i, c.State())
		}
		if !mocks[i].forcedLow {
			t.Errorf("injector %d timer not forced low", i)
		}
	}
}
