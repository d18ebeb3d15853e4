package predictor

import "testing"

func TestPhaseFirstSampleSeeds(t *testing.T) {
	p := NewPhase()
	p.Update(6000, 1000, 0)
	if p.PredictedPeriod() != 6000 {
		t.Errorf("PredictedPeriod() = %v, want 6000", p.PredictedPeriod())
	}
	if p.ToothCount() != 1 {
		t.Errorf("ToothCount() = %v, want 1", p.ToothCount())
	}
}

func TestPhaseConvergesTowardSteadyPeriod(t *testing.T) {
	p := NewPhase()
	p.Update(6000, 0, 0)
	for i := 0; i < 50; i++ {
		p.Update(6000, int64(i+1)*6000, 6000)
	}
	if diff := p.PredictedPeriod() - 6000; diff > 1 || diff < -1 {
		t.Errorf("PredictedPeriod() = %v, want ~6000", p.PredictedPeriod())
	}
}

func TestPhaseHigherAccelLowersAlpha(t *testing.T) {
	p := NewPhase()
	p.Update(6000, 0, 0)
	p.Update(6000, 6000, 6000) // zero acceleration
	steadyAlpha := p.Alpha()

	p2 := NewPhase()
	p2.Update(6000, 0, 0)
	p2.Update(3000, 6000, 6000) // large deceleration in period (accelerating engine)
	transientAlpha := p2.Alpha()

	if transientAlpha >= steadyAlpha {
		t.Errorf("expected higher |accel| to lower alpha: steady=%v transient=%v", steadyAlpha, transientAlpha)
	}
}

func TestPhaseClampsStaleDt(t *testing.T) {
	p := NewPhase()
	p.Update(6000, 0, 0)
	p.Update(6500, 1_000_000_000, 500_000) // dt far beyond 100ms clamp
	if p.Acceleration() == 0 {
		t.Skip("acceleration may legitimately be small after clamp")
	}
	// dt is clamped to 100ms, so acceleration is 500us / 100000us.
	if got, want := p.Acceleration(), 500.0/100_000; got != want {
		t.Errorf("Acceleration() = %v, want %v (dt clamped to 100ms)", got, want)
	}
}

func TestJitterSnapshot(t *testing.T) {
	j := NewJitter()
	j.Record(1000, 1005)
	j.Record(1000, 990)
	j.Record(1000, 1000)

	s := j.Snapshot(1_000_000) // 1 MHz: 1 cycle == 1 us
	if s.Count != 3 {
		t.Fatalf("Count = %d, want 3", s.Count)
	}
	if s.MaxUs != 10 {
		t.Errorf("MaxUs = %v, want 10", s.MaxUs)
	}
	if s.MinUs != 0 {
		t.Errorf("MinUs = %v, want 0", s.MinUs)
	}
}

func TestLatencyCompensation(t *testing.T) {
	l := DefaultLatency()
	base := l.CoilDelay(12, l.TempReferenceC)
	if base != l.CoilDelayBaseUs {
		t.Errorf("at reference vbat/clt, CoilDelay() = %v, want base %v", base, l.CoilDelayBaseUs)
	}
	lowVbat := l.CoilDelay(10, l.TempReferenceC)
	if lowVbat <= base {
		t.Errorf("lower battery voltage should increase compensated delay: got %v <= %v", lowVbat, base)
	}
}
