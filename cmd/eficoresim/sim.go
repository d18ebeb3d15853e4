package main

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/openefi/core/internal/decoder"
	"github.com/openefi/core/internal/enginecore"
)

// toothSim drives a simulated 60-2 crank wheel: it emits real tooth
// edges at the period implied by a virtual RPM curve, and periodically
// emits a gap-length edge to stand in for the two missing teeth,
// mirroring the way a real trigger wheel presents one long gap period
// per revolution instead of a discrete "gap" signal.
type toothSim struct {
	core   *enginecore.Core
	cfg    decoder.Config
	start  time.Time
	tVirt  float64
	teeth  int
}

func newToothSim(core *enginecore.Core, cfg decoder.Config, epoch time.Time) *toothSim {
	teeth := cfg.TotalPositions
	if teeth == 0 {
		teeth = cfg.ToothCount + 2
	}
	return &toothSim{core: core, cfg: cfg, start: epoch, teeth: teeth}
}

// simRPM produces a sinusoidal idle<->rev curve over virtual time.
func (s *toothSim) simRPM() float64 {
	return 900.0 + 3600.0*math.Sin(s.tVirt*0.25)*math.Sin(s.tVirt*0.25)
}

// Run blocks, emitting tooth (and, every other revolution, cam) edges
// until ctx is cancelled.
func (s *toothSim) Run(ctx context.Context) {
	toothIdx := 0
	revCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rpm := s.simRPM()
		normalPeriodUs := 60e6 / (rpm * float64(s.teeth))

		periodUs := normalPeriodUs
		if toothIdx >= s.cfg.ToothCount {
			// Stand in for the 2 missing teeth: one long period instead
			// of two real edges.
			periodUs = 3 * normalPeriodUs
			toothIdx = 0
			revCount++
		} else {
			toothIdx++
		}

		sleepDur := time.Duration(periodUs) * time.Microsecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDur):
		}

		s.tVirt += periodUs / 1e6
		nowUs := float64(time.Since(s.start).Microseconds())
		s.core.Decoder.OnToothEdge(nowUs)

		if s.cfg.EnableCamPhase && toothIdx == 1 && revCount%2 == 1 {
			s.core.Decoder.OnCamEdge()
		}
	}
}

// sensorSim simulates the non-crank analog inputs (MAP/TPS/CLT/IAT/VBat)
// the planner needs, in the same virtual-time style as toothSim.
type sensorSim struct {
	start time.Time
}

func newSensorSim(epoch time.Time) *sensorSim {
	return &sensorSim{start: epoch}
}

type sensorReading struct {
	MAP, TPS, CLT, IAT, VBat float64
}

func (s *sensorSim) Read(rpm int) sensorReading {
	t := time.Since(s.start).Seconds()
	tps := (float64(rpm) - 900) / (4500 - 900) * 100
	if tps < 0 {
		tps = 0
	}
	if tps > 100 {
		tps = 100
	}
	return sensorReading{
		MAP:  30 + tps/100*170,
		TPS:  tps,
		CLT:  85 + math.Min(t/60, 1)*10,
		IAT:  30 + rand.Float64()*5,
		VBat: 13.8 + rand.Float64()*0.3,
	}
}
