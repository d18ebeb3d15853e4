// Package planner implements the Core-1 engine-control planner: a
// cooperatively scheduled periodic task that consumes the decoder's
// sync snapshot and sensor readings, computes
// per-cylinder injection pulsewidth and ignition advance, and enqueues
// the next cycle's events. The planner never touches hardware
// directly — it only speaks through the scheduler's event queue.
package planner

import (
	"time"

	"github.com/openefi/core/internal/decoder"
	"github.com/openefi/core/internal/scheduler"
)

// CylinderTDC is the per-cylinder top-dead-centre angle array, e.g.
// {0, 180, 360, 540} for an even-fire four-cylinder engine.
type CylinderTDC [4]float64

// Sensors is the latest snapshot of non-crank sensor readings the
// planner needs: manifold pressure/load, coolant, intake air temp,
// battery voltage, and closed-loop lambda trims.
type Sensors struct {
	MAP  float64 // kPa, used as the load axis
	CLT  float64 // deg C
	IAT  float64 // deg C
	VBat float64
	STFT float64 // short-term fuel trim, percent
	LTFT float64 // long-term fuel trim, percent
}

// Tables is the minimal table lookup surface the planner needs. A
// real implementation resolves these from 2D (RPM, load) maps; the
// fuel/ignition table math itself is out of this core's scope —
// Tables is the narrow interface the planner consumes.
type Tables interface {
	VE(cyl int, rpm int, load float64) float64     // percent
	IgnitionAdvance(rpm int, load float64) float64 // degrees BTDC
	LambdaTarget(rpm int, load float64) float64
	BasePulsewidthUs(ve float64, rpm int, load float64) float64
}

// Planner is the Core-1 periodic task.
type Planner struct {
	TDC      CylinderTDC
	EOIAngle float64 // end-of-injection angle, degrees, cylinder-relative
	Tables   Tables
	Queue    *scheduler.Queue

	// STFT/LTFT correction limits, percent.
	MinTrim float64
	MaxTrim float64
}

// New creates a Planner. The phase predictor is not owned here: it is
// a Core-0-only write (see enginecore.Core.onTooth) and the planner
// only ever reads decoder snapshots, never the predictor itself.
func New(tdc CylinderTDC, eoiAngle float64, tables Tables, q *scheduler.Queue) *Planner {
	return &Planner{
		TDC:      tdc,
		EOIAngle: eoiAngle,
		Tables:   tables,
		Queue:    q,
		MinTrim:  -15,
		MaxTrim:  15,
	}
}

// clampTrim bounds a closed-loop correction percentage within
// configured limits.
func (p *Planner) clampTrim(pct float64) float64 {
	if pct < p.MinTrim {
		return p.MinTrim
	}
	if pct > p.MaxTrim {
		return p.MaxTrim
	}
	return pct
}

// PlanCycle runs one planning iteration: resolve tables, apply closed-
// loop trims, cancel the previous cycle's armed events, and enqueue
// the next injection/ignition events for every cylinder. snap
// is the decoder's latest SyncSnapshot (already copied under a short
// critical section by the caller); sensors is the latest sensor
// reading. It returns the number of cylinders for which both events
// were successfully enqueued.
func (p *Planner) PlanCycle(snap decoder.Snapshot, sensors Sensors) int {
	if !snap.SyncValid {
		return 0
	}

	enqueued := 0
	for cyl := 0; cyl < 4; cyl++ {
		ve := p.Tables.VE(cyl, snap.RPM, sensors.MAP)
		advance := p.Tables.IgnitionAdvance(snap.RPM, sensors.MAP)
		lambdaTarget := p.Tables.LambdaTarget(snap.RPM, sensors.MAP)
		_ = lambdaTarget // consumed by the (out-of-scope) fuel_calc closed-loop trim source

		trimPct := p.clampTrim(sensors.STFT + sensors.LTFT)
		pulsewidthUs := p.Tables.BasePulsewidthUs(ve, snap.RPM, sensors.MAP) * (1 + trimPct/100)

		injectorAngle := p.TDC[cyl] + p.EOIAngle
		ignitionAngle := p.TDC[cyl] - advance

		// Cancel any still-armed events from the previous cycle for
		// this cylinder before enqueuing the new ones.
		p.Queue.CancelCylinder(cyl)

		okInj := p.Queue.Schedule(scheduler.InjectorOpen, cyl, injectorAngle, pulsewidthUs, snap.RPM, sensors.VBat, sensors.CLT)
		okIgn := p.Queue.Schedule(scheduler.IgnitionDwell, cyl, ignitionAngle, 0, snap.RPM, sensors.VBat, sensors.CLT)
		if okInj && okIgn {
			enqueued++
		}
	}

	return enqueued
}

// Cadence is the planner's default periodic-task interval. A real
// target runs this at roughly 100Hz; the exact value is tunable.
const Cadence = 10 * time.Millisecond
