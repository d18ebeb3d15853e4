// Package enginecore is the process-wide wiring point: it owns the
// phase predictor, jitter meter, precision-tier selector, crank
// decoder, output stage, and event scheduler as a single created-once
// value, with one writer-single, reader-snapshot owner rather than
// a scatter of package-level globals.
package enginecore

import (
	"log"
	"sync"

	"github.com/openefi/core/internal/decoder"
	"github.com/openefi/core/internal/output"
	"github.com/openefi/core/internal/predictor"
	"github.com/openefi/core/internal/scheduler"
	"github.com/openefi/core/internal/tier"
)

// Core owns every piece of the real-time path. Construct one with New
// at boot; it lives for the process lifetime.
type Core struct {
	Decoder   *decoder.Decoder
	Stage     *output.Stage
	Scheduler *scheduler.Queue
	Phase     *predictor.Phase
	Jitter    *predictor.Jitter
	Tier      *tier.Selector

	degPerTooth float64

	mu        sync.Mutex
	lastState scheduler.EngineState
	vbat      float64
	clt       float64
}

// Config bundles what New needs beyond the already-constructed stage.
type Config struct {
	Decoder      decoder.Config
	TDCOffsetDeg float64
}

// New wires up a Core. The decoder's tooth callback is registered here
// so every accepted tooth edge flows decoder -> scheduler scan ->
// output-stage compare writes within the same call stack.
func New(cfg Config, stage *output.Stage) *Core {
	c := &Core{
		Stage:     stage,
		Scheduler: scheduler.New(stage, cfg.TDCOffsetDeg),
		Phase:     predictor.NewPhase(),
		Jitter:    predictor.NewJitter(),
		Tier:      tier.NewSelector(),
	}
	c.Decoder = decoder.New(cfg.Decoder, c.Phase, c.onTooth)
	if cfg.Decoder.TotalPositions > 0 {
		c.degPerTooth = 360.0 / float64(cfg.Decoder.TotalPositions)
	}
	return c
}

// SetSensorSnapshot publishes the latest battery voltage and coolant
// temperature for the output stage's latency compensation and the
// scheduler's per-event snapshots. Called from Core 1.
func (c *Core) SetSensorSnapshot(vbat, clt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vbat, c.clt = vbat, clt
}

func (c *Core) sensorSnapshot() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vbat, c.clt
}

// onTooth is the decoder.ToothCallback: it runs in ISR context,
// updates the phase predictor and tier selector, and hands the
// resulting state to the scheduler's per-tooth scan.
func (c *Core) onTooth(toothTimeUs, toothPeriodUs float64, toothIndex, revolutionIndex, rpm int, syncAcquired bool) {
	c.Phase.Update(toothPeriodUs, 0, toothPeriodUs)
	c.Tier.Observe(rpm)

	vbat, clt := c.sensorSnapshot()

	state := scheduler.EngineState{
		ToothTimeUs:     toothTimeUs,
		ToothPeriodUs:   toothPeriodUs,
		DegPerTooth:     c.degPerTooth,
		RevolutionIndex: revolutionIndex,
		ToothIndex:      toothIndex,
		RPM:             rpm,
		SyncAcquired:    syncAcquired,
		VBat:            vbat,
		CLT:             clt,
	}

	c.mu.Lock()
	c.lastState = state
	c.mu.Unlock()

	c.Scheduler.OnTooth(state)
}

// Snapshot returns the decoder's sync snapshot as of nowUs, for the
// planner to read on Core 1.
func (c *Core) Snapshot(nowUs float64) decoder.Snapshot {
	return c.Decoder.Snapshot(nowUs)
}

// Shutdown cancels every armed event, then forces every output
// channel low. The decoder's callback is left registered —
// unregistering the tooth-edge source itself is the caller's
// responsibility, since only the caller owns that source.
func (c *Core) Shutdown() {
	c.Scheduler.CancelAll()
	c.Stage.StopAllChannels()
	log.Printf("[enginecore] shutdown: queue cancelled, outputs forced low")
}
