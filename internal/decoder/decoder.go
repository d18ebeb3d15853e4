// Package decoder implements the crank decoder and synchronizer: it
// turns a stream of crank/cam edge timestamps into
// (tooth_index, revolution_index, tooth_period, rpm) with
// sync_acquired/sync_valid tracking.
//
// Decode runs in ISR context on the tooth-edge core: no allocation, no
// blocking, no locking beyond the short critical sections around each
// edge's state update and the snapshot copy-out in Snapshot.
package decoder

import (
	"sync"

	"github.com/openefi/core/internal/predictor"
)

// Config holds the crank wheel's geometry and the decoder's tunables.
type Config struct {
	ToothCount     int     // e.g. 58 for a 60-2 wheel (60 physical positions, 2 missing)
	TotalPositions int     // 60 for a 60-2 wheel
	GapToothIndex  int     // tooth index position of the missing-tooth gap
	MinRPM         int
	MaxRPM         int
	EnableCamPhase bool
	TDCOffsetDeg   float64 // degrees, applied by the scheduler, not here (see DESIGN.md)
}

// Snapshot is the decoder's exclusively-written, readers-copy-out
// state.
type Snapshot struct {
	ToothIndex      int
	RevolutionIndex int // 0 or 1
	ToothPeriodUs   float64
	LastToothTimeUs float64
	GapPeriodUs     float64
	CamSeen         bool
	SyncAcquired    bool
	SyncValid       bool
	RPM             int
	LatencyEstimate float64
	SyncLossCount   uint64
}

// ToothCallback is invoked exactly once per accepted tooth, in ISR
// context.
type ToothCallback func(toothTimeUs float64, toothPeriodUs float64, toothIndex, revolutionIndex, rpm int, syncAcquired bool)

// Decoder is the crank decoder & synchronizer state machine.
type Decoder struct {
	cfg Config

	mu sync.Mutex // guards the fields below; held for each edge's state update and the snapshot copy-out

	toothIndex      int
	revolutionIndex int
	lastToothTimeUs float64
	havePrevTooth   bool
	toothPeriodUs   float64
	emaPeriodUs     float64 // gap-detection EMA only; see isGap
	gapPeriodUs     float64

	camSeen         bool
	camToothIndex   int
	sawCamThisRev   bool
	sawGap          bool
	syncAcquired    bool
	syncLossCount   uint64
	lastRPM         int

	// predictedPeriodUs mirrors phase.PredictedPeriod() as of the most
	// recent tooth, captured under mu so Snapshot's freshness check
	// never touches phase directly from another goroutine.
	predictedPeriodUs float64

	phase   *predictor.Phase
	onTooth ToothCallback
}

// New creates a Decoder for the given sync config. phase is the
// process-wide phase predictor (see enginecore.Core); it is written
// only by the onTooth callback's own caller on Core 0, and the decoder
// only ever reads it synchronously from within that same call stack,
// right after invoking onTooth. phase may be nil in tests that don't
// exercise sync_valid freshness. onTooth may also be nil (useful in
// tests that only exercise decode logic).
func New(cfg Config, phase *predictor.Phase, onTooth ToothCallback) *Decoder {
	if cfg.TotalPositions == 0 {
		cfg.TotalPositions = cfg.ToothCount + 2
	}
	return &Decoder{cfg: cfg, phase: phase, onTooth: onTooth}
}

const (
	gapRatio        = 1.5
	spuriousGuardUs = 10
	freshFactor     = 2.0
)

// minValidPeriodUs is the smallest tooth period that is not noise: any
// period implying RPM above MaxRPM is rejected.
func (d *Decoder) minValidPeriodUs() float64 {
	if d.cfg.MaxRPM <= 0 {
		return 0
	}
	return 60e6 / float64(d.cfg.MaxRPM) / float64(d.cfg.TotalPositions)
}

// OnToothEdge processes one crank-sensor rising edge at toothTimeUs
// (microseconds, monotonic). This is the ISR entry point.
func (d *Decoder) OnToothEdge(toothTimeUs float64) {
	d.mu.Lock()

	if !d.havePrevTooth {
		d.lastToothTimeUs = toothTimeUs
		d.havePrevTooth = true
		d.mu.Unlock()
		return
	}

	period := toothTimeUs - d.lastToothTimeUs

	// Spurious double-edge guard: ignore edges within 10us of the last.
	if period < spuriousGuardUs {
		d.mu.Unlock()
		return
	}

	// Impossible period (implies RPM above max): treat as noise.
	if min := d.minValidPeriodUs(); min > 0 && period < min {
		d.mu.Unlock()
		return
	}

	isGap := d.emaPeriodUs > 0 && period > gapRatio*d.emaPeriodUs

	if isGap {
		d.gapPeriodUs = period
		d.toothIndex = 0
		d.revolutionIndex = (d.revolutionIndex + 1) % 2
		d.sawGap = true
		if d.cfg.EnableCamPhase {
			if d.sawCamThisRev {
				d.syncAcquired = true
			}
		} else {
			d.syncAcquired = true
		}
		d.sawCamThisRev = false
	} else {
		d.toothIndex++
		if d.toothIndex >= d.cfg.TotalPositions {
			// Missed gap: tooth index wrapped past the wheel. Clear
			// sync and begin re-acquisition.
			d.syncAcquired = false
			d.syncLossCount++
			d.toothIndex = 0
		}
	}

	// EMA period estimate used only for gap detection; sync_valid's
	// freshness check instead uses the shared predictor's
	// PredictedPeriod, captured below once onTooth has updated it.
	if d.emaPeriodUs == 0 {
		d.emaPeriodUs = period
	} else {
		d.emaPeriodUs = 0.2*period + 0.8*d.emaPeriodUs
	}

	d.toothPeriodUs = period
	d.lastToothTimeUs = toothTimeUs

	rpm := 0
	if period > 0 {
		rpm = int(60e6/(period*float64(d.cfg.TotalPositions)) + 0.5)
	}
	d.lastRPM = rpm

	toothIdx, revIdx := d.toothIndex, d.revolutionIndex
	acquired := d.syncAcquired
	d.mu.Unlock()

	if d.onTooth != nil {
		d.onTooth(toothTimeUs, period, toothIdx, revIdx, rpm, acquired)
	}

	if d.phase != nil {
		predicted := d.phase.PredictedPeriod()
		d.mu.Lock()
		d.predictedPeriodUs = predicted
		d.mu.Unlock()
	}
}

// computeSyncValid must be called with mu held. Freshness is judged
// against the shared predictor's predicted period, not a private
// estimate: last_tooth_time must be within 2x predicted_period.
func (d *Decoder) computeSyncValid(nowUs float64, rpm int) bool {
	if !d.syncAcquired {
		return false
	}
	fresh := true
	if d.predictedPeriodUs > 0 {
		fresh = (nowUs - d.lastToothTimeUs) < freshFactor*d.predictedPeriodUs
	}
	inRange := rpm >= d.cfg.MinRPM && rpm <= d.cfg.MaxRPM
	return fresh && inRange
}

// OnCamEdge processes one cam-sensor rising edge. Latches the tooth
// index at which the cam edge occurred and marks cam_seen.
func (d *Decoder) OnCamEdge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.camSeen = true
	d.camToothIndex = d.toothIndex
	d.sawCamThisRev = true
}

// Snapshot returns a short-critical-section copy of the decoder's
// published state, recomputing sync_valid against the current time:
// sync_valid is the conjunction of sync_acquired, last_tooth_time
// being fresh, and rpm being in range.
func (d *Decoder) Snapshot(nowUs float64) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Snapshot{
		ToothIndex:      d.toothIndex,
		RevolutionIndex: d.revolutionIndex,
		ToothPeriodUs:   d.toothPeriodUs,
		LastToothTimeUs: d.lastToothTimeUs,
		GapPeriodUs:     d.gapPeriodUs,
		CamSeen:         d.camSeen,
		SyncAcquired:    d.syncAcquired,
		SyncValid:       d.computeSyncValid(nowUs, d.lastRPM),
		RPM:             d.lastRPM,
		SyncLossCount:   d.syncLossCount,
	}
}

// DegPerTooth returns 360/TotalPositions degrees per tooth (720
// degrees over one full four-stroke cycle split across two crank
// revolutions of TotalPositions teeth each).
func (d *Decoder) DegPerTooth() float64 {
	if d.cfg.TotalPositions == 0 {
		return 0
	}
	return 360.0 / float64(d.cfg.TotalPositions)
}
