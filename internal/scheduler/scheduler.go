// Package scheduler implements the angle-based event queue and
// per-tooth scan: decouple "when the planner decides an event should
// happen" from "when it actually fires", by addressing events with
// crankshaft angle rather than absolute time.
package scheduler

import (
	"math"
	"sync"

	"github.com/openefi/core/internal/angle"
	"github.com/openefi/core/internal/output"
)

// EventType enumerates the kinds of angle-addressed events the
// scheduler can carry.
type EventType int

const (
	InjectorOpen EventType = iota
	InjectorClose
	IgnitionDwell
	IgnitionSpark
)

func (t EventType) String() string {
	switch t {
	case InjectorOpen:
		return "injector_open"
	case InjectorClose:
		return "injector_close"
	case IgnitionDwell:
		return "ignition_dwell"
	case IgnitionSpark:
		return "ignition_spark"
	default:
		return "unknown"
	}
}

const numSlots = 16

// slot holds one scheduled event plus its armed flag: a fixed-size
// array, no dynamic allocation.
type slot struct {
	armed    bool
	typ      EventType
	cylinder int
	angleDeg float64 // normalized [0,720)
	paramUs  float64 // pulsewidth for injection; unused for ignition (stage derives dwell)
	rpmSnap  int
	vbatSnap float64
	cltSnap  float64
}

// EngineState is the decoder's per-tooth published state the scan
// needs to convert angle to time.
type EngineState struct {
	ToothTimeUs     float64
	ToothPeriodUs   float64
	DegPerTooth     float64
	RevolutionIndex int
	ToothIndex      int
	RPM             int
	SyncAcquired    bool
	VBat            float64
	CLT             float64
}

// Queue is the fixed-capacity, spinlock-guarded angle-addressed event
// queue plus the per-tooth scan that fires eligible events through an
// output.Stage.
type Queue struct {
	mu    sync.Mutex
	slots [numSlots]slot

	tdcOffsetDeg float64
	syncValid    bool

	stage *output.Stage

	firedCount          uint64
	skippedCount        uint64
	missedDeadlineCount uint64
}

// New creates an empty Queue bound to the given output stage.
// tdcOffsetDeg is the configured TDC offset, applied once here in
// computeCurrentAngle (see DESIGN.md for why this is the single
// application point).
func New(stage *output.Stage, tdcOffsetDeg float64) *Queue {
	return &Queue{stage: stage, tdcOffsetDeg: tdcOffsetDeg}
}

// Schedule normalizes the angle, finds the first non-armed slot, and
// marks it armed. Returns false if the queue is full.
func (q *Queue) Schedule(typ EventType, cylinder int, angleDeg float64, paramUs float64, rpmSnap int, vbatSnap, cltSnap float64) bool {
	normalized := angle.Normalize(angleDeg)

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.slots {
		if !q.slots[i].armed {
			q.slots[i] = slot{
				armed:    true,
				typ:      typ,
				cylinder: cylinder,
				angleDeg: normalized,
				paramUs:  paramUs,
				rpmSnap:  rpmSnap,
				vbatSnap: vbatSnap,
				cltSnap:  cltSnap,
			}
			return true
		}
	}
	return false
}

// CancelCylinder clears every armed event for the given cylinder.
func (q *Queue) CancelCylinder(cyl int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.slots {
		if q.slots[i].armed && q.slots[i].cylinder == cyl {
			q.slots[i].armed = false
		}
	}
}

// CancelType clears every armed event of the given type.
func (q *Queue) CancelType(typ EventType) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.slots {
		if q.slots[i].armed && q.slots[i].typ == typ {
			q.slots[i].armed = false
		}
	}
}

// CancelAll clears every armed event. Idempotent: calling it again
// when already empty is a no-op.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.slots {
		q.slots[i].armed = false
	}
}

// PendingCount returns the number of currently armed slots.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.slots {
		if q.slots[i].armed {
			n++
		}
	}
	return n
}

// windowMarginFactor is the 1.5x next-tooth-window margin, chosen so
// an event whose exact angle lies between two teeth is always caught
// by the earlier scan.
const windowMarginFactor = 1.5

// computeCurrentAngle returns the current absolute crank angle,
// including the TDC offset (the single point the offset is applied —
// see DESIGN.md).
func computeCurrentAngle(revIdx, toothIdx int, degPerTooth, tdcOffsetDeg float64) float64 {
	revOffset := 0.0
	if revIdx == 1 {
		revOffset = 360
	}
	raw := revOffset + float64(toothIdx)*degPerTooth + tdcOffsetDeg
	return angle.Normalize(raw)
}

// AngleToDelayUs converts an angular distance (degrees) to a
// microsecond delay at the given tooth period and degrees-per-tooth:
// delay = dist * period / degPerTooth.
func AngleToDelayUs(distDeg, toothPeriodUs, degPerTooth float64) float64 {
	if degPerTooth == 0 {
		return 0
	}
	return distDeg * toothPeriodUs / degPerTooth
}

// OnTooth is the per-tooth scan: the Core-0 ISR entry point invoked
// once per accepted tooth. It propagates syncAcquired into the
// scheduler's own sync_valid flag (so the decoder quiescing the engine
// quiesces firing too, without a separate call), then fires any armed
// event within the next-tooth window.
func (q *Queue) OnTooth(state EngineState) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.syncValid = state.SyncAcquired

	if !q.syncValid {
		// Loss of sync_valid quiesces the scheduler unconditionally:
		// clear every armed event and force every output channel low
		// within this same tooth callback.
		for i := range q.slots {
			q.slots[i].armed = false
		}
		q.stage.StopAllChannels()
		return
	}

	if state.ToothPeriodUs == 0 {
		return
	}

	current := computeCurrentAngle(state.RevolutionIndex, state.ToothIndex, state.DegPerTooth, q.tdcOffsetDeg)
	window := windowMarginFactor * state.DegPerTooth

	for i := range q.slots {
		s := &q.slots[i]
		if !s.armed {
			continue
		}

		dist := angle.Normalize(s.angleDeg - current)
		if dist > window {
			continue
		}

		delayUs := AngleToDelayUs(dist, state.ToothPeriodUs, state.DegPerTooth)
		absoluteTargetUs := state.ToothTimeUs + delayUs
		currentCounterUs := int64(math.Round(state.ToothTimeUs * float64(q.stage.FreqHz) / 1_000_000))

		switch s.typ {
		case InjectorOpen:
			if err := q.stage.FireInjectorOpen(s.cylinder, absoluteTargetUs, s.paramUs, currentCounterUs, s.vbatSnap, s.cltSnap); err != nil {
				q.missedDeadlineCount++
			} else {
				q.firedCount++
			}
		case InjectorClose:
			// Explicit safety stop: forces the channel low regardless
			// of the paired open event's own pulsewidth-based close.
			if s.cylinder >= 0 && s.cylinder < 4 {
				q.stage.Injectors[s.cylinder].StopAll()
			}
			q.firedCount++
		case IgnitionDwell:
			fired, err := q.stage.FireIgnitionDwell(s.cylinder, absoluteTargetUs, s.rpmSnap, s.vbatSnap, s.cltSnap, currentCounterUs)
			switch {
			case err != nil:
				q.missedDeadlineCount++
			case !fired:
				q.skippedCount++
			default:
				q.firedCount++
			}
		case IgnitionSpark:
			// No-op: the dwell primitive already produces the spark
			// edge (see DESIGN.md).
		}

		s.armed = false
	}
}

// Stats exposes the running scheduler counters.
type Stats struct {
	Fired          uint64
	Skipped        uint64
	MissedDeadline uint64
}

// Snapshot returns the scheduler's running counters.
func (q *Queue) Snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Fired: q.firedCount, Skipped: q.skippedCount, MissedDeadline: q.missedDeadlineCount}
}
