package scheduler

import (
	"testing"

	"github.com/openefi/core/internal/output"
	"github.com/openefi/core/internal/predictor"
)

func testStageAndMocks() (*output.Stage, []*output.MockTimer) {
	var timers [8]output.AbsoluteCompareTimer
	mocks := make([]*output.MockTimer, 8)
	for i := range timers {
		m := output.NewMockTimer()
		mocks[i] = m
		timers[i] = m
	}
	stage := output.NewStage(1_000_000, timers, output.Limits{MaxUs: 25000, HardCeil: 30000}, 2800, 4500, predictor.DefaultLatency())
	return stage, mocks
}

func baseState(toothTimeUs, toothPeriodUs, degPerTooth float64, toothIdx int) EngineState {
	return EngineState{
		ToothTimeUs:     toothTimeUs,
		ToothPeriodUs:   toothPeriodUs,
		DegPerTooth:     degPerTooth,
		RevolutionIndex: 0,
		ToothIndex:      toothIdx,
		RPM:             3000,
		SyncAcquired:    true,
		VBat:            13.2,
		CLT:             85,
	}
}

func TestNoFiringWhenSyncInvalid(t *testing.T) {
	stage, mocks := testStageAndMocks()
	q := New(stage, 0)
	q.Schedule(InjectorOpen, 0, 10, 3000, 3000, 13.2, 85)

	st := baseState(0, 2000, 6, 0)
	st.SyncAcquired = false
	q.OnTooth(st)

	for i, m := range mocks {
		if m.WriteCount() != 0 {
			t.Errorf("timer %d got a compare write while sync invalid", i)
		}
	}
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 (sync loss clears the queue)", q.PendingCount())
	}
}

func TestArmedEventFiresWithinWindow(t *testing.T) {
	stage, mocks := testStageAndMocks()
	q := New(stage, 0)

	// degPerTooth=6 -> window = 9 degrees. Schedule an injector open
	// right at current angle + a few degrees, well inside the window.
	q.Schedule(InjectorOpen, 0, 4, 3000, 3000, 13.2, 85)

	st := baseState(10000, 2000, 6, 0) // current angle = 0
	q.OnTooth(st)

	if q.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after firing", q.PendingCount())
	}
	if mocks[0].WriteCount() == 0 {
		t.Error("expected injector 0 to receive a compare write")
	}
}

func TestEventOutsideWindowWaitsForNextScan(t *testing.T) {
	stage, mocks := testStageAndMocks()
	q := New(stage, 0)

	// window = 1.5*6 = 9 degrees. Schedule far outside it.
	q.Schedule(InjectorOpen, 0, 100, 3000, 3000, 13.2, 85)

	st := baseState(10000, 2000, 6, 0)
	q.OnTooth(st)

	if q.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1 (event should not fire yet)", q.PendingCount())
	}
	for i, m := range mocks {
		if m.WriteCount() != 0 {
			t.Errorf("timer %d fired prematurely", i)
		}
	}
}

func TestQueueSaturation(t *testing.T) {
	stage, _ := testStageAndMocks()
	q := New(stage, 0)
	for i := 0; i < 16; i++ {
		if !q.Schedule(InjectorOpen, i%4, float64(i), 2000, 3000, 13.2, 85) {
			t.Fatalf("slot %d: expected success", i)
		}
	}
	if q.Schedule(InjectorOpen, 0, 999, 2000, 3000, 13.2, 85) {
		t.Error("expected 17th schedule to fail")
	}
	if q.PendingCount() != 16 {
		t.Errorf("PendingCount() = %d, want 16", q.PendingCount())
	}
}

func TestCancelAllIdempotent(t *testing.T) {
	stage, _ := testStageAndMocks()
	q := New(stage, 0)
	q.Schedule(InjectorOpen, 0, 10, 2000, 3000, 13.2, 85)
	q.Schedule(IgnitionDwell, 1, 20, 0, 3000, 13.2, 85)

	q.CancelAll()
	if q.PendingCount() != 0 {
		t.Fatalf("PendingCount() after CancelAll = %d, want 0", q.PendingCount())
	}
	q.CancelAll() // idempotent
	if q.PendingCount() != 0 {
		t.Fatalf("PendingCount() after second CancelAll = %d, want 0", q.PendingCount())
	}
}

func TestNormalizeHandlesNonFiniteAngle(t *testing.T) {
	stage, _ := testStageAndMocks()
	q := New(stage, 0)
	if !q.Schedule(InjectorOpen, 0, nanValue(), 2000, 3000, 13.2, 85) {
		t.Fatal("expected schedule to succeed even with a non-finite angle")
	}
	// Must not hang: OnTooth must terminate in bounded time.
	st := baseState(0, 2000, 6, 0)
	q.OnTooth(st)
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestSyncLossClearsArmedEventsViaQuiescence(t *testing.T) {
	stage, mocks := testStageAndMocks()
	q := New(stage, 0)
	q.Schedule(InjectorOpen, 0, 500, 2000, 3000, 13.2, 85)
	q.Schedule(InjectorOpen, 1, 500, 2000, 3000, 13.2, 85)
	q.Schedule(IgnitionDwell, 2, 500, 0, 3000, 13.2, 85)

	st := baseState(0, 2000, 6, 0)
	st.SyncAcquired = false
	q.OnTooth(st)

	// Sync loss clears all armed events and forces every output low
	// within the same tooth callback.
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after sync loss clears the queue", q.PendingCount())
	}
	for i, m := range mocks {
		if !m.ForcedLow() {
			t.Errorf("timer %d not forced low after sync loss", i)
		}
		if m.WriteCount() != 0 {
			t.Errorf("timer %d received a compare write while sync invalid", i)
		}
	}
}
