package planner

import (
	"math"
	"testing"

	"github.com/openefi/core/internal/decoder"
	"github.com/openefi/core/internal/output"
	"github.com/openefi/core/internal/predictor"
	"github.com/openefi/core/internal/scheduler"
)

type fakeTables struct{}

func (fakeTables) VE(cyl int, rpm int, load float64) float64     { return 80 }
func (fakeTables) IgnitionAdvance(rpm int, load float64) float64 { return 20 }
func (fakeTables) LambdaTarget(rpm int, load float64) float64    { return 1.0 }
func (fakeTables) BasePulsewidthUs(ve float64, rpm int, load float64) float64 {
	return 3000
}

func newTestQueue() *scheduler.Queue {
	var timers [8]output.AbsoluteCompareTimer
	for i := range timers {
		timers[i] = output.NewMockTimer()
	}
	stage := output.NewStage(1_000_000, timers, output.Limits{MaxUs: 25000, HardCeil: 30000}, 2800, 4500, predictor.DefaultLatency())
	return scheduler.New(stage, 0)
}

func TestPlanCycleEnqueuesAllCylinders(t *testing.T) {
	q := newTestQueue()
	p := New(CylinderTDC{0, 180, 360, 540}, 280, fakeTables{}, q)

	snap := decoder.Snapshot{SyncValid: true, RPM: 3000, ToothPeriodUs: 2000}
	n := p.PlanCycle(snap, Sensors{MAP: 60, CLT: 85, VBat: 13.5})

	if n != 4 {
		t.Fatalf("enqueued = %d, want 4", n)
	}
	if q.PendingCount() != 8 {
		t.Errorf("PendingCount() = %d, want 8 (one inject + one ignite per cylinder)", q.PendingCount())
	}
}

func TestPlanCycleSkippedWhenSyncInvalid(t *testing.T) {
	q := newTestQueue()
	p := New(CylinderTDC{0, 180, 360, 540}, 280, fakeTables{}, q)

	snap := decoder.Snapshot{SyncValid: false}
	n := p.PlanCycle(snap, Sensors{})
	if n != 0 {
		t.Errorf("enqueued = %d, want 0 while sync invalid", n)
	}
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", q.PendingCount())
	}
}

func TestPlanCycleCancelsPreviousCylinderEvents(t *testing.T) {
	q := newTestQueue()
	p := New(CylinderTDC{0, 180, 360, 540}, 280, fakeTables{}, q)
	snap := decoder.Snapshot{SyncValid: true, RPM: 3000, ToothPeriodUs: 2000}

	p.PlanCycle(snap, Sensors{MAP: 60, VBat: 13.5})
	firstRun := q.PendingCount()
	p.PlanCycle(snap, Sensors{MAP: 60, VBat: 13.5})
	secondRun := q.PendingCount()

	if firstRun != secondRun {
		t.Errorf("expected stable pending count across cycles (old events cancelled): first=%d second=%d", firstRun, secondRun)
	}
}

func TestPlanCycleAppliesTrimToPulsewidth(t *testing.T) {
	var timers [8]output.AbsoluteCompareTimer
	for i := range timers {
		timers[i] = output.NewMockTimer()
	}
	stage := output.NewStage(1_000_000, timers, output.Limits{MaxUs: 25000, HardCeil: 30000}, 2800, 4500, predictor.DefaultLatency())
	q := scheduler.New(stage, 0)
	p := New(CylinderTDC{0, 180, 360, 540}, 280, fakeTables{}, q)
	snap := decoder.Snapshot{SyncValid: true, RPM: 3000, ToothPeriodUs: 2500}

	n := p.PlanCycle(snap, Sensors{MAP: 60, VBat: 13.5, STFT: 10})
	if n != 4 {
		t.Fatalf("enqueued = %d, want 4", n)
	}

	// Fire cylinder 0's injector (EOI at 280 deg) from the tooth at 276
	// deg: the 3000us base pulsewidth plus 10% STFT must reach the stage.
	q.OnTooth(scheduler.EngineState{ToothTimeUs: 10000, ToothPeriodUs: 2500, DegPerTooth: 6, ToothIndex: 46, RPM: 3000, SyncAcquired: true, VBat: 13.5})
	if got := stage.Injectors[0].LastPulseUs(); math.Abs(got-3300) > 1e-6 {
		t.Errorf("injector 0 pulsewidth = %v, want 3300 (3000us + 10%% trim)", got)
	}
}
