package main

import (
	"context"
	"time"

	"github.com/openefi/core/internal/canclient"
	"github.com/openefi/core/internal/enginecore"
	"github.com/openefi/core/internal/logger"
	"github.com/openefi/core/internal/planner"
	"github.com/openefi/core/internal/telemetry"
)

// runPlannerLoop ticks the Core-1 planner at its configured cadence,
// folding in the wideband lambda reading as a closed-loop trim and
// recording each cycle's results to the status source and CSV logger.
func runPlannerLoop(ctx context.Context, core *enginecore.Core, plan *planner.Planner, can *canclient.Client, status *simStatus, lg *logger.Logger, epoch time.Time) {
	sensors := newSensorSim(epoch)
	ticker := time.NewTicker(planner.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		nowUs := float64(time.Since(epoch).Microseconds())
		snap := core.Snapshot(nowUs)

		reading := sensors.Read(snap.RPM)
		core.SetSensorSnapshot(reading.VBat, reading.CLT)

		wb := can.Latest()
		stft := 0.0
		if wb.Valid {
			target := 1.0
			if reading.MAP > 80 {
				target = 0.88
			}
			stft = clampPct((target - wb.Lambda) * 50)
		}

		plan.PlanCycle(snap, planner.Sensors{
			MAP:  reading.MAP,
			CLT:  reading.CLT,
			IAT:  reading.IAT,
			VBat: reading.VBat,
			STFT: stft,
		})

		advance := demoTables{}.IgnitionAdvance(snap.RPM, reading.MAP)
		ve := demoTables{}.VE(0, snap.RPM, reading.MAP)
		pulsewidth := demoTables{}.BasePulsewidthUs(ve, snap.RPM, reading.MAP)
		lambda := wb.Lambda
		if lambda == 0 {
			lambda = 1.0
		}

		status.set(snap.RPM, reading, advance, pulsewidth, lambda, snap.SyncValid)

		if lg.IsEnabled() {
			stats := core.Scheduler.Snapshot()
			jitter := core.Jitter.Snapshot(freqHz)
			lg.Record(logger.Snapshot{
				RPM:                 snap.RPM,
				ToothIndex:          snap.ToothIndex,
				RevolutionIndex:     snap.RevolutionIndex,
				SyncAcquired:        snap.SyncAcquired,
				SyncValid:           snap.SyncValid,
				ToothPeriodUs:       snap.ToothPeriodUs,
				PrecisionTier:       core.Tier.Current(),
				TierTransitions:     uint32(core.Tier.Transitions()),
				JitterMinUs:         jitter.MinUs,
				JitterMaxUs:         jitter.MaxUs,
				JitterMeanUs:        jitter.MeanUs,
				AdvanceDeg:          advance,
				PulsewidthUs:        pulsewidth,
				VBat:                reading.VBat,
				CLT:                 reading.CLT,
				LambdaMeasured:      lambda,
				FiredCount:          stats.Fired,
				SkippedCount:        stats.Skipped,
				MissedDeadlineCount: stats.MissedDeadline,
			})
		}
	}
}

func clampPct(v float64) float64 {
	if v < -15 {
		return -15
	}
	if v > 15 {
		return 15
	}
	return v
}

// runTelemetryLoop broadcasts an EngineStatus frame at 10Hz.
func runTelemetryLoop(ctx context.Context, pub *telemetry.Publisher, status *simStatus) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		syncByte := byte(0)
		if status.SyncValid() {
			syncByte = 1
		}
		pub.PublishEngineStatus(telemetry.EngineStatus{
			RPM:                 uint16(status.RPM()),
			MapKpaX10:           uint16(status.MAP() * 10),
			TPSPctX10:           uint16(status.TPS() * 10),
			VBatMv:              uint16(status.VBat() * 1000),
			AdvanceDegX10:       uint16(status.AdvanceDeg() * 10),
			PWUs:                uint16(status.PulsewidthUs()),
			LambdaTargetX1000:   1000,
			LambdaMeasuredX1000: uint16(status.LambdaMeasured() * 1000),
			CLTCx10:             int16(status.CLT() * 10),
			IATCx10:             int16(status.IAT() * 10),
			SyncStatus:          syncByte,
			LimpMode:            0,
			TimestampMs:         uint32(time.Now().UnixMilli()),
		})
	}
}
