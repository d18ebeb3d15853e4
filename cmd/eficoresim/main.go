// Command eficoresim wires the engine core, planner, telemetry
// publisher, tuning CLI, CAN wideband client, and CSV logger into one
// process driven by a synthetic crank-wheel simulator, in lieu of the
// real crank/cam sensors and injector/coil hardware. It follows the
// teacher's cmd/goefidash/main.go shape: flag parsing, YAML config
// load, context.WithCancel + signal.Notify shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/openefi/core/internal/canclient"
	"github.com/openefi/core/internal/cli"
	"github.com/openefi/core/internal/config"
	"github.com/openefi/core/internal/decoder"
	"github.com/openefi/core/internal/enginecore"
	"github.com/openefi/core/internal/logger"
	"github.com/openefi/core/internal/output"
	"github.com/openefi/core/internal/planner"
	"github.com/openefi/core/internal/predictor"
	"github.com/openefi/core/internal/telemetry"
)

// freqHz is the output stage's tick rate. Chosen as 1MHz so ticks and
// microseconds coincide, matching the simulator's wall-clock time base.
const freqHz = 1_000_000

func main() {
	configPath := flag.String("config", "/etc/openefi/config.yaml", "path to config file")
	listenAddr := flag.String("listen", ":8090", "telemetry websocket listen address")
	cliPort := flag.String("cli-port", "", "serial port path for the tuning CLI (empty disables it)")
	cliBaud := flag.Int("cli-baud", 115200, "tuning CLI serial baud rate")
	logEnabled := flag.Bool("log", false, "enable CSV data logging")
	logPath := flag.String("log-path", "/var/log/openefi", "CSV log directory")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] eficoresim starting")

	cfg := config.LoadConfig(*configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var timers [8]output.AbsoluteCompareTimer
	for i := range timers {
		timers[i] = output.NewMockTimer()
	}
	injLimits := output.Limits{
		MinUs:    cfg.Injection.MinPulsewidthUs,
		MaxUs:    cfg.Injection.MaxPulsewidthUs,
		HardCeil: cfg.Injection.HardCeilingUs,
	}
	stage := output.NewStage(freqHz, timers, injLimits, cfg.Ignition.DwellMinUs, cfg.Ignition.DwellMaxUs, predictor.DefaultLatency())

	decoderCfg := decoder.Config{
		ToothCount:     cfg.Sync.ToothCount,
		TotalPositions: cfg.Sync.ToothCount + 2,
		GapToothIndex:  cfg.Sync.GapToothIndex,
		MinRPM:         cfg.Sync.MinRPM,
		MaxRPM:         cfg.Sync.MaxRPM,
		EnableCamPhase: cfg.Sync.EnableCamPhase,
		TDCOffsetDeg:   cfg.Sync.TDCOffsetDeg,
	}
	core := enginecore.New(enginecore.Config{Decoder: decoderCfg, TDCOffsetDeg: cfg.Sync.TDCOffsetDeg}, stage)

	var tdc planner.CylinderTDC
	copy(tdc[:], cfg.Ignition.CylinderTDC[:])
	plan := planner.New(tdc, cfg.Ignition.EOIAngleDeg, demoTables{}, core.Scheduler)

	can := canclient.New(0x700, 0x701, func(f canclient.Frame) {
		log.Printf("[canclient] reply id=0x%X dlc=%d", f.ID, f.DLC)
	})

	lg := logger.New(logger.Config{Enabled: *logEnabled, Path: *logPath, IntervalMs: 100})
	defer lg.Close()

	pub := telemetry.NewPublisher()
	status := &simStatus{}
	epoch := time.Now()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		newToothSim(core, decoderCfg, epoch).Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runPlannerLoop(ctx, core, plan, can, status, lg, epoch)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTelemetryLoop(ctx, pub, status)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runCANSim(ctx, can, status)
	}()

	if *cliPort != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runCLI(ctx, *cliPort, *cliBaud, status, cfg)
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", pub.HandleWS)
	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		log.Printf("[main] telemetry listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] telemetry server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	core.Shutdown()
	wg.Wait()
	log.Println("[main] eficoresim stopped")
}

// runCLI opens the configured serial port and runs the tuning CLI until
// ctx is cancelled or the port errors out.
func runCLI(ctx context.Context, portPath string, baud int, status cli.StatusSource, cfg *config.Config) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portPath, mode)
	if err != nil {
		log.Printf("[cli] failed to open %s: %v (tuning CLI disabled)", portPath, err)
		return
	}
	defer port.Close()

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	session := cli.New(port, status, cfg)
	if err := session.Run(); err != nil {
		log.Printf("[cli] session ended: %v", err)
	}
}
