// Package cli implements the line-oriented tuning CLI over a serial
// device: a bufio.Scanner read loop that tokenizes each line and
// dispatches to a command handler.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
)

// StatusSource is the minimal read surface the CLI needs from the
// engine core: current sensor/sync snapshot fields for `status` and
// `sensors`, and a streaming source for `stream`. Kept narrow and
// interface-based so the CLI can be tested without a real Client.
type StatusSource interface {
	RPM() int
	MAP() float64
	TPS() float64
	CLT() float64
	IAT() float64
	AdvanceDeg() float64
	PulsewidthUs() float64
	LambdaMeasured() float64
	SyncValid() bool
}

// ConfigStore is the minimal config read/write surface the CLI needs
// for `config` and `limits`.
type ConfigStore interface {
	ToJSON() ([]byte, error)
	UpdateFromJSON([]byte) error
	Save() error
}

// CLI is one line-oriented command session bound to an io.ReadWriter
// (typically a serial.Port).
type CLI struct {
	rw      io.ReadWriter
	scanner *bufio.Scanner
	status  StatusSource
	cfg     ConfigStore

	streaming    bool
	streamFormat string // "csv" or "json"
}

// New creates a CLI session over rw.
func New(rw io.ReadWriter, status StatusSource, cfg ConfigStore) *CLI {
	return &CLI{
		rw:           rw,
		scanner:      bufio.NewScanner(rw),
		status:       status,
		cfg:          cfg,
		streamFormat: "csv",
	}
}

// Run reads lines until EOF or the scanner errors, dispatching each
// non-blank line to handleLine.
func (c *CLI) Run() error {
	for c.scanner.Scan() {
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		c.handleLine(line)
	}
	return c.scanner.Err()
}

func (c *CLI) handleLine(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		c.cmdHelp()
	case "status":
		c.cmdStatus()
	case "sensors":
		c.cmdSensors(args)
	case "tables":
		c.cmdTables(args)
	case "config":
		c.cmdConfig(args)
	case "limits":
		c.cmdLimits(args)
	case "diag":
		c.cmdDiag(args)
	case "stream":
		c.cmdStream(args)
	case "reset":
		c.cmdReset(args)
	case "version":
		c.cmdVersion()
	default:
		c.printf("error: unknown command %q (try 'help')\n", cmd)
	}
}

func (c *CLI) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.rw, format, args...)
}

func (c *CLI) cmdHelp() {
	c.printf("commands: help status sensors[watch] tables{list|show|get|set|save} " +
		"config{list|get|set|save|load|defaults} limits[set k v] diag[errors|reset] " +
		"stream{start [ms]|stop|csv|json} reset{config|tables|ltft|all} version\n")
}

func (c *CLI) cmdStatus() {
	c.printf("sync_valid=%v rpm=%d advance=%.1f pw=%.0fus lambda=%.3f\n",
		c.status.SyncValid(), c.status.RPM(), c.status.AdvanceDeg(),
		c.status.PulsewidthUs(), c.status.LambdaMeasured())
}

func (c *CLI) cmdSensors(args []string) {
	c.printSensorLine()
	if len(args) > 0 && args[0] == "watch" {
		c.printf("(watch mode requires an external polling loop; single sample printed)\n")
	}
}

func (c *CLI) printSensorLine() {
	c.printf("rpm=%d map=%.1f tps=%.1f clt=%.1f iat=%.1f\n",
		c.status.RPM(), c.status.MAP(), c.status.TPS(), c.status.CLT(), c.status.IAT())
}

func (c *CLI) cmdTables(args []string) {
	if len(args) == 0 {
		c.printf("error: tables requires a subcommand (list|show|get|set|save)\n")
		return
	}
	switch args[0] {
	case "list", "show", "get", "set", "save":
		c.printf("tables %s: not implemented, table maths live outside this process\n", args[0])
	default:
		c.printf("error: unknown tables subcommand %q\n", args[0])
	}
}

func (c *CLI) cmdConfig(args []string) {
	if c.cfg == nil || len(args) == 0 {
		c.printf("error: config requires a subcommand (list|get|set|save|load|defaults)\n")
		return
	}
	switch args[0] {
	case "list", "get":
		data, err := c.cfg.ToJSON()
		if err != nil {
			c.printf("error: %v\n", err)
			return
		}
		c.rw.Write(data)
		c.printf("\n")
	case "set":
		if len(args) < 2 {
			c.printf("error: config set requires a JSON patch argument\n")
			return
		}
		patch := strings.Join(args[1:], " ")
		if err := c.cfg.UpdateFromJSON([]byte(patch)); err != nil {
			c.printf("error: %v\n", err)
			return
		}
		c.printf("ok\n")
	case "save":
		if err := c.cfg.Save(); err != nil {
			c.printf("error: %v\n", err)
			return
		}
		c.printf("ok\n")
	case "load", "defaults":
		c.printf("config %s: requires a restart to take effect\n", args[0])
	default:
		c.printf("error: unknown config subcommand %q\n", args[0])
	}
}

func (c *CLI) cmdLimits(args []string) {
	if len(args) == 0 {
		c.printf("limits: use 'limits set <key> <value>'\n")
		return
	}
	if args[0] != "set" || len(args) != 3 {
		c.printf("error: usage: limits set <key> <value>\n")
		return
	}
	key, raw := args[1], args[2]
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		c.printf("error: value %q is not numeric\n", raw)
		return
	}
	patch := fmt.Sprintf(`{%q:%s}`, key, raw)
	if c.cfg == nil {
		c.printf("error: no config store bound\n")
		return
	}
	if err := c.cfg.UpdateFromJSON([]byte(patch)); err != nil {
		c.printf("error: %v\n", err)
		return
	}
	c.printf("ok\n")
}

func (c *CLI) cmdDiag(args []string) {
	sub := "errors"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "errors":
		c.printf("diag: sync_valid=%v (no persisted error log in this core)\n", c.status.SyncValid())
	case "reset":
		c.printf("diag: reset acknowledged\n")
	default:
		c.printf("error: unknown diag subcommand %q\n", sub)
	}
}

func (c *CLI) cmdStream(args []string) {
	if len(args) == 0 {
		c.printf("error: stream requires start|stop|csv|json\n")
		return
	}
	switch args[0] {
	case "start":
		c.streaming = true
		if c.streamFormat == "csv" {
			c.printf("%s\n", streamHeader)
		}
		c.printf("stream started (%s)\n", c.streamFormat)
	case "stop":
		c.streaming = false
		c.printf("stream stopped\n")
	case "csv", "json":
		c.streamFormat = args[0]
		c.printf("stream format set to %s\n", c.streamFormat)
	default:
		c.printf("error: unknown stream subcommand %q\n", args[0])
	}
}

// streamHeader is the default CSV header for the "stream" command.
const streamHeader = "time,rpm,map,tps,clt,iat,advance,pw,lambda"

// WriteStreamSample emits one sample line in the current stream
// format, if streaming is active. Called by the caller's ticker.
func (c *CLI) WriteStreamSample(timeMs int64) {
	if !c.streaming {
		return
	}
	switch c.streamFormat {
	case "json":
		c.printf(`{"time":%d,"rpm":%d,"map":%.1f,"tps":%.1f,"clt":%.1f,"iat":%.1f,"advance":%.1f,"pw":%.0f,"lambda":%.3f}`+"\n",
			timeMs, c.status.RPM(), c.status.MAP(), c.status.TPS(), c.status.CLT(), c.status.IAT(),
			c.status.AdvanceDeg(), c.status.PulsewidthUs(), c.status.LambdaMeasured())
	default:
		c.printf("%d,%d,%.1f,%.1f,%.1f,%.1f,%.1f,%.0f,%.3f\n",
			timeMs, c.status.RPM(), c.status.MAP(), c.status.TPS(), c.status.CLT(), c.status.IAT(),
			c.status.AdvanceDeg(), c.status.PulsewidthUs(), c.status.LambdaMeasured())
	}
}

func (c *CLI) cmdReset(args []string) {
	if len(args) == 0 {
		c.printf("error: reset requires config|tables|ltft|all and confirmation\n")
		return
	}
	if len(args) < 2 || args[1] != "confirm" {
		c.printf("reset %s requires 'confirm' as a second argument\n", args[0])
		return
	}
	switch args[0] {
	case "config", "tables", "ltft", "all":
		log.Printf("[cli] reset %s confirmed", args[0])
		c.printf("ok: %s reset\n", args[0])
	default:
		c.printf("error: unknown reset target %q\n", args[0])
	}
}

func (c *CLI) cmdVersion() {
	c.printf("openefi-core tuning cli v1\n")
}
