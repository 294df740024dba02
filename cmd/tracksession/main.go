package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tracksession-go/internal/config"
	"tracksession-go/internal/ingest"
	"tracksession-go/internal/processing"
	"tracksession-go/internal/server"
	"tracksession-go/internal/types"
)

type metrics struct {
	passes           atomic.Uint64
	framesDelivered  atomic.Uint64
	callbackFailures atomic.Uint64
	eventsBroadcast  atomic.Uint64
	eventsDropped    atomic.Uint64
	snapshots        atomic.Uint64
	trackWriteOK     atomic.Uint64
	trackWriteError  atomic.Uint64
	rawRecordError   atomic.Uint64
	restarts         atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"passes_total":            m.passes.Load(),
		"frames_delivered_total":  m.framesDelivered.Load(),
		"callback_failures_total": m.callbackFailures.Load(),
		"events_broadcast_total":  m.eventsBroadcast.Load(),
		"events_dropped_total":    m.eventsDropped.Load(),
		"snapshots_total":         m.snapshots.Load(),
		"track_write_ok_total":    m.trackWriteOK.Load(),
		"track_write_err_total":   m.trackWriteError.Load(),
		"raw_record_err_total":    m.rawRecordError.Load(),
		"restarts_total":          m.restarts.Load(),
	}
}

func main() {
	defaults := config.Default()
	var (
		configPath     = flag.String("config", "", "YAML config file; reloaded when it changes")
		port           = flag.Int("port", defaults.Port, "HTTP port for the observer server")
		endpoint       = flag.String("endpoint", defaults.Endpoint, "Bridge endpoint (tcp://, ipc://, serial://, file://)")
		streams        = flag.String("streams", strings.Join(defaults.Streams, ","), "Comma separated streams to register")
		frames         = flag.Int("frames", defaults.Frames, "Number of update passes (0 = until interrupted)")
		tick           = flag.Duration("tick", defaults.Tick, "Interval between update passes")
		debug          = flag.Bool("debug", defaults.Debug, "Run with the simulated device")
		debugRate      = flag.Float64("debug-rate", defaults.DebugRate, "Simulated frame rate (frames/sec)")
		debugRows      = flag.Int("debug-rows", defaults.DebugRows, "Simulated image rows")
		debugCols      = flag.Int("debug-cols", defaults.DebugCols, "Simulated image columns")
		debugUsers     = flag.Int("debug-users", defaults.DebugUsers, "Simulated tracked users")
		uiRate         = flag.Duration("ui-rate", defaults.UIRate, "Snapshot interval for websocket clients")
		outputDir      = flag.String("output-dir", defaults.OutputDir, "Directory for skeleton and hand CSV files")
		rawLogEnabled  = flag.Bool("raw-log", defaults.RawLogEnabled, "Write raw CBOR messages to disk")
		rawLogDir      = flag.String("raw-log-dir", defaults.RawLogDir, "Directory for raw logs")
		ingestLogEvery = flag.Int("ingest-log-every", defaults.IngestLogEvery, "Log every Nth ingest or callback error")
		ingestFallback = flag.Bool("ingest-fallback", defaults.IngestFallback, "Fall back to the simulator when the bridge is unavailable")
		ingestWait     = flag.Duration("ingest-wait", defaults.IngestWait, "How long to wait for the first bridge message (0 = do not wait)")
		realtime       = flag.Bool("realtime", defaults.Realtime, "Replay file:// endpoints at recorded speed")
	)
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	// Flags given on the command line win over the config file.
	override := func(cfg *config.AppConfig) {
		if set["port"] {
			cfg.Port = *port
		}
		if set["endpoint"] {
			cfg.Endpoint = *endpoint
		}
		if set["streams"] {
			cfg.Streams = splitList(*streams)
		}
		if set["frames"] {
			cfg.Frames = *frames
		}
		if set["tick"] {
			cfg.Tick = *tick
		}
		if set["debug"] {
			cfg.Debug = *debug
		}
		if set["debug-rate"] {
			cfg.DebugRate = *debugRate
		}
		if set["debug-rows"] {
			cfg.DebugRows = *debugRows
		}
		if set["debug-cols"] {
			cfg.DebugCols = *debugCols
		}
		if set["debug-users"] {
			cfg.DebugUsers = *debugUsers
		}
		if set["ui-rate"] {
			cfg.UIRate = *uiRate
		}
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		if set["raw-log"] {
			cfg.RawLogEnabled = *rawLogEnabled
		}
		if set["raw-log-dir"] {
			cfg.RawLogDir = *rawLogDir
		}
		if set["ingest-log-every"] {
			cfg.IngestLogEvery = *ingestLogEvery
		}
		if set["ingest-fallback"] {
			cfg.IngestFallback = *ingestFallback
		}
		if set["ingest-wait"] {
			cfg.IngestWait = *ingestWait
		}
		if set["realtime"] {
			cfg.Realtime = *realtime
		}
	}
	load := func() (config.AppConfig, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return cfg, err
		}
		override(&cfg)
		if _, err := cfg.StreamKinds(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	cfg, err := load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m metrics
	agg := processing.NewAggregator()
	uiMessages := make(chan any, 64)
	run := &runner{
		metrics: &m,
		agg:     agg,
		ui:      uiMessages,
	}

	var cfgMu sync.Mutex
	currentCfg := cfg
	getCfg := func() config.AppConfig {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		return currentCfg
	}

	reload := make(chan struct{}, 1)
	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
			if err != nil {
				log.Printf("config watch stopped: %v", err)
			}
		}()
	}

	go func() {
		defer stop()
		for {
			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			sessionCfg := getCfg()
			go func() {
				done <- run.runSession(runCtx, sessionCfg)
			}()

			select {
			case <-ctx.Done():
				cancel()
				<-done
				return
			case err := <-done:
				cancel()
				if err != nil {
					log.Printf("session stopped: %v", err)
				}
				return
			case <-reload:
				cancel()
				if err := <-done; err != nil {
					log.Printf("session stopped: %v", err)
				}
				next, err := load()
				if err != nil {
					log.Printf("config reload failed, keeping previous config: %v", err)
				} else {
					if fields := restartOnly(cfg, next); len(fields) > 0 {
						log.Printf("config change to %v takes effect after a process restart", fields)
					}
					cfgMu.Lock()
					currentCfg = next
					cfgMu.Unlock()
				}
				agg.Reset()
				m.restarts.Add(1)
				log.Printf("restarting session")
			}
		}
	}()

	var latestSnapshotMu sync.Mutex
	var latestSnapshot types.UISnapshot
	var hasSnapshot bool
	go func() {
		rate := uiInterval(getCfg())
		ticker := time.NewTicker(rate)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if next := uiInterval(getCfg()); next != rate {
					rate = next
					ticker.Reset(rate)
				}
				data := agg.SnapshotCopy()
				if len(data) == 0 {
					continue
				}
				message := types.UISnapshot{Type: "snapshot", Data: data}
				latestSnapshotMu.Lock()
				latestSnapshot = message
				hasSnapshot = true
				latestSnapshotMu.Unlock()
				select {
				case uiMessages <- message:
					m.snapshots.Add(1)
				default:
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := m.snapshot()
				log.Printf("session stats: passes=%v delivered=%v failures=%v decode_failures=%v",
					snapshot["passes_total"],
					snapshot["frames_delivered_total"],
					snapshot["callback_failures_total"],
					ingest.DecodeFailures(),
				)
			}
		}
	}()

	statusFn := func() map[string]any {
		status := run.status()
		metricsPayload := m.snapshot()
		metricsPayload["ingest_decode_failures_total"] = ingest.DecodeFailures()
		decodeCount, decodeNanos := ingest.DecodeTiming()
		metricsPayload["ingest_decode_total"] = decodeCount
		metricsPayload["ingest_decode_nanos_total"] = decodeNanos
		status["metrics"] = metricsPayload
		return status
	}

	snapshotFn := func() any {
		latestSnapshotMu.Lock()
		defer latestSnapshotMu.Unlock()
		if !hasSnapshot {
			return nil
		}
		return latestSnapshot
	}

	configFn := func() map[string]any {
		return configPayload(cfg, getCfg())
	}

	log.Printf("Starting observer at http://localhost:%d\n", cfg.Port)
	if err := server.Run(ctx, cfg, uiMessages, statusFn, snapshotFn, configFn); err != nil {
		log.Printf("server stopped: %v", err)
	}
}

func uiInterval(c config.AppConfig) time.Duration {
	if c.UIRate <= 0 {
		return time.Second
	}
	return c.UIRate
}

// restartOnly lists the fields of next that differ from the config the
// process started with and cannot be applied by restarting the session.
func restartOnly(started, next config.AppConfig) []string {
	var fields []string
	if next.Port != started.Port {
		fields = append(fields, "port")
	}
	return fields
}

// configPayload describes the current config. The observer server keeps
// listening on the port it started with until the process restarts.
func configPayload(started, current config.AppConfig) map[string]any {
	payload := map[string]any{
		"type":        "config",
		"streams":     current.Streams,
		"endpoint":    current.Endpoint,
		"debug":       current.Debug,
		"frames":      current.Frames,
		"tick":        current.Tick.String(),
		"ui_rate":     uiInterval(current).String(),
		"port":        current.Port,
		"listen_port": started.Port,
	}
	if fields := restartOnly(started, current); len(fields) > 0 {
		payload["restart_required"] = fields
	}
	return payload
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
