package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"tracksession-go/internal/config"
	"tracksession-go/internal/processing"
)

func TestSplitList(t *testing.T) {
	got := splitList(" depth, ,hands,")
	if !reflect.DeepEqual(got, []string{"depth", "hands"}) {
		t.Fatalf("splitList = %v", got)
	}
}

func TestRunSessionWithSimulator(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Debug = true
	cfg.Frames = 5
	cfg.Tick = time.Millisecond
	cfg.DebugRate = 0
	cfg.DebugRows = 4
	cfg.DebugCols = 4
	cfg.Streams = []string{"depth", "skeleton", "hands"}
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.RawLogEnabled = true
	cfg.RawLogDir = filepath.Join(dir, "raw")

	var m metrics
	r := &runner{metrics: &m, agg: processing.NewAggregator(), ui: make(chan any, 8)}
	if err := r.runSession(context.Background(), cfg); err != nil {
		t.Fatalf("runSession: %v", err)
	}

	if m.passes.Load() != 5 {
		t.Fatalf("passes = %d, want 5", m.passes.Load())
	}
	if m.framesDelivered.Load() != 15 || m.callbackFailures.Load() != 0 {
		t.Fatalf("delivered=%d failures=%d", m.framesDelivered.Load(), m.callbackFailures.Load())
	}
	snap := r.agg.SnapshotCopy()
	if snap["depth"].Frames != 5 || snap["skeleton"].LastSeq != 5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	status := r.status()
	if status["state"] != "released" || status["device"] != "simulator" {
		t.Fatalf("unexpected status %v", status)
	}

	csvs, _ := filepath.Glob(filepath.Join(cfg.OutputDir, "*_skeleton.csv"))
	if len(csvs) != 1 {
		t.Fatalf("skeleton csv files = %v", csvs)
	}
	data, err := os.ReadFile(csvs[0])
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.Contains(string(data), "head") {
		t.Fatalf("skeleton csv has no joints")
	}
	raws, _ := filepath.Glob(filepath.Join(cfg.RawLogDir, "*.bin"))
	if len(raws) != 1 {
		t.Fatalf("raw logs = %v", raws)
	}
}

func TestRunSessionFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint = "unsupported://nowhere"
	cfg.IngestFallback = true
	cfg.Frames = 2
	cfg.Tick = time.Millisecond
	cfg.DebugRate = 0
	cfg.DebugRows = 2
	cfg.DebugCols = 2
	cfg.Streams = []string{"depth"}

	var m metrics
	r := &runner{metrics: &m, agg: processing.NewAggregator(), ui: make(chan any, 8)}
	if err := r.runSession(context.Background(), cfg); err != nil {
		t.Fatalf("runSession: %v", err)
	}
	if r.status()["device"] != "simulator" || m.framesDelivered.Load() != 2 {
		t.Fatalf("fallback did not run: %v delivered=%d", r.status(), m.framesDelivered.Load())
	}

	cfg.IngestFallback = false
	if err := r.runSession(context.Background(), cfg); err == nil {
		t.Fatalf("expected error without fallback")
	}
}

func TestRunSessionCancelledSkipsFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint = "unsupported://nowhere"
	cfg.IngestFallback = true
	cfg.Streams = []string{"depth"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var m metrics
	r := &runner{metrics: &m, agg: processing.NewAggregator(), ui: make(chan any, 8)}
	if err := r.runSession(ctx, cfg); err != nil {
		t.Fatalf("runSession = %v, want nil on a cancelled context", err)
	}
	if dev := r.status()["device"]; dev != "stream" {
		t.Fatalf("device = %v, want stream without fallback", dev)
	}
}

func TestConfigPayloadAfterReload(t *testing.T) {
	started := config.Default()
	next := started
	next.Port = started.Port + 1
	next.UIRate = 250 * time.Millisecond
	next.Endpoint = "file:///tmp/replay.bin"

	if got := restartOnly(started, next); !reflect.DeepEqual(got, []string{"port"}) {
		t.Fatalf("restartOnly = %v, want [port]", got)
	}
	if got := restartOnly(started, started); len(got) != 0 {
		t.Fatalf("restartOnly without changes = %v", got)
	}

	payload := configPayload(started, next)
	if payload["port"] != next.Port || payload["listen_port"] != started.Port {
		t.Fatalf("ports = %v / %v", payload["port"], payload["listen_port"])
	}
	if payload["ui_rate"] != "250ms" || payload["endpoint"] != next.Endpoint {
		t.Fatalf("stale payload %v", payload)
	}
	if !reflect.DeepEqual(payload["restart_required"], []string{"port"}) {
		t.Fatalf("restart_required = %v", payload["restart_required"])
	}
	if _, ok := configPayload(started, started)["restart_required"]; ok {
		t.Fatalf("restart_required reported without changes")
	}
}

func TestUIInterval(t *testing.T) {
	cfg := config.Default()
	cfg.UIRate = 0
	if uiInterval(cfg) != time.Second {
		t.Fatalf("uiInterval default = %v", uiInterval(cfg))
	}
	cfg.UIRate = 100 * time.Millisecond
	if uiInterval(cfg) != 100*time.Millisecond {
		t.Fatalf("uiInterval = %v", uiInterval(cfg))
	}
}
