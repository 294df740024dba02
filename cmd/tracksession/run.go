package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tracksession-go/internal/config"
	"tracksession-go/internal/ingest"
	"tracksession-go/internal/output"
	"tracksession-go/internal/processing"
	"tracksession-go/internal/session"
	"tracksession-go/internal/simulator"
	"tracksession-go/internal/types"
)

// runner owns one session at a time and keeps what the observer server
// reports about it.
type runner struct {
	metrics *metrics
	agg     *processing.Aggregator
	ui      chan<- any

	mu        sync.Mutex
	current   *session.Session
	device    string
	bridge    *ingest.Device
	lastFrame string
	logCount  atomic.Uint64
}

func (r *runner) status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := map[string]any{
		"device":     r.device,
		"last_frame": r.lastFrame,
		"state":      session.Uninitialized.String(),
	}
	if r.current != nil {
		stats := r.current.Stats()
		status["state"] = stats.State
		streams := make(map[string]session.StreamStats, len(stats.Streams))
		for kind, st := range stats.Streams {
			streams[kind.String()] = st
		}
		status["streams"] = streams
		status["passes"] = stats.Passes
	}
	if r.bridge != nil {
		status["ingest_dropped"] = r.bridge.Dropped()
	}
	return status
}

func (r *runner) setSession(s *session.Session, device string, bridge *ingest.Device) {
	r.mu.Lock()
	r.current = s
	r.device = device
	r.bridge = bridge
	r.mu.Unlock()
}

func (r *runner) logEvery(n int, format string, args ...any) {
	if n < 1 {
		n = 1
	}
	if r.logCount.Add(1)%uint64(n) == 0 {
		log.Printf(format, args...)
	}
}

// runSession runs one session from Init to Release. It returns nil when ctx
// is done or the configured number of passes has completed.
func (r *runner) runSession(ctx context.Context, cfg config.AppConfig) error {
	kinds, err := cfg.StreamKinds()
	if err != nil {
		return err
	}

	var rawLog *output.RawLogWriter
	if cfg.RawLogEnabled {
		rawLog, err = output.NewRawLogWriter(cfg.RawLogDir, "raw_cbor")
		if err != nil {
			return fmt.Errorf("start raw log: %w", err)
		}
		defer func() {
			if err := rawLog.Close(); err != nil {
				log.Printf("raw log close failed: %v", err)
			}
		}()
		log.Printf("recording raw messages to %s", rawLog.Path())
	}

	var tracks *output.TrackWriter
	for _, kind := range kinds {
		if kind == types.Skeleton || kind == types.Hands {
			tracks, err = output.NewTrackWriter(cfg.OutputDir, processing.Timestamp())
			if err != nil {
				return fmt.Errorf("start track writer: %w", err)
			}
			defer func() {
				if err := tracks.Close(); err != nil {
					log.Printf("track writer close failed: %v", err)
				}
			}()
			break
		}
	}

	sim := simulator.New(simulator.Config{
		Rows:  cfg.DebugRows,
		Cols:  cfg.DebugCols,
		FPS:   cfg.DebugRate,
		Users: cfg.DebugUsers,
	})

	start := func(dev session.Device, name string, bridge *ingest.Device, recordFrames bool) (*session.Session, error) {
		var rec ingest.RawRecorder
		if recordFrames && rawLog != nil {
			rec = rawLog
		}
		s := session.New(dev)
		for _, kind := range kinds {
			if err := s.Register(kind, r.callback(kind, tracks, rec)); err != nil {
				s.Release()
				return nil, err
			}
		}
		r.setSession(s, name, bridge)
		if err := s.Init(ctx); err != nil {
			s.Release()
			return nil, err
		}
		return s, nil
	}

	var s *session.Session
	if cfg.Debug {
		s, err = start(sim, "simulator", nil, true)
	} else {
		opts := ingest.Options{
			LogEvery:            cfg.IngestLogEvery,
			FirstMessageTimeout: cfg.IngestWait,
			Realtime:            cfg.Realtime,
		}
		if rawLog != nil {
			opts.Recorder = rawLog
		}
		bridge := ingest.NewDevice(cfg.Endpoint, opts)
		s, err = start(bridge, "stream", bridge, false)
		if err != nil && ctx.Err() != nil {
			// Shutting down or restarting; the simulator is no substitute.
			return nil
		}
		if errors.Is(err, session.ErrDeviceUnavailable) && cfg.IngestFallback {
			log.Printf("failed to start ingest: %v; falling back to simulator", err)
			s, err = start(sim, "simulator", nil, true)
		}
	}
	if err != nil {
		return err
	}
	defer s.Release()
	log.Printf("session active, streams %v", s.Enabled())
	for _, kind := range s.Enabled() {
		if mode, ok := s.OutputMode(kind); ok {
			log.Printf("%s output mode %dx%d @ %d fps", kind, mode.XRes, mode.YRes, mode.FPS)
		}
	}

	tick := cfg.Tick
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for pass := 0; cfg.Frames == 0 || pass < cfg.Frames; pass++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		failures, err := s.Update()
		if err != nil {
			return err
		}
		r.metrics.passes.Add(1)
		for _, failure := range failures {
			r.metrics.callbackFailures.Add(1)
			r.agg.AddFailure(failure.Kind)
			r.logEvery(cfg.IngestLogEvery, "%v", failure)
		}
	}
	log.Printf("completed %d update passes", cfg.Frames)
	return nil
}

// callback feeds a delivered frame into the aggregator, the track CSV files
// and the raw log. Gesture and issue frames are also pushed to websocket
// clients as events.
func (r *runner) callback(kind types.StreamKind, tracks *output.TrackWriter, rec ingest.RawRecorder) session.Callback {
	return func(frame types.Frame) error {
		summary := r.agg.AddFrame(frame)
		r.metrics.framesDelivered.Add(1)
		ts := processing.Seconds(frame.Timestamp)

		r.mu.Lock()
		r.lastFrame = time.Now().Format(time.RFC3339)
		r.mu.Unlock()

		if rec != nil {
			payload, err := ingest.EncodeFrame(frame)
			if err == nil {
				err = rec.Record(payload)
			}
			if err != nil {
				r.metrics.rawRecordError.Add(1)
				return fmt.Errorf("record raw frame: %w", err)
			}
		}

		var writeErr error
		if tracks != nil {
			switch p := frame.Payload.(type) {
			case types.SkeletonFrame:
				writeErr = tracks.WriteSkeletons(frame.Seq, ts, p)
			case types.HandsFrame:
				writeErr = tracks.WriteHands(frame.Seq, ts, p)
			}
			if kind == types.Skeleton || kind == types.Hands {
				if writeErr != nil {
					r.metrics.trackWriteError.Add(1)
				} else {
					r.metrics.trackWriteOK.Add(1)
				}
			}
		}

		if kind == types.Gesture || kind == types.Issue {
			event := types.UIEvent{
				Type:      "event",
				Stream:    kind.String(),
				Seq:       frame.Seq,
				Timestamp: ts,
				Summary:   summary,
			}
			select {
			case r.ui <- event:
				r.metrics.eventsBroadcast.Add(1)
			default:
				r.metrics.eventsDropped.Add(1)
			}
		}
		return writeErr
	}
}
