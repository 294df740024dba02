package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tracksession-go/internal/session"
	"tracksession-go/internal/types"
)

// RawRecorder receives every raw message before it is decoded.
type RawRecorder interface {
	Record(payload []byte) error
}

type Options struct {
	// LogEvery rate-limits receive and decode error logging.
	LogEvery int
	Recorder RawRecorder
	// FirstMessageTimeout, when positive, makes Connect wait for the first
	// message and report the device unavailable if none arrives in time.
	FirstMessageTimeout time.Duration
	// Realtime replays raw log files with their recorded pacing.
	Realtime bool
}

// Device receives frames from an external tracking process. See OpenSource
// for the supported endpoints.
type Device struct {
	endpoint string
	opts     Options
	current  atomic.Pointer[conn]
}

func NewDevice(endpoint string, opts Options) *Device {
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	return &Device{endpoint: endpoint, opts: opts}
}

func (d *Device) Endpoint() string {
	return d.endpoint
}

func (d *Device) Connect(ctx context.Context) (session.Conn, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	src, err := OpenSource(runCtx, d.endpoint, d.opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ingest %s: %w: %v", d.endpoint, session.ErrDeviceUnavailable, err)
	}

	c := newConn(src, d.opts, cancel)
	go c.run(runCtx)
	d.current.Store(c)

	if d.opts.FirstMessageTimeout > 0 {
		timer := time.NewTimer(d.opts.FirstMessageTimeout)
		defer timer.Stop()
		select {
		case <-c.first:
		case <-c.done:
			select {
			case <-c.first:
				return c, nil
			default:
			}
			c.Disconnect()
			return nil, fmt.Errorf("ingest %s: %w: source closed before first message", d.endpoint, session.ErrDeviceUnavailable)
		case <-timer.C:
			c.Disconnect()
			return nil, fmt.Errorf("ingest %s: %w: no message within %s", d.endpoint, session.ErrDeviceUnavailable, d.opts.FirstMessageTimeout)
		case <-ctx.Done():
			c.Disconnect()
			return nil, ctx.Err()
		}
	}
	return c, nil
}

// Dropped reports, per stream, how many frames of the most recent
// connection were overwritten before the session polled them.
func (d *Device) Dropped() map[string]uint64 {
	c := d.current.Load()
	if c == nil {
		return nil
	}
	out := make(map[string]uint64, numStreams)
	for _, kind := range types.StreamOrder {
		out[kind.String()] = c.Dropped(kind)
	}
	return out
}

const numStreams = len(types.StreamOrder)

// conn keeps the newest undelivered frame of every stream, including frames
// that arrive before the session gets around to enabling their stream.
// Frames replaced before they were polled are counted as dropped.
type conn struct {
	src    Source
	opts   Options
	cancel context.CancelFunc

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	enabled [numStreams]bool
	pending [numStreams]*types.Frame
	modes   [numStreams]*types.OutputMode
	dropped [numStreams]uint64
}

func newConn(src Source, opts Options, cancel context.CancelFunc) *conn {
	return &conn{
		src:    src,
		opts:   opts,
		cancel: cancel,
		first:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *conn) EnableStream(kind types.StreamKind) error {
	if !kind.Valid() {
		return fmt.Errorf("ingest: %w: %s", session.ErrUnknownStream, kind)
	}
	c.mu.Lock()
	c.enabled[kind] = true
	c.mu.Unlock()
	return nil
}

func (c *conn) PollFrame(kind types.StreamKind) (types.Frame, bool) {
	if !kind.Valid() {
		return types.Frame{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := c.pending[kind]
	if frame == nil || !c.enabled[kind] {
		return types.Frame{}, false
	}
	c.pending[kind] = nil
	return *frame, true
}

func (c *conn) OutputMode(kind types.StreamKind) (types.OutputMode, bool) {
	if !kind.Valid() {
		return types.OutputMode{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modes[kind] == nil {
		return types.OutputMode{}, false
	}
	return *c.modes[kind], true
}

// Dropped reports how many frames of kind were overwritten before a poll.
func (c *conn) Dropped(kind types.StreamKind) uint64 {
	if !kind.Valid() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped[kind]
}

func (c *conn) Disconnect() {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := c.src.Interrupt(); err != nil {
			log.Printf("ingest interrupt failed: %v", err)
		}
		<-c.done
		if err := c.src.Close(); err != nil {
			log.Printf("ingest close failed: %v", err)
		}
	})
}

func (c *conn) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.src.Recv()
		if err != nil {
			if errors.Is(err, errRecvTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				log.Printf("ingest source ended")
				return
			}
			logEveryN(c.opts.LogEvery, "ingest recv error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if c.opts.Recorder != nil {
			if err := c.opts.Recorder.Record(msg); err != nil {
				logEveryN(c.opts.LogEvery, "ingest raw record failed: %v", err)
			}
		}

		start := time.Now()
		decoded, err := DecodeMessage(msg)
		decodeCount.Add(1)
		decodeNanos.Add(uint64(time.Since(start).Nanoseconds()))
		if err != nil {
			decodeFailures.Add(1)
			logEveryN(c.opts.LogEvery, "ingest decode skipped message: %v", err)
			continue
		}
		c.firstOnce.Do(func() { close(c.first) })
		c.deliver(decoded)
	}
}

func (c *conn) deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Type == modeMessage {
		mode := msg.Mode
		c.modes[msg.Stream] = &mode
		return
	}
	kind := msg.Frame.Kind
	if c.pending[kind] != nil {
		c.dropped[kind]++
	}
	frame := msg.Frame
	c.pending[kind] = &frame
}

var (
	decodeFailures atomic.Uint64
	decodeCount    atomic.Uint64
	decodeNanos    atomic.Uint64
	logCounter     atomic.Uint64
)

func DecodeFailures() uint64 {
	return decodeFailures.Load()
}

func DecodeTiming() (count uint64, nanos uint64) {
	return decodeCount.Load(), decodeNanos.Load()
}

func logEveryN(n int, format string, args ...any) {
	if n < 1 {
		n = 1
	}
	if logCounter.Add(1)%uint64(n) == 0 {
		log.Printf(format, args...)
	}
}
