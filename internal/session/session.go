// Package session dispatches frames from a tracking device to per-stream
// callbacks.
//
// A Session moves through Uninitialized, Active and Released. Callbacks may be
// registered at any time before Release, but are only ever invoked from
// Update while the session is Active. The caller drives the session by
// calling Update in a loop; every call polls each enabled stream once, in
// the order given by types.StreamOrder.
//
// All methods are serialized behind a single lock. Callbacks run with that
// lock held and must not call back into the session that invoked them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"tracksession-go/internal/types"
)

type State int32

const (
	Uninitialized State = iota
	Active
	Released
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Callback receives one frame. A returned error (or a panic) is reported as
// a CallbackFailed by the Update call that delivered the frame.
type Callback func(types.Frame) error

const numStreams = len(types.StreamOrder)

type Session struct {
	mu        sync.Mutex
	device    Device
	conn      Conn
	callbacks map[types.StreamKind]Callback
	enabled   [numStreams]bool

	state     atomic.Int32
	passes    atomic.Uint64
	delivered [numStreams]atomic.Uint64
	failed    [numStreams]atomic.Uint64
}

func New(device Device) *Session {
	return &Session{
		device:    device,
		callbacks: make(map[types.StreamKind]Callback),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Register stores cb as the callback for kind, replacing any earlier one. A
// nil cb removes the registration. Registering a kind that is not yet enabled
// on an active session enables it on the live connection first.
func (s *Session) Register(kind types.StreamKind, cb Callback) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownStream, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == Released {
		return ErrSessionClosed
	}
	if cb == nil {
		delete(s.callbacks, kind)
		return nil
	}
	if s.State() == Active && !s.enabled[kind] {
		if err := s.conn.EnableStream(kind); err != nil {
			return fmt.Errorf("enable %s: %w", kind, err)
		}
		s.enabled[kind] = true
	}
	s.callbacks[kind] = cb
	return nil
}

// Init connects to the device and enables exactly the streams that have a
// registered callback. On failure the session stays Uninitialized and Init
// may be retried.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case Active:
		return ErrAlreadyInitialized
	case Released:
		return ErrSessionClosed
	}
	if s.device == nil {
		return fmt.Errorf("%w: no device configured", ErrDeviceUnavailable)
	}

	conn, err := s.device.Connect(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		// A cancelled connect says nothing about the device.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if conn == nil {
		return fmt.Errorf("%w: device returned no connection", ErrDeviceUnavailable)
	}

	var enabled [numStreams]bool
	for _, kind := range types.StreamOrder {
		if _, ok := s.callbacks[kind]; !ok {
			continue
		}
		if err := conn.EnableStream(kind); err != nil {
			disconnect(conn)
			return fmt.Errorf("enable %s: %w", kind, err)
		}
		enabled[kind] = true
	}

	s.conn = conn
	s.enabled = enabled
	s.state.Store(int32(Active))
	return nil
}

// Update performs one polling pass. Failures of individual callbacks do not
// stop the pass; they are returned as notes alongside a nil error.
func (s *Session) Update() ([]CallbackFailed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case Uninitialized:
		return nil, ErrNotInitialized
	case Released:
		return nil, ErrSessionClosed
	}

	var failures []CallbackFailed
	for _, kind := range types.StreamOrder {
		if !s.enabled[kind] {
			continue
		}
		frame, ok := s.conn.PollFrame(kind)
		if !ok {
			continue
		}
		if frame.Kind != kind {
			s.failed[kind].Add(1)
			failures = append(failures, CallbackFailed{
				Kind:  kind,
				Seq:   frame.Seq,
				Cause: fmt.Errorf("%w: device returned %s frame on %s", ErrUnknownStream, frame.Kind, kind),
			})
			continue
		}
		cb, ok := s.callbacks[kind]
		if !ok {
			continue
		}
		if err := invoke(cb, frame); err != nil {
			s.failed[kind].Add(1)
			failures = append(failures, CallbackFailed{Kind: kind, Seq: frame.Seq, Cause: err})
			continue
		}
		s.delivered[kind].Add(1)
	}
	s.passes.Add(1)
	return failures, nil
}

// Release disconnects from the device and closes the session. Only the first
// call has any effect.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == Released {
		return
	}
	if s.conn != nil {
		disconnect(s.conn)
		s.conn = nil
	}
	s.enabled = [numStreams]bool{}
	s.callbacks = nil
	s.state.Store(int32(Released))
}

// Enabled lists the streams enabled on the live connection in poll order.
func (s *Session) Enabled() []types.StreamKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kinds []types.StreamKind
	for _, kind := range types.StreamOrder {
		if s.enabled[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// OutputMode reports the image geometry of kind if the connection knows it.
func (s *Session) OutputMode(kind types.StreamKind) (types.OutputMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Active || !kind.Valid() {
		return types.OutputMode{}, false
	}
	moder, ok := s.conn.(OutputModer)
	if !ok {
		return types.OutputMode{}, false
	}
	return moder.OutputMode(kind)
}

type StreamStats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

type Stats struct {
	State   string                           `json:"state"`
	Passes  uint64                           `json:"passes"`
	Streams map[types.StreamKind]StreamStats `json:"streams"`
}

// Stats reads the session counters without taking the session lock, so it
// is safe to call while another goroutine is inside Update.
func (s *Session) Stats() Stats {
	stats := Stats{
		State:   s.State().String(),
		Passes:  s.passes.Load(),
		Streams: make(map[types.StreamKind]StreamStats, numStreams),
	}
	for _, kind := range types.StreamOrder {
		delivered := s.delivered[kind].Load()
		failed := s.failed[kind].Load()
		if delivered == 0 && failed == 0 {
			continue
		}
		stats.Streams[kind] = StreamStats{Delivered: delivered, Failed: failed}
	}
	return stats
}

func invoke(cb Callback, frame types.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb(frame)
}

// disconnect tears the connection down, swallowing a panicking driver so that
// release always completes.
func disconnect(conn Conn) {
	defer func() {
		_ = recover()
	}()
	conn.Disconnect()
}
