package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"github.com/tarm/serial"

	"tracksession-go/internal/output"
)

const (
	defaultBaud    = 115200
	zmqRecvTimeout = 200 * time.Millisecond
)

var errRecvTimeout = errors.New("receive timed out")

// Source yields raw CBOR messages. Recv is only called from the receive
// goroutine. Interrupt may be called from another goroutine to unblock a
// pending Recv; Close is called once the receive goroutine has exited.
type Source interface {
	Recv() ([]byte, error)
	Interrupt() error
	Close() error
}

// OpenSource opens the transport named by endpoint:
//
//	tcp://host:port, ipc:///path   ZeroMQ PULL socket
//	serial:///dev/ttyUSB0?baud=N   CBOR sequence over a serial line
//	file:///path/to/log.bin        replay of a raw log written by output.RawLogWriter
func OpenSource(ctx context.Context, endpoint string, opts Options) (Source, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ipc", "inproc":
		return openZMQ(endpoint)
	case "serial":
		name := u.Host + u.Path
		if name == "" {
			name = u.Opaque
		}
		baud := defaultBaud
		if v := u.Query().Get("baud"); v != "" {
			baud, err = strconv.Atoi(v)
			if err != nil || baud < 1 {
				return nil, fmt.Errorf("invalid baud rate %q", v)
			}
		}
		return openSerial(name, baud)
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return openReplay(ctx, path, opts.Realtime)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

type zmqSource struct {
	socket *zmq4.Socket
}

func openZMQ(endpoint string) (*zmqSource, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(zmqRecvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	return &zmqSource{socket: socket}, nil
}

func (s *zmqSource) Recv() ([]byte, error) {
	msg, err := s.socket.RecvBytes(0)
	if err != nil {
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
			return nil, errRecvTimeout
		}
		return nil, err
	}
	return msg, nil
}

// Interrupt is a no-op: zmq sockets must not be touched from another
// goroutine, and Recv returns on its own within zmqRecvTimeout.
func (s *zmqSource) Interrupt() error {
	return nil
}

func (s *zmqSource) Close() error {
	return s.socket.Close()
}

// streamSource reads a CBOR sequence, one data item per message.
type streamSource struct {
	rc  io.ReadCloser
	dec *cbor.Decoder
}

func openSerial(name string, baud int) (*streamSource, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: name,
		Baud: baud,
	})
	if err != nil {
		return nil, err
	}
	return newStreamSource(port), nil
}

func newStreamSource(rc io.ReadCloser) *streamSource {
	return &streamSource{rc: rc, dec: cbor.NewDecoder(rc)}
}

func (s *streamSource) Recv() ([]byte, error) {
	var raw cbor.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

// Interrupt closes the port so a blocked read returns.
func (s *streamSource) Interrupt() error {
	return s.rc.Close()
}

func (s *streamSource) Close() error {
	return nil
}

type replaySource struct {
	ctx      context.Context
	reader   *output.RawLogReader
	realtime bool
	last     time.Time
	// failed ends the replay after a corrupt record.
	failed bool
}

func openReplay(ctx context.Context, path string, realtime bool) (*replaySource, error) {
	reader, err := output.OpenRawLog(path)
	if err != nil {
		return nil, err
	}
	return &replaySource{ctx: ctx, reader: reader, realtime: realtime}, nil
}

func (s *replaySource) Recv() ([]byte, error) {
	if s.failed {
		return nil, io.EOF
	}
	rec, err := s.reader.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.failed = true
		}
		return nil, err
	}
	if s.realtime && !s.last.IsZero() {
		if wait := rec.Time.Sub(s.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return nil, s.ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.last = rec.Time
	return rec.Payload, nil
}

func (s *replaySource) Interrupt() error {
	return nil
}

func (s *replaySource) Close() error {
	return s.reader.Close()
}
