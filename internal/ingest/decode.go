package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"

	"tracksession-go/internal/session"
	"tracksession-go/internal/types"
)

const modeMessage = "mode"

// Message is one decoded bridge message: either a frame for a stream, or an
// output mode announcement for a pixel stream.
type Message struct {
	Type   string
	Frame  types.Frame
	Stream types.StreamKind
	Mode   types.OutputMode
}

// Wire envelope:
// { "type": "<stream>|mode", "seq": <uint>, "timestamp": <float seconds>, "stream": "<stream>", "data": ... }
type envelope struct {
	Type      string          `cbor:"type"`
	Seq       uint64          `cbor:"seq"`
	Timestamp float64         `cbor:"timestamp"`
	Stream    string          `cbor:"stream,omitempty"`
	Data      cbor.RawMessage `cbor:"data"`
}

type outEnvelope struct {
	Type      string  `cbor:"type"`
	Seq       uint64  `cbor:"seq"`
	Timestamp float64 `cbor:"timestamp"`
	Stream    string  `cbor:"stream,omitempty"`
	Data      any     `cbor:"data"`
}

// DecodeMessage decodes one CBOR bridge message. Messages naming a stream
// this module does not know fail with session.ErrUnknownStream.
func DecodeMessage(msg []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(msg, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return Message{}, fmt.Errorf("%s message has no data", env.Type)
	}

	if env.Type == modeMessage {
		kind, err := types.ParseStreamKind(env.Stream)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", session.ErrUnknownStream, err)
		}
		var mode types.OutputMode
		if err := cbor.Unmarshal(env.Data, &mode); err != nil {
			return Message{}, fmt.Errorf("decode mode: %w", err)
		}
		return Message{Type: modeMessage, Stream: kind, Mode: mode}, nil
	}

	kind, err := types.ParseStreamKind(env.Type)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", session.ErrUnknownStream, err)
	}
	payload, err := decodePayload(kind, env.Data)
	if err != nil {
		return Message{}, fmt.Errorf("decode %s: %w", kind, err)
	}

	return Message{
		Type: env.Type,
		Frame: types.Frame{
			Kind:      kind,
			Seq:       env.Seq,
			Timestamp: fromSeconds(env.Timestamp),
			Payload:   payload,
		},
		Stream: kind,
	}, nil
}

func decodePayload(kind types.StreamKind, data cbor.RawMessage) (any, error) {
	if kind.IsImage() {
		var raw any
		if err := cbor.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		g, err := decodeMultiDimArray(raw)
		if err != nil {
			return nil, err
		}
		switch kind {
		case types.Depth:
			values, err := uint16Values(g)
			if err != nil {
				return nil, err
			}
			return types.DepthImage{Rows: g.rows, Cols: g.cols, Data: values}, nil
		case types.User:
			labels, err := uint16Values(g)
			if err != nil {
				return nil, err
			}
			return types.UserImage{Rows: g.rows, Cols: g.cols, Labels: labels}, nil
		default:
			pixels, ok := g.flat.([]uint8)
			if !ok || g.channels != 3 {
				return nil, errors.New("color frames must be rows x cols x 3 uint8")
			}
			return types.ColorImage{Rows: g.rows, Cols: g.cols, Data: pixels}, nil
		}
	}

	switch kind {
	case types.Skeleton:
		var out types.SkeletonFrame
		err := cbor.Unmarshal(data, &out)
		return out, err
	case types.Hands:
		var out types.HandsFrame
		err := cbor.Unmarshal(data, &out)
		return out, err
	case types.Gesture:
		var out types.GestureFrame
		err := cbor.Unmarshal(data, &out)
		return out, err
	case types.Issue:
		var out types.IssueFrame
		err := cbor.Unmarshal(data, &out)
		return out, err
	default:
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownStream, kind)
	}
}

// EncodeFrame produces the wire form of frame, the inverse of DecodeMessage.
func EncodeFrame(frame types.Frame) ([]byte, error) {
	if !frame.Kind.Valid() {
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownStream, frame.Kind)
	}

	var data any
	switch p := frame.Payload.(type) {
	case types.DepthImage:
		data = encodeUint16Grid(p.Rows, p.Cols, p.Data)
	case types.UserImage:
		data = encodeUint16Grid(p.Rows, p.Cols, p.Labels)
	case types.ColorImage:
		data = encodeRGBGrid(p.Rows, p.Cols, p.Data)
	case types.SkeletonFrame, types.HandsFrame, types.GestureFrame, types.IssueFrame:
		data = p
	default:
		return nil, fmt.Errorf("unsupported %s payload %T", frame.Kind, frame.Payload)
	}

	return cbor.Marshal(outEnvelope{
		Type:      frame.Kind.String(),
		Seq:       frame.Seq,
		Timestamp: toSeconds(frame.Timestamp),
		Data:      data,
	})
}

// EncodeMode produces the wire form of an output mode announcement.
func EncodeMode(kind types.StreamKind, mode types.OutputMode) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownStream, kind)
	}
	return cbor.Marshal(outEnvelope{
		Type:   modeMessage,
		Stream: kind.String(),
		Data:   mode,
	})
}

func fromSeconds(sec float64) time.Time {
	if sec <= 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return time.Now()
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

func toSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", n)
		}
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}
