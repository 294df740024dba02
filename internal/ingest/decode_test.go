package ingest

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"tracksession-go/internal/session"
	"tracksession-go/internal/types"
)

func TestDepthRoundTrip(t *testing.T) {
	ts := time.Unix(1700000000, 250000000)
	in := types.Frame{
		Kind:      types.Depth,
		Seq:       7,
		Timestamp: ts,
		Payload:   types.DepthImage{Rows: 2, Cols: 3, Data: []uint16{0, 1, 2, 1000, 2000, 65535}},
	}
	payload, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Frame.Kind != types.Depth || msg.Frame.Seq != 7 {
		t.Fatalf("unexpected header: %+v", msg.Frame)
	}
	if d := msg.Frame.Timestamp.Sub(ts); d > time.Millisecond || d < -time.Millisecond {
		t.Fatalf("timestamp drift %v", d)
	}
	if !reflect.DeepEqual(msg.Frame.Payload, in.Payload) {
		t.Fatalf("payload = %#v, want %#v", msg.Frame.Payload, in.Payload)
	}
}

func TestColorRoundTrip(t *testing.T) {
	in := types.Frame{
		Kind:    types.Color,
		Seq:     1,
		Payload: types.ColorImage{Rows: 1, Cols: 2, Data: []uint8{1, 2, 3, 4, 5, 6}},
	}
	payload, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if !reflect.DeepEqual(msg.Frame.Payload, in.Payload) {
		t.Fatalf("payload = %#v", msg.Frame.Payload)
	}
}

func TestSkeletonRoundTrip(t *testing.T) {
	in := types.SkeletonFrame{Skeletons: []types.UserSkeleton{{
		UserID: 3,
		Joints: []types.Joint{{
			Type:       "head",
			Confidence: 0.5,
			Real:       [3]float32{10, 20, 2000},
			Proj:       [3]float32{0.25, 0.75, 2000},
		}},
	}}}
	payload, err := EncodeFrame(types.Frame{Kind: types.Skeleton, Seq: 2, Payload: in})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if !reflect.DeepEqual(msg.Frame.Payload, in) {
		t.Fatalf("payload = %#v, want %#v", msg.Frame.Payload, in)
	}
}

func TestHandsDecodeFromMap(t *testing.T) {
	raw := map[string]any{
		"type": "hands",
		"seq":  4,
		"data": map[string]any{
			"users": []any{
				map[string]any{
					"user_id": 1,
					"right": map[string]any{
						"x": 0.5, "y": 0.25, "click": true, "pressure": 80,
					},
				},
			},
		},
	}
	payload, err := cbor.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	hands := msg.Frame.Payload.(types.HandsFrame)
	if len(hands.Users) != 1 || hands.Users[0].Left != nil || hands.Users[0].Right == nil {
		t.Fatalf("unexpected hands: %+v", hands)
	}
	right := hands.Users[0].Right
	if right.X != 0.5 || !right.Click || right.Pressure != 80 {
		t.Fatalf("unexpected right hand: %+v", right)
	}
}

func TestModeMessage(t *testing.T) {
	payload, err := EncodeMode(types.Depth, types.OutputMode{XRes: 640, YRes: 480, FPS: 30})
	if err != nil {
		t.Fatalf("EncodeMode: %v", err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Type != modeMessage || msg.Stream != types.Depth || msg.Mode.XRes != 640 {
		t.Fatalf("unexpected mode message: %+v", msg)
	}
}

func TestDecodeUnknownStream(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{"type": "audio", "data": []byte{1}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeMessage(payload); !errors.Is(err, session.ErrUnknownStream) {
		t.Fatalf("DecodeMessage = %v, want ErrUnknownStream", err)
	}
}

func TestDecodeColorNeedsChannels(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{
		"type": "color",
		"data": encodeUint16Grid(1, 1, []uint16{5}),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeMessage(payload); err == nil {
		t.Fatalf("expected error for non-RGB color frame")
	}
}

func TestEncodeRejectsForeignPayload(t *testing.T) {
	if _, err := EncodeFrame(types.Frame{Kind: types.Depth, Payload: "nope"}); err == nil {
		t.Fatalf("expected error for string payload")
	}
}
