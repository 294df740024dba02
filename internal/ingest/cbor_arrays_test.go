package ingest

import (
	"math"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"tracksession-go/internal/types"
)

func TestDecodeMultiDimArrayUint8(t *testing.T) {
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{2, 2},
			cbor.Tag{
				Number:  tagUint8,
				Content: []byte{1, 2, 3, 4},
			},
		},
	}

	got, err := decodeMultiDimArray(value)
	if err != nil {
		t.Fatalf("decodeMultiDimArray error: %v", err)
	}
	if got.rows != 2 || got.cols != 2 || got.channels != 1 {
		t.Fatalf("unexpected shape: %+v", got)
	}
	if !reflect.DeepEqual(got.flat, []uint8{1, 2, 3, 4}) {
		t.Fatalf("decodeMultiDimArray mismatch: got %#v", got.flat)
	}
}

func TestDecodeMultiDimArrayMismatch(t *testing.T) {
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{2, 3},
			cbor.Tag{Number: tagUint16LE, Content: []byte{1, 0, 2, 0}},
		},
	}
	if _, err := decodeMultiDimArray(value); err == nil {
		t.Fatalf("expected dimension mismatch")
	}
}

func TestUint16Values(t *testing.T) {
	got, err := uint16Values(grid{rows: 1, cols: 3, channels: 1, flat: []uint32{1, 70000, 3}})
	if err != nil {
		t.Fatalf("uint16Values: %v", err)
	}
	if !reflect.DeepEqual(got, []uint16{1, 65535, 3}) {
		t.Fatalf("uint16Values = %v", got)
	}
	if _, err := uint16Values(grid{flat: []float32{1}}); err == nil {
		t.Fatalf("expected error for float samples")
	}
}

func TestDecodeMultiDimArrayRejectsHugeDimensions(t *testing.T) {
	cases := map[string][]any{
		"above bound":   {uint64(1) << 32, uint64(1) << 32},
		"overflow":      {uint64(math.MaxInt32), uint64(math.MaxInt32), uint64(math.MaxInt32)},
		"beyond int64":  {uint64(math.MaxUint64), uint64(1)},
		"negative wrap": {uint64(1) << 63, uint64(2)},
	}
	for name, dims := range cases {
		value := cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				dims,
				cbor.Tag{Number: tagUint16LE, Content: []byte{}},
			},
		}
		if g, err := decodeMultiDimArray(value); err == nil {
			t.Fatalf("%s: accepted %dx%dx%d with %d samples", name, g.rows, g.cols, g.channels, len(g.flat.([]uint16)))
		}
	}
}

func TestDecodeMessageRejectsHugeDepthImage(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{
		"type": "depth",
		"data": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]uint64{1 << 32, 1 << 32},
				cbor.Tag{Number: tagUint16LE, Content: []byte{}},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if msg, err := DecodeMessage(payload); err == nil {
		img := msg.Frame.Payload.(types.DepthImage)
		t.Fatalf("accepted depth image %dx%d with %d samples", img.Rows, img.Cols, len(img.Data))
	}
}
