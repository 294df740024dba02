package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// RFC 8746 tags used for image payloads.
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
	tagUint32LE      = 70
	tagFloat32LE     = 85
)

type grid struct {
	rows     int
	cols     int
	channels int
	flat     any
}

// maxDim bounds every image dimension read from the wire.
const maxDim = math.MaxInt32

// size returns the sample count of g, or false if it does not fit in an int.
func (g grid) size() (int, bool) {
	n := 1
	for _, d := range []int{g.rows, g.cols, g.channels} {
		if d != 0 && n > math.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

func decodeMultiDimArray(value any) (grid, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return grid{}, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return grid{}, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) < 2 || len(dimsRaw) > 3 {
		return grid{}, fmt.Errorf("invalid multidim dimensions")
	}
	dims := make([]int, len(dimsRaw))
	for i, raw := range dimsRaw {
		n, err := toInt(raw)
		if err != nil {
			return grid{}, err
		}
		if n < 0 || n > maxDim {
			return grid{}, fmt.Errorf("dimension %d out of range", n)
		}
		dims[i] = n
	}
	g := grid{rows: dims[0], cols: dims[1], channels: 1}
	if len(dims) == 3 {
		g.channels = dims[2]
	}

	flat, length, err := decodeTypedArray(items[1])
	if err != nil {
		return grid{}, err
	}
	size, ok := g.size()
	if !ok {
		return grid{}, fmt.Errorf("dimensions %v overflow", dims)
	}
	if length != size {
		return grid{}, errors.New("dimension mismatch")
	}
	g.flat = flat
	return g, nil
}

func decodeTypedArray(value any) (any, int, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, 0, fmt.Errorf("expected typed array tag")
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, 0, fmt.Errorf("unsupported typed array content %T", tag.Content)
	}

	switch tag.Number {
	case tagUint8:
		return data, len(data), nil
	case tagUint16LE:
		out := bytesToUint16(data)
		return out, len(out), nil
	case tagUint32LE:
		out := bytesToUint32(data)
		return out, len(out), nil
	case tagFloat32LE:
		out := bytesToFloat32(data)
		return out, len(out), nil
	default:
		return nil, 0, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

// uint16Values widens or narrows a decoded grid to uint16 samples.
func uint16Values(g grid) ([]uint16, error) {
	switch v := g.flat.(type) {
	case []uint16:
		return v, nil
	case []uint8:
		out := make([]uint16, len(v))
		for i, b := range v {
			out[i] = uint16(b)
		}
		return out, nil
	case []uint32:
		out := make([]uint16, len(v))
		for i, n := range v {
			if n > math.MaxUint16 {
				n = math.MaxUint16
			}
			out[i] = uint16(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot use %T samples as uint16", g.flat)
	}
}

func encodeUint16Grid(rows, cols int, data []uint16) cbor.Tag {
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]int{rows, cols},
			cbor.Tag{Number: tagUint16LE, Content: buf},
		},
	}
}

func encodeRGBGrid(rows, cols int, data []uint8) cbor.Tag {
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]int{rows, cols, 3},
			cbor.Tag{Number: tagUint8, Content: data},
		},
	}
}

func bytesToUint16(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := 0; i < len(out); i++ {
		out[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
	}
	return out
}

func bytesToUint32(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := 0; i < len(out); i++ {
		out[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	return out
}

func bytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := 0; i < len(out); i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
