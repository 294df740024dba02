package types

import (
	"fmt"
	"strings"
	"time"
)

// StreamKind identifies one data channel of a tracking device.
type StreamKind int

const (
	Depth StreamKind = iota
	Color
	Skeleton
	Hands
	User
	Gesture
	Issue
)

// StreamOrder is the order in which a session polls its streams on every pass.
var StreamOrder = [...]StreamKind{Depth, Color, Skeleton, Hands, User, Gesture, Issue}

var streamNames = [...]string{
	Depth:    "depth",
	Color:    "color",
	Skeleton: "skeleton",
	Hands:    "hands",
	User:     "user",
	Gesture:  "gesture",
	Issue:    "issue",
}

func (k StreamKind) Valid() bool {
	return k >= Depth && k <= Issue
}

func (k StreamKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("stream(%d)", int(k))
	}
	return streamNames[k]
}

func (k StreamKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid stream kind %d", int(k))
	}
	return []byte(streamNames[k]), nil
}

func (k *StreamKind) UnmarshalText(text []byte) error {
	kind, err := ParseStreamKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

func ParseStreamKind(name string) (StreamKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range streamNames {
		if n == name {
			return StreamKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stream %q", name)
}

// IsImage reports whether frames of this kind carry a pixel grid.
func (k StreamKind) IsImage() bool {
	return k == Depth || k == Color || k == User
}

type Frame struct {
	Kind      StreamKind
	Seq       uint64
	Timestamp time.Time
	Payload   any
}

type OutputMode struct {
	XRes int `json:"xres" cbor:"xres"`
	YRes int `json:"yres" cbor:"yres"`
	FPS  int `json:"fps" cbor:"fps"`
}
