package processing

import (
	"math"
	"testing"
	"time"

	"tracksession-go/internal/types"
)

func TestValidDepth(t *testing.T) {
	values := []uint16{0, 1, 2, math.MaxUint16, 3000}
	if got := ValidDepth(values); got != 3 {
		t.Fatalf("ValidDepth = %d, want 3", got)
	}
}

func TestSummarizeDepth(t *testing.T) {
	frame := types.Frame{
		Kind:    types.Depth,
		Payload: types.DepthImage{Rows: 1, Cols: 4, Data: []uint16{0, 1000, 3000, math.MaxUint16}},
	}
	s := Summarize(frame)
	if s["valid"] != uint32(2) || s["min"] != uint16(1000) || s["max"] != uint16(3000) {
		t.Fatalf("unexpected depth summary %v", s)
	}
	if s["mean"] != 2000.0 {
		t.Fatalf("mean = %v, want 2000", s["mean"])
	}

	empty := Summarize(types.Frame{Kind: types.Depth, Payload: types.DepthImage{Rows: 1, Cols: 1, Data: []uint16{0}}})
	if _, ok := empty["mean"]; ok {
		t.Fatalf("mean reported without valid pixels: %v", empty)
	}
}

func TestSummarizeHandsAndUsers(t *testing.T) {
	hands := Summarize(types.Frame{Kind: types.Hands, Payload: types.HandsFrame{Users: []types.UserHands{
		{UserID: 1, Left: &types.Hand{Click: true}, Right: &types.Hand{}},
		{UserID: 2, Right: &types.Hand{}},
	}}})
	if hands["hands"] != 3 || hands["clicks"] != 1 || hands["users"] != 2 {
		t.Fatalf("unexpected hands summary %v", hands)
	}

	users := Summarize(types.Frame{Kind: types.User, Payload: types.UserImage{Rows: 2, Cols: 2, Labels: []uint16{0, 1, 2, 2}}})
	if users["users"] != 2 || users["covered"] != 3 {
		t.Fatalf("unexpected user summary %v", users)
	}

	if Summarize(types.Frame{Payload: "other"}) != nil {
		t.Fatalf("expected nil summary for foreign payload")
	}
}

func TestAggregatorSnapshot(t *testing.T) {
	agg := NewAggregator()
	ts := time.Unix(10, 500000000)
	agg.AddFrame(types.Frame{Kind: types.Gesture, Seq: 4, Timestamp: ts, Payload: types.GestureFrame{
		Gestures: []types.GestureEvent{{UserID: 1, Type: "wave"}},
	}})
	agg.AddFrame(types.Frame{Kind: types.Gesture, Seq: 5, Timestamp: ts, Payload: types.GestureFrame{}})
	agg.AddFailure(types.Gesture)
	agg.AddFailure(types.Issue)

	snap := agg.SnapshotCopy()
	g := snap["gesture"]
	if g.Frames != 2 || g.Failures != 1 || g.LastSeq != 5 || g.LastTime != 10.5 {
		t.Fatalf("unexpected gesture snapshot %+v", g)
	}
	if g.Summary["count"] != 0 {
		t.Fatalf("summary should describe the latest frame: %v", g.Summary)
	}
	if snap["issue"].Failures != 1 || snap["issue"].Frames != 0 {
		t.Fatalf("unexpected issue snapshot %+v", snap["issue"])
	}

	snap["gesture"].Summary["count"] = 99
	if agg.SnapshotCopy()["gesture"].Summary["count"] != 0 {
		t.Fatalf("snapshot shares summary map with aggregator")
	}

	agg.Reset()
	if len(agg.SnapshotCopy()) != 0 {
		t.Fatalf("Reset left streams behind")
	}
}
