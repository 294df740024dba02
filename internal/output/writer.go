package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tracksession-go/internal/types"
)

// TrackWriter appends skeleton joints and hand positions of one run to CSV
// files in outputDir.
type TrackWriter struct {
	mu       sync.Mutex
	skeleton *os.File
	hands    *os.File
}

func NewTrackWriter(outputDir string, runTimestamp string) (*TrackWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	skeleton, err := createCSV(
		filepath.Join(outputDir, fmt.Sprintf("%s_skeleton.csv", runTimestamp)),
		"seq, timestamp, user_id, joint, confidence, x, y, z, proj_x, proj_y",
	)
	if err != nil {
		return nil, err
	}
	hands, err := createCSV(
		filepath.Join(outputDir, fmt.Sprintf("%s_hands.csv", runTimestamp)),
		"seq, timestamp, user_id, side, x, y, real_x, real_y, real_z, click, pressure",
	)
	if err != nil {
		_ = skeleton.Close()
		return nil, err
	}
	return &TrackWriter{skeleton: skeleton, hands: hands}, nil
}

func createCSV(path string, header string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintln(f, header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func (w *TrackWriter) WriteSkeletons(seq uint64, timestamp float64, frame types.SkeletonFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.skeleton == nil {
		return fmt.Errorf("track writer is closed")
	}
	for _, skel := range frame.Skeletons {
		for _, joint := range skel.Joints {
			_, err := fmt.Fprintf(
				w.skeleton,
				"%d, %.6f, %d, %s, %.3f, %.1f, %.1f, %.1f, %.4f, %.4f\n",
				seq,
				timestamp,
				skel.UserID,
				joint.Type,
				joint.Confidence,
				joint.Real[0], joint.Real[1], joint.Real[2],
				joint.Proj[0], joint.Proj[1],
			)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *TrackWriter) WriteHands(seq uint64, timestamp float64, frame types.HandsFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hands == nil {
		return fmt.Errorf("track writer is closed")
	}
	for _, user := range frame.Users {
		for _, side := range []struct {
			name string
			hand *types.Hand
		}{{"left", user.Left}, {"right", user.Right}} {
			if side.hand == nil {
				continue
			}
			h := side.hand
			_, err := fmt.Fprintf(
				w.hands,
				"%d, %.6f, %d, %s, %.4f, %.4f, %.1f, %.1f, %.1f, %t, %d\n",
				seq,
				timestamp,
				user.UserID,
				side.name,
				h.X, h.Y,
				h.Real[0], h.Real[1], h.Real[2],
				h.Click,
				h.Pressure,
			)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *TrackWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, f := range []**os.File{&w.skeleton, &w.hands} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*f = nil
	}
	return firstErr
}
