package processing

import (
	"math"

	"tracksession-go/internal/types"
)

// Summarize reduces a frame to a handful of numbers for the UI. Unknown
// payloads yield nil.
func Summarize(frame types.Frame) map[string]any {
	switch p := frame.Payload.(type) {
	case types.DepthImage:
		return summarizeDepth(p)
	case types.ColorImage:
		return summarizeColor(p)
	case types.UserImage:
		return summarizeUsers(p)
	case types.SkeletonFrame:
		joints := 0
		for _, s := range p.Skeletons {
			joints += len(s.Joints)
		}
		return map[string]any{"users": len(p.Skeletons), "joints": joints}
	case types.HandsFrame:
		hands, clicks := 0, 0
		for _, u := range p.Users {
			for _, h := range []*types.Hand{u.Left, u.Right} {
				if h == nil {
					continue
				}
				hands++
				if h.Click {
					clicks++
				}
			}
		}
		return map[string]any{"users": len(p.Users), "hands": hands, "clicks": clicks}
	case types.GestureFrame:
		names := make([]string, 0, len(p.Gestures))
		for _, g := range p.Gestures {
			names = append(names, g.Type)
		}
		return map[string]any{"count": len(p.Gestures), "types": names}
	case types.IssueFrame:
		return map[string]any{"count": len(p.Issues)}
	default:
		return nil
	}
}

// ValidDepth counts pixels that hold a measurement. The sensor reports 0 for
// no reading and saturates at MaxUint16.
func ValidDepth(values []uint16) uint32 {
	var count uint32
	for _, v := range values {
		if v > 0 && v < math.MaxUint16 {
			count++
		}
	}
	return count
}

func summarizeDepth(img types.DepthImage) map[string]any {
	valid := ValidDepth(img.Data)
	out := map[string]any{
		"rows":  img.Rows,
		"cols":  img.Cols,
		"valid": valid,
	}
	if valid == 0 {
		return out
	}
	minV, maxV := uint16(math.MaxUint16), uint16(0)
	var sum uint64
	for _, v := range img.Data {
		if v == 0 || v == math.MaxUint16 {
			continue
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		sum += uint64(v)
	}
	out["min"] = minV
	out["max"] = maxV
	out["mean"] = float64(sum) / float64(valid)
	return out
}

func summarizeColor(img types.ColorImage) map[string]any {
	var sums [3]uint64
	pixels := len(img.Data) / 3
	for i := 0; i < pixels; i++ {
		sums[0] += uint64(img.Data[i*3])
		sums[1] += uint64(img.Data[i*3+1])
		sums[2] += uint64(img.Data[i*3+2])
	}
	out := map[string]any{"rows": img.Rows, "cols": img.Cols}
	if pixels > 0 {
		out["mean_rgb"] = []float64{
			float64(sums[0]) / float64(pixels),
			float64(sums[1]) / float64(pixels),
			float64(sums[2]) / float64(pixels),
		}
	}
	return out
}

func summarizeUsers(img types.UserImage) map[string]any {
	seen := make(map[uint16]struct{})
	var covered int
	for _, label := range img.Labels {
		if label == 0 {
			continue
		}
		covered++
		seen[label] = struct{}{}
	}
	return map[string]any{
		"rows":    img.Rows,
		"cols":    img.Cols,
		"users":   len(seen),
		"covered": covered,
	}
}
