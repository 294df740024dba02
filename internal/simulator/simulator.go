package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"tracksession-go/internal/session"
	"tracksession-go/internal/types"
)

const (
	gestureEvery = 30
	issueEvery   = 45
)

var jointNames = []string{
	"head", "neck", "torso", "waist",
	"left_shoulder", "left_elbow", "left_wrist", "left_hand",
	"right_shoulder", "right_elbow", "right_wrist", "right_hand",
	"left_hip", "left_knee", "left_ankle",
	"right_hip", "right_knee", "right_ankle",
}

// Joint rest positions in millimetres relative to the user's torso.
var jointRest = map[string][3]float64{
	"head":           {0, 450, 0},
	"neck":           {0, 300, 0},
	"torso":          {0, 0, 0},
	"waist":          {0, -200, 0},
	"left_shoulder":  {-180, 280, 0},
	"left_elbow":     {-320, 60, 40},
	"left_wrist":     {-360, -150, 80},
	"left_hand":      {-370, -220, 90},
	"right_shoulder": {180, 280, 0},
	"right_elbow":    {320, 60, 40},
	"right_wrist":    {360, -150, 80},
	"right_hand":     {370, -220, 90},
	"left_hip":       {-110, -250, 0},
	"left_knee":      {-120, -650, 20},
	"left_ankle":     {-120, -1050, 0},
	"right_hip":      {110, -250, 0},
	"right_knee":     {120, -650, 20},
	"right_ankle":    {120, -1050, 0},
}

var gestureTypes = []string{"waving", "swipe_left", "swipe_right", "swipe_up", "swipe_down", "push"}

type Config struct {
	Rows  int
	Cols  int
	FPS   float64
	Users int
	Seed  int64
	// Unavailable makes Connect fail, standing in for an unplugged sensor.
	Unavailable bool
}

// Device is an in-process tracking device producing synthetic frames for
// every stream kind.
type Device struct {
	cfg Config
}

func New(cfg Config) *Device {
	if cfg.Rows < 1 {
		cfg.Rows = 240
	}
	if cfg.Cols < 1 {
		cfg.Cols = 320
	}
	if cfg.Users < 0 {
		cfg.Users = 0
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Device{cfg: cfg}
}

func (d *Device) Connect(ctx context.Context) (session.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.cfg.Unavailable {
		return nil, fmt.Errorf("simulator: %w", session.ErrDeviceUnavailable)
	}
	return newConn(d.cfg, time.Now), nil
}

type conn struct {
	cfg      Config
	rng      *rand.Rand
	now      func() time.Time
	interval time.Duration

	enabled [len(types.StreamOrder)]bool
	ticks   [len(types.StreamOrder)]uint64
	seq     [len(types.StreamOrder)]uint64
	last    [len(types.StreamOrder)]time.Time

	baseDepth []float64
	sqrtBase  []float64
	closed    bool
}

func newConn(cfg Config, now func() time.Time) *conn {
	c := &conn{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		now: now,
	}
	if cfg.FPS > 0 {
		c.interval = time.Duration(float64(time.Second) / cfg.FPS)
	}

	total := cfg.Rows * cfg.Cols
	c.baseDepth = make([]float64, total)
	c.sqrtBase = make([]float64, total)
	centerX := float64(cfg.Cols) / 2.0
	centerY := float64(cfg.Rows) / 2.0
	for i := 0; i < total; i++ {
		dx := float64(i%cfg.Cols) - centerX
		dy := float64(i/cfg.Cols) - centerY
		distance := math.Sqrt(dx*dx + dy*dy)
		bump := 1000 * math.Exp(-(distance*distance)/(float64(total)/20))
		c.baseDepth[i] = 3000 - bump
		c.sqrtBase[i] = math.Sqrt(bump + 1)
	}
	return c
}

func (c *conn) EnableStream(kind types.StreamKind) error {
	if !kind.Valid() {
		return fmt.Errorf("simulator: %w: %s", session.ErrUnknownStream, kind)
	}
	c.enabled[kind] = true
	return nil
}

func (c *conn) PollFrame(kind types.StreamKind) (types.Frame, bool) {
	if c.closed || !kind.Valid() || !c.enabled[kind] || !c.due(kind) {
		return types.Frame{}, false
	}
	c.ticks[kind]++
	tick := c.ticks[kind]

	var payload any
	switch kind {
	case types.Depth:
		payload = c.depth()
	case types.Color:
		payload = c.color(tick)
	case types.Skeleton:
		payload = types.SkeletonFrame{Skeletons: c.skeletons(tick)}
	case types.Hands:
		payload = c.hands(tick)
	case types.User:
		payload = c.users(tick)
	case types.Gesture:
		if tick%gestureEvery != 0 || c.cfg.Users == 0 {
			return types.Frame{}, false
		}
		payload = types.GestureFrame{Gestures: []types.GestureEvent{{
			UserID: 1 + c.rng.Intn(c.cfg.Users),
			Type:   gestureTypes[c.rng.Intn(len(gestureTypes))],
		}}}
	case types.Issue:
		if tick%issueEvery != 0 || c.cfg.Users == 0 {
			return types.Frame{}, false
		}
		payload = c.issue()
	}

	c.seq[kind]++
	return types.Frame{
		Kind:      kind,
		Seq:       c.seq[kind],
		Timestamp: c.now(),
		Payload:   payload,
	}, true
}

func (c *conn) Disconnect() {
	c.closed = true
}

func (c *conn) OutputMode(kind types.StreamKind) (types.OutputMode, bool) {
	if !kind.IsImage() {
		return types.OutputMode{}, false
	}
	return types.OutputMode{
		XRes: c.cfg.Cols,
		YRes: c.cfg.Rows,
		FPS:  int(math.Round(c.cfg.FPS)),
	}, true
}

func (c *conn) due(kind types.StreamKind) bool {
	if c.interval <= 0 {
		return true
	}
	now := c.now()
	if !c.last[kind].IsZero() && now.Sub(c.last[kind]) < c.interval {
		return false
	}
	c.last[kind] = now
	return true
}

func (c *conn) depth() types.DepthImage {
	data := make([]uint16, len(c.baseDepth))
	for i, base := range c.baseDepth {
		val := base + c.rng.NormFloat64()*c.sqrtBase[i]
		if val < 0 {
			val = 0
		}
		data[i] = uint16(val)
	}
	return types.DepthImage{Rows: c.cfg.Rows, Cols: c.cfg.Cols, Data: data}
}

func (c *conn) color(tick uint64) types.ColorImage {
	rows, cols := c.cfg.Rows, c.cfg.Cols
	data := make([]uint8, rows*cols*3)
	shift := int(tick % 256)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			i := (y*cols + x) * 3
			data[i] = uint8((x*255/cols + shift) % 256)
			data[i+1] = uint8(y * 255 / rows)
			data[i+2] = uint8(128 + shift/2)
		}
	}
	return types.ColorImage{Rows: rows, Cols: cols, Data: data}
}

func (c *conn) skeletons(tick uint64) []types.UserSkeleton {
	out := make([]types.UserSkeleton, 0, c.cfg.Users)
	for u := 0; u < c.cfg.Users; u++ {
		phase := float64(tick)/30 + float64(u)
		torso := [3]float64{
			float64(u)*700 - float64(c.cfg.Users-1)*350 + 150*math.Sin(phase/4),
			0,
			2200 + 200*math.Cos(phase/5),
		}
		joints := make([]types.Joint, 0, len(jointNames))
		for _, name := range jointNames {
			rest := jointRest[name]
			pos := [3]float64{torso[0] + rest[0], torso[1] + rest[1], torso[2] + rest[2]}
			if name == "right_wrist" || name == "right_hand" {
				pos[1] += 250 * (1 + math.Sin(phase))
			}
			joints = append(joints, types.Joint{
				Type:       name,
				Confidence: 0.75 + 0.25*float32(c.rng.Float64()),
				Real:       toFloat32(pos),
				Proj:       project(pos),
			})
		}
		out = append(out, types.UserSkeleton{UserID: u + 1, Joints: joints})
	}
	return out
}

func (c *conn) hands(tick uint64) types.HandsFrame {
	frame := types.HandsFrame{Users: make([]types.UserHands, 0, c.cfg.Users)}
	for _, skel := range c.skeletons(tick) {
		hands := types.UserHands{UserID: skel.UserID}
		phase := float64(tick)/30 + float64(skel.UserID-1)
		for _, joint := range skel.Joints {
			switch joint.Type {
			case "left_hand":
				hands.Left = handAt(joint, false, 0)
			case "right_hand":
				click := math.Sin(phase*0.5) > 0.95
				pressure := int(math.Max(0, math.Sin(phase*0.5)) * 100)
				hands.Right = handAt(joint, click, pressure)
			}
		}
		frame.Users = append(frame.Users, hands)
	}
	return frame
}

func (c *conn) users(tick uint64) types.UserImage {
	rows, cols := c.cfg.Rows, c.cfg.Cols
	labels := make([]uint16, rows*cols)
	for _, skel := range c.skeletons(tick) {
		var torso types.Joint
		for _, joint := range skel.Joints {
			if joint.Type == "torso" {
				torso = joint
				break
			}
		}
		cx := float64(torso.Proj[0]) * float64(cols)
		cy := float64(torso.Proj[1]) * float64(rows)
		rx := float64(cols) / 10
		ry := float64(rows) / 3
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				dx := (float64(x) - cx) / rx
				dy := (float64(y) - cy) / ry
				if dx*dx+dy*dy <= 1 {
					labels[y*cols+x] = uint16(skel.UserID)
				}
			}
		}
	}
	return types.UserImage{Rows: rows, Cols: cols, Labels: labels}
}

func (c *conn) issue() types.IssueFrame {
	userID := 1 + c.rng.Intn(c.cfg.Users)
	if c.rng.Intn(2) == 0 {
		return types.IssueFrame{Issues: []types.TrackingIssue{{
			UserID: userID,
			Kind:   types.IssueOcclusion,
		}}}
	}
	return types.IssueFrame{Issues: []types.TrackingIssue{{
		UserID: userID,
		Kind:   types.IssueFrameBorder,
		Left:   c.rng.Intn(2) == 0,
		Right:  c.rng.Intn(2) == 0,
		Top:    c.rng.Intn(4) == 0,
	}}}
}

func handAt(joint types.Joint, click bool, pressure int) *types.Hand {
	return &types.Hand{
		X:        joint.Proj[0],
		Y:        joint.Proj[1],
		Real:     joint.Real,
		Click:    click,
		Pressure: pressure,
	}
}

// project maps a real-world position onto normalized image coordinates,
// keeping depth in millimetres as the third component.
func project(pos [3]float64) [3]float32 {
	z := pos[2]
	if z < 1 {
		z = 1
	}
	return [3]float32{
		float32(0.5 + pos[0]/(z*1.2)),
		float32(0.5 - pos[1]/(z*0.9)),
		float32(pos[2]),
	}
}

func toFloat32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}
