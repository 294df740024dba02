package types

// Payload shapes carried in Frame.Payload, one per stream kind.

type DepthImage struct {
	Rows int
	Cols int
	// Millimetres, 0 where the sensor has no reading.
	Data []uint16
}

type ColorImage struct {
	Rows int
	Cols int
	// Packed RGB, 3 bytes per pixel.
	Data []uint8
}

type UserImage struct {
	Rows   int
	Cols   int
	Labels []uint16
}

type Joint struct {
	Type       string     `json:"type" cbor:"type"`
	Confidence float32    `json:"confidence" cbor:"confidence"`
	Real       [3]float32 `json:"real" cbor:"real"`
	Proj       [3]float32 `json:"proj" cbor:"proj"`
}

type UserSkeleton struct {
	UserID int     `json:"user_id" cbor:"user_id"`
	Joints []Joint `json:"joints" cbor:"joints"`
}

type SkeletonFrame struct {
	Skeletons []UserSkeleton `json:"skeletons" cbor:"skeletons"`
}

type Hand struct {
	X        float32    `json:"x" cbor:"x"`
	Y        float32    `json:"y" cbor:"y"`
	Real     [3]float32 `json:"real" cbor:"real"`
	Click    bool       `json:"click" cbor:"click"`
	Pressure int        `json:"pressure" cbor:"pressure"`
}

type UserHands struct {
	UserID int   `json:"user_id" cbor:"user_id"`
	Left   *Hand `json:"left,omitempty" cbor:"left,omitempty"`
	Right  *Hand `json:"right,omitempty" cbor:"right,omitempty"`
}

type HandsFrame struct {
	Users []UserHands `json:"users" cbor:"users"`
}

type GestureEvent struct {
	UserID int    `json:"user_id" cbor:"user_id"`
	Type   string `json:"type" cbor:"type"`
}

type GestureFrame struct {
	Gestures []GestureEvent `json:"gestures" cbor:"gestures"`
}

const (
	IssueFrameBorder = "frame_border"
	IssueOcclusion   = "occlusion"
)

type TrackingIssue struct {
	UserID int    `json:"user_id" cbor:"user_id"`
	Kind   string `json:"kind" cbor:"kind"`
	Left   bool   `json:"left,omitempty" cbor:"left,omitempty"`
	Right  bool   `json:"right,omitempty" cbor:"right,omitempty"`
	Top    bool   `json:"top,omitempty" cbor:"top,omitempty"`
}

type IssueFrame struct {
	Issues []TrackingIssue `json:"issues" cbor:"issues"`
}
