package types

type StreamSnapshot struct {
	Frames   uint64         `json:"frames"`
	Failures uint64         `json:"failures"`
	LastSeq  uint64         `json:"last_seq"`
	LastTime float64        `json:"last_time"`
	Summary  map[string]any `json:"summary,omitempty"`
}

type UISnapshot struct {
	Type string                    `json:"type"`
	Data map[string]StreamSnapshot `json:"data"`
}

type UIEvent struct {
	Type      string         `json:"type"`
	Stream    string         `json:"stream"`
	Seq       uint64         `json:"seq"`
	Timestamp float64        `json:"timestamp"`
	Summary   map[string]any `json:"summary,omitempty"`
}
