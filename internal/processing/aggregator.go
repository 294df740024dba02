package processing

import (
	"sync"
	"time"

	"tracksession-go/internal/types"
)

type streamState struct {
	frames   uint64
	failures uint64
	lastSeq  uint64
	lastTime time.Time
	summary  map[string]any
}

// Aggregator keeps the latest summary and counters per stream. It is fed
// from session callbacks and read by the UI server.
type Aggregator struct {
	mu      sync.Mutex
	streams map[types.StreamKind]*streamState
}

func NewAggregator() *Aggregator {
	return &Aggregator{streams: make(map[types.StreamKind]*streamState)}
}

func (a *Aggregator) state(kind types.StreamKind) *streamState {
	st, ok := a.streams[kind]
	if !ok {
		st = &streamState{}
		a.streams[kind] = st
	}
	return st
}

// AddFrame records frame and returns its summary.
func (a *Aggregator) AddFrame(frame types.Frame) map[string]any {
	summary := Summarize(frame)

	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(frame.Kind)
	st.frames++
	st.lastSeq = frame.Seq
	st.lastTime = frame.Timestamp
	st.summary = summary
	return summary
}

func (a *Aggregator) AddFailure(kind types.StreamKind) {
	a.mu.Lock()
	a.state(kind).failures++
	a.mu.Unlock()
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.streams = make(map[types.StreamKind]*streamState)
	a.mu.Unlock()
}

func (a *Aggregator) SnapshotCopy() map[string]types.StreamSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := make(map[string]types.StreamSnapshot, len(a.streams))
	for kind, st := range a.streams {
		var summary map[string]any
		if st.summary != nil {
			summary = make(map[string]any, len(st.summary))
			for k, v := range st.summary {
				summary[k] = v
			}
		}
		snapshot[kind.String()] = types.StreamSnapshot{
			Frames:   st.frames,
			Failures: st.failures,
			LastSeq:  st.lastSeq,
			LastTime: Seconds(st.lastTime),
			Summary:  summary,
		}
	}
	return snapshot
}

func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func Timestamp() string {
	return time.Now().Format("20060102_150405")
}
