package session

import (
	"context"

	"tracksession-go/internal/types"
)

// Device is the external tracking engine a Session drives. Connect opens a
// connection that stays valid until Disconnect.
type Device interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a live connection to a Device.
//
// PollFrame must not block for longer than the device needs to check its
// buffers; it returns false when no frame arrived for kind since the last
// poll. Disconnect must be safe to call more than once.
type Conn interface {
	EnableStream(kind types.StreamKind) error
	PollFrame(kind types.StreamKind) (types.Frame, bool)
	Disconnect()
}

// OutputModer is implemented by connections that know the image geometry of
// their pixel streams.
type OutputModer interface {
	OutputMode(kind types.StreamKind) (types.OutputMode, bool)
}
