// Package reader owns the venue connection. It runs one websocket session
// at a time, reconnects with bounded exponential backoff, and forwards
// normalized book updates into the update channel. Venue specifics live in
// the subpackages; this package only sees Source and Session.
package reader

import (
	"context"
	"time"

	"github.com/Prabhat-190/trade/models"
)

// ConnState is the lifecycle state of the feed connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// StateEvent is one observed connection state transition.
type StateEvent struct {
	State  ConnState `json:"state"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Source dials venue sessions. Connect blocks until the session is
// subscribed and must guarantee that a full snapshot is delivered before
// any delta, either directly on the stream or spliced in by the session.
type Source interface {
	Name() string
	Connect(ctx context.Context) (Session, error)
}

// Session is one live venue connection.
//
// Read blocks until the next batch of normalized updates arrives and
// returns an error when the connection is no longer usable. Resync obtains
// a fresh snapshot after the book reported a gap or a crossed state: REST
// venues return it directly with direct=true, resubscribe venues arrange
// for it to arrive on the stream and return direct=false. Close releases
// the connection and unblocks a pending Read.
type Session interface {
	Read(ctx context.Context) ([]models.BookUpdate, error)
	Resync(ctx context.Context) (update models.BookUpdate, direct bool, err error)
	Close() error
}
