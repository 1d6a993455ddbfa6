package reader

import "fmt"

// ConnectionError wraps a transport level failure: dialing, reading or
// writing the venue socket. The feed reacts by reconnecting.
type ConnectionError struct {
	Venue string
	Op    string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection %s: %v", e.Venue, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a frame or venue response that violates the wire
// protocol, such as a rejected subscription. It is fatal for the session.
type ProtocolError struct {
	Venue  string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s protocol error: %s: %v", e.Venue, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s protocol error: %s", e.Venue, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
