package wire

import "errors"

var (
	// ErrConnectionLost is returned to every pending Send call (and to any
	// new Send issued after) once the session's transport has failed.
	ErrConnectionLost = errors.New("wire: connection lost")

	// ErrProtocol is raised when a non-unsolicited frame arrives with an
	// empty pending-response FIFO: the broker sent a solicited reply the
	// session never asked for.
	ErrProtocol = errors.New("wire: protocol error: unexpected reply")

	// ErrSessionClosed is returned by Send/SendRaw/Echo once Close has
	// been called.
	ErrSessionClosed = errors.New("wire: session closed")
)
