package algodomo

import "errors"

// Domain errors for the Algo_Domo bridge package.
var (
	// ErrTimeout is returned when the gateway does not complete a
	// transaction within the deadline.
	ErrTimeout = errors.New("algodomo: gateway timeout")

	// ErrTransport is returned on TCP connect/read/write failure.
	ErrTransport = errors.New("algodomo: gateway transport failure")

	// ErrProtocol is returned when the gateway closed the connection
	// without a valid framed reply.
	ErrProtocol = errors.New("algodomo: no valid frame in reply")

	// ErrNoReply is returned in raw mode when the gateway closed the
	// connection before the expected byte count arrived.
	ErrNoReply = errors.New("algodomo: no reply from gateway")

	// ErrInvalidFrame is returned when a buffer is not a well-delimited
	// 14-byte frame.
	ErrInvalidFrame = errors.New("algodomo: invalid frame")

	// ErrInvalidChannel is returned for relay or shutter channels
	// outside their wire ranges.
	ErrInvalidChannel = errors.New("algodomo: channel out of range")

	// ErrUnknownAction is returned for action names outside the
	// command catalogue.
	ErrUnknownAction = errors.New("algodomo: unknown action")
)
