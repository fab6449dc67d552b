package control

import "errors"

// Domain errors for the control package.
var (
	// ErrInvalidSetpoint is returned when a setpoint is not finite.
	ErrInvalidSetpoint = errors.New("control: invalid setpoint")

	// ErrInvalidAddress is returned for bus addresses outside [0, 254].
	ErrInvalidAddress = errors.New("control: address out of range")
)
