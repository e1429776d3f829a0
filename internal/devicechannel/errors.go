package devicechannel

import "errors"

// Domain-specific errors for device channel operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotRegistered is returned when addressing a device that has no live channel.
	ErrNotRegistered = errors.New("devicechannel: device not registered")

	// ErrWaiterActive is returned when Next is called while another Next is
	// already parked on the same channel. One consumer per device.
	ErrWaiterActive = errors.New("devicechannel: another consumer is already waiting")

	// ErrStopped is returned to a consumer whose wait was cancelled by Stop.
	// The device loop should treat it as the signal to exit.
	ErrStopped = errors.New("devicechannel: channel stopped")
)
