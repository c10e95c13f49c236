package trigger

import "errors"

var (
	// ErrResolution means the registry could not resolve a motor.
	ErrResolution = errors.New("motor resolution failed")
	// ErrConfiguration means a request violates what the generator can do.
	ErrConfiguration = errors.New("invalid trigger configuration")
	// ErrCapacity means the comparator table cannot hold the request.
	ErrCapacity = errors.New("trigger table too large")
	// ErrUpload means the table never reached the device.
	ErrUpload = errors.New("trigger table upload failed")
	// ErrNotConfigured means no motor is bound to the channel yet.
	ErrNotConfigured = errors.New("no motor configured")
	ErrInvalidAxis   = errors.New("invalid axis")
)
