// Package errs defines the error taxonomy shared by the transport, crypto and
// frame-processing packages.
//
// Errors are plain sentinels. Call sites wrap them with fmt.Errorf and %w so
// that callers can classify failures with errors.Is:
//
//	if errors.Is(err, errs.ErrInvalidMAC) {
//	    // drop the packet, keep the session
//	}
package errs

import "errors"

// Transport level errors.
var (
	// ErrNetwork indicates a socket level failure. Fatal to a session.
	ErrNetwork = errors.New("network error")

	// ErrTimeout indicates a blocking step exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrCanceled indicates a cooperative shutdown was requested.
	ErrCanceled = errors.New("canceled")

	// ErrDisconnected indicates the operation requires a connected session.
	ErrDisconnected = errors.New("disconnected")
)

// Wire content errors.
var (
	// ErrInvalidData indicates malformed wire content.
	ErrInvalidData = errors.New("invalid data")

	// ErrInvalidResponse indicates the peer answered with an unexpected message.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrInvalidMAC indicates packet authentication failed.
	ErrInvalidMAC = errors.New("invalid MAC")

	// ErrVersionMismatch indicates an unsupported protocol version.
	ErrVersionMismatch = errors.New("version mismatch")
)

// Resource errors.
var (
	// ErrBufTooSmall indicates a buffer is shorter than the structure it must hold.
	ErrBufTooSmall = errors.New("buffer too small")

	// ErrOverflow indicates a bounded internal structure is full.
	ErrOverflow = errors.New("overflow")

	// ErrUninitialized indicates a component was used before being set up.
	ErrUninitialized = errors.New("uninitialized")

	// ErrFECFailed indicates erasure decoding could not recover the frame.
	ErrFECFailed = errors.New("FEC failed")
)

// IsFatal reports whether err terminates a session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsPerPacket reports whether err only concerns a single packet, which is
// dropped while the session continues.
func IsPerPacket(err error) bool {
	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidResponse) ||
		errors.Is(err, ErrInvalidMAC) ||
		errors.Is(err, ErrBufTooSmall)
}

// IsShutdown reports whether err stems from a requested shutdown rather than a
// failure worth reporting.
func IsShutdown(err error) bool {
	return errors.Is(err, ErrCanceled)
}
