package adms

import "errors"

// Domain errors for the ADMS push bridge.
var (
	// ErrMissingSerialNumber is returned when a device request carries no
	// SN query parameter. Answered with 400.
	ErrMissingSerialNumber = errors.New("adms: missing serial number")

	// ErrHandlerFault is recorded when a route handler panics. Answered
	// with 500; the session stays usable.
	ErrHandlerFault = errors.New("adms: handler fault")

	// ErrCommandTimeout is returned when a device does not reply to a
	// command within the configured window.
	ErrCommandTimeout = errors.New("adms: command timed out")

	// ErrCommandBusy is returned when a command is issued while another
	// one is still in flight on the same session.
	ErrCommandBusy = errors.New("adms: command already in flight")

	// ErrCommandCancelled is returned to the waiter of a command that an
	// operator aborted.
	ErrCommandCancelled = errors.New("adms: command cancelled")

	// ErrDecodeSkew is returned when a data row cannot be turned into a
	// record (no fields, or no pin).
	ErrDecodeSkew = errors.New("adms: undecodable row")

	// ErrUnknownTable is returned for a table name with no record type.
	ErrUnknownTable = errors.New("adms: unknown table")

	// ErrDeviceNotFound is returned when no session exists for a serial
	// number.
	ErrDeviceNotFound = errors.New("adms: device not found")

	// ErrEmptyCommand is returned when a command with no text is issued.
	ErrEmptyCommand = errors.New("adms: empty command")

	// ErrInvalidCommand is returned for an operator command of unknown kind.
	ErrInvalidCommand = errors.New("adms: invalid command")
)
