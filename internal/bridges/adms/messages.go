package adms

import (
	"context"
	"errors"
	"time"
)

// MQTT message types exchanged with operators on the command, ack,
// response and health topics.

// CommandKind selects the operation a CommandMessage asks for.
type CommandKind string

const (
	// CommandRaw sends Text to the device unchanged.
	CommandRaw CommandKind = "raw"

	// CommandSyncClock sets the device clock to server time.
	CommandSyncClock CommandKind = "sync_clock"

	// CommandPullTable reads every row of Table.
	CommandPullTable CommandKind = "pull_table"

	// CommandPullOptions reads Keys (or DefaultOptionKeys).
	CommandPullOptions CommandKind = "pull_options"

	// CommandPushUsers uploads Users, Extended and Authorizations.
	CommandPushUsers CommandKind = "push_users"

	// CommandCancel aborts the device's in-flight command.
	CommandCancel CommandKind = "cancel"
)

// Valid reports whether k is a known command kind.
func (k CommandKind) Valid() bool {
	switch k {
	case CommandRaw, CommandSyncClock, CommandPullTable, CommandPullOptions, CommandPushUsers, CommandCancel:
		return true
	}
	return false
}

// CommandMessage is received on {prefix}/command/{sn}.
type CommandMessage struct {
	// ID correlates the ack and response. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	Command CommandKind `json:"command"`

	// Text is the raw command line for CommandRaw.
	Text string `json:"text,omitempty"`

	// Table is the table name for CommandPullTable.
	Table string `json:"table,omitempty"`

	// Keys are the option names for CommandPullOptions.
	Keys []string `json:"keys,omitempty"`

	Users          []User          `json:"users,omitempty"`
	Extended       []UserExtended  `json:"extended,omitempty"`
	Authorizations []UserAuthorize `json:"authorizations,omitempty"`

	// Source indicates where the command originated ("api", "mqtt", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus is the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted means the command was handed to the device session.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected before reaching the device.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on {prefix}/ack/{sn} as soon as a command is
// accepted or rejected.
type AckMessage struct {
	CommandID    string      `json:"command_id"`
	Timestamp    time.Time   `json:"timestamp"`
	SerialNumber string      `json:"serial_number"`
	Command      CommandKind `json:"command,omitempty"`
	Status       AckStatus   `json:"status"`
	Error        *AckError   `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in AckError.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeDeviceBusy        = "DEVICE_BUSY"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeCommandFailed     = "COMMAND_FAILED"
)

// ResponseStatus is the final outcome of a command.
type ResponseStatus string

const (
	ResponseCompleted ResponseStatus = "completed"
	ResponseFailed    ResponseStatus = "failed"
	ResponseTimeout   ResponseStatus = "timeout"
	ResponseCancelled ResponseStatus = "cancelled"
)

// ResponseMessage is published on {prefix}/response/{sn} when a command
// finishes.
type ResponseMessage struct {
	CommandID    string         `json:"command_id"`
	Timestamp    time.Time      `json:"timestamp"`
	SerialNumber string         `json:"serial_number"`
	Command      CommandKind    `json:"command"`
	Status       ResponseStatus `json:"status"`
	DurationMS   int64          `json:"duration_ms"`

	// Result depends on Command: *CommandResult, *TableResult, Fields,
	// []*CommandResult or a cancellation flag.
	Result any       `json:"result,omitempty"`
	Error  *AckError `json:"error,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published, retained, on {prefix}/health.
type HealthMessage struct {
	Server           string            `json:"server"`
	Timestamp        time.Time         `json:"timestamp"`
	Status           HealthStatus      `json:"status"`
	Version          string            `json:"version"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	DevicesConnected int               `json:"devices_connected"`
	Statistics       *BridgeStatistics `json:"statistics,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// BridgeStatistics counts bridge activity since start.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	EventsPublished  uint64 `json:"events_published"`
	PublishErrors    uint64 `json:"publish_errors"`
}

// errorCode maps a command error to its AckError code and response status.
func errorCode(err error) (string, ResponseStatus) {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeDeviceNotFound, ResponseFailed
	case errors.Is(err, ErrCommandBusy):
		return ErrCodeDeviceBusy, ResponseFailed
	case errors.Is(err, ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout, ResponseTimeout
	case errors.Is(err, ErrCommandCancelled), errors.Is(err, context.Canceled):
		return ErrCodeCancelled, ResponseCancelled
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand, ResponseFailed
	case errors.Is(err, ErrUnknownTable), errors.Is(err, ErrEmptyCommand):
		return ErrCodeInvalidParameters, ResponseFailed
	default:
		return ErrCodeCommandFailed, ResponseFailed
	}
}
