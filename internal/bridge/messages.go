package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/normalize"
)

// EventFilterLow is the event name for a filter dropping below the alert
// threshold.
const EventFilterLow = "filter_low"

// CommandMessage is received on {prefix}/command/{id}.
type CommandMessage struct {
	// ID correlates the command with its ack. One is generated when empty.
	ID string `json:"id,omitempty"`

	// Field is the semantic field to write, e.g. "fan_speed".
	Field string `json:"field"`

	// Value is the semantic value, e.g. "turbo", 2 or true.
	Value any `json:"value"`
}

// ParseCommand decodes and validates a command payload. On a validation
// error the decoded message is still returned so its ID can be acked.
func ParseCommand(payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd.Field = strings.TrimSpace(cmd.Field)
	if cmd.Field == "" {
		return cmd, fmt.Errorf("%w: field is required", ErrInvalidCommand)
	}
	if cmd.Value == nil {
		return cmd, fmt.Errorf("%w: value is required", ErrInvalidCommand)
	}
	return cmd, nil
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the device acknowledged the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond in time.
	AckTimeout AckStatus = "timeout"
)

// Error codes carried in AckError.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeUnsupportedField  = "UNSUPPORTED_FIELD"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceRejected    = "DEVICE_REJECTED"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckMessage is published on {prefix}/ack/{id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	Field     string    `json:"field,omitempty"`
	Status    AckStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code string `json:"code"`

	// Reason is the coordinator failure reason, e.g. "decrypt_error".
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// StateMessage is published retained on {prefix}/state/{id}.
type StateMessage struct {
	DeviceID  string           `json:"device_id"`
	Profile   string           `json:"profile"`
	Timestamp time.Time        `json:"timestamp"`
	Status    normalize.Status `json:"status"`
	Changed   []string         `json:"changed,omitempty"`

	// Source is "poll" or "command".
	Source string `json:"source"`

	// LowFilters lists filters under the alert threshold.
	LowFilters []string `json:"low_filters,omitempty"`
}

// AvailabilityMessage is published retained on {prefix}/availability/{id}.
type AvailabilityMessage struct {
	DeviceID  string    `json:"device_id"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage is published on {prefix}/event/{id}/{event}.
type EventMessage struct {
	DeviceID  string    `json:"device_id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	Filter string `json:"filter,omitempty"`

	// Percent is -1 when the device reports no filter total.
	Percent   int     `json:"percent"`
	Remaining float64 `json:"remaining_hours"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on {prefix}/health.
type HealthMessage struct {
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	DevicesManaged   int `json:"devices_managed"`
	DevicesAvailable int `json:"devices_available"`

	Endpoints  []EndpointHealth `json:"endpoints,omitempty"`
	Statistics *Statistics      `json:"statistics,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// EndpointHealth summarises one polled endpoint.
type EndpointHealth struct {
	ID        string            `json:"id"`
	Profile   string            `json:"profile"`
	Available bool              `json:"available"`
	Reason    string            `json:"reason,omitempty"`
	LastSeen  *time.Time        `json:"last_seen,omitempty"`
	Stats     coordinator.Stats `json:"stats"`
}

// Statistics are the bridge's own counters.
type Statistics struct {
	StatesPublished  uint64 `json:"states_published"`
	EventsPublished  uint64 `json:"events_published"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	PublishErrors    uint64 `json:"publish_errors"`
}
