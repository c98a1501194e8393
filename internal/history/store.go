package history

import (
	"context"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/normalize"
)

// Entry is one recorded poll or command outcome.
type Entry struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`

	// Source is coordinator.SourcePoll or coordinator.SourceCommand.
	Source string `json:"source"`

	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`

	// Status is the full status at the time; after a failure it is the
	// last known status and may be empty.
	Status  normalize.Status `json:"status"`
	Changed []string         `json:"changed,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DeviceStatus is the last known state of one endpoint.
type DeviceStatus struct {
	DeviceID  string           `json:"device_id"`
	Profile   string           `json:"profile,omitempty"`
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"`
	Status    normalize.Status `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Repository stores and retrieves endpoint history.
//
// Implementations must be safe for concurrent use and store UTC
// timestamps.
type Repository interface {
	// Record appends a history entry. CreatedAt zero means now.
	Record(ctx context.Context, e Entry) error

	// GetHistory returns recent entries for a device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Endpoint ID
	//   - limit: Maximum entries to return (implementations clamp it)
	//
	// Returns:
	//   - []Entry: Newest-first entries (may be empty)
	//   - error: ErrDeviceIDRequired or the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error)

	// SaveStatus upserts the last known status of a device.
	SaveStatus(ctx context.Context, s DeviceStatus) error

	// LastStatus returns the stored status of a device or ErrNotFound.
	LastStatus(ctx context.Context, deviceID string) (DeviceStatus, error)

	// ListStatus returns the stored status of every device sorted by ID.
	ListStatus(ctx context.Context) ([]DeviceStatus, error)

	// Prune deletes entries older than the given window and returns the
	// number removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
