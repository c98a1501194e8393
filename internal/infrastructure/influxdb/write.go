package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the bridge.
const (
	MeasurementStatus       = "purifier_status"
	MeasurementAvailability = "purifier_availability"
	MeasurementFilter       = "purifier_filter"
)

// StatusFields selects the fields of a normalized status that belong in a
// time series: numbers and booleans. Text and enum labels are skipped.
func StatusFields(status map[string]any) map[string]any {
	fields := make(map[string]any)
	for k, v := range status {
		switch x := v.(type) {
		case int64, float64, bool:
			fields[k] = x
		case int:
			fields[k] = int64(x)
		}
	}
	return fields
}

// StatusPoint builds the point for one normalized status. It returns nil
// when the status has no numeric or boolean fields.
//
// Parameters:
//   - deviceID: Endpoint ID, written as the device_id tag
//   - profile: Device profile name, written as the profile tag
//   - status: Normalized status keyed by semantic field name
//   - ts: Poll time
func StatusPoint(deviceID, profile string, status map[string]any, ts time.Time) *write.Point {
	fields := StatusFields(status)
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(MeasurementStatus,
		map[string]string{"device_id": deviceID, "profile": profile},
		fields, ts)
}

// FilterPoint builds the point for one filter reading. A negative percent
// means the filter's total life is unknown and only hours are written.
func FilterPoint(deviceID, filter string, percent int, remaining int64, ts time.Time) *write.Point {
	fields := map[string]any{"remaining_hours": remaining}
	if percent >= 0 {
		fields["percent"] = int64(percent)
	}
	return write.NewPoint(MeasurementFilter,
		map[string]string{"device_id": deviceID, "filter": filter},
		fields, ts)
}

// WriteStatus records the numeric fields of a normalized status.
func (c *Client) WriteStatus(deviceID, profile string, status map[string]any, ts time.Time) {
	c.write(StatusPoint(deviceID, profile, status, ts))
}

// WriteAvailability records an availability transition.
func (c *Client) WriteAvailability(deviceID string, available bool, ts time.Time) {
	c.write(write.NewPoint(MeasurementAvailability,
		map[string]string{"device_id": deviceID},
		map[string]any{"available": available}, ts))
}

// WriteFilter records the remaining life of one filter.
func (c *Client) WriteFilter(deviceID, filter string, percent int, remaining int64, ts time.Time) {
	c.write(FilterPoint(deviceID, filter, percent, remaining, ts))
}
