package history

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/normalize"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// DBTX is the subset of *sql.DB (and *database.DB) the repository uses.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepository implements Repository on the poll_history and
// device_status tables. Statuses are stored as JSON and timestamps as
// Unix milliseconds.
type SQLiteRepository struct {
	db  DBTX
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts a history entry.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	statusJSON, err := encodeStatus(e.Status)
	if err != nil {
		return err
	}
	changed := e.Changed
	if changed == nil {
		changed = []string{}
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("marshalling changed fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO poll_history (device_id, source, available, reason, status, changed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.DeviceID,
		e.Source,
		boolInt(e.Available),
		e.Reason,
		statusJSON,
		string(changedJSON),
		e.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting poll history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a device, ordered newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, source, available, reason, status, changed, created_at
		 FROM poll_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying poll history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e           Entry
			available   int64
			statusJSON  string
			changedJSON string
			createdAt   int64
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Source, &available, &e.Reason, &statusJSON, &changedJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning poll history: %w", err)
		}
		e.Available = available != 0
		if e.Status, err = decodeStatus(statusJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(changedJSON), &e.Changed); err != nil {
			return nil, fmt.Errorf("unmarshalling changed fields: %w", err)
		}
		if len(e.Changed) == 0 {
			e.Changed = nil
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating poll history: %w", err)
	}
	return entries, nil
}

// SaveStatus upserts the last known status of a device.
func (r *SQLiteRepository) SaveStatus(ctx context.Context, s DeviceStatus) error {
	if s.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.now()
	}
	statusJSON, err := encodeStatus(s.Status)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO device_status (device_id, profile, available, reason, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		     profile = excluded.profile,
		     available = excluded.available,
		     reason = excluded.reason,
		     status = excluded.status,
		     updated_at = excluded.updated_at`,
		s.DeviceID,
		s.Profile,
		boolInt(s.Available),
		s.Reason,
		statusJSON,
		s.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving device status: %w", err)
	}
	return nil
}

const selectStatus = `SELECT device_id, profile, available, reason, status, updated_at FROM device_status`

// LastStatus returns the stored status of a device.
func (r *SQLiteRepository) LastStatus(ctx context.Context, deviceID string) (DeviceStatus, error) {
	if deviceID == "" {
		return DeviceStatus{}, ErrDeviceIDRequired
	}
	row := r.db.QueryRowContext(ctx, selectStatus+" WHERE device_id = ?", deviceID)
	s, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceStatus{}, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}
	return s, err
}

// ListStatus returns the stored status of every device sorted by ID.
func (r *SQLiteRepository) ListStatus(ctx context.Context) ([]DeviceStatus, error) {
	rows, err := r.db.QueryContext(ctx, selectStatus+" ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("querying device status: %w", err)
	}
	defer rows.Close()

	var out []DeviceStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device status: %w", err)
	}
	return out, nil
}

// Prune deletes history entries older than now-olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.now().UTC().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM poll_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting poll history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (DeviceStatus, error) {
	var (
		s          DeviceStatus
		available  int64
		statusJSON string
		updatedAt  int64
	)
	if err := row.Scan(&s.DeviceID, &s.Profile, &available, &s.Reason, &statusJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeviceStatus{}, err
		}
		return DeviceStatus{}, fmt.Errorf("scanning device status: %w", err)
	}
	s.Available = available != 0
	status, err := decodeStatus(statusJSON)
	if err != nil {
		return DeviceStatus{}, err
	}
	s.Status = status
	s.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return s, nil
}

func encodeStatus(s normalize.Status) (string, error) {
	if s == nil {
		s = normalize.Status{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshalling status: %w", err)
	}
	return string(b), nil
}

// decodeStatus restores integers as int64 so stored statuses compare equal
// to freshly normalized ones.
func decodeStatus(data string) (normalize.Status, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshalling status: %w", err)
	}

	s := make(normalize.Status, len(raw))
	for k, v := range raw {
		n, ok := v.(json.Number)
		if !ok {
			s[k] = v
			continue
		}
		if i, err := n.Int64(); err == nil {
			s[k] = i
		} else if f, err := n.Float64(); err == nil {
			s[k] = f
		} else {
			s[k] = n.String()
		}
	}
	return s, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
