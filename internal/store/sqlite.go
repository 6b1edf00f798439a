package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schemaVersion is bumped when the schema changes. Databases created with a
// different version are rejected rather than migrated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created with a different
// schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const schemaSQL = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE devices (
    id       TEXT PRIMARY KEY,
    address  TEXT NOT NULL UNIQUE,
    tag_name TEXT NOT NULL
);

CREATE TABLE recordings (
    ref        TEXT PRIMARY KEY,
    device_id  TEXT NOT NULL REFERENCES devices(id),
    start_time TEXT,
    pending    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_recordings_pending ON recordings(device_id, pending, created_at);

CREATE TABLE jumps (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    recording_ref TEXT NOT NULL REFERENCES recordings(ref),
    jump_type     TEXT NOT NULL,
    rotations     REAL NOT NULL,
    success       INTEGER NOT NULL,
    time_mark     TEXT NOT NULL,
    max_speed     REAL NOT NULL,
    length        REAL NOT NULL
);
`

// SQLite is the Store implementation backed by a local SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// Open connects to (or creates) the database at path and verifies the schema.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// RegisterDevice records a brand-new dot. Registering an already-known ID or
// address is an error.
func (s *SQLite) RegisterDevice(ctx context.Context, id, address, tagName string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO devices (id, address, tag_name) VALUES (?, ?, ?)",
		id, address, tagName,
	)
	if err != nil {
		return fmt.Errorf("register device %s: %w", id, err)
	}
	return nil
}

// FindDeviceByAddress resolves a Bluetooth address to a stable device ID.
func (s *SQLite) FindDeviceByAddress(ctx context.Context, address string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM devices WHERE address = ?", address,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find device by address %s: %w", address, err)
	}
	return id, true, nil
}

// CreatePendingRecording opens a new pending reference for the device.
func (s *SQLite) CreatePendingRecording(ctx context.Context, deviceID string) (string, error) {
	ref := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO recordings (ref, device_id, pending, created_at) VALUES (?, ?, 1, ?)",
		ref, deviceID, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("create pending recording for %s: %w", deviceID, err)
	}
	return ref, nil
}

// PendingRecordingRef returns the oldest unreleased reference for the device.
func (s *SQLite) PendingRecordingRef(ctx context.Context, deviceID string) (string, bool, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		"SELECT ref FROM recordings WHERE device_id = ? AND pending = 1 ORDER BY created_at LIMIT 1",
		deviceID,
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pending recording for %s: %w", deviceID, err)
	}
	return ref, true, nil
}

// SetRecordingStartTime stores the hardware-reported start time on the
// recording.
func (s *SQLite) SetRecordingStartTime(ctx context.Context, ref string, start time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE recordings SET start_time = ? WHERE ref = ?",
		start.UTC().Format(time.RFC3339Nano), ref,
	)
	if err != nil {
		return fmt.Errorf("set start time for %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set start time: no recording %s", ref)
	}
	return nil
}

// ReleasePendingRecordingRef marks the reference as consumed.
func (s *SQLite) ReleasePendingRecordingRef(ctx context.Context, deviceID, ref string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE recordings SET pending = 0 WHERE ref = ? AND device_id = ? AND pending = 1",
		ref, deviceID,
	)
	if err != nil {
		return fmt.Errorf("release recording %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("release recording: no pending recording %s for device %s", ref, deviceID)
	}
	return nil
}

// AppendJumpRecords attaches classified jumps to a recording.
func (s *SQLite) AppendJumpRecords(ctx context.Context, ref string, records []JumpRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin jumps tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO jumps (recording_ref, jump_type, rotations, success, time_mark, max_speed, length)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ref, rec.Type, rec.Rotations, boolToInt(rec.Success), rec.TimeMark, rec.MaxSpeed, rec.Length,
		)
		if err != nil {
			return fmt.Errorf("insert jump for %s: %w", ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit jumps: %w", err)
	}
	return nil
}

// Devices lists every registered dot ordered by tag name.
func (s *SQLite) Devices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, address, tag_name FROM devices ORDER BY tag_name, id")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Address, &d.TagName); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SetDeviceTagName updates the human-readable tag of a device.
func (s *SQLite) SetDeviceTagName(ctx context.Context, id, tagName string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE devices SET tag_name = ? WHERE id = ?", tagName, id)
	if err != nil {
		return fmt.Errorf("set tag name for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set tag name: no device %s", id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
