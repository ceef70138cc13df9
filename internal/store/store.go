package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rollcall/attendance-server/internal/model"

	_ "modernc.org/sqlite"
)

// ErrStorageUnavailable indicates the underlying database cannot be reached.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing database handle. Intended for tests that need
// to inject a driver.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attendance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			student_mac_address TEXT NOT NULL,
			classroom_id INTEGER NOT NULL,
			entry_timestamp TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%S', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_entry_time ON attendance(entry_timestamp DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_classroom_day ON attendance(classroom_id, entry_timestamp);`,
		`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT,
			payload TEXT,
			error TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%S', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS scanners (
			classroom_id INTEGER PRIMARY KEY,
			source TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// Ping performs a trivial read to verify the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrStorageUnavailable
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1;`).Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// InsertAttendance appends a sighting event and returns it with the
// store-assigned id and created_at filled in. The write is committed before
// the call returns.
func (s *Store) InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if s.db == nil {
		return model.AttendanceRecord{}, ErrStorageUnavailable
	}

	createdAt := time.Now().UTC().Truncate(time.Second)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO attendance (student_mac_address, classroom_id, entry_timestamp, created_at) VALUES (?, ?, ?, ?);`,
		rec.StudentMACAddress,
		rec.ClassroomID,
		rec.EntryTimestamp.Format(model.TimestampLayout),
		createdAt.Format(model.TimestampLayout),
	)
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("insert attendance: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("insert attendance id: %w", err)
	}

	rec.ID = id
	rec.CreatedAt = createdAt
	return rec, nil
}

// RecentAttendance returns up to limit records ordered newest first by entry
// timestamp, ties broken by id. An empty table yields an empty slice.
func (s *Store) RecentAttendance(ctx context.Context, limit int) ([]model.AttendanceRecord, error) {
	if s.db == nil {
		return nil, ErrStorageUnavailable
	}

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, student_mac_address, classroom_id, entry_timestamp, created_at
		 FROM attendance
		 ORDER BY entry_timestamp DESC, id DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent attendance: %w", err)
	}
	defer rows.Close()

	records := make([]model.AttendanceRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}

	return records, nil
}

// AttendanceByClassroomAndDate returns all events for a classroom on the
// given calendar day, judged by the entry timestamp's date component.
func (s *Store) AttendanceByClassroomAndDate(ctx context.Context, classroomID int, date string) ([]model.AttendanceRecord, error) {
	if s.db == nil {
		return nil, ErrStorageUnavailable
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, student_mac_address, classroom_id, entry_timestamp, created_at
		 FROM attendance
		 WHERE classroom_id = ? AND date(entry_timestamp) = ?;`,
		classroomID,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query attendance by classroom and date: %w", err)
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}

	return records, nil
}

// DailySummary computes the per-classroom per-day aggregate counts.
func (s *Store) DailySummary(ctx context.Context, classroomID int, date string) (model.DailySummary, error) {
	if s.db == nil {
		return model.DailySummary{}, ErrStorageUnavailable
	}

	summary := model.DailySummary{ClassroomID: classroomID, Date: date}

	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(DISTINCT student_mac_address), COUNT(*)
		 FROM attendance
		 WHERE classroom_id = ? AND date(entry_timestamp) = ?;`,
		classroomID,
		date,
	).Scan(&summary.UniqueStudents, &summary.TotalEntries)
	if err != nil {
		return model.DailySummary{}, fmt.Errorf("query daily summary: %w", err)
	}

	return summary, nil
}

// InsertIngestionError records a payload that failed validation.
func (s *Store) InsertIngestionError(ctx context.Context, e model.IngestionError) error {
	if s.db == nil {
		return ErrStorageUnavailable
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ingestion_errors (source, payload, error) VALUES (?, ?, ?);`,
		e.Source,
		e.Payload,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion error: %w", err)
	}
	return nil
}

// RecentIngestionErrors returns recently rejected payloads, newest first.
func (s *Store) RecentIngestionErrors(ctx context.Context, limit int) ([]model.IngestionError, error) {
	if s.db == nil {
		return nil, ErrStorageUnavailable
	}

	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT source, payload, error, created_at
		 FROM ingestion_errors
		 ORDER BY id DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ingestion errors: %w", err)
	}
	defer rows.Close()

	var out []model.IngestionError
	for rows.Next() {
		var (
			source    sql.NullString
			payload   sql.NullString
			errMsg    string
			createdAt string
		)
		if err := rows.Scan(&source, &payload, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ingestion error: %w", err)
		}

		ts, _ := time.Parse(model.TimestampLayout, createdAt)
		out = append(out, model.IngestionError{
			Source:    source.String,
			Payload:   payload.String,
			Error:     errMsg,
			CreatedAt: ts,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingestion errors: %w", err)
	}

	return out, nil
}

// UpsertScannerActivity records that a classroom's scanner reported in.
func (s *Store) UpsertScannerActivity(ctx context.Context, classroomID int, source string, seen time.Time) error {
	if s.db == nil {
		return ErrStorageUnavailable
	}

	if seen.IsZero() {
		seen = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO scanners (classroom_id, source, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(classroom_id)
		 DO UPDATE SET source = excluded.source, last_seen = excluded.last_seen;`,
		classroomID,
		source,
		seen.UTC().Format(model.TimestampLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert scanner activity: %w", err)
	}
	return nil
}

// ListScanners returns known scanners ordered by most recent activity.
func (s *Store) ListScanners(ctx context.Context) ([]model.ScannerStatus, error) {
	if s.db == nil {
		return nil, ErrStorageUnavailable
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT classroom_id, source, last_seen FROM scanners ORDER BY last_seen DESC;`,
	)
	if err != nil {
		return nil, fmt.Errorf("query scanners: %w", err)
	}
	defer rows.Close()

	var scanners []model.ScannerStatus
	for rows.Next() {
		var (
			classroomID int
			source      string
			lastSeenStr string
		)
		if err := rows.Scan(&classroomID, &source, &lastSeenStr); err != nil {
			return nil, fmt.Errorf("scan scanner status: %w", err)
		}

		lastSeen, _ := time.Parse(model.TimestampLayout, lastSeenStr)
		scanners = append(scanners, model.ScannerStatus{
			ClassroomID: classroomID,
			Source:      source,
			LastSeen:    lastSeen,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scanners: %w", err)
	}

	return scanners, nil
}

func scanAttendance(rows *sql.Rows) (model.AttendanceRecord, error) {
	var (
		rec       model.AttendanceRecord
		entryStr  string
		createdAt string
	)
	if err := rows.Scan(&rec.ID, &rec.StudentMACAddress, &rec.ClassroomID, &entryStr, &createdAt); err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("scan attendance: %w", err)
	}

	entry, err := time.Parse(model.TimestampLayout, entryStr)
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("parse entry timestamp: %w", err)
	}
	rec.EntryTimestamp = entry

	created, err := time.Parse(model.TimestampLayout, createdAt)
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("parse created timestamp: %w", err)
	}
	rec.CreatedAt = created

	return rec, nil
}
