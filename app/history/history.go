// Package history provides an audit log of permit board changes.
// Every opened and closed job and every threshold change is stored as an event in SQLite
// with WAL mode, so the board itself can stay a small JSON document with open jobs only.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/umputun/permits/app/enums"
	"github.com/umputun/permits/app/permit"
)

// Event is one recorded change of the board
type Event struct {
	ID             string           `json:"id"`
	Kind           enums.EventKind  `json:"kind"`
	JobID          string           `json:"jobId,omitempty"`
	Department     enums.Department `json:"department,omitzero"`
	RiskType       enums.RiskType   `json:"riskType,omitzero"`
	Point          string           `json:"point,omitempty"`
	Requester      string           `json:"requester,omitempty"`
	OverdueMinutes int              `json:"overdueMinutes"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// eventRow is the database representation of Event
type eventRow struct {
	ID             string `db:"id"`
	Kind           string `db:"kind"`
	JobID          string `db:"job_id"`
	Department     string `db:"department"`
	RiskType       string `db:"risk_type"`
	Point          string `db:"point"`
	Requester      string `db:"requester"`
	OverdueMinutes int    `db:"overdue_minutes"`
	CreatedAt      int64  `db:"created_at"` // unix nanoseconds
}

// SQLiteStore keeps events in SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database and its schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite allows a single writer

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initialize creates the database schema
func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			risk_type TEXT NOT NULL DEFAULT '',
			point TEXT NOT NULL DEFAULT '',
			requester TEXT NOT NULL DEFAULT '',
			overdue_minutes INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_job_id ON events(job_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Record stores an event. Empty ID gets a new uuid, zero CreatedAt gets the current time.
func (s *SQLiteStore) Record(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}

	row := eventRow{
		ID:             evt.ID,
		Kind:           evt.Kind.String(),
		JobID:          evt.JobID,
		Department:     evt.Department.String(),
		RiskType:       evt.RiskType.String(),
		Point:          evt.Point,
		Requester:      evt.Requester,
		OverdueMinutes: evt.OverdueMinutes,
		CreatedAt:      evt.CreatedAt.UnixNano(),
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO events
		(id, kind, job_id, department, risk_type, point, requester, overdue_minutes, created_at)
		VALUES (:id, :kind, :job_id, :department, :risk_type, :point, :requester, :overdue_minutes, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", evt.Kind, err)
	}
	return nil
}

// List returns up to limit events, newest first
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Event, error) {
	rows := []eventRow{}
	err := s.db.SelectContext(ctx, &rows, `SELECT id, kind, job_id, department, risk_type, point, requester,
		overdue_minutes, created_at FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	res := make([]Event, 0, len(rows))
	for _, r := range rows {
		evt := Event{
			ID:             r.ID,
			JobID:          r.JobID,
			Point:          r.Point,
			Requester:      r.Requester,
			OverdueMinutes: r.OverdueMinutes,
			CreatedAt:      time.Unix(0, r.CreatedAt),
		}
		// enum columns are written by Record only, unknown values are left empty
		evt.Kind, _ = enums.ParseEventKind(r.Kind)
		evt.Department, _ = enums.ParseDepartment(r.Department)
		evt.RiskType, _ = enums.ParseRiskType(r.RiskType)
		res = append(res, evt)
	}
	return res, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OpenedEvent makes the event for a newly opened job
func OpenedEvent(job permit.Job, threshold int) Event {
	return Event{Kind: enums.EventKindOpened, JobID: job.ID, Department: job.Department, RiskType: job.RiskType,
		Point: job.Point, Requester: job.Requester, OverdueMinutes: threshold}
}

// ClosedEvent makes the event for a removed job
func ClosedEvent(job permit.Job, threshold int) Event {
	return Event{Kind: enums.EventKindClosed, JobID: job.ID, Department: job.Department, RiskType: job.RiskType,
		Point: job.Point, Requester: job.Requester, OverdueMinutes: threshold}
}

// ConfigEvent makes the event for a threshold change
func ConfigEvent(threshold int) Event {
	return Event{Kind: enums.EventKindConfig, OverdueMinutes: threshold}
}
