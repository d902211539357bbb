// Package sqlite provides a SQLite-backed implementation of the
// storage.Storage interface using Go's standard database/sql package.
//
// SQLite has no row-level locks. Every transaction is opened with
// BEGIN IMMEDIATE (the _txlock DSN option), which takes the database
// write lock up front, so concurrent registrations serialize on the
// whole database rather than on one event row. Readers are not blocked
// in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/setu/events-api/internal/config"
	"github.com/setu/events-api/internal/storage"
	"github.com/setu/events-api/internal/storage/migrations"
	"github.com/setu/events-api/internal/types"

	"github.com/mattn/go-sqlite3"
)

// SQLite is the concrete implementation of storage.Storage.
// A single *sql.DB is safe for concurrent use by multiple goroutines.
type SQLite struct {
	Db *sql.DB
}

var _ storage.Storage = (*SQLite)(nil)

// DSN builds the go-sqlite3 data source name for a database file.
func DSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_foreign_keys=on&_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL",
		path,
	)
}

// New opens the SQLite database at cfg.Storage.Path, applies pending
// migrations when cfg.Storage.Migrate is set and returns a ready store.
func New(cfg *config.Config) (*SQLite, error) {
	dsn := DSN(cfg.Storage.Path)

	if cfg.Storage.Migrate {
		if err := Migrate(dsn); err != nil {
			return nil, fmt.Errorf("sqlite.New: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: open db: %w", err)
	}
	return &SQLite{Db: db}, nil
}

// Migrate applies the embedded schema on a dedicated connection; the
// migrator closes it when done.
func Migrate(dsn string) error {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open migration db: %w", err)
	}
	return migrations.SQLiteUp(db)
}

func (s *SQLite) Ping(ctx context.Context) error { return s.Db.PingContext(ctx) }
func (s *SQLite) Close() error                   { return s.Db.Close() }

const selectEvent = `
SELECT e.id, e.title, e.description, e.date, e.location, e.image_url,
       e.max_capacity, e.current_registrations,
       e.organizer_admin_id, e.organizer_user_id, COALESCE(a.name, u.name, ''),
       e.created_at, e.updated_at
  FROM events e
  LEFT JOIN admins a ON a.id = e.organizer_admin_id
  LEFT JOIN users  u ON u.id = e.organizer_user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (types.Event, error) {
	var (
		e               types.Event
		adminID, userID *int64
		organizerName   string
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.ImageURL,
		&e.MaxCapacity, &e.CurrentRegistrations,
		&adminID, &userID, &organizerName,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return types.Event{}, err
	}
	e.Organizer = types.OrganizerFromColumns(adminID, userID)
	e.Organizer.Name = organizerName
	return e, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CreateEvent inserts a new event row. current_registrations starts at 0.
// ─────────────────────────────────────────────────────────────────────────────
func (s *SQLite) CreateEvent(ctx context.Context, e types.Event) (types.Event, error) {
	stmt, err := s.Db.PrepareContext(ctx, `
		INSERT INTO events (title, description, date, image_url, organizer_admin_id,
		                    organizer_user_id, max_capacity, current_registrations,
		                    location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`)
	if err != nil {
		return types.Event{}, fmt.Errorf("CreateEvent: prepare: %w", err)
	}
	defer stmt.Close()

	adminID, userID := e.Organizer.Columns()
	result, err := stmt.ExecContext(ctx,
		e.Title, e.Description, e.Date, e.ImageURL, adminID, userID,
		e.MaxCapacity, e.Location, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return types.Event{}, fmt.Errorf("CreateEvent: exec: %w", err)
	}

	lastID, err := result.LastInsertId()
	if err != nil {
		return types.Event{}, fmt.Errorf("CreateEvent: last insert id: %w", err)
	}
	return s.GetEvent(ctx, lastID)
}

// GetEvent fetches exactly one event by primary key.
func (s *SQLite) GetEvent(ctx context.Context, id int64) (types.Event, error) {
	e, err := scanEvent(s.Db.QueryRowContext(ctx, selectEvent+" WHERE e.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return types.Event{}, fmt.Errorf("GetEvent: scan: %w", err)
	}
	return e, nil
}

func dateClause(f types.EventFilter) (string, []any) {
	switch f.When {
	case types.Upcoming:
		return " WHERE e.date >= ?", []any{f.Today}
	case types.Past:
		return " WHERE e.date < ?", []any{f.Today}
	}
	return "", nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ListEvents returns one page of events ordered by date, and the number of
// events matching the same date filter.
// ─────────────────────────────────────────────────────────────────────────────
func (s *SQLite) ListEvents(ctx context.Context, f types.EventFilter) ([]types.Event, int, error) {
	where, args := dateClause(f)

	var total int
	if err := s.Db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events e"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents: count: %w", err)
	}

	rows, err := s.Db.QueryContext(ctx,
		selectEvent+where+" ORDER BY e.date ASC, e.id ASC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents: query: %w", err)
	}
	defer rows.Close()

	events := make([]types.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents: scan row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListEvents: rows iteration: %w", err)
	}
	return events, total, nil
}

// ListEventRegistrations returns an event's registrations with the
// registrant's email from the user directory.
func (s *SQLite) ListEventRegistrations(ctx context.Context, eventID int64) ([]types.Registration, error) {
	rows, err := s.Db.QueryContext(ctx, `
		SELECT r.id, r.event_id, r.registrant_id, r.registrant_role, r.name, r.department,
		       r.roll_number, r.year, r.registered_at, COALESCE(u.email, '')
		  FROM event_registrations r
		  LEFT JOIN users u ON u.id = r.registrant_id
		 WHERE r.event_id = ?
		 ORDER BY r.registered_at ASC, r.id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("ListEventRegistrations: query: %w", err)
	}
	defer rows.Close()

	regs := make([]types.Registration, 0)
	for rows.Next() {
		var r types.Registration
		if err := rows.Scan(
			&r.ID, &r.EventID, &r.RegistrantID, &r.RegistrantRole, &r.Name, &r.Department,
			&r.RollNumber, &r.Year, &r.RegisteredAt, &r.RegistrantEmail,
		); err != nil {
			return nil, fmt.Errorf("ListEventRegistrations: scan row: %w", err)
		}
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEventRegistrations: rows iteration: %w", err)
	}
	return regs, nil
}

// ListRegistrantRegistrations returns one registrant's registrations,
// newest first, each with a summary of its event.
func (s *SQLite) ListRegistrantRegistrations(ctx context.Context, registrantID int64) ([]types.Registration, error) {
	rows, err := s.Db.QueryContext(ctx, `
		SELECT r.id, r.event_id, r.registrant_id, r.registrant_role, r.name, r.department,
		       r.roll_number, r.year, r.registered_at,
		       e.title, e.date, e.location, e.max_capacity, e.current_registrations
		  FROM event_registrations r
		  JOIN events e ON e.id = r.event_id
		 WHERE r.registrant_id = ?
		 ORDER BY r.registered_at DESC, r.id DESC`, registrantID)
	if err != nil {
		return nil, fmt.Errorf("ListRegistrantRegistrations: query: %w", err)
	}
	defer rows.Close()

	regs := make([]types.Registration, 0)
	for rows.Next() {
		var (
			r  types.Registration
			ev types.EventSummary
		)
		if err := rows.Scan(
			&r.ID, &r.EventID, &r.RegistrantID, &r.RegistrantRole, &r.Name, &r.Department,
			&r.RollNumber, &r.Year, &r.RegisteredAt,
			&ev.Title, &ev.Date, &ev.Location, &ev.MaxCapacity, &ev.CurrentRegistrations,
		); err != nil {
			return nil, fmt.Errorf("ListRegistrantRegistrations: scan row: %w", err)
		}
		r.Event = &ev
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRegistrantRegistrations: rows iteration: %w", err)
	}
	return regs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// WithEventLock runs fn inside one write transaction holding the event.
// fn returning an error (or panicking) rolls everything back.
// ─────────────────────────────────────────────────────────────────────────────
func (s *SQLite) WithEventLock(ctx context.Context, eventID int64, fn func(storage.EventTx) error) (err error) {
	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithEventLock: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	e, err := scanEvent(tx.QueryRowContext(ctx, selectEvent+" WHERE e.id = ?", eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("WithEventLock: read event: %w", err)
	}

	if err := fn(&eventTx{tx: tx, event: e}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithEventLock: commit: %w", err)
	}
	return nil
}

type eventTx struct {
	tx    *sql.Tx
	event types.Event
}

func (t *eventTx) Event() types.Event { return t.event }

func (t *eventTx) HasRegistration(ctx context.Context, registrantID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM event_registrations WHERE event_id = ? AND registrant_id = ?)",
		t.event.ID, registrantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasRegistration: scan: %w", err)
	}
	return exists, nil
}

func (t *eventTx) AddRegistration(ctx context.Context, r types.Registration) (types.Registration, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO event_registrations (event_id, registrant_id, registrant_role, name,
		                                 department, roll_number, year, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.event.ID, r.RegistrantID, r.RegistrantRole, r.Name,
		r.Department, r.RollNumber, r.Year, r.RegisteredAt,
	)
	if isUniqueViolation(err) {
		return types.Registration{}, storage.ErrDuplicateRegistration
	}
	if err != nil {
		return types.Registration{}, fmt.Errorf("AddRegistration: insert: %w", err)
	}
	if r.ID, err = result.LastInsertId(); err != nil {
		return types.Registration{}, fmt.Errorf("AddRegistration: last insert id: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx,
		"UPDATE events SET current_registrations = current_registrations + 1 WHERE id = ?",
		t.event.ID,
	); err != nil {
		return types.Registration{}, fmt.Errorf("AddRegistration: increment: %w", err)
	}

	t.event.CurrentRegistrations++
	r.EventID = t.event.ID
	return r, nil
}

func (t *eventTx) UpdateEvent(ctx context.Context, p types.EventPatch) (types.Event, error) {
	cols, args := storage.PatchColumns(p)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}

	query := "UPDATE events SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := t.tx.ExecContext(ctx, query, append(args, t.event.ID)...); err != nil {
		return types.Event{}, fmt.Errorf("UpdateEvent: exec: %w", err)
	}

	e, err := scanEvent(t.tx.QueryRowContext(ctx, selectEvent+" WHERE e.id = ?", t.event.ID))
	if err != nil {
		return types.Event{}, fmt.Errorf("UpdateEvent: reread: %w", err)
	}
	t.event = e
	return e, nil
}

func (t *eventTx) DeleteEvent(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", t.event.ID); err != nil {
		return fmt.Errorf("DeleteEvent: exec: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
