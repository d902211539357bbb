// Package postgres implements storage.Storage on PostgreSQL through a pgx
// connection pool. Registration, update and delete lock the event row with
// SELECT ... FOR UPDATE, so concurrent callers serialize per event and
// different events proceed in parallel.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/setu/events-api/internal/config"
	"github.com/setu/events-api/internal/storage"
	"github.com/setu/events-api/internal/storage/migrations"
	"github.com/setu/events-api/internal/types"
)

const uniqueViolation = "23505"

// Postgres implements storage.Storage.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ storage.Storage = (*Postgres)(nil)

// New connects to cfg.Storage.DatabaseURL, migrating first when
// cfg.Storage.Migrate is set.
func New(ctx context.Context, cfg *config.Config) (*Postgres, error) {
	if cfg.Storage.Migrate {
		if err := migrations.PostgresUp(cfg.Storage.DatabaseURL); err != nil {
			return nil, fmt.Errorf("postgres.New: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}
	return NewWithPool(pool)
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres: pool is nil")
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const selectEvent = `
SELECT e.id, e.title, e.description, e.date, e.location, e.image_url,
       e.max_capacity, e.current_registrations,
       e.organizer_admin_id, e.organizer_user_id, COALESCE(a.name, u.name, ''),
       e.created_at, e.updated_at
  FROM events e
  LEFT JOIN admins a ON a.id = e.organizer_admin_id
  LEFT JOIN users  u ON u.id = e.organizer_user_id`

func scanEvent(row pgx.Row) (types.Event, error) {
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

func (p *Postgres) CreateEvent(ctx context.Context, e types.Event) (types.Event, error) {
	adminID, userID := e.Organizer.Columns()

	var id int64
	err := p.pool.QueryRow(ctx, `
INSERT INTO events (title, description, date, image_url, organizer_admin_id,
                    organizer_user_id, max_capacity, current_registrations,
                    location, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
RETURNING id`,
		e.Title, e.Description, e.Date.Time(), e.ImageURL, adminID, userID,
		e.MaxCapacity, e.Location, e.CreatedAt, e.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return types.Event{}, fmt.Errorf("create event: %w", err)
	}
	return p.GetEvent(ctx, id)
}

func (p *Postgres) GetEvent(ctx context.Context, id int64) (types.Event, error) {
	e, err := scanEvent(p.pool.QueryRow(ctx, selectEvent+" WHERE e.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return types.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func dateClause(f types.EventFilter) (string, []any) {
	switch f.When {
	case types.Upcoming:
		return " WHERE e.date >= $1", []any{f.Today.Time()}
	case types.Past:
		return " WHERE e.date < $1", []any{f.Today.Time()}
	}
	return "", nil
}

func (p *Postgres) ListEvents(ctx context.Context, f types.EventFilter) ([]types.Event, int, error) {
	where, args := dateClause(f)

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events e"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf("%s%s ORDER BY e.date ASC, e.id ASC LIMIT $%d OFFSET $%d",
		selectEvent, where, n+1, n+2)
	rows, err := p.pool.Query(ctx, query, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]types.Event, 0, f.Limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}
	return events, total, nil
}

func (p *Postgres) ListEventRegistrations(ctx context.Context, eventID int64) ([]types.Registration, error) {
	rows, err := p.pool.Query(ctx, `
SELECT r.id, r.event_id, r.registrant_id, r.registrant_role, r.name, r.department,
       r.roll_number, r.year, r.registered_at, COALESCE(u.email, '')
  FROM event_registrations r
  LEFT JOIN users u ON u.id = r.registrant_id
 WHERE r.event_id = $1
 ORDER BY r.registered_at ASC, r.id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event registrations: %w", err)
	}
	defer rows.Close()

	regs := make([]types.Registration, 0)
	for rows.Next() {
		var r types.Registration
		if err := rows.Scan(
			&r.ID, &r.EventID, &r.RegistrantID, &r.RegistrantRole, &r.Name, &r.Department,
			&r.RollNumber, &r.Year, &r.RegisteredAt, &r.RegistrantEmail,
		); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return regs, nil
}

func (p *Postgres) ListRegistrantRegistrations(ctx context.Context, registrantID int64) ([]types.Registration, error) {
	rows, err := p.pool.Query(ctx, `
SELECT r.id, r.event_id, r.registrant_id, r.registrant_role, r.name, r.department,
       r.roll_number, r.year, r.registered_at,
       e.title, e.date, e.location, e.max_capacity, e.current_registrations
  FROM event_registrations r
  JOIN events e ON e.id = r.event_id
 WHERE r.registrant_id = $1
 ORDER BY r.registered_at DESC, r.id DESC`, registrantID)
	if err != nil {
		return nil, fmt.Errorf("list registrant registrations: %w", err)
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
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		r.Event = &ev
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return regs, nil
}

// WithEventLock executes fn within a transaction that holds the event row
// lock until commit or rollback.
func (p *Postgres) WithEventLock(ctx context.Context, eventID int64, fn func(storage.EventTx) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	e, err := scanEvent(tx.QueryRow(ctx, selectEvent+" WHERE e.id = $1 FOR UPDATE OF e", eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock event: %w", err)
	}

	if err := fn(&eventTx{tx: tx, event: e}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type eventTx struct {
	tx    pgx.Tx
	event types.Event
}

func (t *eventTx) Event() types.Event { return t.event }

func (t *eventTx) HasRegistration(ctx context.Context, registrantID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM event_registrations WHERE event_id = $1 AND registrant_id = $2)",
		t.event.ID, registrantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return exists, nil
}

func (t *eventTx) AddRegistration(ctx context.Context, r types.Registration) (types.Registration, error) {
	err := t.tx.QueryRow(ctx, `
INSERT INTO event_registrations (event_id, registrant_id, registrant_role, name,
                                 department, roll_number, year, registered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		t.event.ID, r.RegistrantID, string(r.RegistrantRole), r.Name,
		r.Department, r.RollNumber, r.Year, r.RegisteredAt,
	).Scan(&r.ID)
	if isUniqueViolation(err) {
		return types.Registration{}, storage.ErrDuplicateRegistration
	}
	if err != nil {
		return types.Registration{}, fmt.Errorf("insert registration: %w", err)
	}

	if _, err := t.tx.Exec(ctx,
		"UPDATE events SET current_registrations = current_registrations + 1 WHERE id = $1",
		t.event.ID,
	); err != nil {
		return types.Registration{}, fmt.Errorf("increment registrations: %w", err)
	}

	t.event.CurrentRegistrations++
	r.EventID = t.event.ID
	return r, nil
}

func (t *eventTx) UpdateEvent(ctx context.Context, p types.EventPatch) (types.Event, error) {
	cols, args := storage.PatchColumns(p)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
		if d, ok := args[i].(types.Date); ok {
			args[i] = d.Time()
		}
	}

	query := fmt.Sprintf("UPDATE events SET %s WHERE id = $%d", strings.Join(sets, ", "), len(cols)+1)
	if _, err := t.tx.Exec(ctx, query, append(args, t.event.ID)...); err != nil {
		return types.Event{}, fmt.Errorf("update event: %w", err)
	}

	e, err := scanEvent(t.tx.QueryRow(ctx, selectEvent+" WHERE e.id = $1", t.event.ID))
	if err != nil {
		return types.Event{}, fmt.Errorf("reread event: %w", err)
	}
	t.event = e
	return e, nil
}

func (t *eventTx) DeleteEvent(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM events WHERE id = $1", t.event.ID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
