// Package storage defines the Storage interface — the contract any
// relational backend must satisfy to hold events and their registrations.
//
// Handlers and the events service depend only on this interface, so the
// SQLite backend used for local runs and tests and the PostgreSQL backend
// used in production are interchangeable.
package storage

import (
	"context"
	"errors"

	"github.com/setu/events-api/internal/types"
)

var (
	// ErrNotFound is returned when the referenced event does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrDuplicateRegistration is the unique (event_id, registrant_id)
	// constraint firing underneath an insert.
	ErrDuplicateRegistration = errors.New("duplicate registration")
)

// Storage is the database contract.
type Storage interface {
	// CreateEvent inserts e and returns it with its generated id.
	CreateEvent(ctx context.Context, e types.Event) (types.Event, error)

	// ListEvents returns one page of events ordered by date ascending,
	// plus the total number of events matching the filter.
	ListEvents(ctx context.Context, f types.EventFilter) ([]types.Event, int, error)

	// GetEvent fetches a single event with its organizer's display name.
	GetEvent(ctx context.Context, id int64) (types.Event, error)

	// ListEventRegistrations returns every registration of an event with
	// the registrant's contact email.
	ListEventRegistrations(ctx context.Context, eventID int64) ([]types.Registration, error)

	// ListRegistrantRegistrations returns a registrant's registrations,
	// newest first, each carrying a summary of its event.
	ListRegistrantRegistrations(ctx context.Context, registrantID int64) ([]types.Registration, error)

	// WithEventLock opens a transaction, takes an exclusive lock on the
	// event row and runs fn. The transaction commits if fn returns nil and
	// rolls back otherwise. Returns ErrNotFound if the event is missing.
	WithEventLock(ctx context.Context, eventID int64, fn func(EventTx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// EventTx is the view of one locked event inside WithEventLock. It must
// not be used after fn returns.
type EventTx interface {
	// Event is the locked row as read at lock time, kept current by
	// AddRegistration and UpdateEvent.
	Event() types.Event

	HasRegistration(ctx context.Context, registrantID int64) (bool, error)

	// AddRegistration inserts r and increments current_registrations by
	// one. Returns ErrDuplicateRegistration on a unique violation.
	AddRegistration(ctx context.Context, r types.Registration) (types.Registration, error)

	// UpdateEvent writes the supplied fields of p plus updated_at.
	UpdateEvent(ctx context.Context, p types.EventPatch) (types.Event, error)

	// DeleteEvent removes the event; its registrations cascade.
	DeleteEvent(ctx context.Context) error
}
