// Package events is the event lifecycle and registration logic. It
// validates input, applies the role rules and runs each operation as a
// single store call; everything that depends on an event's current state
// is checked under that event's row lock.
package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/setu/events-api/internal/auth"
	"github.com/setu/events-api/internal/metrics"
	"github.com/setu/events-api/internal/storage"
	"github.com/setu/events-api/internal/types"
)

// Listing defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type Service struct {
	store    storage.Storage
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now. "Today" is always the clock's calendar day.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Storage, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	s := &Service{store: store, validate: v, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() types.Date { return types.DateOf(s.now()) }

// EligibleRoles lists who may register for events of this organizer:
// admin events admit students and alumni, alumni events only students.
func EligibleRoles(o types.Organizer) []types.Role {
	switch o.Kind {
	case types.OrganizerAdmin:
		return []types.Role{types.RoleStudent, types.RoleAlumni}
	case types.OrganizerAlumni:
		return []types.Role{types.RoleStudent}
	}
	return nil
}

// Create validates the request and inserts a new event organized by the
// caller.
func (s *Service) Create(ctx context.Context, caller types.Identity, req types.CreateEventRequest) (types.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return types.Event{}, fieldErrors(err)
	}
	if req.MaxCapacity <= 0 {
		return types.Event{}, invalid("max_capacity must be greater than 0")
	}
	if req.Date.Before(s.today()) {
		return types.Event{}, invalid("event date must not be in the past")
	}

	organizer, ok := types.OrganizerFor(caller)
	if !ok {
		return types.Event{}, forbidden("students may not create events")
	}

	imageURL := types.DefaultImageURL
	if req.ImageURL != nil && strings.TrimSpace(*req.ImageURL) != "" {
		imageURL = strings.TrimSpace(*req.ImageURL)
	}

	now := s.now()
	created, err := s.store.CreateEvent(ctx, types.Event{
		Title:       req.Title,
		Description: req.Description,
		Date:        *req.Date,
		Location:    req.Location,
		ImageURL:    imageURL,
		MaxCapacity: req.MaxCapacity,
		Organizer:   organizer,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return types.Event{}, fmt.Errorf("create event: %w", err)
	}

	metrics.EventMutations.WithLabelValues("create").Inc()
	return created, nil
}

// ListQuery selects a page of events. Out-of-range paging values fall back
// to defaults rather than failing.
type ListQuery struct {
	When  types.TimeFilter
	Page  int
	Limit int
}

func (s *Service) List(ctx context.Context, q ListQuery) (types.EventPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	items, total, err := s.store.ListEvents(ctx, types.EventFilter{
		When:  q.When,
		Today: s.today(),
		Page:  q.Page,
		Limit: q.Limit,
	})
	if err != nil {
		return types.EventPage{}, fmt.Errorf("list events: %w", err)
	}

	return types.EventPage{
		Events: items,
		Pagination: types.Pagination{
			Total:      total,
			Page:       q.Page,
			Limit:      q.Limit,
			TotalPages: (total + q.Limit - 1) / q.Limit,
		},
	}, nil
}

// Get returns an event with all of its registrations.
func (s *Service) Get(ctx context.Context, id int64) (types.EventDetail, error) {
	e, err := s.store.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return types.EventDetail{}, errEventNotFound
	}
	if err != nil {
		return types.EventDetail{}, fmt.Errorf("get event: %w", err)
	}

	regs, err := s.store.ListEventRegistrations(ctx, id)
	if err != nil {
		return types.EventDetail{}, fmt.Errorf("get event registrations: %w", err)
	}
	return types.EventDetail{Event: e, Registrations: regs}, nil
}

// Update applies the supplied fields. Only the organizer may update, and
// capacity can never drop below the seats already taken.
func (s *Service) Update(ctx context.Context, caller types.Identity, id int64, p types.EventPatch) (types.Event, error) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		p.Title = &title
	}

	var updated types.Event
	err := s.store.WithEventLock(ctx, id, func(tx storage.EventTx) error {
		e := tx.Event()
		if !e.Organizer.Is(caller) {
			return forbidden("only the organizer may update this event")
		}
		if p.MaxCapacity != nil {
			if *p.MaxCapacity <= 0 {
				return invalid("max_capacity must be greater than 0")
			}
			if *p.MaxCapacity < e.CurrentRegistrations {
				return invalid("cannot reduce capacity below current registrations")
			}
		}
		if p.Empty() {
			return invalid("no fields to update")
		}
		if p.Title != nil && *p.Title == "" {
			return invalid("title must not be empty")
		}

		p.UpdatedAt = s.now()
		var err error
		updated, err = tx.UpdateEvent(ctx, p)
		return err
	})
	if err != nil {
		return types.Event{}, classify("update event", err)
	}

	metrics.EventMutations.WithLabelValues("update").Inc()
	return updated, nil
}

// Delete removes an event and, by cascade, its registrations.
func (s *Service) Delete(ctx context.Context, caller types.Identity, id int64) error {
	err := s.store.WithEventLock(ctx, id, func(tx storage.EventTx) error {
		if !tx.Event().Organizer.Is(caller) {
			return forbidden("only the organizer may delete this event")
		}
		return tx.DeleteEvent(ctx)
	})
	if err != nil {
		return classify("delete event", err)
	}

	metrics.EventMutations.WithLabelValues("delete").Inc()
	return nil
}

// Register claims one seat for the caller. Field presence is checked
// before the lock; eligibility, date, duplicates and capacity are checked
// against the locked row, and the insert and counter increment commit
// together or not at all.
func (s *Service) Register(ctx context.Context, caller types.Identity, eventID int64, req types.RegistrationRequest) (reg types.Registration, err error) {
	defer func() { metrics.RegistrationAttempts.WithLabelValues(outcome(err)).Inc() }()

	req.Name = strings.TrimSpace(req.Name)
	req.Department = strings.TrimSpace(req.Department)
	req.RollNumber = strings.TrimSpace(req.RollNumber)
	if err := s.validate.Struct(req); err != nil {
		return types.Registration{}, fieldErrors(err)
	}

	err = s.store.WithEventLock(ctx, eventID, func(tx storage.EventTx) error {
		e := tx.Event()

		if !auth.Authorize(caller, EligibleRoles(e.Organizer)...) {
			if e.Organizer.Kind == types.OrganizerAlumni {
				return forbidden("only students can register for alumni events")
			}
			return forbidden("only students and alumni can register for admin events")
		}
		if e.Date.Before(s.today()) {
			return errRegistrationClosed
		}

		exists, err := tx.HasRegistration(ctx, caller.ID)
		if err != nil {
			return err
		}
		if exists {
			return errAlreadyRegistered
		}
		if e.Full() {
			return errEventFull
		}

		reg, err = tx.AddRegistration(ctx, types.Registration{
			RegistrantID:   caller.ID,
			RegistrantRole: caller.Role,
			Name:           req.Name,
			Department:     req.Department,
			RollNumber:     req.RollNumber,
			Year:           req.Year,
			RegisteredAt:   s.now(),
		})
		if errors.Is(err, storage.ErrDuplicateRegistration) {
			return errAlreadyRegistered
		}
		return err
	})
	if err != nil {
		return types.Registration{}, classify("register", err)
	}
	return reg, nil
}

// MyRegistrations lists the calling student's registrations, newest first.
func (s *Service) MyRegistrations(ctx context.Context, caller types.Identity) ([]types.Registration, error) {
	if !auth.Authorize(caller, types.RoleStudent) {
		return nil, forbidden("only students can list their registrations")
	}
	regs, err := s.store.ListRegistrantRegistrations(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// classify passes service errors through, maps a missing event to
// ErrNotFound and wraps everything else as a store failure.
func classify(op string, err error) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	if errors.Is(err, storage.ErrNotFound) {
		return errEventNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeRegistered
	case errors.Is(err, ErrAlreadyRegistered):
		return metrics.OutcomeAlreadyRegistered
	case errors.Is(err, ErrEventFull):
		return metrics.OutcomeEventFull
	case errors.Is(err, ErrForbidden):
		return metrics.OutcomeForbidden
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, errRegistrationClosed):
		return metrics.OutcomePastEvent
	case errors.Is(err, ErrValidation):
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeError
}
