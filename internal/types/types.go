// Package types holds the shared data structures used across the
// application. Keeping them in one place prevents import cycles:
// handlers, the events service and the storage backends all import types
// without depending on each other.
package types

import "time"

// Role is the caller's role as asserted by the identity provider.
type Role string

const (
	RoleStudent Role = "student"
	RoleAlumni  Role = "alumni"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAlumni, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller. It is trusted as-is.
type Identity struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// OrganizerKind tags which identity space an organizer id belongs to.
type OrganizerKind string

const (
	OrganizerAdmin  OrganizerKind = "admin"
	OrganizerAlumni OrganizerKind = "alumni"
)

// Organizer is the admin or alumni identity that owns an event. Exactly one
// kind is always set; the zero value is not a valid organizer.
type Organizer struct {
	Kind OrganizerKind `json:"role"`
	ID   int64         `json:"id"`
	Name string        `json:"name,omitempty"`
}

// AdminOrganizer returns an organizer in the admin identity space.
func AdminOrganizer(id int64) Organizer {
	return Organizer{Kind: OrganizerAdmin, ID: id}
}

// AlumniOrganizer returns an organizer in the user (alumni) identity space.
func AlumniOrganizer(id int64) Organizer {
	return Organizer{Kind: OrganizerAlumni, ID: id}
}

// OrganizerFor maps a caller to the organizer it would be recorded as.
// ok is false for roles that cannot organize events.
func OrganizerFor(id Identity) (Organizer, bool) {
	switch id.Role {
	case RoleAdmin:
		return AdminOrganizer(id.ID), true
	case RoleAlumni:
		return AlumniOrganizer(id.ID), true
	}
	return Organizer{}, false
}

// Is reports whether the caller is this organizer. Admin and user ids live
// in separate identity spaces, so both kind and id must match.
func (o Organizer) Is(id Identity) bool {
	switch o.Kind {
	case OrganizerAdmin:
		return id.Role == RoleAdmin && id.ID == o.ID
	case OrganizerAlumni:
		return id.Role == RoleAlumni && id.ID == o.ID
	}
	return false
}

// Columns splits the organizer into the (organizer_admin_id,
// organizer_user_id) column pair; exactly one of them is non-nil.
func (o Organizer) Columns() (adminID, userID *int64) {
	id := o.ID
	if o.Kind == OrganizerAdmin {
		return &id, nil
	}
	return nil, &id
}

// OrganizerFromColumns is the inverse of Columns.
func OrganizerFromColumns(adminID, userID *int64) Organizer {
	if adminID != nil {
		return AdminOrganizer(*adminID)
	}
	if userID != nil {
		return AlumniOrganizer(*userID)
	}
	return Organizer{}
}

// DefaultImageURL is used when an event is created without an image.
const DefaultImageURL = "/default-event.jpg"

// Event is a capacity-bounded happening organized by an admin or alumni.
type Event struct {
	ID                   int64     `json:"id"`
	Title                string    `json:"title"`
	Description          *string   `json:"description"`
	Date                 Date      `json:"date"`
	Location             *string   `json:"location"`
	ImageURL             string    `json:"image_url"`
	MaxCapacity          int       `json:"max_capacity"`
	CurrentRegistrations int       `json:"current_registrations"`
	Organizer            Organizer `json:"organizer"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Full reports whether no seats are left.
func (e Event) Full() bool {
	return e.CurrentRegistrations >= e.MaxCapacity
}

// EventDetail is an event with its full registration list.
type EventDetail struct {
	Event
	Registrations []Registration `json:"registrations"`
}

// EventSummary is the slice of an event shown next to a registration.
type EventSummary struct {
	Title                string  `json:"title"`
	Date                 Date    `json:"date"`
	Location             *string `json:"location"`
	MaxCapacity          int     `json:"max_capacity"`
	CurrentRegistrations int     `json:"current_registrations"`
}

// Registration is a registrant's seat at an event. It is never updated.
type Registration struct {
	ID             int64     `json:"id"`
	EventID        int64     `json:"event_id"`
	RegistrantID   int64     `json:"registrant_id"`
	RegistrantRole Role      `json:"registrant_role"`
	Name           string    `json:"name"`
	Department     string    `json:"department"`
	RollNumber     string    `json:"roll_number"`
	Year           int       `json:"year"`
	RegisteredAt   time.Time `json:"registered_at"`

	RegistrantEmail string        `json:"registrant_email,omitempty"`
	Event           *EventSummary `json:"event,omitempty"`
}

// CreateEventRequest is the body of POST /api/events.
type CreateEventRequest struct {
	Title       string  `json:"title"        validate:"required"`
	Description *string `json:"description"`
	Date        *Date   `json:"date"         validate:"required"`
	ImageURL    *string `json:"image_url"`
	MaxCapacity int     `json:"max_capacity" validate:"required"`
	Location    *string `json:"location"`
}

// EventPatch carries the fields of an update; nil means "leave as is".
type EventPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Date        *Date   `json:"date"`
	ImageURL    *string `json:"image_url"`
	MaxCapacity *int    `json:"max_capacity"`
	Location    *string `json:"location"`

	UpdatedAt time.Time `json:"-"`
}

// Empty reports whether no mutable field was supplied.
func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Date == nil &&
		p.ImageURL == nil && p.MaxCapacity == nil && p.Location == nil
}

// RegistrationRequest is the body of POST /api/events/{id}/register.
type RegistrationRequest struct {
	Name       string `json:"name"        validate:"required"`
	Department string `json:"department"  validate:"required"`
	RollNumber string `json:"roll_number" validate:"required"`
	Year       int    `json:"year"        validate:"required"`
}

// TimeFilter restricts a listing to events on either side of today.
type TimeFilter string

const (
	AnyTime  TimeFilter = ""
	Upcoming TimeFilter = "upcoming"
	Past     TimeFilter = "past"
)

// EventFilter selects one page of events.
type EventFilter struct {
	When  TimeFilter
	Today Date
	Page  int
	Limit int
}

// Offset is the number of rows skipped before the page.
func (f EventFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// EventPage is one page of a listing.
type EventPage struct {
	Events     []Event    `json:"events"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes where a page sits in the full result.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}
