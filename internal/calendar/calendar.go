// Package calendar provides calendar backends for the agent's tools.
//
// The Service interface is the seam between tool implementations and
// external calendar systems: the Google client below implements it for
// production, tests substitute an in-memory fake.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that the referenced event does not exist (or was
// already deleted). Tools map it to a distinct message so the model can
// tell a bad event ID from a transient backend failure.
var ErrNotFound = errors.New("event not found")

// EventInput carries the fields for creating or updating an event.
// Zero-valued fields are left unchanged on update.
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// EventSummary is a simplified event for tool output.
type EventSummary struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
	Link    string
	Status  string
}

// Duration returns the event length.
func (e EventSummary) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Service is the set of calendar operations the tools rely on.
type Service interface {
	// CreateEvent creates an event. A zero End defaults to Start plus
	// one hour.
	CreateEvent(ctx context.Context, input EventInput) (*EventSummary, error)

	// ListEvents returns up to max upcoming events ordered by start time.
	ListEvents(ctx context.Context, max int) ([]EventSummary, error)

	// GetEvent retrieves one event by ID.
	GetEvent(ctx context.Context, id string) (*EventSummary, error)

	// UpdateEvent applies the non-zero fields of input to an event.
	UpdateEvent(ctx context.Context, id string, input EventInput) (*EventSummary, error)

	// DeleteEvent removes an event.
	DeleteEvent(ctx context.Context, id string) error
}
