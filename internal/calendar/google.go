package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// defaultListMax bounds list_calendar_events output so the prompt stays
// small enough for the model to reason over.
const defaultListMax = 10

// GoogleClient implements Service against the Google Calendar API,
// operating on the user's primary calendar.
type GoogleClient struct {
	svc      *gcal.Service
	timezone string
	now      func() time.Time
}

// NewGoogleClient builds a client from a per-user OAuth access token.
// The token is used as-is; refresh is the credential source's problem,
// and an expired token surfaces as an API error on first use.
func NewGoogleClient(ctx context.Context, accessToken, timezone string) (*GoogleClient, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("empty access token")
	}
	if timezone == "" {
		timezone = "UTC"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	return &GoogleClient{
		svc:      svc,
		timezone: timezone,
		now:      time.Now,
	}, nil
}

// CreateEvent creates an event on the primary calendar. A zero End
// defaults to Start plus one hour.
func (c *GoogleClient) CreateEvent(ctx context.Context, input EventInput) (*EventSummary, error) {
	end := input.End
	if end.IsZero() {
		end = input.Start.Add(time.Hour)
	}

	event := &gcal.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start: &gcal.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
		End: &gcal.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
	}

	created, err := c.svc.Events.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError("create event", err)
	}

	summary := toEventSummary(created)
	return &summary, nil
}

// ListEvents returns up to max upcoming events ordered by start time.
func (c *GoogleClient) ListEvents(ctx context.Context, max int) ([]EventSummary, error) {
	if max <= 0 {
		max = defaultListMax
	}

	result, err := c.svc.Events.List("primary").
		TimeMin(c.now().UTC().Format(time.RFC3339)).
		MaxResults(int64(max)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError("list events", err)
	}

	var summaries []EventSummary
	for _, event := range result.Items {
		summaries = append(summaries, toEventSummary(event))
	}
	return summaries, nil
}

// GetEvent retrieves one event by ID.
func (c *GoogleClient) GetEvent(ctx context.Context, id string) (*EventSummary, error) {
	event, err := c.svc.Events.Get("primary", id).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError("get event", err)
	}

	summary := toEventSummary(event)
	return &summary, nil
}

// UpdateEvent applies the non-zero fields of input to an event.
func (c *GoogleClient) UpdateEvent(ctx context.Context, id string, input EventInput) (*EventSummary, error) {
	existing, err := c.svc.Events.Get("primary", id).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError("get event for update", err)
	}

	if input.Summary != "" {
		existing.Summary = input.Summary
	}
	if input.Description != "" {
		existing.Description = input.Description
	}
	if !input.Start.IsZero() {
		existing.Start = &gcal.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: c.timezone,
		}
	}
	if !input.End.IsZero() {
		existing.End = &gcal.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: c.timezone,
		}
	}

	updated, err := c.svc.Events.Update("primary", id, existing).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError("update event", err)
	}

	summary := toEventSummary(updated)
	return &summary, nil
}

// DeleteEvent removes an event.
func (c *GoogleClient) DeleteEvent(ctx context.Context, id string) error {
	if err := c.svc.Events.Delete("primary", id).Context(ctx).Do(); err != nil {
		return mapGoogleError("delete event", err)
	}
	return nil
}

// mapGoogleError distinguishes "not found" from transient failures.
// 410 Gone means the event was deleted, which callers treat the same
// as never having existed.
func mapGoogleError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// toEventSummary converts a Google Calendar event to an EventSummary.
func toEventSummary(event *gcal.Event) EventSummary {
	summary := EventSummary{
		ID:      event.Id,
		Summary: event.Summary,
		Link:    event.HtmlLink,
		Status:  event.Status,
	}
	if event.Start != nil {
		summary.Start = parseEventTime(event.Start)
	}
	if event.End != nil {
		summary.End = parseEventTime(event.End)
	}
	return summary
}

// parseEventTime handles both timed (DateTime) and all-day (Date) events.
func parseEventTime(edt *gcal.EventDateTime) time.Time {
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t
		}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
