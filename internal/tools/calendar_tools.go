package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avmeyer/attache/internal/calendar"
)

// Calendar tool input uses a pipe-delimited mini-format because the
// model emits plain text, not structured calls. The parser lives in
// splitFields/parseEventTime so format changes stay in one place.

// GoogleCalendarProvider produces the Google Calendar tools bound to a
// user's OAuth access token. The service factory is injectable so tests
// can substitute an in-memory backend.
type GoogleCalendarProvider struct {
	Timezone   string
	NewService func(ctx context.Context, credential string) (calendar.Service, error)
}

// NewGoogleCalendarProvider creates the production provider.
func NewGoogleCalendarProvider(timezone string) *GoogleCalendarProvider {
	return &GoogleCalendarProvider{
		Timezone: timezone,
		NewService: func(ctx context.Context, credential string) (calendar.Service, error) {
			return calendar.NewGoogleClient(ctx, credential, timezone)
		},
	}
}

// Name implements Provider.
func (p *GoogleCalendarProvider) Name() string { return "google_calendar" }

// Tools implements Provider.
func (p *GoogleCalendarProvider) Tools(ctx context.Context, credential string) ([]Tool, error) {
	svc, err := p.NewService(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}

	return calendarTools(svc, loc), nil
}

// calendarTools returns the five calendar tools over any Service.
func calendarTools(svc calendar.Service, loc *time.Location) []Tool {
	return []Tool{
		{
			Name: "create_calendar_event",
			Description: "Use this to create a new calendar event. " +
				"Input: 'Title | Start Time (ISO) | End Time (ISO, optional) | Description (optional)'. " +
				"If no end time is given, the event lasts one hour.",
			Run: func(ctx context.Context, input string) (string, error) {
				return createEvent(ctx, svc, loc, input), nil
			},
		},
		{
			Name: "list_calendar_events",
			Description: "Use this to see upcoming events with their IDs, times, and durations. " +
				"Input can be an empty string.",
			Run: func(ctx context.Context, input string) (string, error) {
				return listEvents(ctx, svc), nil
			},
		},
		{
			Name:        "get_calendar_event",
			Description: "Use this to fetch one event's details. Input: the event ID from list_calendar_events.",
			Run: func(ctx context.Context, input string) (string, error) {
				return getEvent(ctx, svc, input), nil
			},
		},
		{
			Name: "update_calendar_event",
			Description: "Use this to change an existing event. " +
				"Input: 'EventID | New Title | New Start (ISO) | New End (ISO)'. " +
				"Leave a field blank to keep its current value.",
			Run: func(ctx context.Context, input string) (string, error) {
				return updateEvent(ctx, svc, loc, input), nil
			},
		},
		{
			Name:        "delete_calendar_event",
			Description: "Use this to delete an event. Input: the event ID from list_calendar_events.",
			Run: func(ctx context.Context, input string) (string, error) {
				return deleteEvent(ctx, svc, input), nil
			},
		},
	}
}

// splitFields splits pipe-delimited input and trims each field.
func splitFields(input string) []string {
	parts := strings.Split(input, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// isoFormats are accepted event time layouts, tried in order. Zone-less
// stamps are resolved in the user's configured timezone.
var isoFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseEventTime parses a tool-supplied timestamp.
func parseEventTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range isoFormats {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func createEvent(ctx context.Context, svc calendar.Service, loc *time.Location, input string) string {
	parts := splitFields(input)

	if len(parts) < 2 {
		return ErrorText("Missing required information. Please provide: Title | Start Time (ISO format) | Optional End Time")
	}
	if parts[0] == "" {
		return ErrorText("Event title cannot be empty. Please provide a title for the event.")
	}
	if parts[1] == "" {
		return ErrorText("Start time cannot be empty. Please provide a start time in ISO format (e.g., 2024-11-23T14:00:00).")
	}

	start, err := parseEventTime(parts[1], loc)
	if err != nil {
		return ErrorText("Invalid start time format '%s'. Please use ISO format (e.g., 2024-11-23T14:00:00).", parts[1])
	}

	in := calendar.EventInput{Summary: parts[0], Start: start}
	if len(parts) > 2 && parts[2] != "" {
		end, err := parseEventTime(parts[2], loc)
		if err != nil {
			return ErrorText("Invalid end time format '%s'. Please use ISO format (e.g., 2024-11-23T15:00:00).", parts[2])
		}
		in.End = end
	}
	if len(parts) > 3 && parts[3] != "" {
		in.Description = parts[3]
	}

	event, err := svc.CreateEvent(ctx, in)
	if err != nil {
		return ErrorText("Could not create the event: %v", err)
	}

	ref := event.Link
	if ref == "" {
		ref = event.ID
	}
	return fmt.Sprintf("Event created successfully: %s", ref)
}

func listEvents(ctx context.Context, svc calendar.Service) string {
	events, err := svc.ListEvents(ctx, 0)
	if err != nil {
		return ErrorText("Could not list events: %v", err)
	}
	if len(events) == 0 {
		return "No upcoming events found."
	}

	var sb strings.Builder
	sb.WriteString("Upcoming events:\n")
	for _, e := range events {
		sb.WriteString(formatEventLine(e))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func getEvent(ctx context.Context, svc calendar.Service, input string) string {
	id := strings.TrimSpace(input)
	if id == "" {
		return ErrorText("Event ID cannot be empty. Use list_calendar_events to find event IDs.")
	}

	event, err := svc.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			return ErrorText("No event exists with ID '%s'. Use list_calendar_events to see current events.", id)
		}
		return ErrorText("Could not fetch the event: %v", err)
	}
	return formatEventLine(*event)
}

func updateEvent(ctx context.Context, svc calendar.Service, loc *time.Location, input string) string {
	parts := splitFields(input)

	if len(parts) < 2 || parts[0] == "" {
		return ErrorText("Please provide: EventID | New Title | New Start (ISO) | New End (ISO). Leave a field blank to keep it.")
	}

	in := calendar.EventInput{Summary: parts[1]}
	if len(parts) > 2 && parts[2] != "" {
		start, err := parseEventTime(parts[2], loc)
		if err != nil {
			return ErrorText("Invalid start time format '%s'. Please use ISO format (e.g., 2024-11-23T14:00:00).", parts[2])
		}
		in.Start = start
	}
	if len(parts) > 3 && parts[3] != "" {
		end, err := parseEventTime(parts[3], loc)
		if err != nil {
			return ErrorText("Invalid end time format '%s'. Please use ISO format (e.g., 2024-11-23T15:00:00).", parts[3])
		}
		in.End = end
	}

	event, err := svc.UpdateEvent(ctx, parts[0], in)
	if err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			return ErrorText("No event exists with ID '%s'. Use list_calendar_events to see current events.", parts[0])
		}
		return ErrorText("Could not update the event: %v", err)
	}
	return fmt.Sprintf("Event updated: %s", formatEventLine(*event))
}

func deleteEvent(ctx context.Context, svc calendar.Service, input string) string {
	id := strings.TrimSpace(input)
	if id == "" {
		return ErrorText("Event ID cannot be empty. Use list_calendar_events to find event IDs.")
	}

	if err := svc.DeleteEvent(ctx, id); err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			return ErrorText("No event exists with ID '%s'. It may already be deleted.", id)
		}
		return ErrorText("Could not delete the event: %v", err)
	}
	return fmt.Sprintf("Event %s deleted.", id)
}

// formatEventLine renders one event with enough structure (ID, times,
// duration) that the model can reference it in a later turn.
func formatEventLine(e calendar.EventSummary) string {
	return fmt.Sprintf("- [%s] %s: %s to %s (%s)",
		e.ID,
		e.Summary,
		e.Start.Format("2006-01-02 15:04"),
		e.End.Format("2006-01-02 15:04"),
		formatDuration(e.Duration()),
	)
}

// formatDuration renders a duration like "1h30m" without trailing
// zero units.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
