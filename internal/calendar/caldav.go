package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/avmeyer/attache/internal/httpkit"
)

// listWindow bounds how far ahead a CalDAV time-range query looks.
// Servers reject open-ended ranges inconsistently, so we always send an
// explicit end.
const listWindow = 90 * 24 * time.Hour

const prodID = "-//attache//calendar//EN"

// CalDAVClient implements Service against a CalDAV server over HTTP
// basic auth. Unlike the Google backend it is shared by all users of
// the instance; it suits self-hosted setups (Radicale, Nextcloud) where
// the server account is the household calendar.
type CalDAVClient struct {
	client  *caldav.Client
	calPath string
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time
}

// NewCalDAVClient connects to the server, discovers the calendar home
// set, and binds to the calendar whose display name matches calendarName
// (case-insensitive). An empty calendarName binds to the first calendar
// found.
func NewCalDAVClient(ctx context.Context, url, username, password, calendarName, timezone string, logger *slog.Logger) (*CalDAVClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	httpClient := webdav.HTTPClientWithBasicAuth(
		httpkit.NewClient(httpkit.WithTimeout(30*time.Second)),
		username, password,
	)
	client, err := caldav.NewClient(httpClient, url)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	calPath, err := discoverCalendar(ctx, client, calendarName)
	if err != nil {
		return nil, err
	}
	logger.Debug("caldav calendar bound", "path", calPath)

	return &CalDAVClient{
		client:  client,
		calPath: calPath,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func discoverCalendar(ctx context.Context, client *caldav.Client, name string) (string, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("caldav principal discovery: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("caldav home set discovery: %w", err)
	}
	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("caldav calendar listing: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("caldav server has no calendars under %s", homeSet)
	}

	if name == "" {
		return calendars[0].Path, nil
	}
	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("caldav calendar %q not found", name)
}

// objectPath maps an event ID to its resource path. Event IDs are the
// iCalendar UIDs, and each event lives in its own .ics resource named
// after the UID.
func (c *CalDAVClient) objectPath(id string) string {
	return path.Join(c.calPath, id+".ics")
}

// CreateEvent implements Service.
func (c *CalDAVClient) CreateEvent(ctx context.Context, input EventInput) (*EventSummary, error) {
	end := input.End
	if end.IsZero() {
		end = input.Start.Add(time.Hour)
	}

	uid := uuid.NewString()
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, input.Summary)
	if input.Description != "" {
		event.Props.SetText(ical.PropDescription, input.Description)
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, input.Start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, end)
	event.Props.SetText(ical.PropStatus, "CONFIRMED")

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, event.Component)

	if _, err := c.client.PutCalendarObject(ctx, c.objectPath(uid), cal); err != nil {
		return nil, fmt.Errorf("caldav create event: %w", err)
	}

	return &EventSummary{
		ID:      uid,
		Summary: input.Summary,
		Start:   input.Start,
		End:     end,
		Status:  "confirmed",
	}, nil
}

// ListEvents implements Service. It queries upcoming VEVENTs within the
// list window and returns them ordered by start time.
func (c *CalDAVClient) ListEvents(ctx context.Context, max int) ([]EventSummary, error) {
	if max <= 0 {
		max = defaultListMax
	}
	start := c.now().UTC()

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   start.Add(listWindow),
			}},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, c.calPath, query)
	if err != nil {
		return nil, fmt.Errorf("caldav query: %w", err)
	}

	var events []EventSummary
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			summary, err := c.toEventSummary(&ev)
			if err != nil {
				c.logger.Warn("skipping unreadable caldav event", "path", obj.Path, "error", err)
				continue
			}
			events = append(events, *summary)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	if len(events) > max {
		events = events[:max]
	}
	return events, nil
}

// GetEvent implements Service.
func (c *CalDAVClient) GetEvent(ctx context.Context, id string) (*EventSummary, error) {
	obj, err := c.client.GetCalendarObject(ctx, c.objectPath(id))
	if err != nil {
		return nil, c.mapError("get", err)
	}
	if obj.Data == nil || len(obj.Data.Events()) == 0 {
		return nil, ErrNotFound
	}
	ev := obj.Data.Events()[0]
	summary, err := c.toEventSummary(&ev)
	if err != nil {
		return nil, fmt.Errorf("caldav get event: %w", err)
	}
	return summary, nil
}

// UpdateEvent implements Service. The stored object is fetched,
// non-zero input fields applied, and the whole object written back.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, id string, input EventInput) (*EventSummary, error) {
	obj, err := c.client.GetCalendarObject(ctx, c.objectPath(id))
	if err != nil {
		return nil, c.mapError("update", err)
	}
	if obj.Data == nil || len(obj.Data.Events()) == 0 {
		return nil, ErrNotFound
	}

	event := obj.Data.Events()[0]
	if input.Summary != "" {
		event.Props.SetText(ical.PropSummary, input.Summary)
	}
	if input.Description != "" {
		event.Props.SetText(ical.PropDescription, input.Description)
	}
	if !input.Start.IsZero() {
		event.Props.SetDateTime(ical.PropDateTimeStart, input.Start)
	}
	if !input.End.IsZero() {
		event.Props.SetDateTime(ical.PropDateTimeEnd, input.End)
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())

	if _, err := c.client.PutCalendarObject(ctx, obj.Path, obj.Data); err != nil {
		return nil, fmt.Errorf("caldav update event: %w", err)
	}
	return c.toEventSummary(&event)
}

// DeleteEvent implements Service.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, id string) error {
	if err := c.client.RemoveAll(ctx, c.objectPath(id)); err != nil {
		return c.mapError("delete", err)
	}
	return nil
}

func (c *CalDAVClient) mapError(op string, err error) error {
	if webdav.IsNotFound(err) {
		return ErrNotFound
	}
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusGone {
		return ErrNotFound
	}
	return fmt.Errorf("caldav %s: %w", op, err)
}

// toEventSummary converts a VEVENT to the tool-facing shape. DTSTART is
// required; a missing DTEND falls back to one hour after start.
func (c *CalDAVClient) toEventSummary(ev *ical.Event) (*EventSummary, error) {
	start, err := ev.DateTimeStart(c.loc)
	if err != nil {
		return nil, fmt.Errorf("event start: %w", err)
	}
	end, err := ev.DateTimeEnd(c.loc)
	if err != nil || end.IsZero() {
		end = start.Add(time.Hour)
	}

	summary := EventSummary{
		Start: start,
		End:   end,
	}
	if prop := ev.Props.Get(ical.PropUID); prop != nil {
		summary.ID = prop.Value
	}
	if prop := ev.Props.Get(ical.PropSummary); prop != nil {
		summary.Summary = prop.Value
	}
	if prop := ev.Props.Get(ical.PropStatus); prop != nil {
		summary.Status = strings.ToLower(prop.Value)
	}
	return &summary, nil
}
