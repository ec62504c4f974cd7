package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/avmeyer/attache/internal/calendar"
)

// memCalendar is an in-memory calendar.Service for tool tests.
type memCalendar struct {
	events  map[string]calendar.EventSummary
	order   []string
	nextID  int
	calls   int
	failAll error // when set, every operation returns this error
}

func newMemCalendar() *memCalendar {
	return &memCalendar{events: make(map[string]calendar.EventSummary)}
}

func (m *memCalendar) CreateEvent(ctx context.Context, in calendar.EventInput) (*calendar.EventSummary, error) {
	m.calls++
	if m.failAll != nil {
		return nil, m.failAll
	}
	end := in.End
	if end.IsZero() {
		end = in.Start.Add(time.Hour)
	}
	m.nextID++
	id := fmt.Sprintf("evt-%d", m.nextID)
	e := calendar.EventSummary{
		ID:      id,
		Summary: in.Summary,
		Start:   in.Start,
		End:     end,
		Link:    "https://calendar.example.com/" + id,
	}
	m.events[id] = e
	m.order = append(m.order, id)
	return &e, nil
}

func (m *memCalendar) ListEvents(ctx context.Context, max int) ([]calendar.EventSummary, error) {
	m.calls++
	if m.failAll != nil {
		return nil, m.failAll
	}
	var out []calendar.EventSummary
	for _, id := range m.order {
		out = append(out, m.events[id])
	}
	return out, nil
}

func (m *memCalendar) GetEvent(ctx context.Context, id string) (*calendar.EventSummary, error) {
	m.calls++
	if m.failAll != nil {
		return nil, m.failAll
	}
	e, ok := m.events[id]
	if !ok {
		return nil, calendar.ErrNotFound
	}
	return &e, nil
}

func (m *memCalendar) UpdateEvent(ctx context.Context, id string, in calendar.EventInput) (*calendar.EventSummary, error) {
	m.calls++
	if m.failAll != nil {
		return nil, m.failAll
	}
	e, ok := m.events[id]
	if !ok {
		return nil, calendar.ErrNotFound
	}
	if in.Summary != "" {
		e.Summary = in.Summary
	}
	if !in.Start.IsZero() {
		e.Start = in.Start
	}
	if !in.End.IsZero() {
		e.End = in.End
	}
	m.events[id] = e
	return &e, nil
}

func (m *memCalendar) DeleteEvent(ctx context.Context, id string) error {
	m.calls++
	if m.failAll != nil {
		return m.failAll
	}
	if _, ok := m.events[id]; !ok {
		return calendar.ErrNotFound
	}
	delete(m.events, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func toolByName(t *testing.T, ts []Tool, name string) Tool {
	t.Helper()
	for _, tool := range ts {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return Tool{}
}

func TestCreateEvent_FullInput(t *testing.T) {
	mem := newMemCalendar()
	ts := calendarTools(mem, time.UTC)
	create := toolByName(t, ts, "create_calendar_event")

	out, err := create.Run(context.Background(), "Meeting | 2024-11-22T14:00:00 | 2024-11-22T15:00:00")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "Event created successfully") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "https://calendar.example.com/evt-1") {
		t.Errorf("output missing confirmation link: %q", out)
	}

	e := mem.events["evt-1"]
	if e.Summary != "Meeting" {
		t.Errorf("summary = %q", e.Summary)
	}
	want := time.Date(2024, 11, 22, 14, 0, 0, 0, time.UTC)
	if !e.Start.Equal(want) {
		t.Errorf("start = %v, want %v", e.Start, want)
	}
}

func TestCreateEvent_DefaultEndIsOneHour(t *testing.T) {
	mem := newMemCalendar()
	create := toolByName(t, calendarTools(mem, time.UTC), "create_calendar_event")

	out, _ := create.Run(context.Background(), "Dinner | 2024-11-22T19:00:00")
	if !strings.Contains(out, "Event created successfully") {
		t.Fatalf("output = %q", out)
	}

	e := mem.events["evt-1"]
	if e.End.Sub(e.Start) != time.Hour {
		t.Errorf("duration = %v, want 1h", e.End.Sub(e.Start))
	}
}

func TestCreateEvent_MissingStart(t *testing.T) {
	mem := newMemCalendar()
	create := toolByName(t, calendarTools(mem, time.UTC), "create_calendar_event")

	out, _ := create.Run(context.Background(), "OnlyTitle")
	if !strings.HasPrefix(out, "ERROR:") {
		t.Errorf("output = %q, want ERROR prefix", out)
	}
	if !strings.Contains(out, "Start Time") {
		t.Errorf("output should identify the missing start time: %q", out)
	}
	if mem.calls != 0 {
		t.Errorf("external calls = %d, want 0 on validation failure", mem.calls)
	}
}

func TestCreateEvent_BadStartFormat(t *testing.T) {
	mem := newMemCalendar()
	create := toolByName(t, calendarTools(mem, time.UTC), "create_calendar_event")

	out, _ := create.Run(context.Background(), "Meeting | next tuesday")
	if !strings.HasPrefix(out, "ERROR:") || !strings.Contains(out, "next tuesday") {
		t.Errorf("output = %q", out)
	}
	if mem.calls != 0 {
		t.Errorf("external calls = %d, want 0", mem.calls)
	}
}

func TestCreateThenList_RoundTrip(t *testing.T) {
	mem := newMemCalendar()
	ts := calendarTools(mem, time.UTC)
	create := toolByName(t, ts, "create_calendar_event")
	list := toolByName(t, ts, "list_calendar_events")

	create.Run(context.Background(), "Review | 2024-11-22T14:00:00 | 2024-11-22T15:30:00")

	out, _ := list.Run(context.Background(), "")
	if !strings.Contains(out, "Review") {
		t.Errorf("list missing title: %q", out)
	}
	if !strings.Contains(out, "2024-11-22 14:00") || !strings.Contains(out, "2024-11-22 15:30") {
		t.Errorf("list missing times: %q", out)
	}
	if !strings.Contains(out, "1h30m") {
		t.Errorf("list missing computed duration: %q", out)
	}
	if !strings.Contains(out, "evt-1") {
		t.Errorf("list missing event ID: %q", out)
	}
}

func TestListEvents_Idempotent(t *testing.T) {
	mem := newMemCalendar()
	ts := calendarTools(mem, time.UTC)
	create := toolByName(t, ts, "create_calendar_event")
	list := toolByName(t, ts, "list_calendar_events")

	create.Run(context.Background(), "A | 2024-11-22T10:00:00")
	create.Run(context.Background(), "B | 2024-11-23T10:00:00")

	first, _ := list.Run(context.Background(), "")
	second, _ := list.Run(context.Background(), "")
	if first != second {
		t.Errorf("list output differs across identical calls:\n%q\n%q", first, second)
	}
}

func TestListEvents_Empty(t *testing.T) {
	list := toolByName(t, calendarTools(newMemCalendar(), time.UTC), "list_calendar_events")
	out, _ := list.Run(context.Background(), "")
	if out != "No upcoming events found." {
		t.Errorf("output = %q", out)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	get := toolByName(t, calendarTools(newMemCalendar(), time.UTC), "get_calendar_event")
	out, _ := get.Run(context.Background(), "missing-id")
	if !strings.HasPrefix(out, "ERROR:") || !strings.Contains(out, "missing-id") {
		t.Errorf("output = %q", out)
	}
}

func TestGetEvent_TransientErrorIsDistinct(t *testing.T) {
	mem := newMemCalendar()
	mem.failAll = errors.New("503 backend unavailable")
	get := toolByName(t, calendarTools(mem, time.UTC), "get_calendar_event")

	out, _ := get.Run(context.Background(), "evt-1")
	if !strings.HasPrefix(out, "ERROR:") {
		t.Fatalf("output = %q", out)
	}
	if strings.Contains(out, "No event exists") {
		t.Errorf("transient failure reported as not-found: %q", out)
	}
}

func TestUpdateEvent(t *testing.T) {
	mem := newMemCalendar()
	ts := calendarTools(mem, time.UTC)
	create := toolByName(t, ts, "create_calendar_event")
	update := toolByName(t, ts, "update_calendar_event")

	create.Run(context.Background(), "Old Title | 2024-11-22T14:00:00")

	out, _ := update.Run(context.Background(), "evt-1 | New Title")
	if !strings.Contains(out, "Event updated") || !strings.Contains(out, "New Title") {
		t.Errorf("output = %q", out)
	}
	// Unchanged start survives
	if !mem.events["evt-1"].Start.Equal(time.Date(2024, 11, 22, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("start changed unexpectedly: %v", mem.events["evt-1"].Start)
	}
}

func TestDeleteEvent(t *testing.T) {
	mem := newMemCalendar()
	ts := calendarTools(mem, time.UTC)
	create := toolByName(t, ts, "create_calendar_event")
	del := toolByName(t, ts, "delete_calendar_event")

	create.Run(context.Background(), "Doomed | 2024-11-22T14:00:00")

	out, _ := del.Run(context.Background(), "evt-1")
	if !strings.Contains(out, "deleted") {
		t.Errorf("output = %q", out)
	}

	out, _ = del.Run(context.Background(), "evt-1")
	if !strings.Contains(out, "already be deleted") {
		t.Errorf("second delete output = %q", out)
	}
}

func TestParseEventTime_Formats(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"2024-11-22T14:00:00", false},
		{"2024-11-22T14:00:00Z", false},
		{"2024-11-22T14:00:00-05:00", false},
		{"2024-11-22T14:00", false},
		{"2024-11-22 14:00", false},
		{"tomorrow at 5", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := parseEventTime(tt.input, loc)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseEventTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestParseEventTime_ZonelessUsesLocation(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	got, err := parseEventTime("2024-11-22T14:00:00", loc)
	if err != nil {
		t.Fatalf("parseEventTime: %v", err)
	}
	if got.Location().String() != "America/New_York" {
		t.Errorf("location = %v", got.Location())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Minute, "1h30m"},
		{time.Hour, "1h"},
		{30 * time.Minute, "30m"},
		{0, "0m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestGoogleCalendarProvider_FactoryFailure(t *testing.T) {
	p := &GoogleCalendarProvider{
		Timezone: "UTC",
		NewService: func(ctx context.Context, credential string) (calendar.Service, error) {
			return nil, errors.New("token exchange failed")
		},
	}
	if _, err := p.Tools(context.Background(), "expired"); err == nil {
		t.Fatal("expected error from failed factory")
	}
}

func TestGoogleCalendarProvider_ToolNames(t *testing.T) {
	mem := newMemCalendar()
	p := &GoogleCalendarProvider{
		Timezone: "UTC",
		NewService: func(ctx context.Context, credential string) (calendar.Service, error) {
			return mem, nil
		},
	}
	ts, err := p.Tools(context.Background(), "cred")
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}

	want := []string{
		"create_calendar_event",
		"list_calendar_events",
		"get_calendar_event",
		"update_calendar_event",
		"delete_calendar_event",
	}
	if len(ts) != len(want) {
		t.Fatalf("got %d tools, want %d", len(ts), len(want))
	}
	for i, name := range want {
		if ts[i].Name != name {
			t.Errorf("tool[%d] = %q, want %q", i, ts[i].Name, name)
		}
	}
}
