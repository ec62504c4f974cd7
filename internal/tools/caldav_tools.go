package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avmeyer/attache/internal/calendar"
)

// CalDAVProvider serves the calendar tools from a CalDAV server instead
// of Google Calendar. It presents the same tool names, so the two
// providers are alternatives: whichever registers first owns the
// calendar tool surface.
//
// CalDAV access is instance-wide basic auth rather than per-user OAuth,
// so the per-user credential is ignored and the underlying client is
// built once and shared.
type CalDAVProvider struct {
	Timezone string

	// NewService is invoked lazily on first use and the result cached.
	// Injectable for tests.
	NewService func(ctx context.Context) (calendar.Service, error)

	once sync.Once
	svc  calendar.Service
	err  error
}

// NewCalDAVProvider creates the production provider for the given
// server.
func NewCalDAVProvider(url, username, password, calendarName, timezone string) *CalDAVProvider {
	return &CalDAVProvider{
		Timezone: timezone,
		NewService: func(ctx context.Context) (calendar.Service, error) {
			return calendar.NewCalDAVClient(ctx, url, username, password, calendarName, timezone, nil)
		},
	}
}

// Name implements Provider.
func (p *CalDAVProvider) Name() string { return "caldav" }

// Tools implements Provider.
func (p *CalDAVProvider) Tools(ctx context.Context, credential string) ([]Tool, error) {
	p.once.Do(func() {
		p.svc, p.err = p.NewService(ctx)
	})
	if p.err != nil {
		return nil, fmt.Errorf("caldav: %w", p.err)
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return calendarTools(p.svc, loc), nil
}
