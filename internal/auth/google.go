package auth

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

// GoogleFlow runs the OAuth authorization-code flow that links a
// user's Google Calendar, and keeps stored tokens fresh.
type GoogleFlow struct {
	conf   *oauth2.Config
	store  *UserStore
	logger *slog.Logger
}

// NewGoogleFlow creates the flow for the given OAuth client.
func NewGoogleFlow(clientID, clientSecret, redirectURL string, store *UserStore, logger *slog.Logger) *GoogleFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleFlow{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarScope},
		},
		store:  store,
		logger: logger,
	}
}

// Configured reports whether OAuth client credentials are present.
func (g *GoogleFlow) Configured() bool {
	return g.conf.ClientID != "" && g.conf.ClientSecret != ""
}

// AuthURL returns the consent-screen URL. state must identify the user
// on callback; the API layer passes the user's session token.
// AccessTypeOffline plus ApprovalForce makes Google return a refresh
// token even on re-consent.
func (g *GoogleFlow) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code and stores the
// resulting token for the user.
func (g *GoogleFlow) HandleCallback(ctx context.Context, userID, code string) error {
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}

	err = g.store.SetGoogleToken(userID, GoogleToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return err
	}

	g.logger.Info("google calendar linked", "user", userID)
	return nil
}

// AccessToken returns a live access token for the user, refreshing and
// re-persisting it if the stored one has expired. It returns an empty
// string with no error when the user has no calendar linked.
func (g *GoogleFlow) AccessToken(ctx context.Context, userID string) (string, error) {
	stored, err := g.store.GoogleToken(userID)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", nil
	}

	tok := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       stored.Expiry,
	}

	// TokenSource returns the token as-is while valid and round-trips
	// the refresh token otherwise.
	fresh, err := g.conf.TokenSource(ctx, tok).Token()
	if err != nil {
		return "", fmt.Errorf("refresh google token: %w", err)
	}

	if fresh.AccessToken != stored.AccessToken {
		err := g.store.SetGoogleToken(userID, GoogleToken{
			AccessToken:  fresh.AccessToken,
			RefreshToken: fresh.RefreshToken,
			Expiry:       fresh.Expiry,
		})
		if err != nil {
			g.logger.Warn("persisting refreshed google token failed", "user", userID, "error", err)
		}
	}

	return fresh.AccessToken, nil
}
