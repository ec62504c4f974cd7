// Package api implements the HTTP surface: account endpoints, the
// Google OAuth link flow, and the chat endpoints that drive the agent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/avmeyer/attache/internal/agent"
	"github.com/avmeyer/attache/internal/auth"
	"github.com/avmeyer/attache/internal/buildinfo"
	"github.com/avmeyer/attache/internal/llm"
	"github.com/avmeyer/attache/internal/notify"
	"github.com/avmeyer/attache/internal/session"
	"github.com/avmeyer/attache/internal/tools"
	"github.com/avmeyer/attache/internal/web"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

type ctxKey int

const userIDKey ctxKey = iota

// userID returns the authenticated user for a request that passed
// requireAuth.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// Deps carries the server's collaborators. All are required except
// Google and Notifier.
type Deps struct {
	Users        *auth.UserStore
	Tokens       *auth.TokenIssuer
	Google       *auth.GoogleFlow
	Sessions     *session.Store
	Registry     *tools.Registry
	LLM          llm.Client
	AgentConfig  agent.Config
	Notifier     *notify.Publisher
	DefaultModel string
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
	started time.Time
}

// NewServer creates the API server.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger,
		started: time.Now(),
	}
}

// SetNotifier attaches the MQTT announcer after construction. The
// publisher reads its stats from the server, so it cannot exist before
// the server does.
func (s *Server) SetNotifier(p *notify.Publisher) {
	s.deps.Notifier = p
}

// Handler builds the route table. Split from Start so tests can drive
// the mux through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Accounts
	mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)

	// Google Calendar link flow
	mux.Handle("GET /v1/auth/google", s.requireAuth(s.handleGoogleStart))
	mux.Handle("GET /v1/auth/google/qr", s.requireAuth(s.handleGoogleQR))
	mux.HandleFunc("GET /v1/auth/google/callback", s.handleGoogleCallback)

	// Chat
	mux.Handle("POST /v1/chat", s.requireAuth(s.handleChat))
	mux.Handle("GET /v1/chat/ws", s.requireAuth(s.handleChatWS))

	// Conversation management
	mux.Handle("GET /v1/session/history", s.requireAuth(s.handleHistory))
	mux.Handle("POST /v1/session/reset", s.requireAuth(s.handleReset))

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	// Browser chat UI
	web.RegisterRoutes(mux, s, s.logger)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // agent turns can run long
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// requireAuth verifies the bearer token (or ?token= for browser
// clients that cannot set headers) and stashes the user ID in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			s.errorResponse(w, http.StatusUnauthorized, "missing credentials")
			return
		}

		id, err := s.deps.Tokens.Verify(token)
		if err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

// --- Stats for the MQTT publisher ---

// Uptime implements notify.StatsSource.
func (s *Server) Uptime() time.Duration { return time.Since(s.started) }

// Version implements notify.StatsSource.
func (s *Server) Version() string { return buildinfo.Version }

// DefaultModel implements notify.StatsSource.
func (s *Server) DefaultModel() string { return s.deps.DefaultModel }

// ActiveSessions implements notify.StatsSource.
func (s *Server) ActiveSessions() int { return s.deps.Sessions.Len() }

// --- Basic endpoints ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Attache",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	model := "ok"
	if s.deps.LLM != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.LLM.Ping(ctx); err != nil {
			// The model being down degrades chat but the API itself is up.
			status = "degraded"
			model = err.Error()
		}
	}

	writeJSON(w, map[string]string{"status": status, "model": model}, s.logger)
}

// --- Accounts ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		s.errorResponse(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			s.errorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
			return
		}
		s.logger.Error("hash password", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := s.deps.Users.CreateUser(req.Email, hash)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			s.errorResponse(w, http.StatusConflict, "email already registered")
			return
		}
		s.logger.Error("create user", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := s.deps.Tokens.Issue(user.ID)
	if err != nil {
		s.logger.Error("issue token", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "registration failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, tokenResponse{Token: token, UserID: user.ID, Email: user.Email}, s.logger)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, hash, err := s.deps.Users.GetByEmail(req.Email)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		// Same answer for unknown email and wrong password.
		s.errorResponse(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := s.deps.Tokens.Issue(user.ID)
	if err != nil {
		s.logger.Error("issue token", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "login failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, tokenResponse{Token: token, UserID: user.ID, Email: user.Email}, s.logger)
}

// --- Google link flow ---

// googleState mints the OAuth state parameter: a fresh token for the
// user, so the callback can identify them without cookies.
func (s *Server) googleState(uid string) (string, error) {
	return s.deps.Tokens.Issue(uid)
}

func (s *Server) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Google == nil || !s.deps.Google.Configured() {
		s.errorResponse(w, http.StatusServiceUnavailable, "google calendar integration is not configured")
		return
	}

	state, err := s.googleState(userID(r))
	if err != nil {
		s.logger.Error("issue oauth state", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not start authorization")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"auth_url": s.deps.Google.AuthURL(state)}, s.logger)
}

// handleGoogleQR renders the consent URL as a QR code so the flow can
// be completed from a phone.
func (s *Server) handleGoogleQR(w http.ResponseWriter, r *http.Request) {
	if s.deps.Google == nil || !s.deps.Google.Configured() {
		s.errorResponse(w, http.StatusServiceUnavailable, "google calendar integration is not configured")
		return
	}

	state, err := s.googleState(userID(r))
	if err != nil {
		s.logger.Error("issue oauth state", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not start authorization")
		return
	}

	png, err := qrcode.Encode(s.deps.Google.AuthURL(state), qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("encode qr code", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Google == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "google calendar integration is not configured")
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		s.errorResponse(w, http.StatusBadRequest, "missing state or code")
		return
	}

	uid, err := s.deps.Tokens.Verify(state)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid state")
		return
	}

	if err := s.deps.Google.HandleCallback(r.Context(), uid, code); err != nil {
		s.logger.Error("google oauth callback", "user", uid, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "authorization failed")
		return
	}

	s.deps.Notifier.Announce(r.Context(), notify.Announcement{Kind: "calendar_linked", User: uid})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><p>Calendar linked. You can close this window.</p></body></html>")
}

// --- Chat ---

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	UserID   string `json:"user_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	uid := userID(r)
	answer := s.RunTurn(r.Context(), uid, req.Message)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, chatResponse{Response: answer, UserID: uid}, s.logger)
}

// RunTurn executes one conversation turn for a user. It binds tools to
// the user's current credentials, runs the agent, and records the
// exchange in the user's session. It always returns text.
func (s *Server) RunTurn(ctx context.Context, uid, message string) string {
	credential := ""
	if s.deps.Google != nil && s.deps.Google.Configured() {
		tok, err := s.deps.Google.AccessToken(ctx, uid)
		if err != nil {
			s.logger.Warn("google token unavailable, calendar tools disabled for turn",
				"user", uid, "error", err)
		} else {
			credential = tok
		}
	}

	toolset := s.deps.Registry.InstantiateAll(ctx, credential)
	exec := agent.NewExecutor(s.deps.LLM, toolset, s.logger, s.deps.AgentConfig)

	sess := s.deps.Sessions.GetOrCreate(uid, func() *agent.Executor { return exec })
	// Tokens rotate between turns, so the session always runs the
	// freshly bound executor.
	sess.SetExecutor(exec)

	start := time.Now()
	answer := sess.Send(ctx, message)

	s.deps.Notifier.Announce(ctx, notify.Announcement{
		Kind:   "chat_turn",
		User:   uid,
		Detail: fmt.Sprintf("%d tools, %s", len(toolset), time.Since(start).Truncate(time.Millisecond)),
	})
	return answer
}

// VerifyToken implements web.ChatBackend.
func (s *Server) VerifyToken(token string) (string, error) {
	return s.deps.Tokens.Verify(token)
}

// History implements web.ChatBackend.
func (s *Server) History(uid string) []agent.Turn {
	sess := s.deps.Sessions.Get(uid)
	if sess == nil {
		return nil
	}
	return sess.History()
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns := s.History(userID(r))
	out := make([]historyTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, historyTurn{Role: t.Role, Content: t.Content})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"turns": out}, s.logger)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if sess := s.deps.Sessions.Get(userID(r)); sess != nil {
		sess.Reset()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "reset"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
