// Package web serves the browser chat page. It is a thin
// server-rendered surface over the same turn pipeline the JSON API
// uses; assistant replies are markdown and get converted to HTML here.
package web

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/avmeyer/attache/internal/agent"
)

// Backend is what the page needs from the API layer.
type Backend interface {
	// RunTurn executes one conversation turn and returns the reply text.
	RunTurn(ctx context.Context, uid, message string) string

	// History returns the user's retained conversation turns.
	History(uid string) []agent.Turn

	// VerifyToken resolves a session token to a user ID.
	VerifyToken(token string) (string, error)
}

var chatTemplate = template.Must(template.New("chat").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Attache</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 640px; margin: 2em auto; padding: 0 1em; }
.turn { margin: 1em 0; padding: 0.6em 1em; border-radius: 8px; }
.user { background: #e8f0fe; }
.assistant { background: #f1f3f4; }
.role { font-size: 0.75em; color: #5f6368; text-transform: uppercase; }
form { display: flex; gap: 0.5em; margin-top: 1.5em; }
input[type=text] { flex: 1; padding: 0.5em; }
</style>
</head>
<body>
<h1>Attache</h1>
{{range .Turns}}
<div class="turn {{.Class}}">
  <div class="role">{{.Role}}</div>
  <div>{{.HTML}}</div>
</div>
{{end}}
<form method="POST" action="/chat">
  <input type="hidden" name="token" value="{{.Token}}">
  <input type="text" name="message" placeholder="Ask about your calendar..." autofocus>
  <button type="submit">Send</button>
</form>
</body>
</html>
`))

type renderedTurn struct {
	Role  string
	Class string
	HTML  template.HTML
}

type chatPage struct {
	Token string
	Turns []renderedTurn
}

// Handlers serves the chat page.
type Handlers struct {
	backend Backend
	logger  *slog.Logger
}

// RegisterRoutes mounts GET and POST /chat on the mux.
func RegisterRoutes(mux *http.ServeMux, backend Backend, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{backend: backend, logger: logger}
	mux.HandleFunc("GET /chat", h.handleChatPage)
	mux.HandleFunc("POST /chat", h.handleChatSubmit)
}

// handleChatPage renders the transcript. The session token rides in
// the ?token= query parameter.
func (h *Handlers) handleChatPage(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	uid, ok := h.authorize(w, token)
	if !ok {
		return
	}
	h.renderPage(w, token, h.backend.History(uid))
}

// handleChatSubmit runs one turn from the form post and re-renders.
func (h *Handlers) handleChatSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	token := r.PostFormValue("token")
	uid, ok := h.authorize(w, token)
	if !ok {
		return
	}

	message := strings.TrimSpace(r.PostFormValue("message"))
	if message != "" {
		h.backend.RunTurn(r.Context(), uid, message)
	}
	h.renderPage(w, token, h.backend.History(uid))
}

func (h *Handlers) authorize(w http.ResponseWriter, token string) (string, bool) {
	if token == "" {
		http.Error(w, "missing token: open /chat?token=<session token>", http.StatusUnauthorized)
		return "", false
	}
	uid, err := h.backend.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return "", false
	}
	return uid, true
}

func (h *Handlers) renderPage(w http.ResponseWriter, token string, turns []agent.Turn) {
	page := chatPage{Token: token}
	for _, t := range turns {
		page.Turns = append(page.Turns, renderedTurn{
			Role:  t.Role,
			Class: roleClass(t.Role),
			HTML:  RenderMarkdown(t.Content),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chatTemplate.Execute(w, page); err != nil {
		h.logger.Debug("render chat page", "error", err)
	}
}

func roleClass(role string) string {
	if strings.EqualFold(role, "user") {
		return "user"
	}
	return "assistant"
}

// RenderMarkdown converts reply markdown to HTML. On conversion errors
// the text is returned escaped rather than dropped.
func RenderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
