package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The bearer token already authenticates the connection; browser
	// clients connect from whatever origin serves the chat page.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is one client message on the chat socket.
type wsInbound struct {
	Message string `json:"message"`
}

// wsOutbound is one server message on the chat socket.
type wsOutbound struct {
	Kind     string `json:"kind"` // "response" or "error"
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleChatWS upgrades to a websocket and runs a chat exchange per
// inbound message. The socket carries one conversation: turns run
// sequentially in arrival order against the user's session.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("websocket chat opened", "user", uid)

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "user", uid, "error", err)
			}
			return
		}

		if in.Message == "" {
			if err := s.writeWS(conn, wsOutbound{Kind: "error", Error: "message is required"}); err != nil {
				return
			}
			continue
		}

		answer := s.RunTurn(r.Context(), uid, in.Message)
		if err := s.writeWS(conn, wsOutbound{Kind: "response", Response: answer}); err != nil {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, out wsOutbound) error {
	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if err := conn.WriteJSON(out); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
