// Package ws provides the WebSocket server for client connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xuanyiying/ai-ace-job-sub001/config"
	"github.com/xuanyiying/ai-ace-job-sub001/domain"
	"github.com/xuanyiying/ai-ace-job-sub001/hub"
	"github.com/xuanyiying/ai-ace-job-sub001/protocol"
	"github.com/xuanyiying/ai-ace-job-sub001/session"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	sessions *session.Manager
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, sessions *session.Manager) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles the WebSocket upgrade and connection lifecycle.
// The bearer credential is validated at connect time; a valid connection
// receives a connected event, an invalid one is closed.
func (s *Server) HandleWebSocket(c echo.Context) error {
	if !s.authorized(c.Request()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	s.hub.SendJSONToConnection(conn, domain.StreamEvent{
		Type:      domain.EventTypeConnected,
		Timestamp: time.Now().UnixMilli(),
	})

	return nil
}

// authorized validates the bearer credential from the Authorization header
// or the token query parameter. An empty configured token disables auth.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	return token == s.cfg.AuthToken
}

// readPump reads requests from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleRequest(conn, message)
	}
}

// writePump writes queued events to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest dispatches incoming requests to appropriate handlers.
func (s *Server) handleRequest(conn *hub.Connection, data []byte) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch req.Type {
	case protocol.TypeJoin:
		s.handleJoin(conn, &req)
	case protocol.TypeMessage:
		s.handleMessage(conn, &req)
	case protocol.TypeCancel:
		s.handleCancel(conn)
	case protocol.TypeFileUploaded:
		s.handleFileUploaded(conn, &req)
	case protocol.TypeResumeParsed:
		s.handleResumeParsed(conn, &req)
	default:
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "unknown request type: "+req.Type)
	}
}

// handleJoin subscribes the connection to a conversation's event stream.
func (s *Server) handleJoin(conn *hub.Connection, req *protocol.Request) {
	if req.ConversationID == "" {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "conversationId is required")
		return
	}
	s.hub.Join(conn, req.ConversationID)
	log.Printf("Connection %s joined conversation %s", conn.ID, req.ConversationID)
}

// handleMessage starts a generation for the conversation.
func (s *Server) handleMessage(conn *hub.Connection, req *protocol.Request) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = conn.ConversationID
	}
	if conversationID == "" {
		s.sendError(conn, "", protocol.ErrorCodeConversationRequired, "must join a conversation first")
		return
	}
	if req.Content == "" {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "content is required")
		return
	}

	messageID, err := s.sessions.StartGeneration(context.Background(), conversationID, req.Content, req.Metadata)
	if err != nil {
		if errors.Is(err, session.ErrGenerationInFlight) {
			s.sendError(conn, "", protocol.ErrorCodeGenerationInFlight, "a generation is already running for this conversation")
			return
		}
		log.Printf("Failed to start generation: %v", err)
		s.sendError(conn, "", protocol.ErrorCodeInternalError, "failed to start generation")
		return
	}

	log.Printf("Generation started: conversation=%s message=%s", conversationID, messageID)
}

// handleCancel stops the conversation's in-flight generation. Cancelling
// an idle conversation is a no-op.
func (s *Server) handleCancel(conn *hub.Connection) {
	if conn.ConversationID == "" {
		return
	}
	s.sessions.Cancel(conn.ConversationID)
}

// handleFileUploaded kicks off the background upload job.
func (s *Server) handleFileUploaded(conn *hub.Connection, req *protocol.Request) {
	if req.ConversationID == "" || req.ResumeID == "" {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "conversationId and resumeId are required")
		return
	}
	s.sessions.NotifyFileUploaded(req.ConversationID, req.ResumeID, req.Filename)
}

// handleResumeParsed kicks off the background parse-result job.
func (s *Server) handleResumeParsed(conn *hub.Connection, req *protocol.Request) {
	if req.ConversationID == "" || req.ResumeID == "" {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "conversationId and resumeId are required")
		return
	}
	s.sessions.NotifyResumeParsed(req.ConversationID, req.ResumeID, req.ParsedContent)
}

// sendError sends an error event to a single connection.
func (s *Server) sendError(conn *hub.Connection, messageID, code, message string) {
	s.hub.SendJSONToConnection(conn, domain.StreamEvent{
		Type:      domain.EventTypeError,
		MessageID: messageID,
		Content:   message,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  map[string]any{"code": code},
	})
}
