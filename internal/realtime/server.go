package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"agent-logger/internal/protocol"
	"agent-logger/internal/session"
	"agent-logger/internal/watcher"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	clientSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server streams newly logged entries to WebSocket clients and serves
// session metadata over REST.
type Server struct {
	store     *session.Store
	history   *RingBuffer
	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	// sessions filters what the client receives; empty means everything.
	mu       sync.Mutex
	sessions map[string]bool
}

// New creates a new realtime server that keeps the last historySize
// entries for replay.
func New(store *session.Store, historySize int) *Server {
	return &Server{
		store:   store,
		history: NewRingBuffer(historySize),
		clients: make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /sessions/{date}/{id}", s.handleGetSession)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		id:       uuid.New().String(),
		conn:     conn,
		send:     make(chan []byte, clientSendBuffer+s.history.Cap()),
		server:   s,
		sessions: make(map[string]bool),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	log.Printf("client %s connected", c.id)

	// Catch the new client up on recent entries.
	s.replay(c, "")

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error for client %s: %v", c.id, err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wants reports whether the client's filter admits sessionID.
func (c *client) wants(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions) == 0 || c.sessions[sessionID]
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	log.Printf("client %s disconnected", c.id)
	close(c.send)
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	switch msg.Type {
	case protocol.TypeSessionSubscribe:
		s.handleSubscribe(c, payload.SessionID)
	case protocol.TypeSessionUnsubscribe:
		c.mu.Lock()
		delete(c.sessions, payload.SessionID)
		c.mu.Unlock()
	}
}

// handleSubscribe narrows the client's filter to include sessionID. A client
// that was receiving everything already has the session's history.
func (s *Server) handleSubscribe(c *client, sessionID string) {
	c.mu.Lock()
	wasAll := len(c.sessions) == 0
	already := c.sessions[sessionID]
	c.sessions[sessionID] = true
	c.mu.Unlock()

	if !wasAll && !already {
		s.replay(c, sessionID)
	}

	resp, _ := protocol.NewMessage(protocol.TypeSessionSubscribed, protocol.SessionIDPayload{
		SessionID: sessionID,
	})
	s.sendTo(c, resp)
}

// replay sends buffered entries for sessionID, or all of them if empty.
// When the client's queue cannot take them all, the newest are kept; one
// slot stays free for the reply that follows a subscribe.
func (s *Server) replay(c *client, sessionID string) {
	free := cap(c.send) - len(c.send) - 1
	for _, entry := range s.history.Filter(sessionID, free) {
		msg, err := protocol.NewMessage(protocol.TypeLogEntry, entry)
		if err != nil {
			continue
		}
		s.sendTo(c, msg)
	}
}

// OnChunk is the callback for the log watcher.
func (s *Server) OnChunk(chunk watcher.Chunk) {
	entry := protocol.LogEntryPayload{
		SessionID: chunk.SessionID,
		Date:      chunk.Date,
		File:      chunk.File,
		Data:      chunk.Data,
	}
	s.history.Write(entry)

	msg, err := protocol.NewMessage(protocol.TypeLogEntry, entry)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		if !c.wants(entry.SessionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	s.sendTo(c, msg)
}

func (s *Server) sendTo(c *client, msg *protocol.Message) {
	if msg == nil {
		return
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}
