package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agent-logger/internal/protocol"
	"agent-logger/internal/session"
	"agent-logger/internal/watcher"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Server, *session.Store) {
	store := session.NewStore(t.TempDir())
	srv := New(store, 100)
	return srv, store
}

func dial(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	httpSrv := httptest.NewServer(srv.Handler())

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		httpSrv.Close()
		t.Fatalf("websocket dial failed: %v", err)
	}
	return ws, func() {
		ws.Close()
		httpSrv.Close()
	}
}

func readMessage(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return msg
}

func readEntry(t *testing.T, ws *websocket.Conn) protocol.LogEntryPayload {
	t.Helper()
	msg := readMessage(t, ws)
	if msg.Type != protocol.TypeLogEntry {
		t.Fatalf("expected %s, got %s", protocol.TypeLogEntry, msg.Type)
	}
	var p protocol.LogEntryPayload
	json.Unmarshal(msg.Payload, &p)
	return p
}

func sendClientMessage(t *testing.T, ws *websocket.Conn, msgType, sessionID string) {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"payload":   map[string]interface{}{"sessionId": sessionID},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write message failed: %v", err)
	}
}

func chunk(sessionID, data string) watcher.Chunk {
	return watcher.Chunk{Date: "2026-10-19", SessionID: sessionID, File: "main.log", Data: data}
}

func TestServer_Handler(t *testing.T) {
	srv, _ := newTestServer(t)
	if srv.Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestServer_GetSessionMetadata(t *testing.T) {
	srv, store := newTestServer(t)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local)

	dir, err := store.Dir("abc", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := session.NewMetadataFile(dir).Update("abc", now, session.Updates{
		session.KeyHooksTriggered: "PreToolUse",
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/sessions/2026-10-19/abc", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var md session.Metadata
	json.NewDecoder(w.Body).Decode(&md)
	if md.SessionID != "abc" {
		t.Errorf("expected session abc, got %q", md.SessionID)
	}
	if len(md.HooksTriggered) != 1 || md.HooksTriggered[0] != "PreToolUse" {
		t.Errorf("unexpected hooks: %v", md.HooksTriggered)
	}
}

func TestServer_GetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/sessions/2026-10-19/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServer_GetSessionBadDate(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/sessions/yesterday/abc", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_StreamsEntries(t *testing.T) {
	srv, _ := newTestServer(t)
	ws, cleanup := dial(t, srv)
	defer cleanup()

	// Let the server register the client before publishing.
	time.Sleep(50 * time.Millisecond)
	srv.OnChunk(chunk("abc", "HOOK_TYPE: Stop\n"))

	p := readEntry(t, ws)
	if p.SessionID != "abc" || p.Data != "HOOK_TYPE: Stop\n" {
		t.Errorf("unexpected entry: %+v", p)
	}
}

func TestServer_ReplaysHistoryOnConnect(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.OnChunk(chunk("abc", "first\n"))
	srv.OnChunk(chunk("xyz", "second\n"))

	ws, cleanup := dial(t, srv)
	defer cleanup()

	if p := readEntry(t, ws); p.Data != "first\n" {
		t.Errorf("expected first entry, got %q", p.Data)
	}
	if p := readEntry(t, ws); p.Data != "second\n" {
		t.Errorf("expected second entry, got %q", p.Data)
	}
}

func TestServer_ReplaysFullHistoryPastSendBuffer(t *testing.T) {
	const historySize = 1000
	srv := New(session.NewStore(t.TempDir()), historySize)
	for i := 0; i < historySize+clientSendBuffer; i++ {
		srv.OnChunk(chunk("abc", fmt.Sprintf("entry-%d\n", i)))
	}

	ws, cleanup := dial(t, srv)
	defer cleanup()

	// The oldest clientSendBuffer entries fell out of the history.
	for i := clientSendBuffer; i < historySize+clientSendBuffer; i++ {
		want := fmt.Sprintf("entry-%d\n", i)
		if p := readEntry(t, ws); p.Data != want {
			t.Fatalf("expected %q, got %q", want, p.Data)
		}
	}
}

func TestServer_SubscribeFiltersSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	ws, cleanup := dial(t, srv)
	defer cleanup()

	sendClientMessage(t, ws, protocol.TypeSessionSubscribe, "abc")
	if msg := readMessage(t, ws); msg.Type != protocol.TypeSessionSubscribed {
		t.Fatalf("expected %s, got %s", protocol.TypeSessionSubscribed, msg.Type)
	}

	srv.OnChunk(chunk("xyz", "ignored\n"))
	srv.OnChunk(chunk("abc", "wanted\n"))

	if p := readEntry(t, ws); p.SessionID != "abc" || p.Data != "wanted\n" {
		t.Errorf("expected only the subscribed session, got %+v", p)
	}
}

func TestServer_WebSocketInvalidMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	ws, cleanup := dial(t, srv)
	defer cleanup()

	// Send invalid message.
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))

	// Should get an error message back.
	resp := readMessage(t, ws)
	if resp.Type != protocol.TypeError {
		t.Errorf("expected error type, got %s", resp.Type)
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/sessions/2026-10-19/abc", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
}
