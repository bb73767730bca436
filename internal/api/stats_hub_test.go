package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/earthring/chunkstream/internal/auth"
	"github.com/earthring/chunkstream/internal/config"
	"github.com/earthring/chunkstream/internal/streaming"
	"github.com/earthring/chunkstream/internal/telemetry"
	"github.com/gorilla/websocket"
)

func startHub(t *testing.T, tokens *auth.ServiceTokens) (*StatsHub, *httptest.Server) {
	t.Helper()
	hub := NewStatsHub(tokens, DefaultAllowedOrigins, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/stats", hub.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dialStats(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/stats" + query
	dialer := websocket.Dialer{Subprotocols: []string{StatsProtocolV1}, HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed (status %d): %v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *StatsHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) StatsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StatsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestStatsHubBroadcast(t *testing.T) {
	hub, server := startHub(t, nil)
	a := dialStats(t, server, "")
	b := dialStats(t, server, "")
	waitForClients(t, hub, 2)

	hub.Publish(telemetry.FrameRecord{
		Time:  time.Unix(1700000000, 0).UTC(),
		Frame: streaming.FrameStats{Frame: 7, Dispatched: 60},
		Draw:  streaming.DrawStats{Visible: 12},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != "frame" {
			t.Fatalf("Expected frame message, got %s", msg.Type)
		}
		var rec telemetry.FrameRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			t.Fatalf("bad frame payload: %v", err)
		}
		if rec.Frame.Frame != 7 || rec.Frame.Dispatched != 60 || rec.Draw.Visible != 12 {
			t.Errorf("unexpected record %+v", rec)
		}
	}

	a.Close()
	waitForClients(t, hub, 1)
}

func TestStatsHubPing(t *testing.T) {
	hub, server := startHub(t, nil)
	conn := dialStats(t, server, "")
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(StatsMessage{Type: "ping", ID: "p1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "pong" || msg.ID != "p1" {
		t.Errorf("Expected pong p1, got %+v", msg)
	}

	if err := conn.WriteJSON(StatsMessage{Type: "subscribe_chunks"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "error" {
		t.Errorf("Expected error for unknown type, got %s", msg.Type)
	}
}

func TestStatsHubAuthentication(t *testing.T) {
	secret := config.ProceduralConfig{TokenSecret: "test_service_secret_key_32_bytes!!", TokenTTL: time.Minute}
	tokens := auth.NewServiceTokens(secret, "sim", auth.ScopeStats)
	hub, server := startHub(t, tokens)

	generateOnly, _ := auth.NewServiceTokens(secret, "gen", auth.ScopeGenerate).Issue()
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "?token=abc", http.StatusUnauthorized},
		{"wrong scope", "?token=" + generateOnly, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/stats"+tt.query, nil)
			w := httptest.NewRecorder()
			hub.HandleWebSocket(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}

	token, _ := tokens.Issue()
	dialStats(t, server, "?token="+token)
	waitForClients(t, hub, 1)
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		requested string
		expected  string
	}{
		{"", StatsProtocolV1},
		{StatsProtocolV1, StatsProtocolV1},
		{"chunkstream-stats-v2, chunkstream-stats-v1", StatsProtocolV1},
		{"chunkstream-stats-v99", ""},
	}
	for _, tt := range tests {
		if got := negotiateVersion(tt.requested); got != tt.expected {
			t.Errorf("negotiateVersion(%q) = %q, want %q", tt.requested, got, tt.expected)
		}
	}

	hub := NewStatsHub(nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws/stats", nil)
	req.Header.Set("Sec-WebSocket-Protocol", "chunkstream-stats-v99")
	w := httptest.NewRecorder()
	hub.HandleWebSocket(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unsupported version, got %d", w.Code)
	}
}

func TestStatsHubPublishNeverBlocks(t *testing.T) {
	hub := NewStatsHub(nil, nil, nil)
	// Run is not started, so the broadcast buffer fills up
	for i := 0; i < broadcastBuffer+10; i++ {
		hub.Publish(telemetry.FrameRecord{Frame: streaming.FrameStats{Frame: uint64(i)}})
	}
	if hub.Dropped() != 10 {
		t.Errorf("Expected 10 dropped records, got %d", hub.Dropped())
	}
}
