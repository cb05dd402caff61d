package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockFeedServer creates a test WebSocket server speaking the feed framing.
func mockFeedServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// answerCommands replies to connect/subscribe commands until the first
// read error, then runs after (if set).
func answerCommands(t *testing.T, conn *websocket.Conn, after func(*websocket.Conn)) {
	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}

		switch {
		case cmd.Connect != nil:
			if cmd.Connect.Token == "bad-token" {
				conn.WriteJSON(map[string]any{
					"id":    cmd.ID,
					"error": map[string]any{"code": 109, "message": "invalid token"},
				})
				continue
			}
			conn.WriteJSON(map[string]any{
				"id":      cmd.ID,
				"connect": map[string]any{"client": "c1", "version": "1"},
			})

		case cmd.Subscribe != nil:
			conn.WriteJSON(map[string]any{
				"id": cmd.ID,
				"subscribe": map[string]any{
					"recoverable": true,
					"offset":      cmd.Subscribe.Offset,
					"epoch":       "e1",
				},
			})
			if after != nil {
				after(conn)
				return
			}
		}
	}
}

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.Token = "tok"
	cfg.ConnectTimeout = 2 * time.Second
	cfg.BufferSize = 100
	return cfg
}

func TestClient_ConnectAndSubscribe(t *testing.T) {
	server := mockFeedServer(t, func(conn *websocket.Conn) {
		answerCommands(t, conn, func(conn *websocket.Conn) {
			// Hold the connection open.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
	})
	defer server.Close()

	cl := NewClient(testClientConfig(wsURL(server)), nil)
	defer cl.Close()

	ctx := context.Background()
	if err := cl.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !cl.IsConnected() {
		t.Error("client should report connected")
	}

	offset, epoch, err := cl.Subscribe(ctx, SubscribeParams{Channel: "broadcast", Offset: 7})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if offset != 7 {
		t.Errorf("offset = %d, want 7", offset)
	}
	if epoch != "e1" {
		t.Errorf("epoch = %q, want e1", epoch)
	}
}

func TestClient_ConnectRejectsBadToken(t *testing.T) {
	server := mockFeedServer(t, func(conn *websocket.Conn) {
		answerCommands(t, conn, nil)
	})
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.Token = "bad-token"
	cl := NewClient(cfg, nil)
	defer cl.Close()

	if err := cl.Connect(context.Background()); err == nil {
		t.Fatal("Connect should fail on rejected token")
	}
}

func TestClient_ReceivesPublications(t *testing.T) {
	server := mockFeedServer(t, func(conn *websocket.Conn) {
		answerCommands(t, conn, func(conn *websocket.Conn) {
			conn.WriteJSON(map[string]any{
				"push": map[string]any{
					"channel": "broadcast",
					"pub": map[string]any{
						"data":   map[string]any{"event": "obtained_skin_added"},
						"offset": 12,
					},
				},
			})
			time.Sleep(100 * time.Millisecond)
		})
	})
	defer server.Close()

	cl := NewClient(testClientConfig(wsURL(server)), nil)
	defer cl.Close()

	ctx := context.Background()
	if err := cl.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, _, err := cl.Subscribe(ctx, SubscribeParams{Channel: "broadcast"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case pub := <-cl.Publications():
		if pub.Offset != 12 {
			t.Errorf("Offset = %d, want 12", pub.Offset)
		}
		var payload map[string]any
		if err := json.Unmarshal(pub.Data, &payload); err != nil {
			t.Fatalf("publication data: %v", err)
		}
		if payload["event"] != "obtained_skin_added" {
			t.Errorf("event = %v", payload["event"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publication never arrived")
	}
}

func TestClient_ServerCloseSurfacesCloseError(t *testing.T) {
	server := mockFeedServer(t, func(conn *websocket.Conn) {
		answerCommands(t, conn, func(conn *websocket.Conn) {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second),
			)
		})
	})
	defer server.Close()

	cl := NewClient(testClientConfig(wsURL(server)), nil)
	defer cl.Close()

	ctx := context.Background()
	if err := cl.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, _, err := cl.Subscribe(ctx, SubscribeParams{Channel: "broadcast"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case err := <-cl.Errors():
		ce, ok := err.(*CloseError)
		if !ok {
			t.Fatalf("error type %T, want *CloseError", err)
		}
		if ce.Code != websocket.CloseGoingAway {
			t.Errorf("Code = %d, want %d", ce.Code, websocket.CloseGoingAway)
		}
		if !ce.Clean() {
			t.Error("going-away should count as a clean close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close error never surfaced")
	}
}

func TestCloseError_Clean(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{1000, true},
		{1001, true},
		{1006, false},
		{1011, false},
		{3000, false},
	}
	for _, tt := range tests {
		e := &CloseError{Code: tt.code}
		if got := e.Clean(); got != tt.want {
			t.Errorf("Clean(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
