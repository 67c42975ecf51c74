package call

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/models"
)

// echoServer upgrades the connection and writes every envelope back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env models.SignalEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if err := conn.WriteJSON(&env); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientSendAndSubscribe(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	client := NewClient(wsURL(srv), zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	received := make(chan *models.SignalEnvelope, 4)
	unsubscribe := client.Subscribe(func(env *models.SignalEnvelope) {
		received <- env
	})

	if err := client.JoinRoom("r1", "u1", "Ann", "doctor"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	select {
	case env := <-received:
		if env.Type != models.EventJoinRoom || env.RoomID != "r1" {
			t.Fatalf("echoed envelope = %+v, want join-room for r1", env)
		}
		var payload models.JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			t.Fatalf("bad join payload: %v", err)
		}
		if payload.UserID != "u1" || payload.Role != "doctor" {
			t.Fatalf("join payload = %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}

	// After unsubscribe no further envelopes are delivered.
	unsubscribe()
	if err := client.Send(&models.SignalEnvelope{Type: models.EventEndCall}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case env := <-received:
		t.Fatalf("received %+v after unsubscribe", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientSendAfterCloseFails(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	client := NewClient(wsURL(srv), zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Close()
	client.Close() // double close must not panic

	// The outgoing buffer may absorb a few frames; a closed client must
	// eventually refuse instead of blocking forever.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := client.Send(&models.SignalEnvelope{Type: models.EventEndCall}); err != nil {
			return
		}
	}
	t.Fatal("Send never failed after Close")
}
