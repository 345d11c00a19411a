package services

import (
	"encoding/json"
	"testing"
	"time"
)

func waitForConnections(t *testing.T, s *WebSocketPushService, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ConnectionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d connections, got %d", want, s.ConnectionCount())
}

func TestPushService_DeliversToRecipientOnly(t *testing.T) {
	t.Parallel()
	s := NewWebSocketPushService()

	employer := &Connection{ID: "c1", UserID: "employer-1", Send: make(chan []byte, 4)}
	dev := &Connection{ID: "c2", UserID: "dev-1", Send: make(chan []byte, 4)}
	s.RegisterConnection(employer)
	s.RegisterConnection(dev)
	waitForConnections(t, s, 2)

	s.Notify("escrow.released", "dev-1", map[string]interface{}{"task_id": "task-1"})

	select {
	case raw := <-dev.Send:
		var msg PushMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode push: %v", err)
		}
		if msg.Type != "escrow.released" || msg.UserID != "dev-1" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("recipient never received the push")
	}

	select {
	case <-employer.Send:
		t.Fatalf("push must not leak to other users")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPushService_UnregisterClosesSend(t *testing.T) {
	t.Parallel()
	s := NewWebSocketPushService()

	conn := &Connection{ID: "c1", UserID: "dev-1", Send: make(chan []byte, 4)}
	s.RegisterConnection(conn)
	waitForConnections(t, s, 1)

	s.UnregisterConnection(conn)
	waitForConnections(t, s, 0)

	select {
	case _, ok := <-conn.Send:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("send channel never closed")
	}
}

func TestPushService_NotifyWithoutSubscribersIsANoop(t *testing.T) {
	t.Parallel()
	s := NewWebSocketPushService()

	// Nobody is listening; this must neither block nor panic.
	s.Notify("escrow.deposited", "nobody", map[string]interface{}{"task_id": "task-1"})
}
