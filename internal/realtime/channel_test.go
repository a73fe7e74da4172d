package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gasflow/orderflow/internal/identity"
	"github.com/gasflow/orderflow/internal/order"
)

var testLogger = slog.New(slog.NewTextHandler(testWriter{}, nil))

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startStream serves one websocket connection, pushing the given raw
// frames in order and then blocking until the client goes away.
func startStream(t *testing.T, frames [][]byte) *Channel {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return NewChannel("ws"+strings.TrimPrefix(srv.URL, "http"), testLogger)
}

func mustFrame(t *testing.T, kind string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(frame{Type: kind, Payload: raw})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribe_OrderCreated(t *testing.T) {
	o := order.Order{ID: uuid.New(), Status: order.StatusPending, OrderedAt: time.Now().UTC()}
	ch := startStream(t, [][]byte{mustFrame(t, string(KindOrderCreated), o)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := ch.Subscribe(ctx, identity.Guest("dev-1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := recvEvent(t, events)
	if ev.Kind != KindOrderCreated {
		t.Fatalf("kind: got %s", ev.Kind)
	}
	if ev.Order.ID != o.ID || ev.Order.Status != order.StatusPending {
		t.Errorf("order: got (%s, %s)", ev.Order.ID, ev.Order.Status)
	}
}

func TestSubscribe_StatusChanged(t *testing.T) {
	orderID := uuid.New()
	ch := startStream(t, [][]byte{mustFrame(t, string(KindOrderStatusChanged), statusChangedPayload{
		OrderID:   orderID,
		Status:    "PREPARING",
		OrderedAt: time.Now().UTC(),
	})})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := ch.Subscribe(ctx, identity.Guest("dev-1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := recvEvent(t, events)
	if ev.Kind != KindOrderStatusChanged {
		t.Fatalf("kind: got %s", ev.Kind)
	}
	if ev.OrderID != orderID || ev.Status != order.StatusPreparing {
		t.Errorf("event: got (%s, %s)", ev.OrderID, ev.Status)
	}
}

func TestSubscribe_SkipsMalformedFrames(t *testing.T) {
	orderID := uuid.New()
	ch := startStream(t, [][]byte{
		[]byte(`not json`),
		mustFrame(t, "something.else", map[string]string{}),
		mustFrame(t, string(KindOrderStatusChanged), statusChangedPayload{OrderID: orderID, Status: "DELIVERED"}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := ch.Subscribe(ctx, identity.Guest("dev-1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := recvEvent(t, events)
	if ev.OrderID != orderID || ev.Status != order.StatusDelivered {
		t.Errorf("event after malformed frames: got (%s, %s)", ev.OrderID, ev.Status)
	}
}

func TestSubscribe_ClosesOnCancel(t *testing.T) {
	ch := startStream(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := ch.Subscribe(ctx, identity.Guest("dev-1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected channel close, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after cancel")
	}
}

func TestDecode_UnknownStatusRejected(t *testing.T) {
	raw, _ := json.Marshal(statusChangedPayload{OrderID: uuid.New(), Status: "BOGUS"})
	data, _ := json.Marshal(frame{Type: string(KindOrderStatusChanged), Payload: raw})
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for unknown status, got nil")
	}
}
