package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/sluice/types"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// serve runs handler on the server side of a fresh connection and returns
// the client side.
func serve(t *testing.T, handler func(conn *websocket.Conn)) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		handler(conn)
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSink_WritesEventsInOrder(t *testing.T) {
	events := []*types.CanonicalEvent{
		{Seq: 1, Name: types.EventThought, StreamID: "s-1", Payload: map[string]any{"text": "planning"}},
		{Seq: 2, Name: types.EventContentDelta, StreamID: "s-1", Payload: map[string]any{"delta": "hi"}},
		{Seq: 3, Name: types.EventMessageComplete, StreamID: "s-1", Payload: map[string]any{"text": "hi"}, Complete: true},
	}

	client := serve(t, func(conn *websocket.Conn) {
		sink := NewSink(conn, time.Second)
		if err := sink.WriteEvents(context.Background(), events[:2]); err != nil {
			t.Errorf("write: %v", err)
		}
		if err := sink.WriteEvents(context.Background(), events[2:]); err != nil {
			t.Errorf("write: %v", err)
		}
		_ = sink.Close()
	})

	for _, want := range events {
		var got types.CanonicalEvent
		if err := client.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Seq != want.Seq || got.Name != want.Name {
			t.Errorf("got %d/%s, want %d/%s", got.Seq, got.Name, want.Seq, want.Name)
		}
	}

	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal closure, got %v", err)
	}
}

func TestSink_ClosedRejectsWrites(t *testing.T) {
	result := make(chan error, 1)
	client := serve(t, func(conn *websocket.Conn) {
		sink := NewSink(conn, time.Second)
		_ = sink.Close()
		_ = sink.Close()
		result <- sink.WriteEvents(context.Background(), []*types.CanonicalEvent{{Seq: 1, Name: types.EventMetadata}})
	})
	_, _, _ = client.ReadMessage()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestReadRequest(t *testing.T) {
	got := make(chan string, 1)
	client := serve(t, func(conn *websocket.Conn) {
		data, err := ReadRequest(conn, time.Second)
		if err != nil {
			t.Errorf("ReadRequest: %v", err)
		}
		got <- string(data)
		_ = conn.Close()
	})

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"query":"go developers"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case body := <-got:
		if body != `{"query":"go developers"}` {
			t.Errorf("request = %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestWatchClose_CancelsOnPeerClose(t *testing.T) {
	canceled := make(chan struct{})
	client := serve(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithCancel(context.Background())
		WatchClose(conn, cancel)
		<-ctx.Done()
		close(canceled)
	})

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	_ = client.Close()

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("context not canceled after peer close")
	}
}
