package view

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"taskrelay/internal/commands"
	"taskrelay/internal/engine"
	"taskrelay/internal/host"
	"taskrelay/internal/identity"
	"taskrelay/internal/messages"
	"taskrelay/internal/persistence"
)

// httptestHandler upgrades every request and hands the resulting connection
// to fn, closing it afterward.
func httptestHandler(fn func(*websocket.Conn)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}
}

func TestTransportRelaysDispatchedCommandToEngine(t *testing.T) {
	sim := host.NewSim()
	id := identity.NewTaskID(identity.SourceWorkspace, "build")
	sim.AddTask(identity.HostTask{ID: id, Name: "build", Source: identity.SourceWorkspace})

	layer := persistence.New(persistence.NewMemKV(), persistence.NewMemKV(), persistence.DefaultRetentionConfig())
	defer layer.Close()
	emitter := messages.NewEmitter(nil)
	e := engine.New(sim, layer, emitter)
	defer e.Close()

	dispatcher := commands.New(e, layer, emitter, sim)
	transport := NewTransport(dispatcher, time.Second)

	server := httptest.NewServer(transport)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("unexpected error dialing: %v", err)
	}
	defer conn.Close()

	frame, err := MarshalFrame(commands.Command{Type: "ready"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("unexpected error writing frame: %v", err)
	}

	// Give the dispatcher's synchronous ready handler time to run on the
	// server goroutine; the assertion is on engine-side state, not a reply
	// read back over the socket, so no deadline read is needed here.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.Tasks()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(e.Tasks()) != 1 {
		t.Fatalf("expected ready to have refreshed the task cache, got %d tasks", len(e.Tasks()))
	}
}

func TestConnSinkWritesJSONMessage(t *testing.T) {
	mux := httptestNewUpgradeOnlyServer(t)
	defer mux.Close()

	wsURL := "ws" + strings.TrimPrefix(mux.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("unexpected error dialing: %v", err)
	}
	defer conn.Close()

	var got messages.Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}
	if got.Type != messages.TaskStarted {
		t.Fatalf("expected taskStarted, got %v", got.Type)
	}
	if got.Payload["taskLabel"] != "build" {
		t.Fatalf("expected taskLabel build, got %v", got.Payload["taskLabel"])
	}
}

// httptestNewUpgradeOnlyServer upgrades the single incoming connection and
// pushes one message through a connSink built via SinkFor, then returns.
func httptestNewUpgradeOnlyServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(httptestHandler(func(conn *websocket.Conn) {
		sink := SinkFor(conn, time.Second)
		sink.Send(messages.Message{Type: messages.TaskStarted, Payload: map[string]any{"taskLabel": "build"}})
	}))
}

