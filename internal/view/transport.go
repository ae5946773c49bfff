// Package view is the websocket transport between the engine and a
// connected view process: inbound commands.Command frames come in over the
// socket, and SinkFor adapts a connection for outbound messages.Message
// values, in the pack's
// gorilla/websocket client-dial style (seen driving a /stream endpoint),
// mirrored here on the server side.
package view

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskrelay/internal/commands"
	"taskrelay/internal/logging"
	"taskrelay/internal/messages"
)

var log = logging.NewComponentLogger("view")

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// inboundFrame is the wire shape of one command frame from the view.
type inboundFrame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Transport upgrades an HTTP connection to a websocket and decodes inbound
// frames into commands.Command values for the dispatcher. It does not attach
// the connection to any messages.Emitter: outbound messages reach a
// connection only through a Sink built with SinkFor.
type Transport struct {
	dispatcher   *commands.Dispatcher
	writeTimeout time.Duration
}

// NewTransport returns a Transport driving dispatcher, writing outbound
// frames with the given per-write deadline.
func NewTransport(dispatcher *commands.Dispatcher, writeTimeout time.Duration) *Transport {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Transport{dispatcher: dispatcher, writeTimeout: writeTimeout}
}

// connSink adapts one live websocket connection to messages.Sink, so an
// Emitter can write its outbound messages to that connection.
type connSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *connSink) Send(m messages.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(m); err != nil {
		log.Warn("write to view failed: %v", err)
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// connection closes or the request's context is cancelled.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		if ctx.Err() != nil {
			return
		}
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("read from view failed: %v", err)
			}
			return
		}
		t.dispatcher.Dispatch(ctx, commands.Command{Type: frame.Type, Payload: frame.Payload})
	}
}

// SinkFor returns a messages.Sink writing to conn, for wiring a single
// connection's lifetime into an Emitter (e.g. a CLI-only demo mode that
// skips the HTTP upgrade and dials directly).
func SinkFor(conn *websocket.Conn, writeTimeout time.Duration) messages.Sink {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &connSink{conn: conn, writeTimeout: writeTimeout}
}

// MarshalFrame renders a command as the JSON wire frame a connected view
// would send.
func MarshalFrame(cmd commands.Command) ([]byte, error) {
	return json.Marshal(inboundFrame{Type: cmd.Type, Payload: cmd.Payload})
}
