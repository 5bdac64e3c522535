// Package wsgateway forwards the Session Controller's ordered event stream
// to a browser UI shell over a WebSocket connection. It is the one place
// this core talks to its out-of-scope rendering layer: events flow out
// only, and nothing here reaches back into playback logic.
package wsgateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ssi-learning/playbackcore/pkg/types"
)

// writeTimeout bounds how long a single event write may take before the
// connection is considered unresponsive and dropped.
const writeTimeout = 5 * time.Second

// wireEvent is the JSON-over-the-wire shape of a types.Event. Err is
// flattened to its message since error values do not marshal.
type wireEvent struct {
	Kind        types.EventKind `json:"kind"`
	TimestampMs int64           `json:"timestampMs"`
	Progress    types.Progress  `json:"progress"`
	RoundNumber int             `json:"roundNumber"`
	ItemIndex   int             `json:"itemIndex"`
	Error       string          `json:"error,omitempty"`
}

func toWire(e types.Event) wireEvent {
	w := wireEvent{
		Kind:        e.Kind,
		TimestampMs: e.Timestamp.Milliseconds(),
		Progress:    e.Progress,
		RoundNumber: e.RoundNumber,
		ItemIndex:   e.ItemIndex,
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return w
}

// Connection wraps one accepted WebSocket connection and serialises writes
// to it, since a Session Controller listener may be invoked from more than
// one goroutine path (player phase events, controller lifecycle events).
type Connection struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// ID returns the connection's unique identifier, useful for log
// correlation across a multi-learner deployment.
func (c *Connection) ID() string { return c.id }

// Send marshals evt and writes it as a single text frame. Write errors are
// returned to the caller (typically the gateway's listener adapter, which
// logs them and keeps the connection) rather than panicking the caller's event
// emission path.
func (c *Connection) Send(evt types.Event) error {
	payload, err := json.Marshal(toWire(evt))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// Close closes the underlying connection with a normal closure status.
func (c *Connection) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// Gateway accepts incoming WebSocket connections and hands each one to a
// caller-supplied handler, which is expected to register the returned
// Connection's Send method as an event listener on a Session Controller.
type Gateway struct {
	// AcceptOptions is forwarded to websocket.Accept for every connection,
	// e.g. to configure the allowed CORS origin for the browser UI shell.
	AcceptOptions *websocket.AcceptOptions

	// OnConnect is called once per accepted connection, on its own
	// goroutine. The handler should block until the connection should be
	// torn down (e.g. by reading control frames with conn.Listen, or by
	// waiting on a session-done channel); when it returns, the connection
	// is closed.
	OnConnect func(conn *Connection)
}

// ServeHTTP implements http.Handler, accepting one WebSocket connection per
// request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, g.AcceptOptions)
	if err != nil {
		slog.Error("wsgateway: accept failed", "error", err)
		return
	}
	conn := &Connection{id: uuid.NewString(), conn: wsConn}
	defer conn.Close()

	slog.Info("wsgateway: connection accepted", "connectionId", conn.id)
	if g.OnConnect != nil {
		g.OnConnect(conn)
	}
	slog.Info("wsgateway: connection closed", "connectionId", conn.id)
}

// Listener returns a function matching the player/sessionctl Listener
// signature, forwarding every event to conn and logging (without dropping
// the connection eagerly) on write failure.
func Listener(conn *Connection) func(types.Event) {
	return func(evt types.Event) {
		if err := conn.Send(evt); err != nil {
			slog.Warn("wsgateway: event send failed", "connectionId", conn.ID(), "event", evt.Kind, "error", err)
		}
	}
}
