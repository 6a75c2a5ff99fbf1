// Package eventbus fans out DAG trace and control-state events to
// WebSocket-connected dashboard clients, channeled by DAG id, with a
// catchup query against the already-persisted trace so a client that
// subscribes mid-run doesn't miss earlier events.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/casys-ai/pml/pkg/models"
)

// writeTimeout bounds how long a single client send may block before
// being treated as a dead connection.
const writeTimeout = 5 * time.Second

// CatchupQuerier supplies a DAG's trace history to a client that
// subscribes after the run has already started. Satisfied by
// *store.TraceRepo.
type CatchupQuerier interface {
	ForDAG(ctx context.Context, dagID string) (models.ExecutionTrace, error)
}

// Event is one message broadcast to subscribers of a DAG's channel.
type Event struct {
	Type  string `json:"type"`
	DAGID string `json:"dag_id"`
	Data  any    `json:"data,omitempty"`
}

type connection struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Bus tracks WebSocket connections and their per-DAG channel
// subscriptions, and broadcasts trace/control events to every
// subscriber of the relevant DAG id.
type Bus struct {
	catchup CatchupQuerier
	logger  *slog.Logger

	mu          sync.RWMutex
	connections map[string]*connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // dagID -> connection ids
}

// New builds a Bus. catchup may be nil, in which case a client that
// subscribes mid-run simply receives no backlog.
func New(catchup CatchupQuerier, logger *slog.Logger) *Bus {
	return &Bus{
		catchup:     catchup,
		logger:      logger,
		connections: make(map[string]*connection),
		channels:    make(map[string]map[string]bool),
	}
}

// HandleConnection manages the lifecycle of an already-accepted WebSocket
// connection, blocking until it closes. The gateway's websocket route
// handler performs the HTTP upgrade and then calls this directly.
func (b *Bus) HandleConnection(parentCtx context.Context, wsConn *websocket.Conn, connID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{id: connID, conn: wsConn, ctx: ctx, cancel: cancel}

	b.mu.Lock()
	b.connections[connID] = c
	b.mu.Unlock()

	defer b.unregister(c)

	for {
		var msg clientMessage
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			return
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logf("invalid eventbus client message", "connection_id", connID, "error", err)
			continue
		}
		b.handle(ctx, c, msg)
	}
}

// clientMessage is what a dashboard client sends over the socket: a
// subscribe/unsubscribe request naming the DAG id it wants events for.
type clientMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	DAGID  string `json:"dag_id"`
}

func (b *Bus) handle(ctx context.Context, c *connection, msg clientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.DAGID == "" {
			return
		}
		b.subscribe(c, msg.DAGID)
		b.sendCatchup(ctx, c, msg.DAGID)
	case "unsubscribe":
		b.unsubscribe(c, msg.DAGID)
	}
}

func (b *Bus) subscribe(c *connection, dagID string) {
	b.channelMu.Lock()
	defer b.channelMu.Unlock()
	if b.channels[dagID] == nil {
		b.channels[dagID] = make(map[string]bool)
	}
	b.channels[dagID][c.id] = true
}

func (b *Bus) unsubscribe(c *connection, dagID string) {
	b.channelMu.Lock()
	defer b.channelMu.Unlock()
	if subs, ok := b.channels[dagID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(b.channels, dagID)
		}
	}
}

func (b *Bus) sendCatchup(ctx context.Context, c *connection, dagID string) {
	if b.catchup == nil {
		return
	}
	trace, err := b.catchup.ForDAG(ctx, dagID)
	if err != nil {
		b.logf("catchup query failed", "dag_id", dagID, "error", err)
		return
	}
	for _, ev := range trace.Events {
		b.send(c, Event{Type: "trace." + ev.Kind, DAGID: dagID, Data: ev})
	}
}

// Publish broadcasts an event to every connection currently subscribed
// to dagID's channel. Best-effort: a send failure drops that connection
// without failing the publish for other subscribers.
func (b *Bus) Publish(dagID string, eventType string, data any) {
	b.channelMu.RLock()
	subs, ok := b.channels[dagID]
	if !ok {
		b.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	b.channelMu.RUnlock()

	b.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := b.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	b.mu.RUnlock()

	event := Event{Type: eventType, DAGID: dagID, Data: data}
	for _, c := range conns {
		b.send(c, event)
	}
}

func (b *Bus) send(c *connection, event Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		b.logf("failed to marshal event", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, raw); err != nil {
		b.logf("failed to write to subscriber, dropping connection", "connection_id", c.id, "error", err)
		go b.unregister(c)
	}
}

func (b *Bus) unregister(c *connection) {
	b.channelMu.Lock()
	for dagID, subs := range b.channels {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(b.channels, dagID)
		}
	}
	b.channelMu.Unlock()

	b.mu.Lock()
	delete(b.connections, c.id)
	b.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// ActiveConnections reports the number of currently-open WebSocket
// connections, used by a health/metrics endpoint.
func (b *Bus) ActiveConnections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

func (b *Bus) logf(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}
