package ws

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/state"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// ErrTooManyConnections is returned by AddClient when the connection
// limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn      *websocket.Conn
	b         *Broadcaster
	codec     Codec
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.b.RemoveClient(c)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Broadcaster fans state messages out to websocket clients. Each client
// has a bounded send buffer; a client that falls behind is
// disconnected rather than slowing everyone else down.
type Broadcaster struct {
	mu           sync.RWMutex
	clients      map[*client]bool
	store        *state.Store
	maxConns     int
	clientBuffer int
	seq          atomic.Uint64
	logger       *slog.Logger

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once
}

// NewBroadcaster returns a broadcaster serving store. A zero
// snapshotInterval disables periodic snapshots; maxConns <= 0 means no
// limit.
func NewBroadcaster(store *state.Store, snapshotInterval time.Duration, clientBuffer, maxConns int, logger *slog.Logger) *Broadcaster {
	if clientBuffer <= 0 {
		clientBuffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		clients:      make(map[*client]bool),
		store:        store,
		maxConns:     maxConns,
		clientBuffer: clientBuffer,
		logger:       logger,
		stop:         make(chan struct{}),
	}
	if snapshotInterval > 0 {
		b.snapshotTicker = time.NewTicker(snapshotInterval)
		go b.snapshotLoop()
	}
	return b
}

// AddClient registers conn and queues the current snapshot for it.
func (b *Broadcaster) AddClient(conn *websocket.Conn, codec Codec) (*client, error) {
	c := &client{
		conn:  conn,
		b:     b,
		codec: codec,
		send:  make(chan []byte, b.clientBuffer),
	}

	data, err := codec.Marshal(WSMessage{
		Type:    MsgSnapshot,
		Seq:     b.seq.Add(1),
		Payload: b.store.Snapshot(),
	})
	if err != nil {
		b.logger.Error("snapshot marshal failed", "codec", codec.Name(), "error", err)
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	// The snapshot goes into the empty buffer before any broadcast can
	// reach the client.
	if data != nil {
		select {
		case c.send <- data:
		default:
		}
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Reply sends msg to a single client, outside the sequence of
// broadcast messages.
func (b *Broadcaster) Reply(c *client, msg WSMessage) {
	data, err := c.codec.Marshal(msg)
	if err != nil {
		b.logger.Error("reply marshal failed", "codec", c.codec.Name(), "error", err)
		return
	}
	b.deliver(c, data)
}

func (b *Broadcaster) BroadcastEvent(ev bridge.Event) {
	b.broadcast(WSMessage{Type: MsgEvent, Payload: ev})
}

func (b *Broadcaster) BroadcastHealth(h state.Health) {
	b.broadcast(WSMessage{Type: MsgHealth, Payload: HealthPayload{Subsystems: []state.Health{h}}})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.snapshotTicker.C:
			b.broadcast(WSMessage{Type: MsgSnapshot, Payload: b.store.Snapshot()})
		case <-b.stop:
			return
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	msg.Seq = b.seq.Add(1)

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	// Encode at most once per codec in use.
	encoded := make(map[string][]byte, 2)
	for _, c := range clients {
		data, ok := encoded[c.codec.Name()]
		if !ok {
			var err error
			data, err = c.codec.Marshal(msg)
			if err != nil {
				b.logger.Error("broadcast marshal failed", "type", msg.Type, "codec", c.codec.Name(), "error", err)
				return
			}
			encoded[c.codec.Name()] = data
		}
		b.deliver(c, data)
	}
}

func (b *Broadcaster) deliver(c *client, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		b.logger.Warn("ws client too slow, disconnecting", "remote", c.conn.RemoteAddr())
		go b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends periodic snapshots and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		if b.snapshotTicker != nil {
			b.snapshotTicker.Stop()
		}
		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			c.close()
		}
		b.mu.Unlock()
	})
}
