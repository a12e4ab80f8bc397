// Package realtime pushes committed ledger events to connected parent apps.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/reach/reach-api/internal/pkg/events"
	"github.com/reach/reach-api/internal/pkg/metrics"
)

// eventsChannel carries events between API instances.
const eventsChannel = "tokens:events"

type envelope struct {
	SenderInstanceID string       `json:"sender_instance_id"`
	Event            events.Event `json:"event"`
}

// Connection is one websocket watching one child's account.
type Connection struct {
	ChildID uuid.UUID
	UserID  uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub fans events out to local connections and, when Redis is configured,
// to every other instance through pub/sub. It implements events.Publisher.
type Hub struct {
	connections map[uuid.UUID]map[*Connection]bool
	mu          sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
}

var _ events.Publisher = (*Hub)(nil)

func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]bool),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  uuid.NewString(),
	}
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, eventsChannel)
	}
	return h
}

// Run processes registrations until Shutdown (call in goroutine).
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.ChildID] == nil {
				h.connections[conn.ChildID] = make(map[*Connection]bool)
			}
			h.connections[conn.ChildID][conn] = true
			h.mu.Unlock()
			metrics.WebsocketConnections.Inc()
			log.Debug().Str("child_id", conn.ChildID.String()).Msg("Token feed connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.ChildID]; ok {
				if _, exists := conns[conn]; exists {
					delete(conns, conn)
					close(conn.Send)
					metrics.WebsocketConnections.Dec()
				}
				if len(conns) == 0 {
					delete(h.connections, conn.ChildID)
				}
			}
			h.mu.Unlock()
			log.Debug().Str("child_id", conn.ChildID.String()).Msg("Token feed disconnected")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.SenderInstanceID == h.instanceID {
				continue
			}
			data, err := json.Marshal(env.Event)
			if err != nil {
				continue
			}
			h.deliverLocal(env.Event.ChildID, data)
		}
	}
}

// Publish delivers event to local watchers of the child and forwards it to
// other instances. Delivery is best effort.
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.deliverLocal(event.ChildID, data)

	if h.redis == nil {
		return nil
	}
	payload, err := json.Marshal(envelope{SenderInstanceID: h.instanceID, Event: event})
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, eventsChannel, payload).Err()
}

func (h *Hub) deliverLocal(childID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections[childID] {
		select {
		case conn.Send <- data:
		default:
			log.Warn().Str("child_id", childID.String()).Msg("Token feed send buffer full")
		}
	}
}

// Register adds conn to its child's watchers. It reports false once the
// hub has been shut down.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// ConnectionCount returns the number of local connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// Shutdown stops Run and the Redis subscriber.
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
