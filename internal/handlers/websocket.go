// -----------------------------------------------------------------------
// WebSocket Handler - Live event stream for supervisors
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10

	defaultSendBuffer = 64

	// usageSnapshotInterval paces the periodic pressure broadcast
	usageSnapshotInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame pushed to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient is one connected supervisor. Frames go through a buffered
// send channel; a client that cannot drain it is disconnected rather
// than allowed to stall the broadcast path.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHandler bridges the event bus onto connected websocket
// clients: job and worker transitions as they happen, resource usage on
// a timer.
type WebSocketHandler struct {
	logger     arbor.ILogger
	events     interfaces.EventService
	scheduler  interfaces.SchedulerService
	resources  interfaces.ResourceService
	sendBuffer int
	throttlers map[interfaces.EventType]*rate.Limiter

	mu      sync.RWMutex
	clients map[*wsClient]bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHandler creates the handler and subscribes it to the bus
func NewWebSocketHandler(events interfaces.EventService, scheduler interfaces.SchedulerService, resources interfaces.ResourceService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:     logger,
		events:     events,
		scheduler:  scheduler,
		resources:  resources,
		sendBuffer: defaultSendBuffer,
		throttlers: make(map[interfaces.EventType]*rate.Limiter),
		clients:    make(map[*wsClient]bool),
		stop:       make(chan struct{}),
	}

	if config != nil && config.SendBuffer > 0 {
		h.sendBuffer = config.SendBuffer
	}

	// Throttlers exist only for event types named in config; everything
	// else broadcasts unthrottled.
	if config != nil {
		for name, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Str("event_type", name).
					Str("interval", intervalStr).
					Msg("Invalid throttle interval, throttling disabled for event type")
				continue
			}
			h.throttlers[interfaces.EventType(name)] = rate.NewLimiter(rate.Every(duration), 1)
		}
	}

	if events != nil {
		h.subscribe()
	}
	return h
}

func (h *WebSocketHandler) subscribe() {
	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobStatusChange,
		interfaces.EventWorkerStatusChange,
		interfaces.EventUsageSnapshot,
	} {
		et := eventType
		h.events.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			if !h.allow(et) {
				return nil
			}
			h.broadcast(string(et), event.Payload)
			return nil
		})
	}
}

func (h *WebSocketHandler) allow(eventType interfaces.EventType) bool {
	limiter, ok := h.throttlers[eventType]
	if !ok {
		return true
	}
	return limiter.Allow()
}

// HandleWebSocket upgrades the connection and serves it until the client
// goes away
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	go client.writePump()

	// New clients get the current pressure picture immediately instead
	// of waiting for the next timer tick.
	if frame, err := json.Marshal(WSMessage{Type: string(interfaces.EventUsageSnapshot), Payload: h.snapshot()}); err == nil {
		select {
		case client.send <- frame:
		default:
		}
	}

	defer func() {
		h.closeClient(client)
		h.mu.RLock()
		remaining := len(h.clients)
		h.mu.RUnlock()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Inbound frames are ignored; the read loop exists to notice
	// disconnects and answer pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// StartUsageBroadcaster pushes a usage snapshot through the bus on a
// fixed cadence while at least one client is connected
func (h *WebSocketHandler) StartUsageBroadcaster() {
	ticker := time.NewTicker(usageSnapshotInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.mu.RLock()
				clientCount := len(h.clients)
				h.mu.RUnlock()
				if clientCount == 0 {
					continue
				}
				h.events.Publish(context.Background(), interfaces.Event{
					Type:    interfaces.EventUsageSnapshot,
					Payload: h.snapshot(),
				})
			}
		}
	}()
}

// Stop halts the broadcaster and disconnects every client
func (h *WebSocketHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.closeClient(client)
	}
}

func (h *WebSocketHandler) snapshot() models.UsageSnapshotEvent {
	return models.UsageSnapshotEvent{
		Usage:      h.resources.Usage(),
		ActiveJobs: h.scheduler.ActiveJobs(),
		At:         time.Now().UTC(),
	}
}

// broadcast fans one frame out to every connected client. Sends are
// non-blocking; a client with a full buffer is dropped.
func (h *WebSocketHandler) broadcast(eventType string, payload interface{}) {
	frame, err := json.Marshal(WSMessage{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to marshal event frame")
		return
	}

	var slow []*wsClient
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn().Msg("Dropping slow WebSocket client")
		h.closeClient(client)
	}
}

// closeClient unregisters the client and closes its send channel, which
// ends the write pump and closes the connection. Safe to call more than
// once per client.
func (h *WebSocketHandler) closeClient(client *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
