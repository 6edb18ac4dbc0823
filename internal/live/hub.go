package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"legalease/internal/auth"
	"legalease/internal/chat"
	"legalease/internal/logging"
	"legalease/internal/redis"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	channelPrefix = "chat_updates:"
	writeTimeout  = 10 * time.Second
)

// Sessions resolves the live chat session of a visitor.
type Sessions interface {
	Get(ctx context.Context, id string) (*chat.Session, error)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes chat snapshots to every open tab of a visitor. With Redis the
// snapshots travel through pub/sub so tabs served by other instances see them too.
type Hub struct {
	rdb      *redis.Client
	sessions Sessions
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	cancels map[string]context.CancelFunc
}

func NewHub(rdb *redis.Client, sessions Sessions) *Hub {
	return &Hub{
		rdb:      rdb,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]map[*client]struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Publish fans a snapshot out to the visitor's connections.
func (h *Hub) Publish(snap chat.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logging.L().Error("encode snapshot", zap.String("session_id", snap.ID), zap.Error(err))
		return
	}
	h.publish(snap.ID, data)
}

// DocumentsChanged tells the visitor's tabs that the document list moved on.
func (h *Hub) DocumentsChanged(sessionID string) {
	h.publish(sessionID, []byte(`{"event":"documents"}`))
}

func (h *Hub) publish(sessionID string, data []byte) {
	if h.rdb.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := h.rdb.Publish(ctx, channelPrefix+sessionID, data)
		if err == nil {
			return
		}
		logging.L().Warn("publish update failed, delivering locally", zap.String("session_id", sessionID), zap.Error(err))
	}
	h.broadcast(sessionID, data)
}

// HandleWebSocket upgrades the request and streams snapshots of the caller's
// session, starting with the current one.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		logging.WithCtx(c.Request.Context()).Error("load session for live stream", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unable to load session"})
		return
	}

	// the 101 response must carry the visitor cookies set by the middleware
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, c.Writer.Header())
	if err != nil {
		logging.WithCtx(c.Request.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{conn: conn}
	h.register(sessionID, cl)
	defer h.unregister(sessionID, cl)

	if data, err := json.Marshal(session.Snapshot()); err == nil {
		if err := cl.send(data); err != nil {
			return
		}
	}
	// the stream is one-way; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every client and stops the subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.clients {
		for cl := range set {
			cl.conn.Close()
		}
		delete(h.clients, id)
	}
	for id, cancel := range h.cancels {
		cancel()
		delete(h.cancels, id)
	}
}

// Connections reports how many clients follow the session.
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) register(sessionID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[sessionID] = set
	}
	set[cl] = struct{}{}

	if len(set) == 1 && h.rdb.Enabled() {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancels[sessionID] = cancel
		go h.subscribe(ctx, sessionID)
	}
	logging.L().Debug("live client connected", zap.String("session_id", sessionID), zap.Int("clients", len(set)))
}

func (h *Hub) unregister(sessionID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl.conn.Close()
	set := h.clients[sessionID]
	delete(set, cl)
	if len(set) == 0 {
		delete(h.clients, sessionID)
		if cancel, ok := h.cancels[sessionID]; ok {
			cancel()
			delete(h.cancels, sessionID)
		}
	}
	logging.L().Debug("live client disconnected", zap.String("session_id", sessionID))
}

func (h *Hub) subscribe(ctx context.Context, sessionID string) {
	pubsub, err := h.rdb.Subscribe(ctx, channelPrefix+sessionID)
	if err != nil {
		if ctx.Err() == nil {
			logging.L().Warn("subscribe to session updates", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[sessionID]))
	for cl := range h.clients[sessionID] {
		targets = append(targets, cl)
	}
	h.mu.RUnlock()

	for _, cl := range targets {
		if err := cl.send(data); err != nil {
			logging.L().Debug("live write failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}
