package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/auth"
	"infraflow/task-portal/task-portal-backend/internal/notifications"
	"infraflow/task-portal/task-portal-backend/internal/workflow"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// ErrClosed is returned by Deliver after Close
var ErrClosed = errors.New("websocket manager closed")

// Manager streams committed workflow changes to websocket subscribers
type Manager struct {
	hub       *hub
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	closeOnce sync.Once
}

// Connection is one subscribed client. A non-empty TaskID limits the feed to
// that task.
type Connection struct {
	ID          string
	UserID      string
	TaskID      string
	Conn        *websocket.Conn
	Send        chan notifications.Message
	ConnectedAt time.Time
}

type hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.Message
	register    chan *Connection
	unregister  chan *Connection
	count       chan chan int
	stop        chan struct{}
	done        chan struct{}
	logger      *zap.Logger
}

// NewManager creates a new websocket manager and starts its hub
func NewManager(logger *zap.Logger, allowedOrigins ...string) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.Message, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		count:       make(chan chan int),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger,
	}
	go h.run()

	return &Manager{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Handler upgrades authenticated requests to a subscription. The optional
// task_id query parameter narrows the feed.
func (m *Manager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		taskID := c.Query("task_id")
		if taskID != "" {
			if _, err := uuid.Parse(taskID); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid task_id"})
				return
			}
		}
		if _, err := m.HandleConnection(c.Writer, c.Request, user.ID.String(), taskID); err != nil {
			m.logger.Warn("Websocket upgrade failed", zap.Error(err))
		}
	}
}

// HandleConnection upgrades the request and registers the subscriber
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID, taskID string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		TaskID:      taskID,
		Conn:        conn,
		Send:        make(chan notifications.Message, sendBuffer),
		ConnectedAt: time.Now(),
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, ErrClosed
	}

	go m.readPump(connection)
	go m.writePump(connection)
	return connection, nil
}

// readPump discards client frames and keeps the read deadline fresh
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.Conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("Websocket read error", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// run owns the connection set; only it closes Send channels
func (h *hub) run() {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			h.logger.Debug("Websocket connection registered",
				zap.String("connection_id", conn.ID),
				zap.String("user_id", conn.UserID))

		case conn := <-h.unregister:
			h.drop(conn)

		case message := <-h.broadcast:
			for conn := range h.connections {
				if conn.TaskID != "" && conn.TaskID != message.TaskID {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					// Slow subscriber
					h.drop(conn)
				}
			}

		case reply := <-h.count:
			reply <- len(h.connections)

		case <-h.stop:
			for conn := range h.connections {
				h.drop(conn)
			}
			return
		}
	}
}

func (h *hub) drop(conn *Connection) {
	if _, ok := h.connections[conn]; !ok {
		return
	}
	delete(h.connections, conn)
	close(conn.Send)
	h.logger.Debug("Websocket connection unregistered", zap.String("connection_id", conn.ID))
}

// Name implements notifications.Sink
func (m *Manager) Name() string { return "websocket" }

// Deliver implements notifications.Sink by broadcasting the change
func (m *Manager) Deliver(ctx context.Context, event workflow.Event) error {
	return m.Broadcast(ctx, notifications.NewMessage(event))
}

// Broadcast queues a message for every matching subscriber
func (m *Manager) Broadcast(ctx context.Context, message notifications.Message) error {
	select {
	case <-m.hub.done:
		return ErrClosed
	default:
	}
	select {
	case m.hub.broadcast <- message:
		return nil
	case <-m.hub.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("broadcast channel full: %w", ctx.Err())
	}
}

// GetConnectionCount returns the number of active subscribers
func (m *Manager) GetConnectionCount() int {
	reply := make(chan int, 1)
	select {
	case m.hub.count <- reply:
		return <-reply
	case <-m.hub.done:
		return 0
	}
}

// Close disconnects every subscriber and stops the hub
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.hub.stop) })
	<-m.hub.done
}
