package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/chatflow/internal/dispatch"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

// Dispatcher 处理一条入站消息并返回回复。
type Dispatcher interface {
	Handle(ctx context.Context, ev dispatch.Event) ([]session.Reply, error)
}

// WebSocketHandler WebSocket会话处理器
type WebSocketHandler struct {
	dispatcher  Dispatcher
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(dispatcher Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher:  dispatcher,
		readTimeout: readTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connWriter 串行化同一连接上的写操作
type connWriter struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
}

func (c *connWriter) write(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Send 实现 dispatch.Sender，将回复写回客户端
func (c *connWriter) Send(_ context.Context, _ string, reply session.Reply) error {
	return c.write("reply", reply)
}

func (c *connWriter) sendError(message string) {
	if err := c.write("error", map[string]string{"message": message}); err != nil {
		log.Printf("[websocket] failed to send error: %v", err)
	}
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 读超时只约束空闲等待；每轮处理结束后重新计时
	arm := func() { conn.SetReadDeadline(time.Now().Add(h.readTimeout)) }
	arm()
	conn.SetPongHandler(func(string) error {
		arm()
		return nil
	})

	writer := &connWriter{conn: conn, sessionID: sessionID}
	go h.pingLoop(ctx, writer)

	if err := writer.write("connected", map[string]string{"sessionId": sessionID}); err != nil {
		log.Printf("[websocket] failed to send greeting: %v", err)
		return
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		if msg.SessionID != "" && msg.SessionID != sessionID {
			writer.sendError("session mismatch")
			arm()
			continue
		}

		h.handleMessage(ctx, writer, &msg)
		arm()
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, writer *connWriter, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			writer.sendError("invalid text payload")
			return
		}
		if text.Text == "" {
			return
		}

		ev := dispatch.Event{SessionID: writer.sessionID, Text: text.Text, Sender: writer}
		if _, err := h.dispatcher.Handle(ctx, ev); err != nil {
			log.Printf("[websocket] session=%s event failed: %v", writer.sessionID, err)
			writer.sendError("event processing failed")
		}
	default:
		writer.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, writer *connWriter) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Printf("[websocket] ping failed: %v", err)
				return
			}
		}
	}
}
