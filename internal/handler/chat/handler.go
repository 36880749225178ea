package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/chatflow/internal/dispatch"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
	chatService "github.com/zhouzirui/z-tavern/chatflow/internal/service/chat"
	"github.com/zhouzirui/z-tavern/chatflow/pkg/utils"
)

// Dispatcher 处理一条入站消息并返回回复。
type Dispatcher interface {
	Handle(ctx context.Context, ev dispatch.Event) ([]session.Reply, error)
}

// SessionReader 提供会话与聊天记录的只读访问。
type SessionReader interface {
	ListSessions(ctx context.Context) []session.Session
	GetSession(ctx context.Context, id string) (session.Session, error)
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	dispatcher Dispatcher
	sessions   SessionReader
}

// New 创建聊天处理器
func New(dispatcher Dispatcher, sessions SessionReader) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		sessions:   sessions,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.handleEvent)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/messages", h.handleTranscript)
}

type eventResponse struct {
	SessionID string          `json:"sessionId"`
	Replies   []session.Reply `json:"replies"`
}

// handleEvent 将一条文本送入会话流程
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	replies, err := h.dispatcher.Handle(r.Context(), dispatch.Event{SessionID: sessionID, Text: payload.Text})
	if err != nil {
		log.Printf("[chat] session=%s event failed: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	if replies == nil {
		replies = []session.Reply{}
	}

	utils.RespondJSON(w, http.StatusOK, eventResponse{SessionID: sessionID, Replies: replies})
}

// handleListSessions 列出所有活跃会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sessions.ListSessions(r.Context()))
}

// handleGetSession 查询会话当前状态
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		respondLookupError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sess)
}

// handleTranscript 返回会话的聊天记录
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.sessions.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		respondLookupError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
