package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/chatflow/internal/dispatch"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
	"github.com/zhouzirui/z-tavern/chatflow/pkg/utils"
)

// Dispatcher runs one event and delivers its replies through ev.Sender.
type Dispatcher interface {
	Handle(ctx context.Context, ev dispatch.Event) ([]session.Reply, error)
}

// Handler streams workflow replies as Server-Sent Events while the turn runs.
type Handler struct {
	dispatcher Dispatcher
}

// New creates a new stream handler
func New(dispatcher Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes mounts the streaming endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events/stream", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	SessionID  string             `json:"sessionId"`
	Text       string             `json:"text,omitempty"`
	Formatting session.Formatting `json:"formatting,omitempty"`
	Finished   bool               `json:"finished,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
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

	stream, err := utils.NewSSEStream(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := &streamWriter{stream: stream}
	defer out.close()

	out.event("start", StreamResponse{SessionID: sessionID})

	_, err = h.dispatcher.Handle(r.Context(), dispatch.Event{
		SessionID: sessionID,
		Text:      payload.Text,
		Sender:    out,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("[stream] session=%s client went away", sessionID)
			return
		}
		log.Printf("[stream] session=%s event failed: %v", sessionID, err)
		out.event("error", StreamResponse{SessionID: sessionID, Error: "event processing failed"})
	}

	out.event("end", StreamResponse{SessionID: sessionID, Finished: true})
}

// streamWriter is the dispatch.Sender for one request. Replies that arrive
// after the handler returned are dropped.
type streamWriter struct {
	mu     sync.Mutex
	stream *utils.SSEStream
	closed bool
}

func (s *streamWriter) Send(_ context.Context, sessionID string, reply session.Reply) error {
	return s.event("reply", StreamResponse{
		SessionID:  sessionID,
		Text:       reply.Text,
		Formatting: reply.Formatting,
	})
}

func (s *streamWriter) event(name string, data StreamResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if err := s.stream.Event(name, data); err != nil {
		log.Printf("[stream] session=%s %v", data.SessionID, err)
		return err
	}
	return nil
}

func (s *streamWriter) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
