package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/chatflow/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
)

var (
	ErrSessionIDRequired = errors.New("session id is required")
	ErrSessionNotFound   = errors.New("session not found")
)

const defaultTranscriptLimit = 200

// Persister is the optional durable backing for sessions.
type Persister interface {
	Put(ctx context.Context, sess session.Session) error
	Get(ctx context.Context, id string) (session.Session, bool, error)
	Delete(ctx context.Context, id string) error
	ListKeys(ctx context.Context) ([]string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithPersister writes every session change through to p.
func WithPersister(p Persister) Option {
	return func(s *Service) { s.persister = p }
}

// WithTranscriptLimit caps the number of messages kept per session.
func WithTranscriptLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.transcriptLimit = n
		}
	}
}

// Service holds conversation sessions and their audit transcripts in memory.
// Every method is atomic per key.
type Service struct {
	mu              sync.RWMutex
	sessions        map[string]session.Session
	messages        map[string][]chat.Message
	persister       Persister
	transcriptLimit int
}

// NewService bootstraps the in-memory store.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions:        make(map[string]session.Session),
		messages:        make(map[string][]chat.Message),
		transcriptLimit: defaultTranscriptLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the session stored under id.
func (s *Service) Get(_ context.Context, id string) (session.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, false, nil
	}
	return sess.Clone(), true, nil
}

// Put stores sess, replacing any session with the same id.
func (s *Service) Put(ctx context.Context, sess session.Session) error {
	if sess.ID == "" {
		return ErrSessionIDRequired
	}
	if s.persister != nil {
		if err := s.persister.Put(ctx, sess); err != nil {
			return fmt.Errorf("persist session %s: %w", sess.ID, err)
		}
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess.Clone()
	s.mu.Unlock()
	return nil
}

// Delete drops the session stored under id. Deleting a missing id is not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.persister != nil {
		if err := s.persister.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete persisted session %s: %w", id, err)
		}
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, id string) (session.Session, error) {
	sess, ok, err := s.Get(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// Restore loads persisted sessions into memory. Sessions caught in Processing are dropped
// because their operation did not survive the restart.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}

	keys, err := s.persister.ListKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list persisted sessions: %w", err)
	}

	restored := 0
	for _, key := range keys {
		sess, ok, err := s.persister.Get(ctx, key)
		if err != nil {
			return restored, fmt.Errorf("load persisted session %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if sess.State == session.Processing || sess.State.Terminal() || !sess.State.Valid() {
			log.Printf("[chat] dropping persisted session=%s in state=%s", key, sess.State)
			if err := s.persister.Delete(ctx, key); err != nil {
				return restored, fmt.Errorf("drop persisted session %s: %w", key, err)
			}
			continue
		}

		s.mu.Lock()
		s.sessions[sess.ID] = sess
		s.mu.Unlock()
		restored++
	}
	return restored, nil
}

// SaveMessage appends a message to the transcript of message.SessionID.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionIDRequired
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.messages[message.SessionID], message)
	if over := len(history) - s.transcriptLimit; over > 0 {
		history = append([]chat.Message(nil), history[over:]...)
	}
	s.messages[message.SessionID] = history
	return nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// ListSessions returns the live sessions ordered by id.
func (s *Service) ListSessions(_ context.Context) []session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
