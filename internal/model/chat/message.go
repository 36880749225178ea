package chat

import "time"

// Sender values recorded in a transcript.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message persists individual turns for audit/debug.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
