package session

import "time"

// State names one step of the conversation workflow.
type State string

const (
	Initial              State = "initial"
	AwaitingTrigger      State = "awaiting_trigger"
	AwaitingPrimaryInput State = "awaiting_primary_input"
	AwaitingChoice       State = "awaiting_choice"
	AwaitingConfirmation State = "awaiting_confirmation"
	Processing           State = "processing"
	Completed            State = "completed"
	Cancelled            State = "cancelled"
	Failed               State = "failed"
)

// Terminal reports whether a session in this state is removed instead of advanced.
func (s State) Terminal() bool {
	switch s {
	case Completed, Cancelled, Failed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case Initial, AwaitingTrigger, AwaitingPrimaryInput, AwaitingChoice,
		AwaitingConfirmation, Processing, Completed, Cancelled, Failed:
		return true
	}
	return false
}

// Field keys captured while the conversation advances.
const (
	FieldTrigger = "trigger"
	FieldPrimary = "primary"
	FieldName    = "name"
	FieldSymbol  = "symbol"
	FieldPrice   = "price"
	FieldChoice  = "choice"
)

// Session captures one chat's in-progress conversation.
type Session struct {
	ID        string            `json:"id"`
	State     State             `json:"state"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// New seeds a fresh Initial session with no captured fields.
func New(id string, now time.Time) Session {
	return Session{
		ID:        id,
		State:     Initial,
		Fields:    map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy that shares no map with s.
func (s Session) Clone() Session {
	fields := make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	s.Fields = fields
	return s
}

// Field returns a captured value, or "" when it was never set.
func (s Session) Field(key string) string {
	return s.Fields[key]
}

// With returns a copy of s with key set. Existing keys are never dropped.
func (s Session) With(key, value string) Session {
	next := s.Clone()
	next.Fields[key] = value
	return next
}

// Moved returns a copy of s in state next, stamped at now.
func (s Session) Moved(next State, now time.Time) Session {
	moved := s.Clone()
	moved.State = next
	moved.UpdatedAt = now
	return moved
}
