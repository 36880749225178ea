package workflow

import (
	"context"

	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
)

// Operation is the long-running unit of work bound to a menu choice.
// It completes exactly once with either a reply body or an error.
type Operation interface {
	Execute(ctx context.Context, sess session.Session) (string, error)
}

// OperationFunc adapts a plain function to Operation.
type OperationFunc func(ctx context.Context, sess session.Session) (string, error)

// Execute calls f.
func (f OperationFunc) Execute(ctx context.Context, sess session.Session) (string, error) {
	return f(ctx, sess)
}
