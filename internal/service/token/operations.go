package token

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/ai"
	"github.com/zhouzirui/z-tavern/chatflow/internal/workflow"
)

const lamportsPerSOL = 1_000_000_000

// Menu option names bound to operations.
const (
	OptionBrief   = "brief"
	OptionBalance = "balance"
)

// BriefDrafter writes the text for the brief option.
type BriefDrafter interface {
	DraftBrief(ctx context.Context, facts ai.TokenFacts) (string, error)
}

// Operations returns the workflow operations keyed by menu option.
func Operations(q workflow.Query, drafter BriefDrafter) map[string]workflow.Operation {
	return map[string]workflow.Operation{
		OptionBrief:   BriefOperation(drafter),
		OptionBalance: BalanceOperation(q),
	}
}

// BriefOperation drafts a brief from the captured token fields.
func BriefOperation(drafter BriefDrafter) workflow.Operation {
	return workflow.OperationFunc(func(ctx context.Context, sess session.Session) (string, error) {
		facts := ai.TokenFacts{
			Address: sess.Field(session.FieldPrimary),
			Name:    sess.Field(session.FieldName),
			Symbol:  sess.Field(session.FieldSymbol),
			Price:   sess.Field(session.FieldPrice),
		}
		text, err := drafter.DraftBrief(ctx, facts)
		if err != nil {
			return "", fmt.Errorf("draft brief: %w", err)
		}
		return "Brief:\n" + text, nil
	})
}

// BalanceOperation reports the SOL balance held at the captured address.
func BalanceOperation(q workflow.Query) workflow.Operation {
	return workflow.OperationFunc(func(ctx context.Context, sess session.Session) (string, error) {
		address := sess.Field(session.FieldPrimary)
		lamports, err := q.GetBalance(ctx, address)
		if err != nil {
			return "", fmt.Errorf("get balance: %w", err)
		}
		return fmt.Sprintf("Balance of %s (%s): %s SOL (%d lamports)",
			sess.Field(session.FieldSymbol), address, FormatSOL(lamports), lamports), nil
	})
}

// FormatSOL renders lamports as a SOL amount without trailing zeros.
func FormatSOL(lamports uint64) string {
	whole := lamports / lamportsPerSOL
	frac := lamports % lamportsPerSOL
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	s := fmt.Sprintf("%d.%09d", whole, frac)
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}
