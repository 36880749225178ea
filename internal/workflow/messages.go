package workflow

import (
	"fmt"
	"strconv"

	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
)

const (
	msgUsage              = "Please use /start to begin."
	msgAddressPrompt      = "Which token do you want to look up? Please send the Solana token address."
	msgEmptyAddress       = "Please send a Solana token address."
	msgAddressRejected    = "That address could not be validated. Please send a valid Solana token address."
	msgTokenNotFound      = "No market data was found for that address. Please send another token address."
	msgLookupUnavailable  = "Token lookup is temporarily unavailable. Please send the address again in a moment."
	msgProcessing         = "Processing... Please wait."
	msgStillProcessing    = "Still working on your request. Please wait."
	msgOperationTimedOut  = "Error: the request timed out. Use /start to try again."
	msgOperationFailed    = "Error: the request failed. Use /start to try again."
	msgCancelledWithEntry = "Operation cancelled. "
)

func welcomeText(v Vocabulary) string {
	if len(v.Triggers) == 0 {
		return msgAddressPrompt
	}
	return fmt.Sprintf("What do you want to do? (e.g., %q)", v.Triggers[0])
}

func invalidTriggerText(v Vocabulary) string {
	return fmt.Sprintf("Invalid command. Please type %s.", quoteList(v.Triggers))
}

func invalidOptionText(v Vocabulary) string {
	return fmt.Sprintf("Invalid option. Please reply with %s.", quoteList(v.Options))
}

func confirmText(v Vocabulary) string {
	return fmt.Sprintf("Please confirm: reply %q or %q.", v.Affirmative[0], v.Negative[0])
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func summaryText(sess session.Session, v Vocabulary) string {
	return fmt.Sprintf("Coin: %s\nSymbol: %s\nPrice: $%s\nWhat should I do with it? Reply with %s.",
		sess.Field(session.FieldName),
		sess.Field(session.FieldSymbol),
		sess.Field(session.FieldPrice),
		quoteList(v.Options),
	)
}

func choiceText(sess session.Session, v Vocabulary) string {
	return fmt.Sprintf("You chose %q for %s (%s). Is this correct? (Reply %q or %q)",
		sess.Field(session.FieldChoice),
		sess.Field(session.FieldName),
		sess.Field(session.FieldSymbol),
		v.Affirmative[0],
		v.Negative[0],
	)
}
