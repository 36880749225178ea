package session

// Formatting controls whether markup in a reply body is rendered by the transport.
type Formatting string

const (
	FormattingPlain Formatting = "plain"
	FormattingRich  Formatting = "rich"
)

// Reply is one outbound message addressed to the session's chat.
type Reply struct {
	Text       string     `json:"text"`
	Formatting Formatting `json:"formatting,omitempty"`
}

// Plain builds a reply rendered without markup.
func Plain(text string) Reply {
	return Reply{Text: text, Formatting: FormattingPlain}
}
