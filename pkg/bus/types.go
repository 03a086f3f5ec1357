package bus

// ParseModeMarkdownV2 is the Bot API formatting dialect every chat message is rendered in.
const ParseModeMarkdownV2 = "MarkdownV2"

// ChatMessage is the outbound chat message derived from one push notification.
type ChatMessage struct {
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
	Link      *Link  `json:"link,omitempty"`

	// Topic and MessageID identify the source notification for logs and events.
	Topic     string `json:"topic,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Link is a single actionable button attached below the message.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// NotificationEvent is the event kind of one push frame. Only EventKindMessage carries a payload.
type NotificationEvent string

const (
	EventKindOpen        NotificationEvent = "open"
	EventKindKeepalive   NotificationEvent = "keepalive"
	EventKindMessage     NotificationEvent = "message"
	EventKindPollRequest NotificationEvent = "poll_request"
)

// Notification is one decoded push frame received from the notification server.
type Notification struct {
	ID          string            `json:"id"`
	Time        int64             `json:"time,omitempty"`
	Event       NotificationEvent `json:"event"`
	Topic       string            `json:"topic"`
	Title       string            `json:"title,omitempty"`
	Message     string            `json:"message,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Click       string            `json:"click,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
}

// IsMarkdown reports whether the publisher marked the body as markdown.
func (n Notification) IsMarkdown() bool {
	return n.ContentType == "text/markdown"
}
