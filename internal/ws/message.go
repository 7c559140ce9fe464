package ws

type EventType string

const (
	// EventBadgeUpdated carries the merged unread state for one conversation.
	EventBadgeUpdated EventType = "badge_updated"
	// EventCountsUpdated carries refreshed per-category totals.
	EventCountsUpdated EventType = "counts_updated"
	EventError         EventType = "error"
)

// OutgoingMessage is what the server sends to the dashboard. The badge feed
// is outbound-only: clients never write, the message pipeline upstream owns
// all mutations.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// BadgePayload is pushed on every notification event after the overlay merge.
type BadgePayload struct {
	ConversationID string `json:"conversation_id"`
	IsUnread       bool   `json:"is_unread"`
	UnreadCount    int    `json:"unread_count"`
}

// CountsPayload mirrors the reconciler totals.
type CountsPayload struct {
	Active int `json:"active"`
	Unread int `json:"unread"`
	Left   int `json:"left"`
}
