package model

// NotificationType classifies events on the per-user notification feed.
type NotificationType string

const NotificationNewMessage NotificationType = "new_message"

// NotificationEvent is the live unread signal for one conversation. It is a
// second source of unread truth, updated independently of the index entry's
// counter; when an event is present it is authoritative for badge display,
// even if its values say "nothing unread".
type NotificationEvent struct {
	ConversationID string           `json:"conversation_id"`
	Type           NotificationType `json:"type"`
	Read           bool             `json:"read"`
	UnreadCount    int              `json:"unread_count"`
}
