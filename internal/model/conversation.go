package model

import "time"

// Conversation is the global chat record shared by all participants.
// Immutable after creation except the last-message preview fields, which are
// appended by the external message pipeline.
type Conversation struct {
	ID              string     `json:"id"`
	Participants    []string   `json:"participants"`
	CreatedAt       time.Time  `json:"created_at"`
	FirstMessage    string     `json:"first_message"`
	FirstSenderName string     `json:"first_message_sender_name"`
	LastMessage     string     `json:"last_message"`
	LastSenderName  string     `json:"last_message_sender_name"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
}

// ConversationEntry is one row of the per-user conversation index: membership
// plus denormalized preview fields so list rendering never joins the global
// record. Created when the user becomes a participant, mutated by the message
// pipeline, never deleted; leaving a conversation only flips Active to false.
type ConversationEntry struct {
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id"`
	Active         bool       `json:"active"`
	UnreadMessages int        `json:"unread_messages"`
	LastMessage    string     `json:"last_message"`
	LastSenderName string     `json:"last_message_sender_name"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
}

// Category selects one of the three list tabs over the per-user index.
type Category string

const (
	CategoryActive Category = "active" // entries with active = true
	CategoryUnread Category = "unread" // active entries with unread_messages > 0
	CategoryLeft   Category = "left"   // entries with active = false
)

// Categories returns all tabs in display order.
func Categories() []Category {
	return []Category{CategoryActive, CategoryUnread, CategoryLeft}
}

// ParseCategory validates a category string from a request.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryActive, CategoryUnread, CategoryLeft:
		return Category(s), true
	}
	return "", false
}

// CategoryCounts is the reconciler output: authoritative totals per tab,
// computed from a full index scan, never from a fetched prefix.
type CategoryCounts struct {
	Active int `json:"active"`
	Unread int `json:"unread"`
	Left   int `json:"left"`
}

// For returns the count for one category.
func (c CategoryCounts) For(cat Category) int {
	switch cat {
	case CategoryUnread:
		return c.Unread
	case CategoryLeft:
		return c.Left
	default:
		return c.Active
	}
}

// ConversationView is the enriched list item handed to the dashboard.
// UnreadMessages carries the raw index counter; IsUnread and UnreadCount are
// filled by the notification overlay at render time.
type ConversationView struct {
	ConversationID string        `json:"conversation_id"`
	LastMessage    string        `json:"last_message"`
	LastSenderName string        `json:"last_message_sender_name"`
	LastMessageAt  *time.Time    `json:"last_message_at,omitempty"`
	Participants   []Participant `json:"participants"`
	Active         bool          `json:"active"`
	UnreadMessages int           `json:"unread_messages"`
	IsUnread       bool          `json:"is_unread"`
	UnreadCount    int           `json:"unread_count"`
}

// DraftConversation is a not-yet-persisted conversation built from a staff
// multi-select. It carries participants only; there is no backing id until
// the composer sends the first message.
type DraftConversation struct {
	Participants []Participant `json:"participants"`
}

// Selection converts the draft into the hand-off shape for the composer.
func (d DraftConversation) Selection() ConversationSelection {
	return ConversationSelection{IsNew: true, Participants: d.Participants}
}

// ConversationSelection is what the message composer receives when the user
// opens a conversation. IsNew is an explicit tag: a draft is distinguishable
// from a persisted conversation even before the record has loaded, so the
// composer never has to guess from an empty id alone.
type ConversationSelection struct {
	IsNew          bool          `json:"is_new"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Participants   []Participant `json:"participants"`
}
