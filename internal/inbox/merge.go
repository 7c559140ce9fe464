package inbox

import "github.com/schoolinbox/internal/model"

// ApplyOverlay merges the live notification event into a view model's badge
// state. The precedence is presence-wins: an event, when present, is
// authoritative for the unread count even when its value is zero, and the
// index counter is only the fallback when no event exists.
//
//	unreadCount = event? event.UnreadCount : view.UnreadMessages
//	isUnread    = (event present AND !event.Read) OR unreadCount > 0
//
// This is the one contract subtle enough to regress silently; change it only
// together with its tests.
func ApplyOverlay(v *model.ConversationView, ev *model.NotificationEvent) {
	count := v.UnreadMessages
	if ev != nil {
		count = ev.UnreadCount
	}
	v.UnreadCount = count
	v.IsUnread = (ev != nil && !ev.Read) || count > 0
}
