package stream

import (
	"testing"

	"github.com/schoolinbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(onEvent func(model.NotificationEvent)) *Feed {
	return &Feed{
		userID:  "u1",
		events:  make(map[string]model.NotificationEvent),
		onEvent: onEvent,
	}
}

func TestFeed_Apply(t *testing.T) {
	t.Run("event lands in snapshot and fires callback", func(t *testing.T) {
		var got []model.NotificationEvent
		f := newTestFeed(func(ev model.NotificationEvent) { got = append(got, ev) })

		f.apply([]byte(`{"conversation_id":"c1","type":"new_message","read":false,"unread_count":3}`))

		require.Len(t, got, 1)
		assert.Equal(t, "c1", got[0].ConversationID)
		assert.Equal(t, 3, got[0].UnreadCount)

		ev, ok := f.Get("c1")
		require.True(t, ok)
		assert.False(t, ev.Read)
	})

	t.Run("later event replaces earlier one", func(t *testing.T) {
		f := newTestFeed(nil)
		f.apply([]byte(`{"conversation_id":"c1","read":false,"unread_count":3}`))
		f.apply([]byte(`{"conversation_id":"c1","read":true,"unread_count":0}`))

		ev, ok := f.Get("c1")
		require.True(t, ok)
		assert.True(t, ev.Read)
		assert.Zero(t, ev.UnreadCount)
	})

	t.Run("malformed payload is skipped, feed stays alive", func(t *testing.T) {
		calls := 0
		f := newTestFeed(func(model.NotificationEvent) { calls++ })
		f.apply([]byte(`{not json`))
		f.apply([]byte(`{"read":false}`)) // missing conversation_id
		f.apply([]byte(`{"conversation_id":"c2","unread_count":1}`))

		assert.Equal(t, 1, calls)
		_, ok := f.Get("c2")
		assert.True(t, ok)
	})
}

func TestFeed_Snapshot(t *testing.T) {
	f := newTestFeed(nil)
	f.apply([]byte(`{"conversation_id":"c1","unread_count":1}`))
	f.apply([]byte(`{"conversation_id":"c2","unread_count":2}`))

	snap := f.Snapshot()
	assert.Len(t, snap, 2)

	// The snapshot is a copy: mutating it does not touch the feed.
	delete(snap, "c1")
	_, ok := f.Get("c1")
	assert.True(t, ok)
}
