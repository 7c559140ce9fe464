package inbox

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/schoolinbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "admin@school.example"

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

type fakeConvStore struct {
	convs map[string]model.Conversation
	calls int
}

func (f *fakeConvStore) GetByIDs(_ context.Context, ids []string) (map[string]model.Conversation, error) {
	f.calls++
	out := make(map[string]model.Conversation, len(ids))
	for _, id := range ids {
		if c, ok := f.convs[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type fakeEntryStore struct {
	entries map[string]model.ConversationEntry
	failCat map[model.Category]error
}

func (f *fakeEntryStore) matches(e model.ConversationEntry, cat model.Category) bool {
	switch cat {
	case model.CategoryUnread:
		return e.Active && e.UnreadMessages > 0
	case model.CategoryLeft:
		return !e.Active
	default:
		return e.Active
	}
}

func (f *fakeEntryStore) ListIDs(_ context.Context, userID string, cat model.Category, limit int) ([]string, error) {
	if err := f.failCat[cat]; err != nil {
		return nil, err
	}
	var matched []model.ConversationEntry
	for _, e := range f.entries {
		if e.UserID == userID && f.matches(e, cat) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].LastMessageAt, matched[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return matched[i].ConversationID < matched[j].ConversationID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return matched[i].ConversationID < matched[j].ConversationID
		}
	})
	ids := make([]string, 0, limit)
	for _, e := range matched {
		if len(ids) == limit {
			break
		}
		ids = append(ids, e.ConversationID)
	}
	return ids, nil
}

func (f *fakeEntryStore) GetEntries(_ context.Context, userID string, ids []string) (map[string]model.ConversationEntry, error) {
	out := make(map[string]model.ConversationEntry, len(ids))
	for _, id := range ids {
		if e, ok := f.entries[id]; ok && e.UserID == userID {
			out[id] = e
		}
	}
	return out, nil
}

func (f *fakeEntryStore) Counts(_ context.Context, userID string) (model.CategoryCounts, error) {
	var c model.CategoryCounts
	for _, e := range f.entries {
		if e.UserID != userID {
			continue
		}
		switch {
		case !e.Active:
			c.Left++
		default:
			c.Active++
			if e.UnreadMessages > 0 {
				c.Unread++
			}
		}
	}
	return c, nil
}

type stubResolver struct{ calls int }

func (s *stubResolver) Resolve(_ context.Context, id string) model.Participant {
	s.calls++
	return model.Participant{ID: id, DisplayName: id, Role: model.RoleStaff}
}

type fakeFeed struct {
	events map[string]model.NotificationEvent
	closed bool
}

func (f *fakeFeed) Get(id string) (model.NotificationEvent, bool) {
	ev, ok := f.events[id]
	return ev, ok
}
func (f *fakeFeed) Snapshot() map[string]model.NotificationEvent { return f.events }
func (f *fakeFeed) Close()                                       { f.closed = true }

// fixture: active conversations with timestamps 100, 300, 200, one unread
// among them, and one left conversation.
func fixture() (*fakeConvStore, *fakeEntryStore) {
	convs := &fakeConvStore{convs: map[string]model.Conversation{}}
	entries := &fakeEntryStore{entries: map[string]model.ConversationEntry{}}

	add := func(id string, at *time.Time, active bool, unread int, participants ...string) {
		convs.convs[id] = model.Conversation{
			ID:            id,
			Participants:  append([]string{testUser}, participants...),
			CreatedAt:     time.Unix(1, 0),
			LastMessageAt: at,
		}
		entries.entries[id] = model.ConversationEntry{
			UserID:         testUser,
			ConversationID: id,
			Active:         active,
			UnreadMessages: unread,
			LastMessage:    "hello from " + id,
			LastMessageAt:  at,
		}
	}
	add("c100", ts(100), true, 0, "t1@school.example")
	add("c300", ts(300), true, 2, "t2@school.example")
	add("c200", ts(200), true, 0, "s1@school.example")
	add("cLeft", ts(50), false, 0, "t1@school.example")
	return convs, entries
}

func newTestEngine(t *testing.T, convs *fakeConvStore, entries *fakeEntryStore, feed NotificationSource) *Engine {
	t.Helper()
	e := NewEngine(testUser, convs, entries, &stubResolver{}, feed, Options{PageIncrement: 2, BatchSize: 2, BatchWorkers: 2})
	t.Cleanup(e.Close)
	return e
}

func TestEngine_WindowOrdering(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	w := e.Window(model.CategoryActive)
	require.Equal(t, StateLoaded, w.State)
	require.Len(t, w.Conversations, 2)
	// timestamps [100, 300, 200] with window size 2 → [300, 200]
	assert.Equal(t, "c300", w.Conversations[0].ConversationID)
	assert.Equal(t, "c200", w.Conversations[1].ConversationID)
}

func TestEngine_CategoryFiltering(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	left := e.Window(model.CategoryLeft)
	require.Len(t, left.Conversations, 1)
	assert.Equal(t, "cLeft", left.Conversations[0].ConversationID)

	active := e.Window(model.CategoryActive)
	for _, v := range active.Conversations {
		assert.NotEqual(t, "cLeft", v.ConversationID)
	}

	unread := e.Window(model.CategoryUnread)
	require.Len(t, unread.Conversations, 1)
	assert.Equal(t, "c300", unread.Conversations[0].ConversationID)
}

func TestEngine_MonotonicWindowGrowth(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	narrow := e.Window(model.CategoryActive).Conversations
	require.Len(t, narrow, 2)

	require.NoError(t, e.LoadMore(context.Background(), model.CategoryActive))
	wide := e.Window(model.CategoryActive).Conversations
	require.Len(t, wide, 3)

	// The narrow window is the exact prefix of the wider one.
	for i := range narrow {
		assert.Equal(t, narrow[i].ConversationID, wide[i].ConversationID)
	}
	assert.Equal(t, "c100", wide[2].ConversationID)
}

func TestEngine_HasMoreTracksReconciledCounts(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	w := e.Window(model.CategoryActive)
	assert.Equal(t, 3, w.TotalCount)
	assert.True(t, w.HasMore) // 2 of 3 loaded

	require.NoError(t, e.LoadMore(context.Background(), model.CategoryActive))
	w = e.Window(model.CategoryActive)
	assert.False(t, w.HasMore)
	assert.Equal(t, len(w.Conversations), w.TotalCount)

	// Unread fits in the first page: no affordance.
	assert.False(t, e.Window(model.CategoryUnread).HasMore)
}

func TestEngine_EnrichmentDropsInconsistentIDs(t *testing.T) {
	convs, entries := fixture()
	delete(convs.convs, "c200") // index entry exists, global record gone
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	w := e.Window(model.CategoryActive)
	require.Len(t, w.Conversations, 1)
	assert.Equal(t, "c300", w.Conversations[0].ConversationID)
}

func TestEngine_EnrichmentExcludesRequestingUser(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	for _, w := range e.Windows() {
		for _, v := range w.Conversations {
			for _, p := range v.Participants {
				assert.NotEqual(t, testUser, p.ID)
			}
			assert.NotEmpty(t, v.Participants)
		}
	}
}

func TestEngine_ReadFailureIsCategoryScoped(t *testing.T) {
	convs, entries := fixture()
	entries.failCat = map[model.Category]error{
		model.CategoryUnread: errors.New("permission denied"),
	}
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	unread := e.Window(model.CategoryUnread)
	assert.Equal(t, StateFailed, unread.State)
	assert.True(t, unread.Failed)
	assert.Empty(t, unread.Conversations)

	active := e.Window(model.CategoryActive)
	assert.Equal(t, StateLoaded, active.State)
	assert.False(t, active.Failed)
	assert.Len(t, active.Conversations, 2)
}

func TestEngine_OverlayAppliedAtRenderTime(t *testing.T) {
	convs, entries := fixture()
	feed := &fakeFeed{events: map[string]model.NotificationEvent{}}
	e := newTestEngine(t, convs, entries, feed)
	e.Mount(context.Background())

	// No event: index counter is the fallback.
	w := e.Window(model.CategoryActive)
	require.Equal(t, "c300", w.Conversations[0].ConversationID)
	assert.True(t, w.Conversations[0].IsUnread)
	assert.Equal(t, 2, w.Conversations[0].UnreadCount)

	// An event arrives after enrichment: next render reflects it without a
	// reload.
	feed.events["c300"] = model.NotificationEvent{ConversationID: "c300", Read: true, UnreadCount: 0}
	w = e.Window(model.CategoryActive)
	assert.False(t, w.Conversations[0].IsUnread)
	assert.Zero(t, w.Conversations[0].UnreadCount)
}

func TestEngine_HandleNotification(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	var updates []BadgeUpdate
	e.SetBadgeFunc(func(u BadgeUpdate) { updates = append(updates, u) })

	e.HandleNotification(model.NotificationEvent{ConversationID: "c100", Read: false, UnreadCount: 4})
	require.Len(t, updates, 1)
	assert.Equal(t, testUser, updates[0].UserID)
	assert.Equal(t, "c100", updates[0].ConversationID)
	assert.True(t, updates[0].IsUnread)
	assert.Equal(t, 4, updates[0].UnreadCount)

	// A notification for a conversation that was never enriched still
	// produces a badge; the event alone carries the state.
	e.HandleNotification(model.NotificationEvent{ConversationID: "cNew", Read: false, UnreadCount: 1})
	require.Len(t, updates, 2)
	assert.Equal(t, "cNew", updates[1].ConversationID)
	assert.True(t, updates[1].IsUnread)
}

func TestEngine_Close(t *testing.T) {
	convs, entries := fixture()
	feed := &fakeFeed{events: map[string]model.NotificationEvent{}}
	e := NewEngine(testUser, convs, entries, &stubResolver{}, feed, Options{PageIncrement: 2})
	e.Mount(context.Background())

	e.Close()
	assert.True(t, feed.closed)
	assert.ErrorIs(t, e.LoadPage(model.CategoryActive), ErrClosed)
	assert.ErrorIs(t, e.LoadMore(context.Background(), model.CategoryActive), ErrClosed)

	// Idempotent.
	e.Close()
}

func TestEngine_LoadPageIdempotent(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)
	e.Mount(context.Background())

	first := e.Window(model.CategoryActive).Conversations
	require.NoError(t, e.LoadPage(model.CategoryActive))
	second := e.Window(model.CategoryActive).Conversations
	assert.Equal(t, first, second)
}
