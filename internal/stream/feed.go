// Package stream consumes the per-user notification feed: a Redis hash
// snapshot of current events plus a pub/sub channel of updates, maintained by
// the upstream message pipeline.
package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/schoolinbox/internal/inbox"
	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
)

const (
	// channelPrefix is the pub/sub channel carrying event updates, one
	// channel per user: notif:{userID}.
	channelPrefix = "notif:"
	// snapshotPrefix is the hash of current events, field = conversation
	// id, value = event JSON: notif:snap:{userID}.
	snapshotPrefix = "notif:snap:"
)

// Opener attaches per-user feeds on a shared Redis client.
type Opener struct {
	rdb *redis.Client
}

func NewOpener(rdb *redis.Client) *Opener {
	return &Opener{rdb: rdb}
}

// Open loads the user's current snapshot, subscribes to their update channel
// and starts delivering events to onEvent. The returned source is valid until
// Close (or ctx cancellation); an error here means no live feed and the caller
// degrades to index-only unread counts.
func (o *Opener) Open(ctx context.Context, userID string, onEvent func(model.NotificationEvent)) (inbox.NotificationSource, error) {
	f := &Feed{
		userID:  userID,
		events:  make(map[string]model.NotificationEvent, 16),
		onEvent: onEvent,
	}

	snap, err := o.rdb.HGetAll(ctx, snapshotPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	for convID, raw := range snap {
		var ev model.NotificationEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			logger.Errorf("stream: bad snapshot entry user=%s conversation=%s: %v", userID, convID, err)
			continue
		}
		if ev.ConversationID == "" {
			ev.ConversationID = convID
		}
		f.events[ev.ConversationID] = ev
	}

	pubsub := o.rdb.Subscribe(ctx, channelPrefix+userID)
	// Force the SUBSCRIBE round-trip so a dead Redis fails here, not later.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	f.pubsub = pubsub

	go f.run(ctx)
	return f, nil
}

// Feed is one user's live notification source. Snapshot reads are served
// from an in-memory map that the subscriber goroutine keeps current.
type Feed struct {
	userID  string
	pubsub  *redis.PubSub
	onEvent func(model.NotificationEvent)

	mu     sync.RWMutex
	events map[string]model.NotificationEvent

	closeOnce sync.Once
}

func (f *Feed) run(ctx context.Context) {
	ch := f.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			f.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.apply([]byte(msg.Payload))
		}
	}
}

// apply decodes one published event and folds it into the snapshot. Malformed
// payloads are logged and skipped; the feed stays alive.
func (f *Feed) apply(payload []byte) {
	var ev model.NotificationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Errorf("stream: bad event user=%s: %v", f.userID, err)
		return
	}
	if ev.ConversationID == "" {
		logger.Errorf("stream: event without conversation_id user=%s", f.userID)
		return
	}
	f.mu.Lock()
	f.events[ev.ConversationID] = ev
	f.mu.Unlock()
	logger.Debugf("stream: event user=%s conversation=%s read=%t unread=%d",
		f.userID, ev.ConversationID, ev.Read, ev.UnreadCount)
	if f.onEvent != nil {
		f.onEvent(ev)
	}
}

// Get returns the current event for one conversation, if any.
func (f *Feed) Get(conversationID string) (model.NotificationEvent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ev, ok := f.events[conversationID]
	return ev, ok
}

// Snapshot returns a copy of all current events keyed by conversation id.
func (f *Feed) Snapshot() map[string]model.NotificationEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]model.NotificationEvent, len(f.events))
	for k, v := range f.events {
		out[k] = v
	}
	return out
}

// Close detaches the subscription. Safe to call more than once.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		if f.pubsub != nil {
			if err := f.pubsub.Close(); err != nil {
				logger.Errorf("stream: close user=%s: %v", f.userID, err)
			}
		}
	})
}
