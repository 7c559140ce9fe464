package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
)

// FeedOpener attaches a live notification feed for one user. onEvent fires on
// every delivered event; the returned source serves overlay snapshots until
// closed.
type FeedOpener interface {
	Open(ctx context.Context, userID string, onEvent func(model.NotificationEvent)) (NotificationSource, error)
}

// Prewarmer is the identity-cache warm-up hook run on first mount.
type Prewarmer interface {
	Prewarm(ctx context.Context)
}

// Manager owns one engine per signed-in user, mounted lazily on first access
// and torn down when the user's dashboard session ends.
type Manager struct {
	convs    ConversationStore
	entries  EntryStore
	resolver ParticipantResolver
	feeds    FeedOpener
	opts     Options

	mu      sync.Mutex
	engines map[string]*Engine
	onBadge func(BadgeUpdate)
	closed  bool
}

func NewManager(convs ConversationStore, entries EntryStore, resolver ParticipantResolver, feeds FeedOpener, opts Options) *Manager {
	return &Manager{
		convs:    convs,
		entries:  entries,
		resolver: resolver,
		feeds:    feeds,
		opts:     opts.withDefaults(),
		engines:  make(map[string]*Engine),
	}
}

// SetBadgeFunc registers the callback applied to every engine's badge
// updates (the ws hub push, plus webpush for socketless users).
func (m *Manager) SetBadgeFunc(fn func(BadgeUpdate)) {
	m.mu.Lock()
	m.onBadge = fn
	for _, e := range m.engines {
		e.SetBadgeFunc(fn)
	}
	m.mu.Unlock()
}

// Engine returns the user's mounted engine, mounting it on first access:
// identity pre-warm, one reconcile scan, page one of each category, and the
// live feed subscription.
func (m *Manager) Engine(ctx context.Context, userID string) (*Engine, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := m.engines[userID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	defer logger.DeferLogDuration("inbox.Manager.mount", time.Now())()
	if p, ok := m.resolver.(Prewarmer); ok {
		p.Prewarm(ctx)
	}

	e := NewEngine(userID, m.convs, m.entries, m.resolver, nil, m.opts)

	if m.feeds != nil {
		feed, err := m.feeds.Open(e.ctx, userID, e.HandleNotification)
		if err != nil {
			// Stream failure is a silent degrade: badges fall back to the
			// index counters (the overlay handles an absent event).
			logger.Errorf("inbox: notification feed user=%s: %v (index-only unread counts)", userID, err)
		} else {
			e.feed = feed
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		e.Close()
		return nil, ErrClosed
	}
	if existing, ok := m.engines[userID]; ok {
		// Lost the race to another request; keep the first mount.
		m.mu.Unlock()
		e.Close()
		return existing, nil
	}
	e.SetBadgeFunc(m.onBadge)
	m.engines[userID] = e
	m.mu.Unlock()

	e.Mount(ctx)
	return e, nil
}

// Release unmounts one user's engine (called when their last dashboard
// socket disconnects). Listeners are detached; in-flight loads are discarded.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	e, ok := m.engines[userID]
	if ok {
		delete(m.engines, userID)
	}
	m.mu.Unlock()
	if ok {
		e.Close()
		logger.Debugf("inbox: engine released user=%s", userID)
	}
}

// Close tears down every engine. Used on service shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
