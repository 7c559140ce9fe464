// Package inbox is the conversation-list engine behind the dashboard chat
// panel: three independently paginated live windows (active / unread / left)
// over the per-user conversation index, enriched in bounded batches and
// overlaid with the live notification feed at render time.
package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
)

// ErrClosed is returned by operations on a torn-down engine.
var ErrClosed = errors.New("inbox: engine closed")

// ErrConversationNotFound is returned when a selected conversation has no
// global record (deleted upstream or never existed).
var ErrConversationNotFound = errors.New("inbox: conversation not found")

// ConversationStore reads the global conversation record store.
type ConversationStore interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]model.Conversation, error)
}

// EntryStore reads the per-user conversation index.
type EntryStore interface {
	ListIDs(ctx context.Context, userID string, cat model.Category, limit int) ([]string, error)
	GetEntries(ctx context.Context, userID string, ids []string) (map[string]model.ConversationEntry, error)
	Counts(ctx context.Context, userID string) (model.CategoryCounts, error)
}

// ParticipantResolver turns raw identifiers into display identities.
type ParticipantResolver interface {
	Resolve(ctx context.Context, id string) model.Participant
}

// NotificationSource is the live per-user notification feed snapshot.
type NotificationSource interface {
	Get(conversationID string) (model.NotificationEvent, bool)
	Snapshot() map[string]model.NotificationEvent
	Close()
}

// Options tunes window growth and enrichment batching.
type Options struct {
	PageIncrement int
	BatchSize     int
	BatchWorkers  int
}

func (o Options) withDefaults() Options {
	if o.PageIncrement <= 0 {
		o.PageIncrement = 15
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BatchWorkers <= 0 {
		o.BatchWorkers = 4
	}
	return o
}

// State is the lifecycle of one category window.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
)

// window is the materialized prefix for one category. views hold enriched,
// pre-overlay view models; the overlay is applied on every read so badge
// state follows the feed without re-enrichment.
type window struct {
	size    int
	state   State
	failed  bool
	views   []model.ConversationView
	loadSeq uint64 // generation guard: stale loads must not clobber newer windows
}

// WindowView is the render snapshot of one category window.
type WindowView struct {
	Category      model.Category           `json:"category"`
	State         State                    `json:"state"`
	Failed        bool                     `json:"failed"`
	Conversations []model.ConversationView `json:"conversations"`
	TotalCount    int                      `json:"total_count"`
	HasMore       bool                     `json:"has_more"`
}

// BadgeUpdate is pushed outward when a notification event changes the badge
// state of one conversation.
type BadgeUpdate struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	IsUnread       bool   `json:"is_unread"`
	UnreadCount    int    `json:"unread_count"`
}

// Engine is one user's mounted conversation-list engine. It lives for the
// dashboard session; Close detaches the feed and aborts in-flight loads.
type Engine struct {
	userID   string
	convs    ConversationStore
	entries  EntryStore
	resolver ParticipantResolver
	feed     NotificationSource
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	windows map[model.Category]*window
	counts  model.CategoryCounts

	onBadge func(BadgeUpdate)
}

// NewEngine wires an engine for one user. The feed may be a no-op source when
// the notification stream is unavailable; everything degrades to index-only
// unread counts in that case.
func NewEngine(userID string, convs ConversationStore, entries EntryStore, resolver ParticipantResolver, feed NotificationSource, opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	if feed == nil {
		feed = noopFeed{}
	}
	e := &Engine{
		userID:   userID,
		convs:    convs,
		entries:  entries,
		resolver: resolver,
		feed:     feed,
		opts:     opts.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		windows:  make(map[model.Category]*window, 3),
	}
	for _, cat := range model.Categories() {
		e.windows[cat] = &window{state: StateIdle}
	}
	return e
}

// SetBadgeFunc registers the callback invoked on every notification event.
func (e *Engine) SetBadgeFunc(fn func(BadgeUpdate)) {
	e.mu.Lock()
	e.onBadge = fn
	e.mu.Unlock()
}

// Mount runs the initial sequence: one reconcile scan, then page one of every
// category. Categories load independently; a read failure blanks only its
// own window.
func (e *Engine) Mount(ctx context.Context) {
	defer logger.DeferLogDuration("inbox.Mount", time.Now())()
	if err := e.Reconcile(ctx); err != nil {
		logger.Errorf("inbox: reconcile user=%s: %v", e.userID, err)
	}
	var wg sync.WaitGroup
	for _, cat := range model.Categories() {
		wg.Add(1)
		go func(cat model.Category) {
			defer wg.Done()
			if err := e.LoadPage(cat); err != nil && !errors.Is(err, ErrClosed) {
				logger.Errorf("inbox: mount load user=%s category=%s: %v", e.userID, cat, err)
			}
		}(cat)
	}
	wg.Wait()
}

// Reconcile re-runs the full-index count scan. The totals feed HasMore and
// are never derived from a fetched window prefix.
func (e *Engine) Reconcile(ctx context.Context) error {
	counts, err := e.entries.Counts(ctx, e.userID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.counts = counts
	e.mu.Unlock()
	return nil
}

// LoadPage materializes a category window at its current size (one increment
// when idle). Calling it again with an unchanged index yields the same window.
func (e *Engine) LoadPage(cat model.Category) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	w := e.windows[cat]
	if w.size == 0 {
		w.size = e.opts.PageIncrement
	}
	w.state = StateLoading
	w.loadSeq++
	seq := w.loadSeq
	size := w.size
	e.mu.Unlock()

	return e.load(cat, seq, size)
}

// LoadMore widens the window by one increment and re-reads it. There is no
// cursor: the whole filtered index prefix is fetched again, which tolerates
// interleaved upstream writes at O(index) cost per call.
func (e *Engine) LoadMore(ctx context.Context, cat model.Category) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	w := e.windows[cat]
	if w.size == 0 {
		w.size = e.opts.PageIncrement
	} else {
		w.size += e.opts.PageIncrement
	}
	w.state = StateLoading
	w.loadSeq++
	seq := w.loadSeq
	size := w.size
	e.mu.Unlock()

	// Refresh totals on demand so HasMore stays honest as the index grows.
	if err := e.Reconcile(ctx); err != nil {
		logger.Errorf("inbox: reconcile on load-more user=%s: %v", e.userID, err)
	}
	return e.load(cat, seq, size)
}

// load fetches ids and enriches them under the engine's own context, so a
// torn-down engine abandons the work instead of racing a newer window.
func (e *Engine) load(cat model.Category, seq uint64, size int) error {
	defer logger.DeferLogDuration("inbox.load."+string(cat), time.Now())()

	ids, err := e.entries.ListIDs(e.ctx, e.userID, cat, size)
	if err != nil {
		e.markFailed(cat, seq)
		return err
	}
	views, err := e.enrich(e.ctx, ids)
	if err != nil {
		e.markFailed(cat, seq)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	w := e.windows[cat]
	if w.loadSeq != seq {
		// A newer load superseded this one; discard.
		logger.Debugf("inbox: stale load dropped user=%s category=%s seq=%d", e.userID, cat, seq)
		return nil
	}
	w.views = views
	w.failed = false
	w.state = StateLoaded
	return nil
}

// markFailed blanks one window and flags the category-scoped error state.
// Other categories are untouched.
func (e *Engine) markFailed(cat model.Category, seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.windows[cat]
	if w.loadSeq != seq {
		return
	}
	w.views = nil
	w.failed = true
	w.state = StateFailed
}

// Window returns the render snapshot for one category with the notification
// overlay applied. The overlay runs here, at read time, so the badge state is
// current on every render without touching the enrichment pipeline.
func (e *Engine) Window(cat model.Category) WindowView {
	overlay := e.feed.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.windows[cat]
	views := make([]model.ConversationView, len(w.views))
	copy(views, w.views)
	for i := range views {
		ev, ok := overlay[views[i].ConversationID]
		if ok {
			ApplyOverlay(&views[i], &ev)
		} else {
			ApplyOverlay(&views[i], nil)
		}
	}
	total := e.counts.For(cat)
	return WindowView{
		Category:      cat,
		State:         w.state,
		Failed:        w.failed,
		Conversations: views,
		TotalCount:    total,
		HasMore:       len(views) < total,
	}
}

// Windows returns all three category snapshots.
func (e *Engine) Windows() []WindowView {
	out := make([]WindowView, 0, 3)
	for _, cat := range model.Categories() {
		out = append(out, e.Window(cat))
	}
	return out
}

// Counts returns the last reconciled totals.
func (e *Engine) Counts() model.CategoryCounts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts
}

// HandleNotification reacts to one live feed event: it recomputes the badge
// for the affected conversation and invokes the badge callback. The event may
// arrive before the conversation was ever enriched; the overlay needs no
// view model, only the index counter fallback, which is zero in that case.
func (e *Engine) HandleNotification(ev model.NotificationEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	fn := e.onBadge
	view := model.ConversationView{ConversationID: ev.ConversationID}
	for _, w := range e.windows {
		for _, v := range w.views {
			if v.ConversationID == ev.ConversationID {
				view = v
				break
			}
		}
	}
	e.mu.Unlock()

	ApplyOverlay(&view, &ev)
	if fn != nil {
		fn(BadgeUpdate{
			UserID:         e.userID,
			ConversationID: ev.ConversationID,
			IsUnread:       view.IsUnread,
			UnreadCount:    view.UnreadCount,
		})
	}
}

// UserID returns the owner of this engine.
func (e *Engine) UserID() string { return e.userID }

// Close tears the engine down: the feed is detached and in-flight loads are
// cancelled. In-flight enrichment that already passed its context check
// finishes and is discarded by the generation guard.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.feed.Close()
}

// noopFeed stands in when the notification stream is unavailable: the overlay
// then falls back to index-only unread counts everywhere.
type noopFeed struct{}

func (noopFeed) Get(string) (model.NotificationEvent, bool)   { return model.NotificationEvent{}, false }
func (noopFeed) Snapshot() map[string]model.NotificationEvent { return nil }
func (noopFeed) Close()                                       {}
