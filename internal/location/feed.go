package location

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Feed is a Provider backed by fixes a device pushes to the service over
// HTTP, websocket or MQTT. It behaves like a platform geolocation service:
// watches time out when the device goes quiet, and one-shot requests can be
// satisfied from a cached fix no older than MaximumAge.
type Feed struct {
	mu      sync.Mutex
	last    *Fix
	nextID  WatchID
	watches map[WatchID]*feedWatch
	waiters map[chan feedResult]struct{}
	closed  bool
	now     func() time.Time
}

type feedWatch struct {
	onFix   func(Fix)
	onErr   func(error)
	timeout time.Duration
	timer   *time.Timer
}

type feedResult struct {
	fix Fix
	err error
}

var errFeedClosed = errors.New("location feed closed")

func NewFeed() *Feed {
	return &Feed{
		watches: make(map[WatchID]*feedWatch),
		waiters: make(map[chan feedResult]struct{}),
		now:     time.Now,
	}
}

// Push delivers a fix to pending one-shot requests and every open watch.
func (f *Feed) Push(fix Fix) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	cp := fix
	f.last = &cp
	waiters := f.drainWaiters()
	watches := make([]*feedWatch, 0, len(f.watches))
	for _, w := range f.watches {
		if w.timer != nil {
			w.timer.Reset(w.timeout)
		}
		watches = append(watches, w)
	}
	f.mu.Unlock()

	for _, ch := range waiters {
		ch <- feedResult{fix: fix}
	}
	for _, w := range watches {
		w.onFix(fix)
	}
}

// PushError forwards a device-side geolocation failure.
func (f *Feed) PushError(code ErrorCode) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	waiters := f.drainWaiters()
	watches := make([]*feedWatch, 0, len(f.watches))
	for _, w := range f.watches {
		watches = append(watches, w)
	}
	f.mu.Unlock()

	err := NewPositionError(code, nil)
	for _, ch := range waiters {
		ch <- feedResult{err: err}
	}
	for _, w := range watches {
		w.onErr(err)
	}
}

// Last returns the most recent pushed fix.
func (f *Feed) Last() (Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Fix{}, false
	}
	return *f.last, true
}

func (f *Feed) CurrentPosition(ctx context.Context, opts PositionOptions) (Fix, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Fix{}, NewPositionError(CodePositionUnavailable, errFeedClosed)
	}
	if f.last != nil && opts.MaximumAge > 0 && f.now().Sub(f.last.Timestamp) <= opts.MaximumAge {
		fix := *f.last
		f.mu.Unlock()
		return fix, nil
	}
	ch := make(chan feedResult, 1)
	f.waiters[ch] = struct{}{}
	f.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case r := <-ch:
		return r.fix, r.err
	case <-ctx.Done():
		f.mu.Lock()
		delete(f.waiters, ch)
		f.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fix{}, NewPositionError(CodeTimeout, ctx.Err())
		}
		return Fix{}, NewPositionError(CodeUnknown, ctx.Err())
	}
}

func (f *Feed) WatchPosition(opts PositionOptions, onFix func(Fix), onErr func(error)) (WatchID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, NewPositionError(CodePositionUnavailable, errFeedClosed)
	}

	f.nextID++
	id := f.nextID
	w := &feedWatch{onFix: onFix, onErr: onErr, timeout: opts.Timeout}
	if opts.Timeout > 0 {
		w.timer = time.AfterFunc(opts.Timeout, func() { f.watchTimedOut(id) })
	}
	f.watches[id] = w
	return id, nil
}

func (f *Feed) ClearWatch(id WatchID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.watches[id]; ok {
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(f.watches, id)
	}
}

// Close fails pending requests and drops every watch. Later pushes are ignored.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for id, w := range f.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(f.watches, id)
	}
	waiters := f.drainWaiters()
	f.mu.Unlock()

	for _, ch := range waiters {
		ch <- feedResult{err: NewPositionError(CodePositionUnavailable, errFeedClosed)}
	}
}

func (f *Feed) watchTimedOut(id WatchID) {
	f.mu.Lock()
	w, ok := f.watches[id]
	if !ok {
		f.mu.Unlock()
		return
	}
	w.timer.Reset(w.timeout)
	f.mu.Unlock()

	w.onErr(NewPositionError(CodeTimeout, nil))
}

// drainWaiters must be called with mu held.
func (f *Feed) drainWaiters() []chan feedResult {
	out := make([]chan feedResult, 0, len(f.waiters))
	for ch := range f.waiters {
		out = append(out, ch)
		delete(f.waiters, ch)
	}
	return out
}

// FeedRegistry hands out one Feed per user.
type FeedRegistry struct {
	mu    sync.Mutex
	feeds map[string]*Feed
}

func NewFeedRegistry() *FeedRegistry {
	return &FeedRegistry{feeds: make(map[string]*Feed)}
}

// Get returns the user's feed, creating it if needed.
func (r *FeedRegistry) Get(userID string) *Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.feeds[userID]; ok {
		return f
	}
	f := NewFeed()
	r.feeds[userID] = f
	return f
}

func (r *FeedRegistry) Lookup(userID string) (*Feed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[userID]
	return f, ok
}

// Remove closes and forgets the user's feed.
func (r *FeedRegistry) Remove(userID string) {
	if f := r.Detach(userID); f != nil {
		f.Close()
	}
}

// Detach forgets the user's feed without closing it, so the caller can
// close it once its consumer is gone. It returns nil when there is none.
func (r *FeedRegistry) Detach(userID string) *Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.feeds[userID]
	delete(r.feeds, userID)
	return f
}
