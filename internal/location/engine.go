package location

import (
	"context"
	"sync"
	"time"

	"github.com/askwhyharsh/safezone/pkg/logger"
)

// State is the acquisition engine's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateWatching
	StateRetrying
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateWatching:
		return "watching"
	case StateRetrying:
		return "retrying"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	noticeStale   = "Location data is stale. Retrying..."
	noticeStalled = "Location updates seem stalled. Retrying..."
)

// RetryState describes where the engine is on its retry ladder.
type RetryState struct {
	Attempt     int            `json:"attempt"`
	LastError   *PositionError `json:"-"`
	NextRetryAt time.Time      `json:"next_retry_at,omitempty"`
}

// Update is one item on the engine's output stream. Position is set for
// accepted fixes; Err is set only once an error is surfaced to the user
// (fatal, or retries exhausted).
type Update struct {
	Position *Position
	State    State
	Retry    RetryState
	Err      *PositionError
	Notice   string
}

// Snapshot is a point-in-time view of the engine for status queries.
type Snapshot struct {
	State   State
	Retry   RetryState
	Last    *Position
	Err     *PositionError
	Started time.Time
}

// IPLocator resolves a coarse position when device location is unusable.
type IPLocator interface {
	Locate(ctx context.Context) (Point, error)
}

type EngineOptions struct {
	BaseTimeout        time.Duration
	InitialFixTimeout  time.Duration
	StaleAfter         time.Duration
	MinMovementMeters  float64
	MaxRetries         int
	RetryBaseDelay     time.Duration
	CachedAfterAttempt int
	CachedMaximumAge   time.Duration
	IPFallback         IPLocator
	IPFallbackAccuracy float64
	Now                func() time.Time
}

func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		BaseTimeout:        30 * time.Second,
		InitialFixTimeout:  5 * time.Second,
		StaleAfter:         60 * time.Second,
		MinMovementMeters:  1,
		MaxRetries:         3,
		RetryBaseDelay:     10 * time.Second,
		CachedAfterAttempt: 2,
		CachedMaximumAge:   60 * time.Second,
		IPFallbackAccuracy: 5000,
		Now:                time.Now,
	}
}

// OptionsForAttempt returns the request options used on the given attempt.
// Later attempts trade accuracy for availability.
func (o EngineOptions) OptionsForAttempt(attempt int) PositionOptions {
	opts := PositionOptions{
		EnableHighAccuracy: attempt < o.CachedAfterAttempt,
		Timeout:            o.BaseTimeout * time.Duration(attempt+1),
	}
	if attempt >= o.CachedAfterAttempt {
		opts.MaximumAge = o.CachedMaximumAge
	}
	return opts
}

// BackoffDelay is the wait before the attempt after the given one.
func (o EngineOptions) BackoffDelay(attempt int) time.Duration {
	return o.RetryBaseDelay * time.Duration(1<<uint(attempt))
}

type engineEvent interface{}

type evFix struct {
	gen     uint64
	fix     Fix
	oneShot bool
}

type evErr struct {
	gen     uint64
	err     error
	oneShot bool
}

type evRetryDue struct {
	gen     uint64
	attempt int
}

type evStall struct{ gen uint64 }

type evSilence struct{ gen uint64 }

type evFallback struct {
	gen   uint64
	point Point
	err   error
}

type evManualRetry struct{}

type evManualPosition struct{ point Point }

// Engine turns a Provider into a stream of fresh positions, retrying with
// exponential backoff and degrading gracefully. All state is owned by a
// single loop goroutine; provider callbacks and timers only post events.
type Engine struct {
	provider Provider
	opts     EngineOptions
	logger   logger.Logger

	events  chan engineEvent
	updates chan Update
	stopCh  chan struct{}
	doneCh  chan struct{}

	lifecycle sync.Mutex
	started   bool
	stopped   bool

	// owned by the loop
	state          State
	attempt        int
	gen            uint64
	watchID        WatchID
	watching       bool
	retryTimer     *time.Timer
	stallTimer     *time.Timer
	silenceTimer   *time.Timer
	oneShotCancel  context.CancelFunc
	fallbackCancel context.CancelFunc
	last           *Position
	lastErr        *PositionError
	nextRetryAt    time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewEngine(provider Provider, opts EngineOptions, log logger.Logger) *Engine {
	def := DefaultEngineOptions()
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.CachedAfterAttempt == 0 {
		opts.CachedAfterAttempt = def.CachedAfterAttempt
	}
	if opts.CachedMaximumAge == 0 {
		opts.CachedMaximumAge = def.CachedMaximumAge
	}
	if opts.IPFallbackAccuracy == 0 {
		opts.IPFallbackAccuracy = def.IPFallbackAccuracy
	}
	if opts.InitialFixTimeout == 0 {
		opts.InitialFixTimeout = def.InitialFixTimeout
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = def.StaleAfter
	}
	return &Engine{
		provider: provider,
		opts:     opts,
		logger:   log,
		events:   make(chan engineEvent, 64),
		updates:  make(chan Update, 32),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		snapshot: Snapshot{State: StateIdle},
	}
}

// Updates is closed once the engine stops.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Start begins acquisition at attempt 0. Calling it twice is a no-op.
func (e *Engine) Start() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true
	go e.run()
}

// Stop releases the watch and every timer, closes the update stream and
// waits for the loop to exit. Nothing is emitted after Stop returns.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	if e.stopped {
		e.lifecycle.Unlock()
		<-e.doneCh
		return
	}
	e.stopped = true
	started := e.started
	close(e.stopCh)
	e.lifecycle.Unlock()

	if !started {
		close(e.updates)
		e.setSnapshot(func(s *Snapshot) { s.State = StateStopped })
		close(e.doneCh)
		return
	}
	<-e.doneCh
}

// Retry restarts acquisition from attempt 0, e.g. after the user fixed a
// permission problem.
func (e *Engine) Retry() {
	e.post(evManualRetry{})
}

// SetManualPosition injects a user-entered position.
func (e *Engine) SetManualPosition(p Point) {
	e.post(evManualPosition{point: p})
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.snapshot
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

func (e *Engine) post(ev engineEvent) {
	select {
	case <-e.stopCh:
		return
	default:
	}
	select {
	case e.events <- ev:
	case <-e.stopCh:
	}
}

func (e *Engine) run() {
	defer func() {
		e.release()
		e.state = StateStopped
		e.setSnapshot(func(s *Snapshot) { s.State = StateStopped })
		close(e.updates)
		close(e.doneCh)
	}()

	e.setSnapshot(func(s *Snapshot) { s.Started = e.opts.Now() })
	e.begin(0)

	for {
		select {
		case <-e.stopCh:
			return
		case ev := <-e.events:
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev engineEvent) {
	switch ev := ev.(type) {
	case evFix:
		if ev.gen != e.gen {
			return
		}
		e.handleFix(ev.fix)
	case evErr:
		if ev.gen != e.gen {
			return
		}
		e.handleError(ev.err, ev.oneShot)
	case evRetryDue:
		if ev.gen != e.gen {
			return
		}
		e.begin(ev.attempt)
	case evStall:
		if ev.gen != e.gen {
			return
		}
		e.stallTimer = nil
		e.forceRestart(noticeStalled)
	case evSilence:
		if ev.gen != e.gen {
			return
		}
		e.silenceTimer = nil
		if e.last != nil && e.opts.Now().Sub(e.last.Timestamp) > e.opts.StaleAfter {
			e.forceRestart(noticeStalled)
			return
		}
		e.armSilence()
	case evFallback:
		if ev.gen != e.gen {
			return
		}
		e.handleFallback(ev.point, ev.err)
	case evManualRetry:
		e.logger.Info("Manual location retry requested")
		e.lastErr = nil
		e.begin(0)
	case evManualPosition:
		if !ev.point.Valid() {
			e.logger.Warn("Ignoring invalid manual position", "point", ev.point.String())
			return
		}
		pos := Position{Point: ev.point, Timestamp: e.opts.Now(), Source: SourceManual}
		e.last = &pos
		e.emit(Update{Position: &pos, State: e.state, Err: e.lastErrIfDegraded()})
	}
}

// begin cancels whatever the previous attempt left behind and starts a new
// one-shot request plus a continuous watch with the attempt's options.
func (e *Engine) begin(attempt int) {
	e.release()
	e.gen++
	gen := e.gen
	e.attempt = attempt
	e.nextRetryAt = time.Time{}
	e.state = StateAcquiring

	opts := e.opts.OptionsForAttempt(attempt)
	e.logger.Debug("Starting location attempt",
		"attempt", attempt,
		"high_accuracy", opts.EnableHighAccuracy,
		"timeout", opts.Timeout,
		"maximum_age", opts.MaximumAge,
	)
	e.emit(Update{State: StateAcquiring})

	oneShot := opts
	oneShot.Timeout = e.opts.InitialFixTimeout
	ctx, cancel := context.WithCancel(context.Background())
	e.oneShotCancel = cancel
	go func() {
		fix, err := e.provider.CurrentPosition(ctx, oneShot)
		if ctx.Err() == context.Canceled {
			return
		}
		if err != nil {
			e.post(evErr{gen: gen, err: err, oneShot: true})
			return
		}
		e.post(evFix{gen: gen, fix: fix, oneShot: true})
	}()

	id, err := e.provider.WatchPosition(opts,
		func(f Fix) { e.post(evFix{gen: gen, fix: f}) },
		func(err error) { e.post(evErr{gen: gen, err: err}) },
	)
	if err != nil {
		e.fail(Classify(err))
		return
	}
	e.watchID = id
	e.watching = true
	e.armSilence()
}

func (e *Engine) handleFix(fix Fix) {
	now := e.opts.Now()
	p := fix.Point()
	if !p.Valid() {
		e.logger.Warn("Dropping fix with invalid coordinates", "lat", fix.Lat, "lng", fix.Lng)
		return
	}
	switch {
	case fix.Timestamp.IsZero():
		fix.Timestamp = now
	case fix.Timestamp.After(now):
		// A device clock running ahead must not hold back later readings.
		e.logger.Debug("Clamping future-dated fix", "ahead", fix.Timestamp.Sub(now))
		fix.Timestamp = now
	}

	if now.Sub(fix.Timestamp) > e.opts.StaleAfter {
		e.logger.Debug("Stale fix", "age", now.Sub(fix.Timestamp))
		e.fail(NewPositionError(CodeStalePosition, nil))
		return
	}

	if e.last != nil && e.last.Source == SourceDevice {
		if fix.Timestamp.Before(e.last.Timestamp) {
			e.logger.Debug("Dropping out-of-order fix", "timestamp", fix.Timestamp)
			return
		}
		// The one-shot request and the watch can both deliver the same reading.
		if fix.Timestamp.Equal(e.last.Timestamp) && p == e.last.Point {
			return
		}
		if DistanceMeters(e.last.Point, p) < e.opts.MinMovementMeters {
			if e.stallTimer == nil {
				gen := e.gen
				e.stallTimer = time.AfterFunc(e.opts.StaleAfter, func() { e.post(evStall{gen: gen}) })
			}
		} else if e.stallTimer != nil {
			e.stallTimer.Stop()
			e.stallTimer = nil
		}
	}

	pos := Position{Point: p, Accuracy: fix.Accuracy, Timestamp: fix.Timestamp, Source: SourceDevice}
	e.last = &pos
	e.attempt = 0
	e.lastErr = nil
	e.nextRetryAt = time.Time{}
	e.state = StateWatching
	e.armSilence()
	e.emit(Update{Position: &pos, State: StateWatching})
}

func (e *Engine) handleError(err error, oneShot bool) {
	perr := Classify(err)
	if oneShot && !perr.Fatal() {
		// The watch drives the retry ladder; a failed quick fix is only informative.
		e.logger.Debug("Initial position request failed", "code", perr.Code.String(), "error", err)
		return
	}
	e.logger.Warn("Location error", "code", perr.Code.String(), "attempt", e.attempt, "error", err)
	e.fail(perr)
}

// fail moves to Retrying, or to Degraded when the error is fatal or the
// retry budget is spent.
func (e *Engine) fail(perr *PositionError) {
	e.lastErr = perr
	if perr.Fatal() || e.attempt >= e.opts.MaxRetries {
		e.degrade(perr)
		return
	}

	e.release()
	e.gen++
	gen := e.gen
	delay := e.opts.BackoffDelay(e.attempt)
	next := e.attempt + 1
	e.nextRetryAt = e.opts.Now().Add(delay)
	e.retryTimer = time.AfterFunc(delay, func() { e.post(evRetryDue{gen: gen, attempt: next}) })
	e.state = StateRetrying

	u := Update{State: StateRetrying}
	if perr.Code == CodeStalePosition {
		u.Notice = noticeStale
	}
	e.emit(u)
}

func (e *Engine) forceRestart(notice string) {
	next := e.attempt + 1
	if next > e.opts.MaxRetries {
		e.lastErr = NewPositionError(CodeStalePosition, nil)
		e.degrade(e.lastErr)
		return
	}
	e.logger.Info("Restarting location watch", "attempt", next, "reason", notice)
	e.emit(Update{State: e.state, Notice: notice})
	e.begin(next)
}

func (e *Engine) degrade(perr *PositionError) {
	e.release()
	e.gen++
	gen := e.gen
	e.state = StateDegraded
	e.nextRetryAt = time.Time{}
	e.logger.Error("Location acquisition degraded", "code", perr.Code.String(), "attempt", e.attempt)
	e.emit(Update{State: StateDegraded, Err: perr})

	if e.opts.IPFallback == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.fallbackCancel = cancel
	locator := e.opts.IPFallback
	go func() {
		p, err := locator.Locate(ctx)
		if ctx.Err() == context.Canceled {
			return
		}
		e.post(evFallback{gen: gen, point: p, err: err})
	}()
}

func (e *Engine) handleFallback(p Point, err error) {
	if err != nil {
		e.logger.Warn("IP geolocation fallback failed", "error", err)
		return
	}
	if !p.Valid() {
		e.logger.Warn("IP geolocation returned invalid coordinates", "point", p.String())
		return
	}
	pos := Position{Point: p, Accuracy: e.opts.IPFallbackAccuracy, Timestamp: e.opts.Now(), Source: SourceIP}
	e.last = &pos
	e.emit(Update{Position: &pos, State: e.state, Err: e.lastErrIfDegraded()})
}

func (e *Engine) armSilence() {
	if e.silenceTimer != nil {
		e.silenceTimer.Stop()
	}
	gen := e.gen
	e.silenceTimer = time.AfterFunc(e.opts.StaleAfter, func() { e.post(evSilence{gen: gen}) })
}

// release clears the watch, every timer and in-flight requests.
func (e *Engine) release() {
	if e.watching {
		e.provider.ClearWatch(e.watchID)
		e.watching = false
	}
	for _, t := range []**time.Timer{&e.retryTimer, &e.stallTimer, &e.silenceTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	if e.oneShotCancel != nil {
		e.oneShotCancel()
		e.oneShotCancel = nil
	}
	if e.fallbackCancel != nil {
		e.fallbackCancel()
		e.fallbackCancel = nil
	}
}

func (e *Engine) lastErrIfDegraded() *PositionError {
	if e.state == StateDegraded {
		return e.lastErr
	}
	return nil
}

func (e *Engine) retryState() RetryState {
	return RetryState{Attempt: e.attempt, LastError: e.lastErr, NextRetryAt: e.nextRetryAt}
}

func (e *Engine) emit(u Update) {
	u.Retry = e.retryState()
	e.setSnapshot(func(s *Snapshot) {
		s.State = u.State
		s.Retry = u.Retry
		if u.Position != nil {
			p := *u.Position
			s.Last = &p
		}
		if u.State == StateDegraded {
			s.Err = e.lastErr
		} else {
			s.Err = nil
		}
	})

	select {
	case <-e.stopCh:
		return
	default:
	}
	select {
	case e.updates <- u:
	case <-e.stopCh:
	}
}

func (e *Engine) setSnapshot(fn func(s *Snapshot)) {
	e.mu.Lock()
	fn(&e.snapshot)
	e.mu.Unlock()
}
