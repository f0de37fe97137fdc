package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/askwhyharsh/safezone/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWatch struct {
	id    WatchID
	opts  PositionOptions
	onFix func(Fix)
	onErr func(error)
}

// fakeProvider never answers one-shot requests on its own; tests drive the
// watches directly.
type fakeProvider struct {
	mu      sync.Mutex
	nextID  WatchID
	watches []*fakeWatch
	cleared map[WatchID]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{cleared: make(map[WatchID]bool)}
}

func (p *fakeProvider) CurrentPosition(ctx context.Context, _ PositionOptions) (Fix, error) {
	<-ctx.Done()
	return Fix{}, ctx.Err()
}

func (p *fakeProvider) WatchPosition(opts PositionOptions, onFix func(Fix), onErr func(error)) (WatchID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.watches = append(p.watches, &fakeWatch{id: p.nextID, opts: opts, onFix: onFix, onErr: onErr})
	return p.nextID, nil
}

func (p *fakeProvider) ClearWatch(id WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared[id] = true
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

func (p *fakeProvider) watch(t *testing.T, n int) *fakeWatch {
	t.Helper()
	require.Eventually(t, func() bool { return p.count() >= n }, 2*time.Second, 2*time.Millisecond,
		"expected watch #%d to be opened", n)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watches[n-1]
}

func (p *fakeProvider) isCleared(id WatchID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleared[id]
}

type stubLocator struct {
	point Point
	err   error
}

func (s stubLocator) Locate(context.Context) (Point, error) {
	return s.point, s.err
}

func testOptions() EngineOptions {
	opts := DefaultEngineOptions()
	opts.BaseTimeout = time.Minute
	opts.RetryBaseDelay = 5 * time.Millisecond
	opts.MaxRetries = 3
	return opts
}

func startEngine(t *testing.T, p Provider, opts EngineOptions) *Engine {
	t.Helper()
	e := NewEngine(p, opts, logger.NewNop())
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, ch <-chan Update, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "update stream closed")
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
		}
	}
}

func hasPosition(u Update) bool { return u.Position != nil }

func inState(s State) func(Update) bool {
	return func(u Update) bool { return u.State == s && u.Position == nil }
}

func TestOptionsForAttempt(t *testing.T) {
	opts := DefaultEngineOptions()
	opts.BaseTimeout = 10 * time.Second

	tests := []struct {
		attempt      int
		highAccuracy bool
		timeout      time.Duration
		maximumAge   time.Duration
	}{
		{0, true, 10 * time.Second, 0},
		{1, true, 20 * time.Second, 0},
		{2, false, 30 * time.Second, 60 * time.Second},
		{3, false, 40 * time.Second, 60 * time.Second},
	}

	for _, tt := range tests {
		got := opts.OptionsForAttempt(tt.attempt)
		assert.Equal(t, tt.highAccuracy, got.EnableHighAccuracy, "attempt %d", tt.attempt)
		assert.Equal(t, tt.timeout, got.Timeout, "attempt %d", tt.attempt)
		assert.Equal(t, tt.maximumAge, got.MaximumAge, "attempt %d", tt.attempt)
	}
}

func TestBackoffDelay(t *testing.T) {
	opts := DefaultEngineOptions()
	opts.RetryBaseDelay = 2 * time.Second
	assert.Equal(t, 2*time.Second, opts.BackoffDelay(0))
	assert.Equal(t, 4*time.Second, opts.BackoffDelay(1))
	assert.Equal(t, 16*time.Second, opts.BackoffDelay(3))
}

func TestEngine_EmitsFreshPosition(t *testing.T) {
	p := newFakeProvider()
	e := startEngine(t, p, testOptions())

	w := p.watch(t, 1)
	assert.True(t, w.opts.EnableHighAccuracy)
	assert.Equal(t, time.Minute, w.opts.Timeout)
	assert.Zero(t, w.opts.MaximumAge)

	w.onFix(Fix{Lat: 12.97, Lng: 77.59, Accuracy: 8, Timestamp: time.Now()})

	u := waitFor(t, e.Updates(), hasPosition)
	assert.Equal(t, 12.97, u.Position.Lat)
	assert.Equal(t, SourceDevice, u.Position.Source)
	assert.Equal(t, StateWatching, u.State)
	assert.Equal(t, 0, u.Retry.Attempt)
	assert.Equal(t, StateWatching, e.Snapshot().State)
}

func TestEngine_StaleFixIsNeverEmitted(t *testing.T) {
	p := newFakeProvider()
	e := startEngine(t, p, testOptions())

	w := p.watch(t, 1)
	w.onFix(Fix{Lat: 1, Lng: 1, Timestamp: time.Now().Add(-2 * time.Minute)})

	u := waitFor(t, e.Updates(), func(u Update) bool { return u.Position != nil || u.State == StateRetrying })
	require.Nil(t, u.Position)
	assert.Equal(t, noticeStale, u.Notice)
	assert.Equal(t, CodeStalePosition, u.Retry.LastError.Code)
	assert.True(t, p.isCleared(w.id))

	second := p.watch(t, 2)
	assert.Equal(t, 2*time.Minute, second.opts.Timeout)
}

func TestEngine_RetriesThenDegrades(t *testing.T) {
	p := newFakeProvider()
	opts := testOptions()
	opts.MaxRetries = 2
	e := startEngine(t, p, opts)

	for i := 1; i <= 3; i++ {
		w := p.watch(t, i)
		w.onErr(NewPositionError(CodeTimeout, nil))
	}

	u := waitFor(t, e.Updates(), inState(StateDegraded))
	require.NotNil(t, u.Err)
	assert.Equal(t, CodeTimeout, u.Err.Code)
	assert.Equal(t, 2, u.Retry.Attempt)

	last := p.watch(t, 3)
	assert.False(t, last.opts.EnableHighAccuracy)
	assert.Equal(t, 60*time.Second, last.opts.MaximumAge)

	// No further attempts once degraded.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, p.count())
}

func TestEngine_PermissionDeniedDegradesImmediately(t *testing.T) {
	p := newFakeProvider()
	e := startEngine(t, p, testOptions())

	p.watch(t, 1).onErr(NewPositionError(CodePermissionDenied, nil))

	u := waitFor(t, e.Updates(), inState(StateDegraded))
	assert.Equal(t, CodePermissionDenied, u.Err.Code)
	assert.Equal(t, "Location access was denied. Please enable location services in your browser settings.", u.Err.Message())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, p.count())
}

func TestEngine_ManualRetryResetsAttempt(t *testing.T) {
	p := newFakeProvider()
	opts := testOptions()
	opts.MaxRetries = 1
	e := startEngine(t, p, opts)

	p.watch(t, 1).onErr(errors.New("boom"))
	p.watch(t, 2).onErr(errors.New("boom"))
	u := waitFor(t, e.Updates(), inState(StateDegraded))
	assert.Equal(t, CodeUnknown, u.Err.Code)

	e.Retry()
	w := p.watch(t, 3)
	assert.Equal(t, time.Minute, w.opts.Timeout)
	u = waitFor(t, e.Updates(), inState(StateAcquiring))
	assert.Equal(t, 0, u.Retry.Attempt)
}

func TestEngine_IPFallbackAfterExhaustion(t *testing.T) {
	p := newFakeProvider()
	opts := testOptions()
	opts.MaxRetries = 1
	opts.IPFallback = stubLocator{point: Point{Lat: 48.85, Lng: 2.35}}
	e := startEngine(t, p, opts)

	p.watch(t, 1).onErr(NewPositionError(CodePositionUnavailable, nil))
	p.watch(t, 2).onErr(NewPositionError(CodePositionUnavailable, nil))

	u := waitFor(t, e.Updates(), hasPosition)
	assert.Equal(t, SourceIP, u.Position.Source)
	assert.Equal(t, 5000.0, u.Position.Accuracy)
	assert.Equal(t, StateDegraded, u.State)
}

func TestEngine_StalledMovementForcesRestart(t *testing.T) {
	p := newFakeProvider()
	opts := testOptions()
	opts.StaleAfter = 50 * time.Millisecond
	e := startEngine(t, p, opts)

	w := p.watch(t, 1)
	now := time.Now()
	w.onFix(Fix{Lat: 10, Lng: 10, Timestamp: now})
	w.onFix(Fix{Lat: 10, Lng: 10, Timestamp: now.Add(time.Millisecond)})
	waitFor(t, e.Updates(), hasPosition)

	restarted := p.watch(t, 2)
	assert.Equal(t, 2*time.Minute, restarted.opts.Timeout)
	assert.True(t, p.isCleared(w.id))
}

func TestEngine_DropsOutOfOrderFixes(t *testing.T) {
	p := newFakeProvider()
	e := startEngine(t, p, testOptions())

	now := time.Now()
	w := p.watch(t, 1)
	w.onFix(Fix{Lat: 1, Lng: 1, Timestamp: now})
	w.onFix(Fix{Lat: 2, Lng: 2, Timestamp: now.Add(-time.Second)})
	w.onFix(Fix{Lat: 3, Lng: 3, Timestamp: now.Add(time.Second)})

	first := waitFor(t, e.Updates(), hasPosition)
	second := waitFor(t, e.Updates(), hasPosition)
	assert.Equal(t, 1.0, first.Position.Lat)
	assert.Equal(t, 3.0, second.Position.Lat)
}

func TestEngine_FutureDatedFixDoesNotBlockLaterFixes(t *testing.T) {
	p := newFakeProvider()
	e := startEngine(t, p, testOptions())

	w := p.watch(t, 1)
	w.onFix(Fix{Lat: 1, Lng: 1, Timestamp: time.Now().Add(time.Hour)})
	first := waitFor(t, e.Updates(), hasPosition)
	assert.False(t, first.Position.Timestamp.After(time.Now()))

	for i := 2; i <= 4; i++ {
		time.Sleep(2 * time.Millisecond)
		w.onFix(Fix{Lat: float64(i), Lng: float64(i), Timestamp: time.Now()})
		u := waitFor(t, e.Updates(), hasPosition)
		assert.Equal(t, float64(i), u.Position.Lat)
	}
	assert.Equal(t, 1, p.count())
}

func TestEngine_SilenceForcesRestart(t *testing.T) {
	p := newFakeProvider()
	opts := testOptions()
	opts.StaleAfter = 50 * time.Millisecond
	e := startEngine(t, p, opts)

	w := p.watch(t, 1)
	w.onFix(Fix{Lat: 10, Lng: 10, Timestamp: time.Now()})
	waitFor(t, e.Updates(), hasPosition)

	// A single fix never arms the stall timer; only the watchdog can restart.
	u := waitFor(t, e.Updates(), func(u Update) bool { return u.Notice == noticeStalled })
	assert.Equal(t, StateWatching, u.State)

	restarted := p.watch(t, 2)
	assert.Equal(t, 2*time.Minute, restarted.opts.Timeout)
	assert.True(t, p.isCleared(w.id))
}

func TestEngine_ManualPosition(t *testing.T) {
	p := newFakeProvider()
	e := startEngine(t, p, testOptions())
	p.watch(t, 1)

	e.SetManualPosition(Point{Lat: 200, Lng: 0})
	e.SetManualPosition(Point{Lat: 40.7, Lng: -74})

	u := waitFor(t, e.Updates(), hasPosition)
	assert.Equal(t, SourceManual, u.Position.Source)
	assert.Equal(t, 40.7, u.Position.Lat)
}

func TestEngine_StopReleasesEverything(t *testing.T) {
	p := newFakeProvider()
	e := NewEngine(p, testOptions(), logger.NewNop())
	e.Start()

	w := p.watch(t, 1)
	e.Stop()

	assert.True(t, p.isCleared(w.id))
	assert.Equal(t, StateStopped, e.Snapshot().State)

	// Late callbacks must be ignored without blocking.
	w.onFix(Fix{Lat: 1, Lng: 1, Timestamp: time.Now()})
	w.onErr(errors.New("late"))
	e.Retry()

	for range e.Updates() {
	}
	e.Stop()
	assert.Equal(t, 1, p.count())
}

func TestEngine_StopBeforeStart(t *testing.T) {
	e := NewEngine(newFakeProvider(), testOptions(), logger.NewNop())
	e.Stop()
	_, ok := <-e.Updates()
	assert.False(t, ok)
	e.Start()
	assert.Equal(t, StateStopped, e.Snapshot().State)
}

func TestEngine_WithDeviceFeed(t *testing.T) {
	feed := NewFeed()
	defer feed.Close()
	e := startEngine(t, feed, testOptions())

	require.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return len(feed.watches) == 1
	}, time.Second, 2*time.Millisecond)

	feed.Push(Fix{Lat: 51.5, Lng: -0.12, Accuracy: 12, Timestamp: time.Now()})
	u := waitFor(t, e.Updates(), hasPosition)
	assert.Equal(t, 51.5, u.Position.Lat)

	// The pending one-shot request saw the same reading; it must not be
	// emitted twice.
	select {
	case dup := <-e.Updates():
		assert.Nil(t, dup.Position, "duplicate fix emitted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIPClient_Locate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"1.2.3.4","latitude":37.77,"longitude":-122.41}`))
	}))
	defer srv.Close()

	p, err := NewIPClient(srv.URL).Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Point{Lat: 37.77, Lng: -122.41}, p)
}

func TestIPClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bad status", http.StatusTooManyRequests, `{}`},
		{"missing coordinates", http.StatusOK, `{"ip":"1.2.3.4"}`},
		{"provider error", http.StatusOK, `{"error":true,"reason":"RateLimited"}`},
		{"garbage", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewIPClient(srv.URL).Locate(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, CodeUnknown, Classify(errors.New("x")).Code)

	wrapped := errors.Join(errors.New("ctx"), NewPositionError(CodeTimeout, nil))
	assert.Equal(t, CodeTimeout, Classify(wrapped).Code)

	assert.Equal(t, CodePermissionDenied, ParseErrorCode("1"))
	assert.Equal(t, CodeTimeout, ParseErrorCode("timeout"))
	assert.Equal(t, CodeUnknown, ParseErrorCode("??"))

	msgs := map[string]bool{}
	for _, c := range []ErrorCode{CodeUnknown, CodePermissionDenied, CodePositionUnavailable, CodeTimeout, CodeStalePosition} {
		msgs[c.Message()] = true
	}
	assert.Len(t, msgs, 5)
}
