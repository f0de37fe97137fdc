package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_PushReachesWatches(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	var mu sync.Mutex
	var got []Fix
	id, err := f.WatchPosition(PositionOptions{}, func(fix Fix) {
		mu.Lock()
		got = append(got, fix)
		mu.Unlock()
	}, func(error) {})
	require.NoError(t, err)

	f.Push(Fix{Lat: 1, Lng: 2, Timestamp: time.Now()})
	f.ClearWatch(id)
	f.Push(Fix{Lat: 3, Lng: 4, Timestamp: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Lat)
}

func TestFeed_CurrentPositionUsesCacheWithinMaximumAge(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	f.Push(Fix{Lat: 5, Lng: 6, Timestamp: time.Now().Add(-10 * time.Second)})

	fix, err := f.CurrentPosition(context.Background(), PositionOptions{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 5.0, fix.Lat)

	_, err = f.CurrentPosition(context.Background(), PositionOptions{MaximumAge: time.Second, Timeout: 20 * time.Millisecond})
	var perr *PositionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, CodeTimeout, perr.Code)
}

func TestFeed_CurrentPositionWaitsForNextPush(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	done := make(chan Fix, 1)
	go func() {
		fix, err := f.CurrentPosition(context.Background(), PositionOptions{Timeout: time.Second})
		if err == nil {
			done <- fix
		}
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	f.Push(Fix{Lat: 7, Lng: 8, Timestamp: time.Now()})
	fix, ok := <-done
	require.True(t, ok)
	assert.Equal(t, 7.0, fix.Lat)
}

func TestFeed_WatchTimesOut(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	errs := make(chan error, 4)
	_, err := f.WatchPosition(PositionOptions{Timeout: 20 * time.Millisecond}, func(Fix) {}, func(err error) {
		errs <- err
	})
	require.NoError(t, err)

	select {
	case err := <-errs:
		assert.Equal(t, CodeTimeout, Classify(err).Code)
	case <-time.After(time.Second):
		t.Fatal("expected watch timeout")
	}
}

func TestFeed_PushErrorAndClose(t *testing.T) {
	f := NewFeed()

	errs := make(chan error, 1)
	_, err := f.WatchPosition(PositionOptions{}, func(Fix) {}, func(err error) { errs <- err })
	require.NoError(t, err)

	f.PushError(CodePermissionDenied)
	assert.Equal(t, CodePermissionDenied, Classify(<-errs).Code)

	f.Close()
	_, err = f.WatchPosition(PositionOptions{}, func(Fix) {}, func(error) {})
	assert.Error(t, err)
	_, err = f.CurrentPosition(context.Background(), PositionOptions{})
	assert.Equal(t, CodePositionUnavailable, Classify(err).Code)
}

func TestFeedRegistry(t *testing.T) {
	r := NewFeedRegistry()
	a := r.Get("user-1")
	assert.Same(t, a, r.Get("user-1"))

	_, ok := r.Lookup("user-2")
	assert.False(t, ok)

	r.Remove("user-1")
	_, ok = r.Lookup("user-1")
	assert.False(t, ok)
	b := r.Get("user-1")
	assert.NotSame(t, a, b)

	assert.Same(t, b, r.Detach("user-1"))
	assert.Nil(t, r.Detach("user-1"))
	b.Push(Fix{Lat: 1, Lng: 1, Timestamp: time.Now()})
	_, ok = b.Last()
	assert.True(t, ok, "a detached feed stays open until closed")
	b.Close()
}
