package safezone

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/safezone/internal/location"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEvaluator() (*Evaluator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEvaluator("user-1", Options{Now: clock.Now}, logger.NewNop())
	return e, clock
}

func zoneAt(id string, lat, lng, radius float64) Zone {
	return Zone{ID: id, Name: "Zone " + id, Center: &location.Point{Lat: lat, Lng: lng}, RadiusMeters: radius}
}

func at(lat, lng float64) location.Position {
	return location.Position{Point: location.Point{Lat: lat, Lng: lng}, Timestamp: time.Now(), Source: location.SourceDevice}
}

func TestEvaluate_InsideThenOutside(t *testing.T) {
	e, clock := newTestEvaluator()
	home := zoneAt("A", 0, 0, 500)

	inside := e.Evaluate(at(0.001, 0.001), []Zone{home})
	assert.True(t, inside.Protected)
	assert.Equal(t, 100, inside.Score)
	assert.Nil(t, inside.Exit)
	require.Len(t, inside.Memberships, 1)
	assert.InDelta(t, 157, inside.Memberships[0].DistanceMeters, 1)

	clock.Advance(30 * time.Second)
	outside := e.Evaluate(at(0.01, 0.01), []Zone{home})
	assert.False(t, outside.Protected)
	assert.Equal(t, 69, outside.Score)
	require.NotNil(t, outside.Exit)
	assert.Equal(t, "A", outside.Exit.ZoneID)
	assert.Equal(t, "user-1", outside.Exit.UserID)
	assert.Equal(t, clock.now.Add(10*time.Second), outside.Exit.DisplayUntil)
	assert.Equal(t, ExitSound, outside.Exit.Sound)

	clock.Advance(time.Minute)
	again := e.Evaluate(at(0.011, 0.011), []Zone{home})
	assert.False(t, again.Protected)
	assert.Nil(t, again.Exit, "cooldown should suppress a second alert")
}

func TestEvaluate_CooldownElapses(t *testing.T) {
	e, clock := newTestEvaluator()
	zones := []Zone{zoneAt("A", 0, 0, 100)}

	require.NotNil(t, e.Evaluate(at(0.01, 0), zones).Exit)

	clock.Advance(5 * time.Minute)
	assert.Nil(t, e.Evaluate(at(0.01, 0), zones).Exit, "exactly the cooldown is not enough")

	clock.Advance(time.Second)
	assert.NotNil(t, e.Evaluate(at(0.01, 0), zones).Exit)
}

func TestEvaluate_ReEntryDoesNotResetCooldown(t *testing.T) {
	e, clock := newTestEvaluator()
	zones := []Zone{zoneAt("A", 0, 0, 100)}

	require.Nil(t, e.Evaluate(at(0, 0), zones).Exit)
	clock.Advance(10 * time.Second)
	require.NotNil(t, e.Evaluate(at(0.01, 0), zones).Exit)

	clock.Advance(time.Minute)
	back := e.Evaluate(at(0.0001, 0), zones)
	assert.True(t, back.Protected)
	assert.Nil(t, back.Exit)

	clock.Advance(time.Minute)
	reExit := e.Evaluate(at(0.01, 0), zones)
	assert.False(t, reExit.Protected)
	assert.Nil(t, reExit.Exit, "re-exit inside the cooldown must not alert")

	clock.Advance(3*time.Minute + time.Second)
	assert.NotNil(t, e.Evaluate(at(0.01, 0), zones).Exit)
}

func TestEvaluate_CooldownIsPerZone(t *testing.T) {
	e, clock := newTestEvaluator()
	a := zoneAt("A", 0, 0, 100)
	b := zoneAt("B", 1, 1, 100)

	first := e.Evaluate(at(0.01, 0), []Zone{a, b})
	require.NotNil(t, first.Exit)
	assert.Equal(t, "A", first.Exit.ZoneID)

	clock.Advance(10 * time.Second)
	second := e.Evaluate(at(0.99, 1), []Zone{a, b})
	require.NotNil(t, second.Exit)
	assert.Equal(t, "B", second.Exit.ZoneID)

	_, ok := e.LastAlert("A")
	assert.True(t, ok)
}

func TestEvaluate_NoZones(t *testing.T) {
	e, _ := newTestEvaluator()
	got := e.Evaluate(at(10, 10), nil)
	assert.False(t, got.Protected)
	assert.Equal(t, 0, got.Score)
	assert.Nil(t, got.Exit)
	assert.Nil(t, got.Nearest)
}

func TestEvaluate_SkipsInvalidZones(t *testing.T) {
	e, _ := newTestEvaluator()
	zones := []Zone{
		{ID: "no-center", RadiusMeters: 100},
		zoneAt("zero-radius", 0, 0, 0),
		zoneAt("nan-radius", 0, 0, math.NaN()),
		zoneAt("bad-lat", 95, 0, 100),
		zoneAt("ok", 0, 0, 500),
	}

	got := e.Evaluate(at(0.001, 0.001), zones)
	assert.ElementsMatch(t, []string{"no-center", "zero-radius", "nan-radius", "bad-lat"}, got.Skipped)
	require.Len(t, got.Memberships, 1)
	assert.True(t, got.Protected)
}

func TestEvaluate_OnlyInvalidZonesScoresZero(t *testing.T) {
	e, _ := newTestEvaluator()
	got := e.Evaluate(at(0, 0), []Zone{{ID: "broken"}})
	assert.Equal(t, 0, got.Score)
	assert.Nil(t, got.Exit)
}

func TestEvaluate_BoundaryIsInside(t *testing.T) {
	e, _ := newTestEvaluator()
	p := at(0.001, 0.001)
	d := location.DistanceMeters(p.Point, location.Point{})
	got := e.Evaluate(p, []Zone{zoneAt("edge", 0, 0, d)})
	assert.True(t, got.Protected)
}

func TestEvaluate_NearestZoneIsExitCandidate(t *testing.T) {
	e, _ := newTestEvaluator()
	far := zoneAt("far", 0, 0.1, 100)
	near := zoneAt("near", 0, 0.02, 100)

	got := e.Evaluate(at(0, 0), []Zone{far, near})
	require.NotNil(t, got.Exit)
	assert.Equal(t, "near", got.Exit.ZoneID)
	assert.Equal(t, "near", got.Nearest.ZoneID)
}

func TestEvaluate_ProtectedByAnyZone(t *testing.T) {
	e, _ := newTestEvaluator()
	zones := []Zone{zoneAt("far", 5, 5, 100), zoneAt("home", 0, 0, 1000)}
	got := e.Evaluate(at(0.001, 0), zones)
	assert.True(t, got.Protected)
	assert.Nil(t, got.Exit)
}

func TestEvaluator_Reset(t *testing.T) {
	e, _ := newTestEvaluator()
	zones := []Zone{zoneAt("A", 0, 0, 100)}
	require.NotNil(t, e.Evaluate(at(0.01, 0), zones).Exit)
	e.Reset()
	assert.NotNil(t, e.Evaluate(at(0.01, 0), zones).Exit)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100, Score(true, 12345))
	assert.Equal(t, 100, Score(false, 0))
	assert.Equal(t, 90, Score(false, 500))
	assert.Equal(t, 69, Score(false, 1572.5))
	assert.Equal(t, 0, Score(false, 5000))
	assert.Equal(t, 0, Score(false, 50000))

	prev := 101
	for d := 0.0; d <= 6000; d += 37 {
		s := Score(false, d)
		assert.GreaterOrEqual(t, s, 0)
		assert.LessOrEqual(t, s, prev, "score must not increase with distance")
		prev = s
	}
}

func TestZoneValidate(t *testing.T) {
	err := Zone{ID: "z"}.Validate()
	assert.True(t, errors.Is(err, apperrors.ErrInvalidZoneGeometry))
	assert.NoError(t, zoneAt("z", 1, 1, 10).Validate())
	assert.Equal(t, 0.5, zoneAt("z", 1, 1, 500).RadiusKm())
	assert.True(t, zoneAt("z", 0, 0, 200).Contains(location.Point{Lat: 0.001}))
	assert.False(t, Zone{ID: "z"}.Contains(location.Point{}))
}
