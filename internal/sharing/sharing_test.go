package sharing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/notify"
	"github.com/askwhyharsh/safezone/internal/storage"
	"github.com/askwhyharsh/safezone/internal/storage/storagetest"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

var (
	mgRoad   = location.Point{Lat: 12.9716, Lng: 77.5946}
	nearby   = location.Point{Lat: 12.9740, Lng: 77.5946} // ~270m north
	whitefld = location.Point{Lat: 12.9698, Lng: 77.7500} // ~17km east
)

func TestStore_UpsertAndGet(t *testing.T) {
	rdb := storagetest.NewRedis()
	s := NewStore(rdb, 6, time.Hour)
	ctx := context.Background()

	_, err := s.Get(ctx, "u1")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)

	require.NoError(t, s.Upsert(ctx, Record{UserID: "u1", Active: true, LastLocation: &mgRoad, Accuracy: 12}))
	rec, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, location.EncodeGeohash(mgRoad, 6), rec.Geohash)
	assert.InDelta(t, time.Hour, rdb.TTL("share:u1"), float64(time.Second))

	// Overwrite, not merge.
	require.NoError(t, s.Upsert(ctx, Record{UserID: "u1", Active: true, LastLocation: &whitefld}))
	rec, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, whitefld, *rec.LastLocation)
	assert.Zero(t, rec.Accuracy)

	old, err := rdb.SMembers(ctx, "share:geo:"+location.EncodeGeohash(mgRoad, 6))
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestStore_DeactivateRemovesFromIndex(t *testing.T) {
	rdb := storagetest.NewRedis()
	s := NewStore(rdb, 6, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Deactivate(ctx, "missing"))

	require.NoError(t, s.Upsert(ctx, Record{UserID: "u1", Active: true, LastLocation: &mgRoad}))
	require.NoError(t, s.Deactivate(ctx, "u1"))

	rec, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.Active)
	assert.Empty(t, rec.Geohash)

	for i := 1; i <= 6; i++ {
		members, err := rdb.SMembers(ctx, "share:geo:"+location.EncodeGeohash(mgRoad, i))
		require.NoError(t, err)
		assert.Empty(t, members, "precision %d", i)
	}
}

func TestStore_Nearby(t *testing.T) {
	s := NewStore(storagetest.NewRedis(), 6, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Record{UserID: "me", Active: true, LastLocation: &mgRoad}))
	require.NoError(t, s.Upsert(ctx, Record{UserID: "near", Active: true, LastLocation: &nearby}))
	require.NoError(t, s.Upsert(ctx, Record{UserID: "far", Active: true, LastLocation: &whitefld}))
	require.NoError(t, s.Upsert(ctx, Record{UserID: "off", Active: false, LastLocation: &nearby}))

	got, err := s.Nearby(ctx, mgRoad, 5000, "me")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].UserID)
	assert.Equal(t, Pseudonym("near"), got[0].Alias)
	assert.Equal(t, 250, got[0].Distance)

	wide, err := s.Nearby(ctx, mgRoad, 20000, "me")
	require.NoError(t, err)
	require.Len(t, wide, 2)
	assert.Equal(t, "near", wide[0].UserID)
	assert.Equal(t, "far", wide[1].UserID)
}

func TestPseudonym(t *testing.T) {
	assert.Equal(t, Pseudonym("user-1"), Pseudonym("user-1"))
	assert.NotEqual(t, Pseudonym("user-1"), Pseudonym("user-2"))
	assert.Regexp(t, `^[A-Z][a-z]+[A-Z][a-z]+\d{1,4}$`, Pseudonym("user-1"))
}

type stubContacts struct {
	contacts []storage.Contact
	err      error
}

func (s *stubContacts) ListContacts(context.Context, string) ([]storage.Contact, error) {
	return s.contacts, s.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
	to     [][]notify.Recipient
}

func (r *recordingNotifier) Broadcast(_ context.Context, recipients []notify.Recipient, alert notify.Alert) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	r.to = append(r.to, recipients)
	return notify.Result{Sent: len(recipients)}
}

func newTestPublisher(t *testing.T) (*Publisher, *Store, *recordingNotifier, *stubContacts) {
	t.Helper()
	store := NewStore(storagetest.NewRedis(), 6, time.Hour)
	contacts := &stubContacts{contacts: []storage.Contact{
		{ID: "c1", Name: "Mom", PhoneNumber: "+15550000001"},
		{ID: "c2", Name: "Ravi", PhoneNumber: "+15550000002"},
	}}
	n := &recordingNotifier{}
	return NewPublisher("u1", "Asha", store, contacts, n, logger.NewNop()), store, n, contacts
}

func TestPublisher_NotifiesOnceOnEnableAndDisable(t *testing.T) {
	p, store, n, _ := newTestPublisher(t)
	ctx := context.Background()

	// Not sharing: positions are remembered but not stored.
	p.Publish(ctx, location.Position{Point: mgRoad})
	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)

	assert.True(t, p.Enable(ctx, nil))
	assert.False(t, p.Enable(ctx, nil))
	assert.True(t, p.Enabled())

	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, []string{"c1", "c2"}, rec.ContactIDs)
	assert.Equal(t, mgRoad, *rec.LastLocation)

	for i := 0; i < 5; i++ {
		p.Publish(ctx, location.Position{Point: nearby, Accuracy: 8})
	}
	rec, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, nearby, *rec.LastLocation)
	assert.Equal(t, 8.0, rec.Accuracy)

	assert.True(t, p.Disable(ctx))
	assert.False(t, p.Disable(ctx))
	rec, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.Active)

	require.Len(t, n.alerts, 2)
	assert.Equal(t, notify.KindUpdate, n.alerts[0].Kind)
	assert.Contains(t, n.alerts[0].Message, "started sharing")
	assert.Contains(t, n.alerts[1].Message, "stopped sharing")
	assert.Equal(t, nearby, *n.alerts[1].Location)
	assert.Len(t, n.to[1], 2)
}

func TestPublisher_DisableOnlyNotifiesSharedContacts(t *testing.T) {
	p, _, n, contacts := newTestPublisher(t)
	ctx := context.Background()

	p.Enable(ctx, &location.Position{Point: mgRoad})
	contacts.contacts = append(contacts.contacts, storage.Contact{ID: "c3", PhoneNumber: "+15550000003"})
	p.Disable(ctx)

	require.Len(t, n.to, 2)
	assert.Len(t, n.to[1], 2)
}

func TestPublisher_FailuresAreSwallowed(t *testing.T) {
	rdb := storagetest.NewRedis()
	store := NewStore(rdb, 6, time.Hour)
	contacts := &stubContacts{err: errors.New("db down")}
	p := NewPublisher("u1", "", store, contacts, nil, logger.NewNop())
	ctx := context.Background()

	rdb.FailWith = errors.New("redis down")
	assert.True(t, p.Enable(ctx, &location.Position{Point: mgRoad}))
	p.Publish(ctx, location.Position{Point: nearby})
	assert.True(t, p.Disable(ctx))
}

func TestPublisher_Restore(t *testing.T) {
	store := NewStore(storagetest.NewRedis(), 6, time.Hour)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, Record{UserID: "u1", Active: true, ContactIDs: []string{"c1"}, LastLocation: &mgRoad}))

	n := &recordingNotifier{}
	p := NewPublisher("u1", "Asha", store, &stubContacts{}, n, logger.NewNop())
	assert.True(t, p.Restore(ctx))
	assert.True(t, p.Enabled())
	assert.Empty(t, n.alerts)

	other := NewPublisher("u2", "", store, &stubContacts{}, n, logger.NewNop())
	assert.False(t, other.Restore(ctx))
}

func TestRecipients(t *testing.T) {
	got := Recipients([]storage.Contact{{ID: "c1", Name: "Mom", PhoneNumber: "+1555"}})
	assert.Equal(t, []notify.Recipient{{ID: "c1", Name: "Mom", Phone: "+1555"}}, got)
}
