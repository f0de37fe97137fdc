package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/safezone"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

func newMockPostgres(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &SQLStore{db: db, dialect: dialectPostgres}, mock
}

func TestPostgres_CreateZoneUsesNumberedPlaceholders(t *testing.T) {
	s, mock := newMockPostgres(t)
	center := location.Point{Lat: 12.97, Lng: 77.59}
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO zones .+ VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`).
		WithArgs("z1", "u1", "Home", "", 12.97, 77.59, 500.0, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateZone(context.Background(), &safezone.Zone{
		ID: "z1", OwnerID: "u1", Name: "Home", Center: &center, RadiusMeters: 500, CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateZoneNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)
	center := location.Point{Lat: 1, Lng: 2}

	mock.ExpectExec(`UPDATE zones SET name = \$1, .+ WHERE id = \$6 AND owner_id = \$7`).
		WithArgs("Home", "", 1.0, 2.0, 100.0, "z1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateZone(context.Background(), &safezone.Zone{
		ID: "z1", OwnerID: "u2", Name: "Home", Center: &center, RadiusMeters: 100,
	})
	assert.ErrorIs(t, err, apperrors.ErrZoneNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertErrorIsWrapped(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO incidents`).WillReturnError(sqlmock.ErrCancelled)

	err := s.CreateIncident(context.Background(), &Incident{ID: "i1", UserID: "u1", Title: "Theft"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sqlmock.ErrCancelled)
	assert.Contains(t, err.Error(), "failed to insert incident")
}

func TestPostgres_ListIncidentsByUserClampsLimit(t *testing.T) {
	s, mock := newMockPostgres(t)
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "description", "category", "severity", "status", "lat", "lng", "created_at"}).
		AddRow("i1", "u1", "Theft", "", "other", "high", "pending", 12.97, 77.59, ts).
		AddRow("i2", "u1", "Noise", "", "other", "low", "pending", nil, nil, ts)

	mock.ExpectQuery(`SELECT .+ FROM incidents WHERE user_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("u1", 100).
		WillReturnRows(rows)

	got, err := s.ListIncidentsByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, &location.Point{Lat: 12.97, Lng: 77.59}, got[0].Location)
	assert.Nil(t, got[1].Location)
	require.NoError(t, mock.ExpectationsWereMet())
}
