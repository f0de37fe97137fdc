package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/askwhyharsh/safezone/internal/config"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/safezone"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

type ZoneRepository interface {
	CreateZone(ctx context.Context, z *safezone.Zone) error
	UpdateZone(ctx context.Context, z *safezone.Zone) error
	DeleteZone(ctx context.Context, ownerID, id string) error
	GetZone(ctx context.Context, ownerID, id string) (*safezone.Zone, error)
	ListZones(ctx context.Context, ownerID string) ([]safezone.Zone, error)
}

type ContactRepository interface {
	CreateContact(ctx context.Context, c *Contact) error
	DeleteContact(ctx context.Context, userID, id string) error
	ListContacts(ctx context.Context, userID string) ([]Contact, error)
}

type IncidentRepository interface {
	CreateIncident(ctx context.Context, i *Incident) error
	ListIncidentsByUser(ctx context.Context, userID string, limit int) ([]Incident, error)
	ListIncidentsNear(ctx context.Context, p location.Point, radiusMeters float64, limit int) ([]Incident, error)
}

// Store is the durable side of the service.
type Store interface {
	ZoneRepository
	ContactRepository
	IncidentRepository
	Ping(ctx context.Context) error
	Close() error
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Store over database/sql for both SQLite and Postgres.
// Queries are written with ? placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Open picks the backend named by cfg.Driver.
func Open(cfg config.DatabaseConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	case "sqlite", "":
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Zone operations
func (s *SQLStore) CreateZone(ctx context.Context, z *safezone.Zone) error {
	if z.CreatedAt.IsZero() {
		z.CreatedAt = time.Now().UTC()
	}
	lat, lng := nullCenter(z.Center)
	query := `
		INSERT INTO zones (id, owner_id, name, address, center_lat, center_lng, radius_meters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		z.ID, z.OwnerID, z.Name, z.Address, lat, lng, z.RadiusMeters, z.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert zone: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateZone(ctx context.Context, z *safezone.Zone) error {
	lat, lng := nullCenter(z.Center)
	query := `
		UPDATE zones SET name = ?, address = ?, center_lat = ?, center_lng = ?, radius_meters = ?
		WHERE id = ? AND owner_id = ?
	`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		z.Name, z.Address, lat, lng, z.RadiusMeters, z.ID, z.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to update zone: %w", err)
	}
	return expectOne(res, apperrors.ErrZoneNotFound)
}

func (s *SQLStore) DeleteZone(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM zones WHERE id = ? AND owner_id = ?`), id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete zone: %w", err)
	}
	return expectOne(res, apperrors.ErrZoneNotFound)
}

func (s *SQLStore) GetZone(ctx context.Context, ownerID, id string) (*safezone.Zone, error) {
	query := `
		SELECT id, owner_id, name, address, center_lat, center_lng, radius_meters, created_at
		FROM zones WHERE id = ? AND owner_id = ?
	`
	z, err := scanZone(s.db.QueryRowContext(ctx, s.rebind(query), id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrZoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	return z, nil
}

func (s *SQLStore) ListZones(ctx context.Context, ownerID string) ([]safezone.Zone, error) {
	query := `
		SELECT id, owner_id, name, address, center_lat, center_lng, radius_meters, created_at
		FROM zones WHERE owner_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	zones := make([]safezone.Zone, 0)
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, *z)
	}
	return zones, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanZone(row scanner) (*safezone.Zone, error) {
	var (
		z        safezone.Zone
		lat, lng sql.NullFloat64
	)
	if err := row.Scan(&z.ID, &z.OwnerID, &z.Name, &z.Address, &lat, &lng, &z.RadiusMeters, &z.CreatedAt); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		z.Center = &location.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &z, nil
}

// Contact operations
func (s *SQLStore) CreateContact(ctx context.Context, c *Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO contacts (id, user_id, name, phone_number, relationship, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		c.ID, c.UserID, c.Name, c.PhoneNumber, c.Relationship, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteContact(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM contacts WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return expectOne(res, apperrors.ErrContactNotFound)
}

func (s *SQLStore) ListContacts(ctx context.Context, userID string) ([]Contact, error) {
	query := `
		SELECT id, user_id, name, phone_number, relationship, created_at
		FROM contacts WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]Contact, 0)
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.PhoneNumber, &c.Relationship, &c.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Incident operations
func (s *SQLStore) CreateIncident(ctx context.Context, i *Incident) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.Status == "" {
		i.Status = IncidentStatusPending
	}
	lat, lng := nullCenter(i.Location)
	query := `
		INSERT INTO incidents (id, user_id, title, description, category, severity, status, lat, lng, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		i.ID, i.UserID, i.Title, i.Description, i.Category, i.Severity, i.Status, lat, lng, i.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

const incidentColumns = `id, user_id, title, description, category, severity, status, lat, lng, created_at`

func (s *SQLStore) ListIncidentsByUser(ctx context.Context, userID string, limit int) ([]Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	return s.queryIncidents(ctx, s.rebind(query), userID, clampLimit(limit))
}

// ListIncidentsNear narrows by bounding box in SQL, then filters by
// great-circle distance. Results are ordered nearest first.
func (s *SQLStore) ListIncidentsNear(ctx context.Context, p location.Point, radiusMeters float64, limit int) ([]Incident, error) {
	dLat := location.ToDegrees(radiusMeters / location.EarthRadiusMeters)
	cosLat := math.Cos(location.ToRadians(p.Lat))
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = math.Min(180, dLat/cosLat)
	}

	query := `
		SELECT ` + incidentColumns + ` FROM incidents
		WHERE lat IS NOT NULL AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
	`
	candidates, err := s.queryIncidents(ctx, s.rebind(query), p.Lat-dLat, p.Lat+dLat, p.Lng-dLng, p.Lng+dLng)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		inc  Incident
		dist float64
	}
	var hits []ranked
	for _, inc := range candidates {
		d := location.DistanceMeters(p, *inc.Location)
		if d <= radiusMeters {
			hits = append(hits, ranked{inc, d})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].dist < hits[b].dist })

	limit = clampLimit(limit)
	out := make([]Incident, 0, len(hits))
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.inc)
	}
	return out, nil
}

func (s *SQLStore) queryIncidents(ctx context.Context, query string, args ...any) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]Incident, 0)
	for rows.Next() {
		var (
			i        Incident
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&i.ID, &i.UserID, &i.Title, &i.Description, &i.Category,
			&i.Severity, &i.Status, &lat, &lng, &i.CreatedAt); err != nil {
			return nil, err
		}
		if lat.Valid && lng.Valid {
			i.Location = &location.Point{Lat: lat.Float64, Lng: lng.Float64}
		}
		incidents = append(incidents, i)
	}
	return incidents, rows.Err()
}

func nullCenter(p *location.Point) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lng, Valid: true}
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
