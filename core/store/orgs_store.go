package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type ThreatProfile struct {
	ID             int64     `json:"id"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type OrgsStore interface {
	CreateOrganization(ctx context.Context, org *Organization) (int64, error)
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)

	CreateThreatProfile(ctx context.Context, tp *ThreatProfile) (int64, error)
	ListThreatProfiles(ctx context.Context, organizationID int64) ([]ThreatProfile, error)

	// OutcomeWeightOverrides returns the organization's weight
	// overrides; an empty map means no override exists and the system
	// default table applies.
	OutcomeWeightOverrides(ctx context.Context, organizationID int64) (map[DetectionOutcome]float64, error)
	SetOutcomeWeight(ctx context.Context, organizationID int64, outcome DetectionOutcome, weight float64) error
}

type orgsStore struct {
	db *sql.DB
}

func NewOrgsStore(db *sql.DB) OrgsStore {
	return &orgsStore{db: db}
}

func (s *orgsStore) CreateOrganization(ctx context.Context, org *Organization) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO organizations(name, created_at) VALUES(?,?)`,
		strings.TrimSpace(org.Name), now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	org.ID = id
	org.CreatedAt = now
	return id, nil
}

func (s *orgsStore) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM organizations WHERE id=?`, id).
		Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *orgsStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM organizations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *orgsStore) CreateThreatProfile(ctx context.Context, tp *ThreatProfile) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO threat_profiles(organization_id, name, description, created_at) VALUES(?,?,?,?)`,
		nullableID(tp.OrganizationID), strings.TrimSpace(tp.Name), tp.Description, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	tp.ID = id
	tp.CreatedAt = now
	return id, nil
}

func (s *orgsStore) ListThreatProfiles(ctx context.Context, organizationID int64) ([]ThreatProfile, error) {
	query := `SELECT id, organization_id, name, description, created_at FROM threat_profiles`
	var args []any
	if organizationID > 0 {
		query += ` WHERE organization_id=?`
		args = append(args, organizationID)
	}
	query += ` ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ThreatProfile
	for rows.Next() {
		var tp ThreatProfile
		if err := rows.Scan(&tp.ID, &tp.OrganizationID, &tp.Name, &tp.Description, &tp.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

func (s *orgsStore) OutcomeWeightOverrides(ctx context.Context, organizationID int64) (map[DetectionOutcome]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, weight FROM outcome_weights WHERE organization_id=?`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[DetectionOutcome]float64{}
	for rows.Next() {
		var outcome string
		var weight float64
		if err := rows.Scan(&outcome, &weight); err != nil {
			return nil, err
		}
		out[DetectionOutcome(outcome)] = weight
	}
	return out, rows.Err()
}

func (s *orgsStore) SetOutcomeWeight(ctx context.Context, organizationID int64, outcome DetectionOutcome, weight float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcome_weights(organization_id, outcome, weight) VALUES(?,?,?)
		ON CONFLICT (organization_id, outcome) DO UPDATE SET weight=excluded.weight`,
		organizationID, string(outcome), weight)
	return err
}
