package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Technique struct {
	ID                 int64           `json:"-"`
	PublicID           string          `json:"id"`
	EngagementID       int64           `json:"-"`
	TechniqueRef       string          `json:"technique_ref"`
	Name               string          `json:"name,omitempty"`
	Tactic             string          `json:"tactic,omitempty"`
	Status             TechniqueStatus `json:"status"`
	Position           int             `json:"position"`
	ExecutedAt         *time.Time      `json:"executed_at,omitempty"`
	DetectSeconds      *int64          `json:"detect_seconds,omitempty"`
	InvestigateSeconds *int64          `json:"investigate_seconds,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type TechniqueOutcome struct {
	ID          int64            `json:"id"`
	TechniqueID int64            `json:"-"`
	Tool        string           `json:"tool"`
	Outcome     DetectionOutcome `json:"outcome"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// OutcomeRow is the flattened (technique, tool, outcome) row the
// metrics aggregator consumes, joined with the technique's tactic and
// timing fields.
type OutcomeRow struct {
	TechniqueID        int64
	Tactic             string
	Tool               string
	Outcome            DetectionOutcome
	DetectSeconds      *int64
	InvestigateSeconds *int64
}

type TechniquesStore interface {
	CreateTechnique(ctx context.Context, t *Technique) (int64, error)
	UpdateTechnique(ctx context.Context, t *Technique) error
	DeleteTechnique(ctx context.Context, id int64) error
	GetTechnique(ctx context.Context, id int64) (*Technique, error)
	GetTechniqueByPublicID(ctx context.Context, publicID string) (*Technique, error)
	ListTechniques(ctx context.Context, engagementID int64) ([]Technique, error)
	CountTerminalTechniques(ctx context.Context, engagementID int64) (int, error)

	UpsertOutcome(ctx context.Context, o *TechniqueOutcome) error
	ListOutcomes(ctx context.Context, techniqueID int64) ([]TechniqueOutcome, error)
	ListOutcomeRows(ctx context.Context, engagementID int64) ([]OutcomeRow, error)
}

type techniquesStore struct {
	db *sql.DB
}

func NewTechniquesStore(db *sql.DB) TechniquesStore {
	return &techniquesStore{db: db}
}

func (s *techniquesStore) CreateTechnique(ctx context.Context, t *Technique) (int64, error) {
	now := time.Now().UTC()
	if t.Status == "" {
		t.Status = TechniquePlanned
	}
	if t.Position <= 0 {
		var max sql.NullInt64
		if err := s.db.QueryRowContext(ctx,
			`SELECT MAX(position) FROM techniques WHERE engagement_id=? AND status=?`,
			t.EngagementID, string(t.Status)).Scan(&max); err != nil {
			return 0, err
		}
		t.Position = int(max.Int64) + 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO techniques(public_id, engagement_id, technique_ref, name, tactic, status, position, executed_at, detect_seconds, investigate_seconds, notes, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.PublicID, t.EngagementID, strings.TrimSpace(t.TechniqueRef), t.Name, strings.ToLower(strings.TrimSpace(t.Tactic)),
		string(t.Status), t.Position, nullableTime(t.ExecutedAt), t.DetectSeconds, t.InvestigateSeconds, t.Notes, now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	t.ID = id
	t.CreatedAt = now
	t.UpdatedAt = now
	return id, nil
}

func (s *techniquesStore) UpdateTechnique(ctx context.Context, t *Technique) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE techniques
		SET technique_ref=?, name=?, tactic=?, status=?, position=?, executed_at=?, detect_seconds=?, investigate_seconds=?, notes=?, updated_at=?
		WHERE id=?`,
		strings.TrimSpace(t.TechniqueRef), t.Name, strings.ToLower(strings.TrimSpace(t.Tactic)), string(t.Status), t.Position,
		nullableTime(t.ExecutedAt), t.DetectSeconds, t.InvestigateSeconds, t.Notes, now, t.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	t.UpdatedAt = now
	return nil
}

func (s *techniquesStore) DeleteTechnique(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM techniques WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const techniqueColumns = `id, public_id, engagement_id, technique_ref, name, tactic, status, position, executed_at, detect_seconds, investigate_seconds, notes, created_at, updated_at`

func scanTechnique(row rowScanner) (*Technique, error) {
	var t Technique
	var status string
	err := row.Scan(&t.ID, &t.PublicID, &t.EngagementID, &t.TechniqueRef, &t.Name, &t.Tactic, &status,
		&t.Position, &t.ExecutedAt, &t.DetectSeconds, &t.InvestigateSeconds, &t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Status = TechniqueStatus(status)
	return &t, nil
}

func (s *techniquesStore) GetTechnique(ctx context.Context, id int64) (*Technique, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+techniqueColumns+` FROM techniques WHERE id=?`, id)
	return scanTechnique(row)
}

func (s *techniquesStore) GetTechniqueByPublicID(ctx context.Context, publicID string) (*Technique, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+techniqueColumns+` FROM techniques WHERE public_id=?`, publicID)
	return scanTechnique(row)
}

func (s *techniquesStore) ListTechniques(ctx context.Context, engagementID int64) ([]Technique, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+techniqueColumns+` FROM techniques
		WHERE engagement_id=? ORDER BY status, position, id`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Technique
	for rows.Next() {
		t, err := scanTechnique(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *techniquesStore) CountTerminalTechniques(ctx context.Context, engagementID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM techniques WHERE engagement_id=? AND status=?`,
		engagementID, string(TechniqueDone)).Scan(&n)
	return n, err
}

func (s *techniquesStore) UpsertOutcome(ctx context.Context, o *TechniqueOutcome) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO technique_outcomes(technique_id, tool, outcome, created_at, updated_at)
		VALUES(?,?,?,?,?)
		ON CONFLICT (technique_id, tool)
		DO UPDATE SET outcome=excluded.outcome, updated_at=excluded.updated_at`,
		o.TechniqueID, strings.TrimSpace(o.Tool), string(o.Outcome), now, now)
	if err != nil {
		return err
	}
	o.UpdatedAt = now
	return nil
}

func (s *techniquesStore) ListOutcomes(ctx context.Context, techniqueID int64) ([]TechniqueOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, technique_id, tool, outcome, created_at, updated_at
		FROM technique_outcomes WHERE technique_id=? ORDER BY tool`, techniqueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TechniqueOutcome
	for rows.Next() {
		var o TechniqueOutcome
		var outcome string
		if err := rows.Scan(&o.ID, &o.TechniqueID, &o.Tool, &outcome, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Outcome = DetectionOutcome(outcome)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *techniquesStore) ListOutcomeRows(ctx context.Context, engagementID int64) ([]OutcomeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.technique_id, t.tactic, o.tool, o.outcome, t.detect_seconds, t.investigate_seconds
		FROM technique_outcomes o
		JOIN techniques t ON t.id = o.technique_id
		WHERE t.engagement_id=?
		ORDER BY o.technique_id, o.tool`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutcomeRow
	for rows.Next() {
		var r OutcomeRow
		var outcome string
		if err := rows.Scan(&r.TechniqueID, &r.Tactic, &r.Tool, &outcome, &r.DetectSeconds, &r.InvestigateSeconds); err != nil {
			return nil, err
		}
		r.Outcome = DetectionOutcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}
