package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrConflict = errors.New("conflict")

type Engagement struct {
	ID              int64            `json:"-"`
	PublicID        string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Methodology     Methodology      `json:"methodology"`
	Status          EngagementStatus `json:"status"`
	OrganizationID  *int64           `json:"organization_id,omitempty"`
	ThreatProfileID *int64           `json:"threat_profile_id,omitempty"`
	PlanGeneratedAt *time.Time       `json:"plan_generated_at,omitempty"`
	ActivatedAt     *time.Time       `json:"activated_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	ArchivedAt      *time.Time       `json:"archived_at,omitempty"`
	CreatedBy       *int64           `json:"created_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type RoleAssignment struct {
	ID               int64          `json:"id"`
	EngagementID     int64          `json:"-"`
	UserID           *int64         `json:"user_id,omitempty"`
	ExternalIdentity string         `json:"external_identity,omitempty"`
	Role             EngagementRole `json:"role"`
	CreatedAt        time.Time      `json:"created_at"`
}

type PlanApproval struct {
	ID               int64          `json:"id"`
	EngagementID     int64          `json:"-"`
	Role             EngagementRole `json:"role"`
	ApproverIdentity string         `json:"approver_identity,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	Comments         string         `json:"comments,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type EngagementFilter struct {
	Search         string
	Status         EngagementStatus
	OrganizationID int64
	Limit          int
	Offset         int
}

// StatusStamp names the timestamp column a transition sets. The empty
// stamp means the transition carries no timestamp of its own.
type StatusStamp string

const (
	StampNone      StatusStamp = ""
	StampActivated StatusStamp = "activated_at"
	StampCompleted StatusStamp = "completed_at"
	StampArchived  StatusStamp = "archived_at"
)

type EngagementsStore interface {
	CreateEngagement(ctx context.Context, e *Engagement) (int64, error)
	UpdateEngagement(ctx context.Context, e *Engagement) error
	DeleteEngagement(ctx context.Context, id int64) error
	GetEngagement(ctx context.Context, id int64) (*Engagement, error)
	GetEngagementByPublicID(ctx context.Context, publicID string) (*Engagement, error)
	ListEngagements(ctx context.Context, filter EngagementFilter) ([]Engagement, error)

	MarkPlanGenerated(ctx context.Context, id int64, now time.Time) error
	// UpdateStatus performs the guarded transition write. It only
	// succeeds when the row still carries the expected source status,
	// so a raced second transition observes zero affected rows.
	UpdateStatus(ctx context.Context, id int64, from, to EngagementStatus, stamp StatusStamp, now time.Time) (bool, error)

	AddRoleAssignment(ctx context.Context, ra *RoleAssignment) (int64, error)
	ListRoleAssignments(ctx context.Context, engagementID int64) ([]RoleAssignment, error)

	UpsertApproval(ctx context.Context, a *PlanApproval) error
	ListApprovals(ctx context.Context, engagementID int64) ([]PlanApproval, error)
	ApprovedRoles(ctx context.Context, engagementID int64) ([]EngagementRole, error)
}

type engagementsStore struct {
	db *sql.DB
}

func NewEngagementsStore(db *sql.DB) EngagementsStore {
	return &engagementsStore{db: db}
}

func (s *engagementsStore) CreateEngagement(ctx context.Context, e *Engagement) (int64, error) {
	now := time.Now().UTC()
	if e.Status == "" {
		e.Status = StatusDraft
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO engagements(public_id, name, description, methodology, status, organization_id, threat_profile_id, created_by, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.PublicID, e.Name, e.Description, string(e.Methodology), string(e.Status), nullableID(e.OrganizationID), nullableID(e.ThreatProfileID), nullableID(e.CreatedBy), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return id, nil
}

func (s *engagementsStore) UpdateEngagement(ctx context.Context, e *Engagement) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE engagements
		SET name=?, description=?, methodology=?, organization_id=?, threat_profile_id=?, updated_at=?
		WHERE id=?`,
		e.Name, e.Description, string(e.Methodology), nullableID(e.OrganizationID), nullableID(e.ThreatProfileID), now, e.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	e.UpdatedAt = now
	return nil
}

func (s *engagementsStore) DeleteEngagement(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM engagements WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const engagementColumns = `id, public_id, name, description, methodology, status, organization_id, threat_profile_id, plan_generated_at, activated_at, completed_at, archived_at, created_by, created_at, updated_at`

func (s *engagementsStore) GetEngagement(ctx context.Context, id int64) (*Engagement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+engagementColumns+` FROM engagements WHERE id=?`, id)
	return scanEngagement(row)
}

func (s *engagementsStore) GetEngagementByPublicID(ctx context.Context, publicID string) (*Engagement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+engagementColumns+` FROM engagements WHERE public_id=?`, publicID)
	return scanEngagement(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngagement(row rowScanner) (*Engagement, error) {
	var e Engagement
	var methodology, status string
	err := row.Scan(&e.ID, &e.PublicID, &e.Name, &e.Description, &methodology, &status,
		&e.OrganizationID, &e.ThreatProfileID, &e.PlanGeneratedAt, &e.ActivatedAt,
		&e.CompletedAt, &e.ArchivedAt, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Methodology = Methodology(methodology)
	e.Status = EngagementStatus(status)
	return &e, nil
}

func (s *engagementsStore) ListEngagements(ctx context.Context, filter EngagementFilter) ([]Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE 1=1`
	var args []any
	if q := strings.TrimSpace(filter.Search); q != "" {
		query += ` AND (name LIKE ? OR description LIKE ?)`
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if filter.Status != "" {
		query += ` AND status=?`
		args = append(args, string(filter.Status))
	}
	if filter.OrganizationID > 0 {
		query += ` AND organization_id=?`
		args = append(args, filter.OrganizationID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *engagementsStore) MarkPlanGenerated(ctx context.Context, id int64, now time.Time) error {
	// Set-once: a second plan generation keeps the original timestamp.
	_, err := s.db.ExecContext(ctx, `
		UPDATE engagements SET plan_generated_at=?, updated_at=?
		WHERE id=? AND plan_generated_at IS NULL`, now.UTC(), now.UTC(), id)
	return err
}

func (s *engagementsStore) UpdateStatus(ctx context.Context, id int64, from, to EngagementStatus, stamp StatusStamp, now time.Time) (bool, error) {
	var query string
	args := []any{string(to), now.UTC()}
	switch stamp {
	case StampNone:
		query = `UPDATE engagements SET status=?, updated_at=? WHERE id=? AND status=?`
	case StampActivated, StampCompleted, StampArchived:
		// Timestamp columns are set exactly once, at the moment of the
		// corresponding transition.
		query = fmt.Sprintf(`UPDATE engagements SET status=?, updated_at=?, %s=COALESCE(%s, ?) WHERE id=? AND status=?`, stamp, stamp)
		args = append(args, now.UTC())
	default:
		return false, fmt.Errorf("unknown status stamp %q", stamp)
	}
	args = append(args, id, string(from))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *engagementsStore) AddRoleAssignment(ctx context.Context, ra *RoleAssignment) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_roles(engagement_id, user_id, external_identity, role, created_at)
		VALUES(?,?,?,?,?)`,
		ra.EngagementID, nullableID(ra.UserID), strings.TrimSpace(ra.ExternalIdentity), string(ra.Role), now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	ra.ID = id
	ra.CreatedAt = now
	return id, nil
}

func (s *engagementsStore) ListRoleAssignments(ctx context.Context, engagementID int64) ([]RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, engagement_id, user_id, external_identity, role, created_at
		FROM engagement_roles WHERE engagement_id=? ORDER BY role, id`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoleAssignment
	for rows.Next() {
		var ra RoleAssignment
		var role string
		if err := rows.Scan(&ra.ID, &ra.EngagementID, &ra.UserID, &ra.ExternalIdentity, &role, &ra.CreatedAt); err != nil {
			return nil, err
		}
		ra.Role = EngagementRole(role)
		out = append(out, ra)
	}
	return out, rows.Err()
}

func (s *engagementsStore) UpsertApproval(ctx context.Context, a *PlanApproval) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_approvals(engagement_id, role, approver_identity, approved_at, comments, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT (engagement_id, role)
		DO UPDATE SET approver_identity=excluded.approver_identity, approved_at=excluded.approved_at, comments=excluded.comments, updated_at=excluded.updated_at`,
		a.EngagementID, string(a.Role), strings.TrimSpace(a.ApproverIdentity), nullableTime(a.ApprovedAt), a.Comments, now, now)
	if err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

func (s *engagementsStore) ListApprovals(ctx context.Context, engagementID int64) ([]PlanApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, engagement_id, role, approver_identity, approved_at, comments, created_at, updated_at
		FROM plan_approvals WHERE engagement_id=? ORDER BY role`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlanApproval
	for rows.Next() {
		var a PlanApproval
		var role string
		if err := rows.Scan(&a.ID, &a.EngagementID, &role, &a.ApproverIdentity, &a.ApprovedAt, &a.Comments, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Role = EngagementRole(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *engagementsStore) ApprovedRoles(ctx context.Context, engagementID int64) ([]EngagementRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role FROM plan_approvals
		WHERE engagement_id=? AND approved_at IS NOT NULL ORDER BY role`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EngagementRole
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, EngagementRole(role))
	}
	return out, rows.Err()
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
