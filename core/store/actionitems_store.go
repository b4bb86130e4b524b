package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type ActionItem struct {
	ID               int64              `json:"-"`
	PublicID         string             `json:"id"`
	EngagementID     int64              `json:"-"`
	TechniqueID      *int64             `json:"-"`
	TechniquePublic  string             `json:"technique_id,omitempty"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	Severity         ActionItemSeverity `json:"severity"`
	OwnerUserID      *int64             `json:"owner_user_id,omitempty"`
	DueDate          *time.Time         `json:"due_date,omitempty"`
	Status           ActionItemStatus   `json:"status"`
	Retest           bool               `json:"retest"`
	RetestNotifiedAt *time.Time         `json:"retest_notified_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type ActionItemsStore interface {
	CreateActionItem(ctx context.Context, item *ActionItem) (int64, error)
	UpdateActionItem(ctx context.Context, item *ActionItem) error
	DeleteActionItem(ctx context.Context, id int64) error
	GetActionItemByPublicID(ctx context.Context, publicID string) (*ActionItem, error)
	ListActionItems(ctx context.Context, engagementID int64) ([]ActionItem, error)
	// ListRetestCandidates returns open retest-flagged items whose due
	// date has passed and which have not been flagged for review yet.
	ListRetestCandidates(ctx context.Context, now time.Time) ([]ActionItem, error)
	MarkRetestNotified(ctx context.Context, id int64, now time.Time) error
}

type actionItemsStore struct {
	db *sql.DB
}

func NewActionItemsStore(db *sql.DB) ActionItemsStore {
	return &actionItemsStore{db: db}
}

func (s *actionItemsStore) CreateActionItem(ctx context.Context, item *ActionItem) (int64, error) {
	now := time.Now().UTC()
	if item.Status == "" {
		item.Status = ActionOpen
	}
	if item.Severity == "" {
		item.Severity = ActionSeverityMedium
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO action_items(public_id, engagement_id, technique_id, title, description, severity, owner_user_id, due_date, status, retest, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		item.PublicID, item.EngagementID, nullableID(item.TechniqueID), strings.TrimSpace(item.Title), item.Description,
		string(item.Severity), nullableID(item.OwnerUserID), nullableTime(item.DueDate), string(item.Status), item.Retest, now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	return id, nil
}

func (s *actionItemsStore) UpdateActionItem(ctx context.Context, item *ActionItem) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_items
		SET technique_id=?, title=?, description=?, severity=?, owner_user_id=?, due_date=?, status=?, retest=?, updated_at=?
		WHERE id=?`,
		nullableID(item.TechniqueID), strings.TrimSpace(item.Title), item.Description, string(item.Severity),
		nullableID(item.OwnerUserID), nullableTime(item.DueDate), string(item.Status), item.Retest, now, item.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	item.UpdatedAt = now
	return nil
}

func (s *actionItemsStore) DeleteActionItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const actionItemColumns = `a.id, a.public_id, a.engagement_id, a.technique_id, COALESCE(t.public_id, ''), a.title, a.description, a.severity, a.owner_user_id, a.due_date, a.status, a.retest, a.retest_notified_at, a.created_at, a.updated_at`

func scanActionItem(row rowScanner) (*ActionItem, error) {
	var item ActionItem
	var severity, status string
	err := row.Scan(&item.ID, &item.PublicID, &item.EngagementID, &item.TechniqueID, &item.TechniquePublic,
		&item.Title, &item.Description, &severity, &item.OwnerUserID, &item.DueDate, &status,
		&item.Retest, &item.RetestNotifiedAt, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Severity = ActionItemSeverity(severity)
	item.Status = ActionItemStatus(status)
	return &item, nil
}

func (s *actionItemsStore) GetActionItemByPublicID(ctx context.Context, publicID string) (*ActionItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+actionItemColumns+`
		FROM action_items a LEFT JOIN techniques t ON t.id = a.technique_id
		WHERE a.public_id=?`, publicID)
	return scanActionItem(row)
}

func (s *actionItemsStore) ListActionItems(ctx context.Context, engagementID int64) ([]ActionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionItemColumns+`
		FROM action_items a LEFT JOIN techniques t ON t.id = a.technique_id
		WHERE a.engagement_id=? ORDER BY a.created_at, a.id`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionItem
	for rows.Next() {
		item, err := scanActionItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *actionItemsStore) ListRetestCandidates(ctx context.Context, now time.Time) ([]ActionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionItemColumns+`
		FROM action_items a LEFT JOIN techniques t ON t.id = a.technique_id
		WHERE a.retest=? AND a.status IN (?,?) AND a.due_date IS NOT NULL AND a.due_date <= ? AND a.retest_notified_at IS NULL
		ORDER BY a.due_date, a.id`,
		true, string(ActionOpen), string(ActionInProgress), now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionItem
	for rows.Next() {
		item, err := scanActionItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *actionItemsStore) MarkRetestNotified(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE action_items SET retest_notified_at=? WHERE id=?`, now.UTC(), id)
	return err
}
