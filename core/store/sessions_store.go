package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type SessionRecord struct {
	ID         string
	UserID     int64
	Username   string
	Roles      []string
	IP         string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

type SessionStore interface {
	SaveSession(ctx context.Context, sr *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) error
}

type sessionsStore struct {
	db *sql.DB
}

func NewSessionsStore(db *sql.DB) SessionStore {
	return &sessionsStore{db: db}
}

func (s *sessionsStore) SaveSession(ctx context.Context, sr *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, username, roles, ip, user_agent, created_at, last_seen_at, expires_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		sr.ID, sr.UserID, sr.Username, strings.Join(sr.Roles, ","), sr.IP, sr.UserAgent,
		sr.CreatedAt.UTC(), sr.LastSeenAt.UTC(), sr.ExpiresAt.UTC())
	return err
}

func (s *sessionsStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var sr SessionRecord
	var roles string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, roles, ip, user_agent, created_at, last_seen_at, expires_at
		FROM sessions WHERE id=?`, id).Scan(
		&sr.ID, &sr.UserID, &sr.Username, &roles, &sr.IP, &sr.UserAgent, &sr.CreatedAt, &sr.LastSeenAt, &sr.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sr.ExpiresAt.Before(time.Now().UTC()) {
		_ = s.DeleteSession(ctx, id)
		return nil, nil
	}
	if roles != "" {
		sr.Roles = strings.Split(roles, ",")
	}
	return &sr, nil
}

func (s *sessionsStore) UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at=?, expires_at=? WHERE id=?`,
		now.UTC(), now.UTC().Add(ttl), id)
	return err
}

func (s *sessionsStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func (s *sessionsStore) DeleteExpired(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
	return err
}
