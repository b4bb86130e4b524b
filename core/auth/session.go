package auth

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"osprey-ptx/config"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type contextKey string

// SessionContextKey carries the authenticated *store.SessionRecord.
const SessionContextKey contextKey = "osprey.session"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionManager struct {
	store  store.SessionStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(st store.SessionStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: st, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User, roles []string, ip, userAgent string) (*store.SessionRecord, error) {
	id := uuid.Must(uuid.NewV4()).String()
	now := utils.NowUTC()
	sr := &store.SessionRecord{
		ID:         id,
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      roles,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if err := m.store.SaveSession(ctx, sr); err != nil {
		return nil, err
	}
	return sr, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	return m.store.UpdateActivity(ctx, sessID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.store.DeleteSession(ctx, sessID)
}

// SessionFromContext returns the request's session record, if any.
func SessionFromContext(ctx context.Context) *store.SessionRecord {
	if v := ctx.Value(SessionContextKey); v != nil {
		if sr, ok := v.(*store.SessionRecord); ok {
			return sr
		}
	}
	return nil
}
