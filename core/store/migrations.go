package store

import (
	"context"
	"database/sql"
	"fmt"

	"osprey-ptx/core/utils"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, role),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		roles TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS threat_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS outcome_weights (
		organization_id INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		weight REAL NOT NULL,
		PRIMARY KEY (organization_id, outcome),
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS engagements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		methodology TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		organization_id INTEGER,
		threat_profile_id INTEGER,
		plan_generated_at TIMESTAMP,
		activated_at TIMESTAMP,
		completed_at TIMESTAMP,
		archived_at TIMESTAMP,
		created_by INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(organization_id) REFERENCES organizations(id) ON DELETE SET NULL,
		FOREIGN KEY(threat_profile_id) REFERENCES threat_profiles(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS engagement_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engagement_id INTEGER NOT NULL,
		user_id INTEGER,
		external_identity TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(engagement_id, user_id, external_identity, role),
		FOREIGN KEY(engagement_id) REFERENCES engagements(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS plan_approvals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engagement_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		approver_identity TEXT NOT NULL DEFAULT '',
		approved_at TIMESTAMP,
		comments TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(engagement_id, role),
		FOREIGN KEY(engagement_id) REFERENCES engagements(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS techniques (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT UNIQUE NOT NULL,
		engagement_id INTEGER NOT NULL,
		technique_ref TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		tactic TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'planned',
		position INTEGER NOT NULL DEFAULT 0,
		executed_at TIMESTAMP,
		detect_seconds INTEGER,
		investigate_seconds INTEGER,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(engagement_id) REFERENCES engagements(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS technique_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		technique_id INTEGER NOT NULL,
		tool TEXT NOT NULL,
		outcome TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(technique_id, tool),
		FOREIGN KEY(technique_id) REFERENCES techniques(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS engagement_metrics (
		engagement_id INTEGER PRIMARY KEY,
		applicable_count INTEGER NOT NULL DEFAULT 0,
		blocked_count INTEGER NOT NULL DEFAULT 0,
		alerted_count INTEGER NOT NULL DEFAULT 0,
		logged_count INTEGER NOT NULL DEFAULT 0,
		not_detected_count INTEGER NOT NULL DEFAULT 0,
		threat_resilience_score REAL NOT NULL DEFAULT 0,
		prevention_rate REAL NOT NULL DEFAULT 0,
		detection_rate REAL NOT NULL DEFAULT 0,
		visibility_rate REAL NOT NULL DEFAULT 0,
		avg_detect_seconds REAL,
		median_detect_seconds REAL,
		min_detect_seconds INTEGER,
		max_detect_seconds INTEGER,
		avg_investigate_seconds REAL,
		tactic_breakdown_json TEXT NOT NULL DEFAULT '{}',
		tool_breakdown_json TEXT NOT NULL DEFAULT '{}',
		computed_at TIMESTAMP NOT NULL,
		FOREIGN KEY(engagement_id) REFERENCES engagements(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS action_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT UNIQUE NOT NULL,
		engagement_id INTEGER NOT NULL,
		technique_id INTEGER,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'medium',
		owner_user_id INTEGER,
		due_date TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'open',
		retest INTEGER NOT NULL DEFAULT 0,
		retest_notified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(engagement_id) REFERENCES engagements(id) ON DELETE CASCADE,
		FOREIGN KEY(technique_id) REFERENCES techniques(id) ON DELETE SET NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_engagements_status ON engagements(status);`,
	`CREATE INDEX IF NOT EXISTS idx_engagements_org ON engagements(organization_id);`,
	`CREATE INDEX IF NOT EXISTS idx_engagement_roles_engagement ON engagement_roles(engagement_id);`,
	`CREATE INDEX IF NOT EXISTS idx_plan_approvals_engagement ON plan_approvals(engagement_id);`,
	`CREATE INDEX IF NOT EXISTS idx_techniques_engagement ON techniques(engagement_id);`,
	`CREATE INDEX IF NOT EXISTS idx_techniques_status ON techniques(engagement_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_technique_outcomes_technique ON technique_outcomes(technique_id);`,
	`CREATE INDEX IF NOT EXISTS idx_action_items_engagement ON action_items(engagement_id);`,
	`CREATE INDEX IF NOT EXISTS idx_action_items_due ON action_items(status, due_date);`,
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	isPG, err := isPostgresDB(ctx, db)
	if err != nil {
		return err
	}
	if !isPG {
		if !isTestRuntime() {
			return fmt.Errorf("only postgres is supported outside go test runtime")
		}
		return applySQLiteTestMigrations(ctx, db, logger)
	}
	return applyGooseMigrations(ctx, db, logger)
}

func applySQLiteTestMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite test migrations")
	}
	for i, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	return nil
}
