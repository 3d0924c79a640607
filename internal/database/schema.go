package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order at startup. Every statement is idempotent.
// The unique keys on users are what keep two identities from sharing an
// email or a Microsoft account, including under concurrent requests.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id               BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		email            VARCHAR(320)    NOT NULL,
		password_hash    VARCHAR(255)    NULL,
		external_user_id VARCHAR(128)    NULL,
		external_email   VARCHAR(320)    NULL,
		created_at       DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE KEY uq_users_email (email),
		UNIQUE KEY uq_users_external_user_id (external_user_id),
		CONSTRAINT chk_users_reachable CHECK (password_hash IS NOT NULL OR external_user_id IS NOT NULL)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id    BIGINT UNSIGNED NOT NULL,
		action     VARCHAR(16)     NOT NULL,
		task_title VARCHAR(1024)   NULL,
		list_id    VARCHAR(255)    NULL,
		task_id    VARCHAR(255)    NULL,
		created_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_activity_logs_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables used by the service when they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
