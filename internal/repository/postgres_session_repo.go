package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/paddock/internal/model"
)

// PostgresSessionRepository はSessionRepositoryのPostgreSQL実装。
type PostgresSessionRepository struct {
	db *sql.DB
}

var _ SessionRepository = (*PostgresSessionRepository)(nil)

// NewPostgresSessionRepository は新しいPostgresSessionRepositoryを作成する。
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepository) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, uid, email, display_name, is_admin,
			user_agent, ip_address, created_at, last_activity_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.UID, session.Email, session.DisplayName,
		session.Admin, session.UserAgent, session.IPAddress,
		session.CreatedAt, session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("セッションの作成に失敗: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, uid, email, display_name, is_admin,
			user_agent, ip_address, created_at, last_activity_at
		FROM sessions WHERE id = $1`, id,
	).Scan(
		&session.ID, &session.UID, &session.Email, &session.DisplayName,
		&session.Admin, &session.UserAgent, &session.IPAddress,
		&session.CreatedAt, &session.LastActivityAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}
	return &session, nil
}

// Touch はセッションの最終アクティビティ時刻を更新する。
func (r *PostgresSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("セッションの更新に失敗: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// DeleteByUID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepository) DeleteByUID(ctx context.Context, uid string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("ユーザーセッションの削除に失敗: %w", err)
	}
	return nil
}

// DeleteIdleBefore は最終アクティビティがcutoffより前のセッションを削除する。
func (r *PostgresSessionRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_activity_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return count, nil
}
