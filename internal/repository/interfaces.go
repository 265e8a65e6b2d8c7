// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/paddock/internal/model"
)

// DriverCursor はドライバー一覧のキーセットページネーション位置を表す。
// (name, id) の組で一意な並び順上の位置を示す。
type DriverCursor struct {
	Name string
	ID   string
}

// DriverRepository はドライバーデータの永続化インターフェース。
type DriverRepository interface {
	// FindByID は指定IDのドライバーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Driver, error)

	// List はフィルタ条件に一致するドライバーを名前昇順（同名はID昇順）で取得する。
	// cursorがnilでない場合はその位置の直後から再開する。
	List(ctx context.Context, filter model.DriverFilter, cursor *DriverCursor, limit int) ([]*model.Driver, error)

	// Create はドライバーを作成する。
	Create(ctx context.Context, driver *model.Driver) error

	// Update はドライバーを上書き更新する。
	Update(ctx context.Context, driver *model.Driver) error

	// Delete は指定IDのドライバーを削除する。対象が存在しなくてもエラーにしない。
	Delete(ctx context.Context, id string) error

	// Stats はドライバー全体の集計統計を返す。
	Stats(ctx context.Context) (*model.DriverStats, error)
}

// BatchOpKind はバッチ書き込み操作の種別を表す。
type BatchOpKind string

const (
	// BatchOpCreate はレコード作成を示す。
	BatchOpCreate BatchOpKind = "create"
	// BatchOpUpdate はレコード更新を示す。
	BatchOpUpdate BatchOpKind = "update"
	// BatchOpDelete はレコード削除を示す。
	BatchOpDelete BatchOpKind = "delete"
)

// BatchOp はバッチ書き込みの1操作を表す。
// Create/UpdateではDriverを使用し、DeleteではIDのみを使用する。
type BatchOp struct {
	Kind   BatchOpKind
	ID     string
	Driver *model.Driver
}

// DriverBatchWriter はドライバーレコードのグループ単位アトミック書き込みインターフェース。
// 1回のApplyBatchは単一トランザクションとしてコミットされる。
type DriverBatchWriter interface {
	ApplyBatch(ctx context.Context, ops []BatchOp) error
}

// TeamRepository はチームデータの永続化インターフェース。
type TeamRepository interface {
	// FindByID は指定IDのチームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Team, error)

	// FindAll は全チームを名前昇順で取得する。
	// チームは件数が少ないコレクションのためページネーションしない。
	FindAll(ctx context.Context) ([]*model.Team, error)

	// Create はチームを作成する。
	Create(ctx context.Context, team *model.Team) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 無操作期限の判定は呼び出し側（認証ガード）が行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Touch はセッションの最終アクティビティ時刻を更新する。
	Touch(ctx context.Context, id string, at time.Time) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUID は指定ユーザーの全セッションを削除する。
	DeleteByUID(ctx context.Context, uid string) error

	// DeleteIdleBefore は最終アクティビティがcutoffより前のセッションを削除し、
	// 削除件数を返す。日次の掃除ジョブから使用する。
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
