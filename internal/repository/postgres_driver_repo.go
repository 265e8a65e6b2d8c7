package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/paddock/internal/model"
)

// PostgresDriverRepository はDriverRepositoryのPostgreSQL実装。
type PostgresDriverRepository struct {
	db *sql.DB
}

var _ DriverRepository = (*PostgresDriverRepository)(nil)
var _ DriverBatchWriter = (*PostgresDriverRepository)(nil)

// NewPostgresDriverRepository は新しいPostgresDriverRepositoryを作成する。
func NewPostgresDriverRepository(db *sql.DB) *PostgresDriverRepository {
	return &PostgresDriverRepository{db: db}
}

const driverColumns = `id, name, age, team, team_id, nationality,
		race_wins, pole_positions, fastest_laps, world_titles, active,
		created_by, updated_by, created_at, updated_at`

// FindByID は指定IDのドライバーを取得する。見つからない場合はnilを返す。
func (r *PostgresDriverRepository) FindByID(ctx context.Context, id string) (*model.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

	driver, err := scanDriver(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ドライバーの取得に失敗: %w", err)
	}
	return driver, nil
}

// List はフィルタとカーソルに従ってドライバーを名前昇順で取得する。
func (r *PostgresDriverRepository) List(ctx context.Context, filter model.DriverFilter, cursor *DriverCursor, limit int) ([]*model.Driver, error) {
	var conds []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TeamID != "" {
		conds = append(conds, "team_id = "+arg(filter.TeamID))
	}
	if filter.Nationality != "" {
		conds = append(conds, "nationality = "+arg(filter.Nationality))
	}
	if filter.MinWins != nil {
		conds = append(conds, "race_wins >= "+arg(*filter.MinWins))
	}
	if filter.Active != nil {
		conds = append(conds, "active = "+arg(*filter.Active))
	}
	if cursor != nil {
		// (name, id) の行値比較でキーセットページネーションする。
		conds = append(conds, fmt.Sprintf("(name, id) > (%s, %s)", arg(cursor.Name), arg(cursor.ID)))
	}

	query := `SELECT ` + driverColumns + ` FROM drivers`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name, id LIMIT " + arg(limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ドライバー一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	var drivers []*model.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("ドライバー行の読み取りに失敗: %w", err)
		}
		drivers = append(drivers, driver)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ドライバー一覧の走査に失敗: %w", err)
	}
	return drivers, nil
}

// Create はドライバーを作成する。
func (r *PostgresDriverRepository) Create(ctx context.Context, driver *model.Driver) error {
	if err := execInsertDriver(ctx, r.db, driver); err != nil {
		return fmt.Errorf("ドライバーの作成に失敗: %w", err)
	}
	return nil
}

// Update はドライバーを上書き更新する。
func (r *PostgresDriverRepository) Update(ctx context.Context, driver *model.Driver) error {
	if err := execUpdateDriver(ctx, r.db, driver); err != nil {
		return fmt.Errorf("ドライバーの更新に失敗: %w", err)
	}
	return nil
}

// Delete は指定IDのドライバーを削除する。
func (r *PostgresDriverRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM drivers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ドライバーの削除に失敗: %w", err)
	}
	return nil
}

// Stats はドライバー全体の集計統計を返す。
func (r *PostgresDriverRepository) Stats(ctx context.Context) (*model.DriverStats, error) {
	stats := &model.DriverStats{DriversByTeam: map[string]int{}}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(race_wins), 0) FROM drivers`,
	).Scan(&stats.TotalDrivers, &stats.TotalWins)
	if err != nil {
		return nil, fmt.Errorf("ドライバー統計の集計に失敗: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT team, COUNT(*) FROM drivers GROUP BY team`,
	)
	if err != nil {
		return nil, fmt.Errorf("チーム別集計の取得に失敗: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var team string
		var count int
		if err := rows.Scan(&team, &count); err != nil {
			return nil, fmt.Errorf("チーム別集計行の読み取りに失敗: %w", err)
		}
		stats.DriversByTeam[team] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チーム別集計の走査に失敗: %w", err)
	}
	return stats, nil
}

// ApplyBatch は複数の書き込み操作を単一トランザクションで適用する。
// 途中でエラーが発生した場合はトランザクション全体をロールバックする。
func (r *PostgresDriverRepository) ApplyBatch(ctx context.Context, ops []BatchOp) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		var err error
		switch op.Kind {
		case BatchOpCreate:
			err = execInsertDriver(ctx, tx, op.Driver)
		case BatchOpUpdate:
			err = execUpdateDriver(ctx, tx, op.Driver)
		case BatchOpDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM drivers WHERE id = $1`, op.ID)
		default:
			err = fmt.Errorf("未知の操作種別: %q", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("バッチ操作 %d の適用に失敗: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

// execer はsql.DBとsql.Txの両方が満たす実行インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func execInsertDriver(ctx context.Context, e execer, driver *model.Driver) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO drivers (
			id, name, age, team, team_id, nationality,
			race_wins, pole_positions, fastest_laps, world_titles, active,
			created_by, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		driver.ID, driver.Name, driver.Age, driver.Team,
		nullIfEmpty(driver.TeamID), driver.Nationality,
		driver.RaceWins, driver.PolePositions, driver.FastestLaps,
		driver.WorldTitles, driver.Active,
		driver.CreatedBy, driver.UpdatedBy, driver.CreatedAt, driver.UpdatedAt,
	)
	return err
}

func execUpdateDriver(ctx context.Context, e execer, driver *model.Driver) error {
	_, err := e.ExecContext(ctx, `
		UPDATE drivers SET
			name = $2, age = $3, team = $4, team_id = $5, nationality = $6,
			race_wins = $7, pole_positions = $8, fastest_laps = $9,
			world_titles = $10, active = $11, updated_by = $12, updated_at = $13
		WHERE id = $1`,
		driver.ID, driver.Name, driver.Age, driver.Team,
		nullIfEmpty(driver.TeamID), driver.Nationality,
		driver.RaceWins, driver.PolePositions, driver.FastestLaps,
		driver.WorldTitles, driver.Active,
		driver.UpdatedBy, driver.UpdatedAt,
	)
	return err
}

// rowScanner はsql.Rowとsql.Rowsの両方が満たすスキャンインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDriver(row rowScanner) (*model.Driver, error) {
	var driver model.Driver
	var teamID sql.NullString
	err := row.Scan(
		&driver.ID, &driver.Name, &driver.Age, &driver.Team,
		&teamID, &driver.Nationality,
		&driver.RaceWins, &driver.PolePositions, &driver.FastestLaps,
		&driver.WorldTitles, &driver.Active,
		&driver.CreatedBy, &driver.UpdatedBy, &driver.CreatedAt, &driver.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	driver.TeamID = teamID.String
	return &driver, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
