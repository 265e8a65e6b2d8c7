package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/paddock/internal/model"
)

// PostgresTeamRepository はTeamRepositoryのPostgreSQL実装。
type PostgresTeamRepository struct {
	db *sql.DB
}

var _ TeamRepository = (*PostgresTeamRepository)(nil)

// NewPostgresTeamRepository は新しいPostgresTeamRepositoryを作成する。
func NewPostgresTeamRepository(db *sql.DB) *PostgresTeamRepository {
	return &PostgresTeamRepository{db: db}
}

const teamColumns = `id, name, year_founded, race_wins, pole_positions,
		constructor_titles, finishing_position, created_by, created_at`

// FindByID は指定IDのチームを取得する。見つからない場合はnilを返す。
func (r *PostgresTeamRepository) FindByID(ctx context.Context, id string) (*model.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`

	team, err := scanTeam(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チームの取得に失敗: %w", err)
	}
	return team, nil
}

// FindAll は全チームを名前昇順で取得する。
func (r *PostgresTeamRepository) FindAll(ctx context.Context) ([]*model.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("チーム一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	var teams []*model.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("チーム行の読み取りに失敗: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チーム一覧の走査に失敗: %w", err)
	}
	return teams, nil
}

// Create はチームを作成する。
func (r *PostgresTeamRepository) Create(ctx context.Context, team *model.Team) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teams (
			id, name, year_founded, race_wins, pole_positions,
			constructor_titles, finishing_position, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		team.ID, team.Name, team.YearFounded, team.RaceWins,
		team.PolePositions, team.ConstructorTitles, team.FinishingPosition,
		team.CreatedBy, team.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("チームの作成に失敗: %w", err)
	}
	return nil
}

func scanTeam(row rowScanner) (*model.Team, error) {
	var team model.Team
	err := row.Scan(
		&team.ID, &team.Name, &team.YearFounded, &team.RaceWins,
		&team.PolePositions, &team.ConstructorTitles, &team.FinishingPosition,
		&team.CreatedBy, &team.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &team, nil
}
