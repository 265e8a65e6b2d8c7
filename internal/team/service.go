// Package team はチームレコードのドメインロジックを提供する。
package team

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/paddock/internal/cache"
	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

const teamListCacheKey = "teams:list"

// Service はチームレコードのサービス層。
// チームは件数が少なく変更頻度も低いため、一覧のみキャッシュする。
type Service struct {
	teamRepo repository.TeamRepository
	cache    cache.Store
	cacheTTL time.Duration
}

// NewService はServiceを生成する。
func NewService(teamRepo repository.TeamRepository, cacheStore cache.Store, cacheTTL time.Duration) *Service {
	return &Service{
		teamRepo: teamRepo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Get は指定IDのチームを取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.Team, error) {
	team, err := s.teamRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("チームの取得に失敗しました: %w", err)
	}
	if team == nil {
		return nil, model.NewTeamNotFoundError(id)
	}
	return team, nil
}

// List は全チームを名前昇順で取得する。
func (s *Service) List(ctx context.Context) ([]*model.Team, error) {
	if data, ok, err := s.cache.Get(ctx, teamListCacheKey); err == nil && ok {
		var teams []*model.Team
		if err := json.Unmarshal(data, &teams); err == nil {
			return teams, nil
		}
	}

	teams, err := s.teamRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("チーム一覧の取得に失敗しました: %w", err)
	}

	if data, err := json.Marshal(teams); err == nil {
		if err := s.cache.Set(ctx, teamListCacheKey, data, s.cacheTTL); err != nil {
			slog.Warn("failed to cache team list", slog.String("error", err.Error()))
		}
	}
	return teams, nil
}

// Create はチームを検証のうえ作成する。
func (s *Service) Create(ctx context.Context, input *model.Team, actorUID string) (*model.Team, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, model.NewValidationError("name", "チーム名は必須です。")
	}
	if input.YearFounded < 0 {
		return nil, model.NewValidationError("year_founded", "設立年は0以上で指定してください。")
	}
	if input.RaceWins < 0 || input.PolePositions < 0 || input.ConstructorTitles < 0 {
		return nil, model.NewValidationError("stats", "成績は0以上で指定してください。")
	}

	team := *input
	team.ID = uuid.New().String()
	team.CreatedBy = actorUID
	team.CreatedAt = time.Now()

	if err := s.teamRepo.Create(ctx, &team); err != nil {
		return nil, fmt.Errorf("チームの作成に失敗しました: %w", err)
	}

	if err := s.cache.Clear(ctx); err != nil {
		slog.Warn("failed to invalidate cache", slog.String("error", err.Error()))
	}

	slog.Info("team created",
		slog.String("team_id", team.ID),
		slog.String("created_by", actorUID),
	)
	return &team, nil
}
