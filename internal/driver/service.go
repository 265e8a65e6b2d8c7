// Package driver はドライバーレコードのドメインロジックを提供する。
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/paddock/internal/authz"
	"github.com/hitoshi/paddock/internal/batch"
	"github.com/hitoshi/paddock/internal/cache"
	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

const (
	minDriverAge = 18
	maxDriverAge = 50

	// minDriverNameLength はドライバー名の最小文字数。
	minDriverNameLength = 2

	// searchPrefetchLimit は検索時に先読みするレコード数の上限。
	searchPrefetchLimit = 100

	// minSearchQueryLength は検索語の最小文字数。
	minSearchQueryLength = 2
)

// ServiceConfig はドライバーサービスの設定。
type ServiceConfig struct {
	MaxPageSize     int
	DefaultPageSize int
	CacheTTL        time.Duration
}

// Service はドライバーレコードのサービス層。
// 読み取り系の結果はキャッシュし、書き込み時にキャッシュ全体を無効化する。
type Service struct {
	driverRepo  repository.DriverRepository
	teamRepo    repository.TeamRepository
	batchWriter repository.DriverBatchWriter
	cache       cache.Store
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	driverRepo repository.DriverRepository,
	teamRepo repository.TeamRepository,
	batchWriter repository.DriverBatchWriter,
	cacheStore cache.Store,
	config ServiceConfig,
) *Service {
	return &Service{
		driverRepo:  driverRepo,
		teamRepo:    teamRepo,
		batchWriter: batchWriter,
		cache:       cacheStore,
		config:      config,
	}
}

// DriverPatch は更新リクエストで指定されたフィールドを表す。
// nilのフィールドは既存の値を変更しない。
type DriverPatch struct {
	Name          *string
	Age           *int
	Team          *string
	TeamID        *string
	Nationality   *string
	RaceWins      *int
	PolePositions *int
	FastestLaps   *int
	WorldTitles   *int
	Active        *bool
}

// apply は指定されたフィールドだけをdに上書きする。
func (p DriverPatch) apply(d *model.Driver) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Age != nil {
		d.Age = *p.Age
	}
	if p.Team != nil {
		d.Team = *p.Team
	}
	if p.TeamID != nil {
		d.TeamID = *p.TeamID
	}
	if p.Nationality != nil {
		d.Nationality = *p.Nationality
	}
	if p.RaceWins != nil {
		d.RaceWins = *p.RaceWins
	}
	if p.PolePositions != nil {
		d.PolePositions = *p.PolePositions
	}
	if p.FastestLaps != nil {
		d.FastestLaps = *p.FastestLaps
	}
	if p.WorldTitles != nil {
		d.WorldTitles = *p.WorldTitles
	}
	if p.Active != nil {
		d.Active = *p.Active
	}
}

// ListParams はドライバー一覧取得のパラメータ。
type ListParams struct {
	Filter     model.DriverFilter
	Limit      int
	StartAfter string // 前ページ最終レコードのID
}

// Pagination はページネーション情報。
type Pagination struct {
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListResult はドライバー一覧のレスポンス。
type ListResult struct {
	Drivers    []*model.Driver    `json:"drivers"`
	Pagination Pagination         `json:"pagination"`
	Filters    model.DriverFilter `json:"filters"`
}

// Get は指定IDのドライバーを取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.Driver, error) {
	driver, err := s.driverRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ドライバーの取得に失敗しました: %w", err)
	}
	if driver == nil {
		return nil, model.NewDriverNotFoundError(id)
	}
	return driver, nil
}

// Create はドライバーを検証のうえ作成する。
// チームIDが指定された場合はチームの存在を確認し、チーム名を引き写す。
func (s *Service) Create(ctx context.Context, input *model.Driver, actorUID string) (*model.Driver, error) {
	if err := validateDriver(input); err != nil {
		return nil, err
	}

	if input.TeamID != "" {
		teamName, err := s.resolveTeamName(ctx, input.TeamID)
		if err != nil {
			return nil, err
		}
		input.Team = teamName
	}

	now := time.Now()
	driver := *input
	driver.ID = uuid.New().String()
	driver.CreatedBy = actorUID
	driver.UpdatedBy = actorUID
	driver.CreatedAt = now
	driver.UpdatedAt = now

	if err := s.driverRepo.Create(ctx, &driver); err != nil {
		return nil, fmt.Errorf("ドライバーの作成に失敗しました: %w", err)
	}

	s.invalidateCache(ctx)

	slog.Info("driver created",
		slog.String("driver_id", driver.ID),
		slog.String("created_by", actorUID),
	)
	return &driver, nil
}

// Update は指定されたフィールドのみを既存レコードに適用して更新する。
// 未指定のフィールドは変更しない。作成者と作成日時は変更できず、
// 更新者と更新日時を記録する。
func (s *Service) Update(ctx context.Context, id string, patch DriverPatch, actor authz.Actor) (*model.Driver, error) {
	existing, err := s.driverRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ドライバーの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewDriverNotFoundError(id)
	}

	if !authz.CanModify(actor, existing.CreatedBy) {
		return nil, model.NewPermissionDeniedError()
	}

	updated := *existing
	patch.apply(&updated)

	if err := validateDriver(&updated); err != nil {
		return nil, err
	}

	if patch.TeamID != nil && updated.TeamID != "" {
		teamName, err := s.resolveTeamName(ctx, updated.TeamID)
		if err != nil {
			return nil, err
		}
		updated.Team = teamName
	}

	updated.UpdatedBy = actor.UID
	updated.UpdatedAt = time.Now()

	if err := s.driverRepo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("ドライバーの更新に失敗しました: %w", err)
	}

	s.invalidateCache(ctx)

	slog.Info("driver updated",
		slog.String("driver_id", id),
		slog.String("updated_by", actor.UID),
	)
	return &updated, nil
}

// Delete はドライバーを削除する。作成者本人または管理者のみ削除できる。
func (s *Service) Delete(ctx context.Context, id string, actor authz.Actor) error {
	existing, err := s.driverRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ドライバーの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return model.NewDriverNotFoundError(id)
	}

	if !authz.CanModify(actor, existing.CreatedBy) {
		return model.NewPermissionDeniedError()
	}

	if err := s.driverRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("ドライバーの削除に失敗しました: %w", err)
	}

	s.invalidateCache(ctx)

	slog.Info("driver deleted",
		slog.String("driver_id", id),
		slog.String("deleted_by", actor.UID),
	)
	return nil
}

// List はフィルタとページネーションに従ってドライバー一覧を取得する。
// 取得件数がlimitと一致した場合は次ページがあるとみなす。
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := s.clampLimit(params.Limit)

	cacheKey := listCacheKey(params.Filter, limit, params.StartAfter)
	if result, ok := s.cachedListResult(ctx, cacheKey); ok {
		return result, nil
	}

	cursor, err := s.resolveCursor(ctx, params.StartAfter)
	if err != nil {
		return nil, err
	}

	drivers, err := s.driverRepo.List(ctx, params.Filter, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("ドライバー一覧の取得に失敗しました: %w", err)
	}

	result := &ListResult{
		Drivers: drivers,
		Pagination: Pagination{
			Count:   len(drivers),
			Limit:   limit,
			HasMore: len(drivers) == limit,
		},
		Filters: params.Filter,
	}
	if result.Pagination.HasMore && len(drivers) > 0 {
		result.Pagination.NextCursor = drivers[len(drivers)-1].ID
	}

	s.storeListResult(ctx, cacheKey, result)
	return result, nil
}

// Search はドライバーを部分一致検索する。
// 名前、チーム名、国籍のいずれかに検索語を含むレコードをlimit件まで返す。
// 先頭からの先読み範囲のみを対象とする。
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*model.Driver, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSearchQueryLength {
		return nil, model.NewValidationError("q", "検索語は2文字以上で指定してください。")
	}
	limit = s.clampLimit(limit)

	cacheKey := fmt.Sprintf("drivers:search:%s|%d", strings.ToLower(query), limit)
	if data, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
		var drivers []*model.Driver
		if err := json.Unmarshal(data, &drivers); err == nil {
			return drivers, nil
		}
	}

	candidates, err := s.driverRepo.List(ctx, model.DriverFilter{}, nil, searchPrefetchLimit)
	if err != nil {
		return nil, fmt.Errorf("検索対象の取得に失敗しました: %w", err)
	}

	needle := strings.ToLower(query)
	matched := []*model.Driver{}
	for _, d := range candidates {
		if strings.Contains(strings.ToLower(d.Name), needle) ||
			strings.Contains(strings.ToLower(d.Team), needle) ||
			strings.Contains(strings.ToLower(d.Nationality), needle) {
			matched = append(matched, d)
			if len(matched) == limit {
				break
			}
		}
	}

	if data, err := json.Marshal(matched); err == nil {
		if err := s.cache.Set(ctx, cacheKey, data, s.config.CacheTTL); err != nil {
			slog.Warn("failed to cache search result", slog.String("error", err.Error()))
		}
	}
	return matched, nil
}

// Stats はドライバー全体の集計統計を取得する。
func (s *Service) Stats(ctx context.Context) (*model.DriverStats, error) {
	cacheKey := "drivers:stats"
	if data, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
		var stats model.DriverStats
		if err := json.Unmarshal(data, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.driverRepo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ドライバー統計の取得に失敗しました: %w", err)
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(ctx, cacheKey, data, s.config.CacheTTL); err != nil {
			slog.Warn("failed to cache stats", slog.String("error", err.Error()))
		}
	}
	return stats, nil
}

// Comparison は2名のドライバーの成績比較結果。
// Leadersは成績項目ごとに上回っているドライバーのIDを持つ。同値は"tie"。
type Comparison struct {
	DriverA *model.Driver     `json:"driver_a"`
	DriverB *model.Driver     `json:"driver_b"`
	Leaders map[string]string `json:"leaders"`
}

// Compare は2名のドライバーの成績を項目別に比較する。
// 2件の取得は並列に行う。
func (s *Service) Compare(ctx context.Context, idA, idB string) (*Comparison, error) {
	if idA == "" || idB == "" {
		return nil, model.NewValidationError("driver_ids", "比較する2名のドライバーIDを指定してください。")
	}
	if idA == idB {
		return nil, model.NewValidationError("driver_ids", "異なる2名のドライバーを指定してください。")
	}

	results := batch.ParallelMap(ctx, 2, []func(ctx context.Context) (interface{}, error){
		func(ctx context.Context) (interface{}, error) { return s.Get(ctx, idA) },
		func(ctx context.Context) (interface{}, error) { return s.Get(ctx, idB) },
	})
	for _, result := range results {
		if result.Err != nil {
			return nil, result.Err
		}
	}
	driverA := results[0].Value.(*model.Driver)
	driverB := results[1].Value.(*model.Driver)

	leaders := map[string]string{
		"race_wins":      leaderID(driverA, driverB, driverA.RaceWins, driverB.RaceWins),
		"pole_positions": leaderID(driverA, driverB, driverA.PolePositions, driverB.PolePositions),
		"fastest_laps":   leaderID(driverA, driverB, driverA.FastestLaps, driverB.FastestLaps),
		"world_titles":   leaderID(driverA, driverB, driverA.WorldTitles, driverB.WorldTitles),
	}

	return &Comparison{DriverA: driverA, DriverB: driverB, Leaders: leaders}, nil
}

// BatchWrite は複数の書き込み操作を検証のうえ一括適用する。
// 操作列は最大500件のグループごとに順次コミットされ、
// グループ単位の結果を返す。
func (s *Service) BatchWrite(ctx context.Context, inputs []repository.BatchOp, actorUID string) ([]batch.GroupResult, error) {
	now := time.Now()
	ops := make([]repository.BatchOp, len(inputs))
	for i, input := range inputs {
		switch input.Kind {
		case repository.BatchOpCreate:
			if input.Driver == nil {
				return nil, model.NewValidationError("operations", fmt.Sprintf("操作 %d: ドライバー情報が必要です。", i))
			}
			if err := validateDriver(input.Driver); err != nil {
				return nil, err
			}
			driver := *input.Driver
			driver.ID = uuid.New().String()
			driver.CreatedBy = actorUID
			driver.UpdatedBy = actorUID
			driver.CreatedAt = now
			driver.UpdatedAt = now
			ops[i] = repository.BatchOp{Kind: repository.BatchOpCreate, Driver: &driver}
		case repository.BatchOpUpdate:
			if input.ID == "" || input.Driver == nil {
				return nil, model.NewValidationError("operations", fmt.Sprintf("操作 %d: IDとドライバー情報が必要です。", i))
			}
			if err := validateDriver(input.Driver); err != nil {
				return nil, err
			}
			existing, err := s.driverRepo.FindByID(ctx, input.ID)
			if err != nil {
				return nil, fmt.Errorf("ドライバーの取得に失敗しました: %w", err)
			}
			if existing == nil {
				return nil, model.NewDriverNotFoundError(input.ID)
			}
			driver := *input.Driver
			driver.ID = input.ID
			driver.CreatedBy = existing.CreatedBy
			driver.CreatedAt = existing.CreatedAt
			driver.UpdatedBy = actorUID
			driver.UpdatedAt = now
			ops[i] = repository.BatchOp{Kind: repository.BatchOpUpdate, ID: input.ID, Driver: &driver}
		case repository.BatchOpDelete:
			if input.ID == "" {
				return nil, model.NewValidationError("operations", fmt.Sprintf("操作 %d: IDが必要です。", i))
			}
			ops[i] = repository.BatchOp{Kind: repository.BatchOpDelete, ID: input.ID}
		default:
			return nil, model.NewValidationError("operations", fmt.Sprintf("操作 %d: 未知の操作種別 %q", i, input.Kind))
		}
	}

	results, err := batch.Write(ctx, s.batchWriter, ops)

	// 一部でもコミットされた可能性があるため、結果に関わらず無効化する
	s.invalidateCache(ctx)

	if err != nil {
		return results, err
	}

	slog.Info("batch write applied",
		slog.Int("ops", len(ops)),
		slog.String("actor", actorUID),
	)
	return results, nil
}

func leaderID(a, b *model.Driver, statA, statB int) string {
	switch {
	case statA > statB:
		return a.ID
	case statB > statA:
		return b.ID
	default:
		return "tie"
	}
}

// resolveTeamName はチームIDから引き写すチーム名を解決する。
// 存在しないチームIDは参照先の入力不正としてフィールドエラーを返す。
func (s *Service) resolveTeamName(ctx context.Context, teamID string) (string, error) {
	team, err := s.teamRepo.FindByID(ctx, teamID)
	if err != nil {
		return "", fmt.Errorf("チームの確認に失敗しました: %w", err)
	}
	if team == nil {
		return "", model.NewValidationError("team_id",
			fmt.Sprintf("指定されたチームが存在しません: %s", teamID))
	}
	return team.Name, nil
}

// resolveCursorはstart_afterのIDをキーセットカーソルに変換する。
// 指定されたレコードが既に削除されている場合はカーソルなしとして扱い、
// 先頭からの取得にフォールバックする。
func (s *Service) resolveCursor(ctx context.Context, startAfter string) (*repository.DriverCursor, error) {
	if startAfter == "" {
		return nil, nil
	}

	anchor, err := s.driverRepo.FindByID(ctx, startAfter)
	if err != nil {
		return nil, fmt.Errorf("カーソル位置の解決に失敗しました: %w", err)
	}
	if anchor == nil {
		slog.Warn("pagination cursor not found, falling back to first page",
			slog.String("start_after", startAfter),
		)
		return nil, nil
	}
	return &repository.DriverCursor{Name: anchor.Name, ID: anchor.ID}, nil
}

// clampLimit はページサイズを既定値と上限に収める。
func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		return s.config.MaxPageSize
	}
	return limit
}

func (s *Service) cachedListResult(ctx context.Context, key string) (*ListResult, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var result ListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (s *Service) storeListResult(ctx context.Context, key string, result *ListResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.config.CacheTTL); err != nil {
		slog.Warn("failed to cache list result", slog.String("error", err.Error()))
	}
}

// invalidateCache は書き込み後にキャッシュ全体を無効化する。
// キー単位の無効化はフィルタ組み合わせの列挙が必要になるため行わない。
func (s *Service) invalidateCache(ctx context.Context) {
	if err := s.cache.Clear(ctx); err != nil {
		slog.Warn("failed to invalidate cache", slog.String("error", err.Error()))
	}
}

// listCacheKey はフィルタとページ位置から決定的なキャッシュキーを作る。
func listCacheKey(filter model.DriverFilter, limit int, startAfter string) string {
	var b strings.Builder
	b.WriteString("drivers:list:")
	b.WriteString(filter.TeamID)
	b.WriteString("|")
	b.WriteString(filter.Nationality)
	b.WriteString("|")
	if filter.MinWins != nil {
		fmt.Fprintf(&b, "%d", *filter.MinWins)
	}
	b.WriteString("|")
	if filter.Active != nil {
		fmt.Fprintf(&b, "%t", *filter.Active)
	}
	fmt.Fprintf(&b, "|%d|%s", limit, startAfter)
	return b.String()
}

// validateDriver はドライバー入力の妥当性を検査する。
// 年齢は任意項目のため、未指定（ゼロ値）の場合は範囲検査しない。
func validateDriver(d *model.Driver) error {
	if strings.TrimSpace(d.Name) == "" {
		return model.NewValidationError("name", "名前は必須です。")
	}
	if len([]rune(strings.TrimSpace(d.Name))) < minDriverNameLength {
		return model.NewValidationError("name",
			fmt.Sprintf("名前は%d文字以上で指定してください。", minDriverNameLength))
	}
	if d.Team == "" && d.TeamID == "" {
		return model.NewValidationError("team", "チーム名またはチームIDを指定してください。")
	}
	if d.Age != 0 && (d.Age < minDriverAge || d.Age > maxDriverAge) {
		return model.NewValidationError("age",
			fmt.Sprintf("年齢は%dから%dの範囲で指定してください。", minDriverAge, maxDriverAge))
	}
	if d.RaceWins < 0 {
		return model.NewValidationError("race_wins", "勝利数は0以上で指定してください。")
	}
	if d.PolePositions < 0 {
		return model.NewValidationError("pole_positions", "ポールポジション数は0以上で指定してください。")
	}
	if d.FastestLaps < 0 {
		return model.NewValidationError("fastest_laps", "ファステストラップ数は0以上で指定してください。")
	}
	if d.WorldTitles < 0 {
		return model.NewValidationError("world_titles", "タイトル数は0以上で指定してください。")
	}
	return nil
}
