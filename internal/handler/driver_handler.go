package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/paddock/internal/authz"
	"github.com/hitoshi/paddock/internal/batch"
	"github.com/hitoshi/paddock/internal/driver"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// DriverServiceInterface はドライバーハンドラーが必要とするサービスインターフェース。
type DriverServiceInterface interface {
	Get(ctx context.Context, id string) (*model.Driver, error)
	Create(ctx context.Context, input *model.Driver, actorUID string) (*model.Driver, error)
	Update(ctx context.Context, id string, patch driver.DriverPatch, actor authz.Actor) (*model.Driver, error)
	Delete(ctx context.Context, id string, actor authz.Actor) error
	List(ctx context.Context, params driver.ListParams) (*driver.ListResult, error)
	Search(ctx context.Context, query string, limit int) ([]*model.Driver, error)
	Stats(ctx context.Context) (*model.DriverStats, error)
	Compare(ctx context.Context, idA, idB string) (*driver.Comparison, error)
	BatchWrite(ctx context.Context, inputs []repository.BatchOp, actorUID string) ([]batch.GroupResult, error)
}

// DriverHandler はドライバーレコードのHTTPハンドラー。
type DriverHandler struct {
	service DriverServiceInterface
}

// NewDriverHandler はDriverHandlerを生成する。
func NewDriverHandler(service DriverServiceInterface) *DriverHandler {
	return &DriverHandler{service: service}
}

// driverRequest はドライバー作成・更新リクエストのボディ。
// 部分更新で未指定のフィールドを区別するため、すべてポインタで受ける。
type driverRequest struct {
	Name          *string `json:"name"`
	Age           *int    `json:"age"`
	Team          *string `json:"team"`
	TeamID        *string `json:"team_id"`
	Nationality   *string `json:"nationality"`
	RaceWins      *int    `json:"race_wins"`
	PolePositions *int    `json:"pole_positions"`
	FastestLaps   *int    `json:"fastest_laps"`
	WorldTitles   *int    `json:"world_titles"`
	Active        *bool   `json:"active"`
}

// toDriver は作成リクエストをドメインモデルに変換する。
// 未指定の成績はゼロ、activeはtrueを既定値とする。年齢は未指定を許容する。
func (req *driverRequest) toDriver() *model.Driver {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &model.Driver{
		Name:          stringOrZero(req.Name),
		Age:           intOrZero(req.Age),
		Team:          stringOrZero(req.Team),
		TeamID:        stringOrZero(req.TeamID),
		Nationality:   stringOrZero(req.Nationality),
		RaceWins:      intOrZero(req.RaceWins),
		PolePositions: intOrZero(req.PolePositions),
		FastestLaps:   intOrZero(req.FastestLaps),
		WorldTitles:   intOrZero(req.WorldTitles),
		Active:        active,
	}
}

// toPatch は更新リクエストを、指定されたフィールドだけを持つパッチに変換する。
func (req *driverRequest) toPatch() driver.DriverPatch {
	return driver.DriverPatch{
		Name:          req.Name,
		Age:           req.Age,
		Team:          req.Team,
		TeamID:        req.TeamID,
		Nationality:   req.Nationality,
		RaceWins:      req.RaceWins,
		PolePositions: req.PolePositions,
		FastestLaps:   req.FastestLaps,
		WorldTitles:   req.WorldTitles,
		Active:        req.Active,
	}
}

func stringOrZero(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrZero(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// driverResponse はドライバー情報のAPIレスポンス。
type driverResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Age           int       `json:"age"`
	Team          string    `json:"team"`
	TeamID        string    `json:"team_id,omitempty"`
	Nationality   string    `json:"nationality"`
	RaceWins      int       `json:"race_wins"`
	PolePositions int       `json:"pole_positions"`
	FastestLaps   int       `json:"fastest_laps"`
	WorldTitles   int       `json:"world_titles"`
	Active        bool      `json:"active"`
	CreatedBy     string    `json:"created_by,omitempty"`
	UpdatedBy     string    `json:"updated_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toDriverResponse(d *model.Driver) driverResponse {
	return driverResponse{
		ID:            d.ID,
		Name:          d.Name,
		Age:           d.Age,
		Team:          d.Team,
		TeamID:        d.TeamID,
		Nationality:   d.Nationality,
		RaceWins:      d.RaceWins,
		PolePositions: d.PolePositions,
		FastestLaps:   d.FastestLaps,
		WorldTitles:   d.WorldTitles,
		Active:        d.Active,
		CreatedBy:     d.CreatedBy,
		UpdatedBy:     d.UpdatedBy,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func toDriverResponses(drivers []*model.Driver) []driverResponse {
	responses := make([]driverResponse, len(drivers))
	for i, d := range drivers {
		responses[i] = toDriverResponse(d)
	}
	return responses
}

// List はフィルタとページネーション付きのドライバー一覧を返す。
// GET /api/drivers?team_id=&nationality=&min_wins=&active=&limit=&start_after=
func (h *DriverHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	params := driver.ListParams{
		Filter: model.DriverFilter{
			TeamID:      query.Get("team_id"),
			Nationality: query.Get("nationality"),
		},
		StartAfter: query.Get("start_after"),
	}

	if raw := query.Get("min_wins"); raw != "" {
		minWins, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("min_wins", "min_winsは整数で指定してください。"))
			return
		}
		params.Filter.MinWins = &minWins
	}
	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("active", "activeはtrueまたはfalseで指定してください。"))
			return
		}
		params.Filter.Active = &active
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("limit", "limitは整数で指定してください。"))
			return
		}
		params.Limit = limit
	}

	result, err := h.service.List(r.Context(), params)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"drivers":    toDriverResponses(result.Drivers),
		"pagination": result.Pagination,
		"filters":    toFilterResponse(result.Filters),
	})
}

// toFilterResponse は適用されたフィルタ条件をレスポンス用に整形する。
func toFilterResponse(f model.DriverFilter) map[string]interface{} {
	filters := map[string]interface{}{}
	if f.TeamID != "" {
		filters["team_id"] = f.TeamID
	}
	if f.Nationality != "" {
		filters["nationality"] = f.Nationality
	}
	if f.MinWins != nil {
		filters["min_wins"] = *f.MinWins
	}
	if f.Active != nil {
		filters["active"] = *f.Active
	}
	return filters
}

// Search はドライバーの部分一致検索結果を返す。
// GET /api/drivers/search?q=&limit=
func (h *DriverHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("limit", "limitは整数で指定してください。"))
			return
		}
		limit = parsed
	}

	drivers, err := h.service.Search(r.Context(), query, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"drivers": toDriverResponses(drivers),
		"count":   len(drivers),
		"query":   query,
	})
}

// Stats はドライバー全体の集計統計を返す。
// GET /api/drivers/stats
func (h *DriverHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_drivers":   stats.TotalDrivers,
		"total_wins":      stats.TotalWins,
		"drivers_by_team": stats.DriversByTeam,
	})
}

// Compare は2名のドライバーの成績比較を返す。
// GET /api/drivers/compare?driver1=&driver2=
func (h *DriverHandler) Compare(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := h.service.Compare(r.Context(), query.Get("driver1"), query.Get("driver2"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"driver1": toDriverResponse(result.DriverA),
		"driver2": toDriverResponse(result.DriverB),
		"leaders": result.Leaders,
	})
}

// Get はドライバー詳細を返す。
// GET /api/drivers/{id}
func (h *DriverHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDriverResponse(d))
}

// Create はドライバーを作成する。
// POST /api/drivers
func (h *DriverHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req driverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	created, err := h.service.Create(r.Context(), req.toDriver(), principal.UID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id": created.ID,
	})
}

// Update はボディで指定されたフィールドだけをドライバーに適用する。
// PUT /api/drivers/{id}, PATCH /api/drivers/{id}
func (h *DriverHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req driverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	updated, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req.toPatch(),
		authz.Actor{UID: principal.UID, Admin: principal.Admin})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDriverResponse(updated))
}

// Delete はドライバーを削除する。
// DELETE /api/drivers/{id}
func (h *DriverHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	err = h.service.Delete(r.Context(), chi.URLParam(r, "id"),
		authz.Actor{UID: principal.UID, Admin: principal.Admin})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "削除しました。",
	})
}

// batchWriteRequest はバッチ書き込みリクエストのボディ。
type batchWriteRequest struct {
	Operations []batchOperation `json:"operations"`
}

// batchOperation はバッチ書き込みの1操作。
type batchOperation struct {
	Op     string         `json:"op"` // "create" | "update" | "delete"
	ID     string         `json:"id,omitempty"`
	Driver *driverRequest `json:"driver,omitempty"`
}

// BatchWrite は複数の書き込み操作を一括適用する。
// POST /api/drivers/batch
func (h *DriverHandler) BatchWrite(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req batchWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if len(req.Operations) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("operations", "操作を1件以上指定してください。"))
		return
	}

	inputs := make([]repository.BatchOp, len(req.Operations))
	for i, op := range req.Operations {
		inputs[i] = repository.BatchOp{
			Kind: repository.BatchOpKind(op.Op),
			ID:   op.ID,
		}
		if op.Driver != nil {
			inputs[i].Driver = op.Driver.toDriver()
		}
	}

	results, err := h.service.BatchWrite(r.Context(), inputs, principal.UID)
	if err != nil {
		// 一部コミット済みの場合もグループ結果を返す
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"groups": results,
			"error":  "バッチ書き込みが途中で失敗しました。",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": results,
	})
}
