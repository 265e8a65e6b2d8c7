package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
)

// TeamServiceInterface はチームハンドラーが必要とするサービスインターフェース。
type TeamServiceInterface interface {
	Get(ctx context.Context, id string) (*model.Team, error)
	List(ctx context.Context) ([]*model.Team, error)
	Create(ctx context.Context, input *model.Team, actorUID string) (*model.Team, error)
}

// TeamHandler はチームレコードのHTTPハンドラー。
type TeamHandler struct {
	service TeamServiceInterface
}

// NewTeamHandler はTeamHandlerを生成する。
func NewTeamHandler(service TeamServiceInterface) *TeamHandler {
	return &TeamHandler{service: service}
}

// teamRequest はチーム作成リクエストのボディ。
type teamRequest struct {
	Name              string `json:"name"`
	YearFounded       int    `json:"year_founded"`
	RaceWins          int    `json:"race_wins"`
	PolePositions     int    `json:"pole_positions"`
	ConstructorTitles int    `json:"constructor_titles"`
	FinishingPosition int    `json:"finishing_position"`
}

// teamResponse はチーム情報のAPIレスポンス。
type teamResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	YearFounded       int       `json:"year_founded"`
	RaceWins          int       `json:"race_wins"`
	PolePositions     int       `json:"pole_positions"`
	ConstructorTitles int       `json:"constructor_titles"`
	FinishingPosition int       `json:"finishing_position"`
	CreatedBy         string    `json:"created_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toTeamResponse(t *model.Team) teamResponse {
	return teamResponse{
		ID:                t.ID,
		Name:              t.Name,
		YearFounded:       t.YearFounded,
		RaceWins:          t.RaceWins,
		PolePositions:     t.PolePositions,
		ConstructorTitles: t.ConstructorTitles,
		FinishingPosition: t.FinishingPosition,
		CreatedBy:         t.CreatedBy,
		CreatedAt:         t.CreatedAt,
	}
}

// List は全チームを返す。
// GET /api/teams
func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	teams, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]teamResponse, len(teams))
	for i, t := range teams {
		responses[i] = toTeamResponse(t)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"teams": responses,
		"count": len(responses),
	})
}

// Get はチーム詳細を返す。
// GET /api/teams/{id}
func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	team, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTeamResponse(team))
}

// Create はチームを作成する。
// POST /api/teams
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req teamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	created, err := h.service.Create(r.Context(), &model.Team{
		Name:              req.Name,
		YearFounded:       req.YearFounded,
		RaceWins:          req.RaceWins,
		PolePositions:     req.PolePositions,
		ConstructorTitles: req.ConstructorTitles,
		FinishingPosition: req.FinishingPosition,
	}, principal.UID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id": created.ID,
	})
}
