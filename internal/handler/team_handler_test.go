package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
)

// --- モック定義 ---

// mockTeamService はTeamServiceInterfaceのモック実装。
type mockTeamService struct {
	getFn    func(ctx context.Context, id string) (*model.Team, error)
	listFn   func(ctx context.Context) ([]*model.Team, error)
	createFn func(ctx context.Context, input *model.Team, actorUID string) (*model.Team, error)
}

func (m *mockTeamService) Get(ctx context.Context, id string) (*model.Team, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockTeamService) List(ctx context.Context) ([]*model.Team, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockTeamService) Create(ctx context.Context, input *model.Team, actorUID string) (*model.Team, error) {
	if m.createFn != nil {
		return m.createFn(ctx, input, actorUID)
	}
	return nil, nil
}

// --- GET /api/teams テスト ---

func TestTeamHandler_List_Success(t *testing.T) {
	svc := &mockTeamService{
		listFn: func(ctx context.Context) ([]*model.Team, error) {
			return []*model.Team{
				{ID: "team-1", Name: "Ferrari", YearFounded: 1950},
				{ID: "team-2", Name: "McLaren", YearFounded: 1966},
			}, nil
		},
	}

	h := NewTeamHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/teams", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result struct {
		Teams []teamResponse `json:"teams"`
		Count int            `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("count = %d, want 2", result.Count)
	}
	if result.Teams[0].Name != "Ferrari" {
		t.Errorf("teams[0].name = %q, want %q", result.Teams[0].Name, "Ferrari")
	}
}

// --- GET /api/teams/{id} テスト ---

func TestTeamHandler_Get_Success(t *testing.T) {
	svc := &mockTeamService{
		getFn: func(ctx context.Context, id string) (*model.Team, error) {
			if id != "team-1" {
				t.Errorf("id = %q, want %q", id, "team-1")
			}
			return &model.Team{ID: "team-1", Name: "Ferrari", ConstructorTitles: 16}, nil
		},
	}

	h := NewTeamHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/teams/team-1", nil)
	req = withChiURLParam(req, "id", "team-1")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result teamResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.ConstructorTitles != 16 {
		t.Errorf("constructor_titles = %d, want 16", result.ConstructorTitles)
	}
}

func TestTeamHandler_Get_NotFound(t *testing.T) {
	svc := &mockTeamService{
		getFn: func(ctx context.Context, id string) (*model.Team, error) {
			return nil, model.NewTeamNotFoundError(id)
		},
	}

	h := NewTeamHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/teams/unknown", nil)
	req = withChiURLParam(req, "id", "unknown")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeTeamNotFound {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeTeamNotFound)
	}
}

// --- POST /api/teams テスト ---

func TestTeamHandler_Create_Success(t *testing.T) {
	svc := &mockTeamService{
		createFn: func(ctx context.Context, input *model.Team, actorUID string) (*model.Team, error) {
			if actorUID != "user-123" {
				t.Errorf("actorUID = %q, want %q", actorUID, "user-123")
			}
			if input.Name != "Williams" {
				t.Errorf("name = %q, want %q", input.Name, "Williams")
			}
			created := *input
			created.ID = "team-new"
			return &created, nil
		},
	}

	h := NewTeamHandler(svc)

	body := `{"name": "Williams", "year_founded": 1977, "race_wins": 114}`
	req := httptest.NewRequest(http.MethodPost, "/api/teams", bytes.NewBufferString(body))
	req = withPrincipal(req, &middleware.Principal{UID: "user-123"})
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["id"] != "team-new" {
		t.Errorf("id = %q, want %q", result["id"], "team-new")
	}
}

func TestTeamHandler_Create_NoPrincipal(t *testing.T) {
	h := NewTeamHandler(&mockTeamService{})

	body := `{"name": "Williams"}`
	req := httptest.NewRequest(http.MethodPost, "/api/teams", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestTeamHandler_Create_ValidationError(t *testing.T) {
	svc := &mockTeamService{
		createFn: func(ctx context.Context, input *model.Team, actorUID string) (*model.Team, error) {
			return nil, model.NewValidationError("name", "チーム名は必須です。")
		},
	}

	h := NewTeamHandler(svc)

	body := `{"name": ""}`
	req := httptest.NewRequest(http.MethodPost, "/api/teams", bytes.NewBufferString(body))
	req = withPrincipal(req, &middleware.Principal{UID: "user-123"})
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
