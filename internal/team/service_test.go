package team

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/paddock/internal/cache"
	"github.com/hitoshi/paddock/internal/model"
)

// mockTeamRepo はテスト用のTeamRepository実装
type mockTeamRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.Team, error)
	findAllFn    func(ctx context.Context) ([]*model.Team, error)
	createFn     func(ctx context.Context, team *model.Team) error
	findAllCalls int
}

func (m *mockTeamRepo) FindByID(ctx context.Context, id string) (*model.Team, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockTeamRepo) FindAll(ctx context.Context) ([]*model.Team, error) {
	m.findAllCalls++
	return m.findAllFn(ctx)
}

func (m *mockTeamRepo) Create(ctx context.Context, team *model.Team) error {
	return m.createFn(ctx, team)
}

// Createが監査フィールドを記録しIDを採番することを検証
func TestService_Create_StampsAuditFields(t *testing.T) {
	var saved *model.Team
	repo := &mockTeamRepo{
		createFn: func(ctx context.Context, team *model.Team) error {
			saved = team
			return nil
		},
	}
	service := NewService(repo, cache.NewMemoryStore(), time.Minute)

	created, err := service.Create(context.Background(), &model.Team{
		Name:        "McLaren",
		YearFounded: 1963,
	}, "uid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil {
		t.Fatal("expected team to be persisted")
	}
	if created.ID == "" {
		t.Error("expected generated ID")
	}
	if created.CreatedBy != "uid-1" || created.CreatedAt.IsZero() {
		t.Errorf("expected audit fields, got %+v", created)
	}
}

// チーム名なしの作成が拒否されることを検証
func TestService_Create_RequiresName(t *testing.T) {
	service := NewService(&mockTeamRepo{}, cache.NewMemoryStore(), time.Minute)

	_, err := service.Create(context.Background(), &model.Team{Name: "  "}, "uid-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// 一覧がキャッシュされ、作成で無効化されることを検証
func TestService_List_CacheLifecycle(t *testing.T) {
	repo := &mockTeamRepo{
		findAllFn: func(ctx context.Context) ([]*model.Team, error) {
			return []*model.Team{{ID: "team-1", Name: "Ferrari"}}, nil
		},
		createFn: func(ctx context.Context, team *model.Team) error {
			return nil
		},
	}
	service := NewService(repo, cache.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	if _, err := service.List(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.List(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.findAllCalls != 1 {
		t.Errorf("expected repository hit once, got %d", repo.findAllCalls)
	}

	if _, err := service.Create(ctx, &model.Team{Name: "Williams"}, "uid-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.List(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.findAllCalls != 2 {
		t.Errorf("expected cache invalidation to force second hit, got %d", repo.findAllCalls)
	}
}

// 存在しないチームの取得が未検出エラーになることを検証
func TestService_Get_NotFound(t *testing.T) {
	repo := &mockTeamRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Team, error) {
			return nil, nil
		},
	}
	service := NewService(repo, cache.NewMemoryStore(), time.Minute)

	_, err := service.Get(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTeamNotFound {
		t.Fatalf("expected team not found, got %v", err)
	}
}
