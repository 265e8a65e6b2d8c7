// Package model はドメインモデルを定義する。
package model

import "time"

// Driver はF1ドライバーのレコードを表す。
// Teamは表示用に非正規化されたチーム名で、TeamIDが指定されている場合は
// 作成時にTeamsコレクションから複製される。
type Driver struct {
	ID            string
	Name          string
	Age           int
	Team          string // 非正規化されたチーム名
	TeamID        string
	Nationality   string
	RaceWins      int
	PolePositions int
	FastestLaps   int
	WorldTitles   int
	Active        bool
	CreatedBy     string
	UpdatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DriverFilter はドライバー一覧取得時の絞り込み条件を表す。
// nilのポインタフィールドは条件なしを意味する。
type DriverFilter struct {
	TeamID      string
	MinWins     *int
	Nationality string
	Active      *bool
}

// IsZero はフィルタ条件が1つも指定されていない場合にtrueを返す。
func (f DriverFilter) IsZero() bool {
	return f.TeamID == "" && f.MinWins == nil && f.Nationality == "" && f.Active == nil
}

// DriverStats はドライバー全体の集計統計を表す。
type DriverStats struct {
	TotalDrivers  int
	TotalWins     int
	DriversByTeam map[string]int // team_id → ドライバー数
}
