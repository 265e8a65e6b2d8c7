// Package model はドメインモデルを定義する。
package model

import "time"

// Team はF1コンストラクター（チーム）のレコードを表す。
type Team struct {
	ID                string
	Name              string
	YearFounded       int
	RaceWins          int
	PolePositions     int
	ConstructorTitles int
	FinishingPosition int
	CreatedBy         string
	CreatedAt         time.Time
}
