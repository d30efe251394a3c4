package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run statuses.
const (
	StatusBuilt  = "built"
	StatusCached = "cached"
	StatusFailed = "failed"
)

// RunRecord 记录一次面板构建，用于 show 命令回看历史。
type RunRecord struct {
	ID         int64
	Panel      string
	ParamsKey  string
	Timeframe  string
	Bars       int
	Instrument string
	Scope      string
	StartedAt  time.Time
	DurationMS int64
	Retained   int
	Total      int
	Coverage   decimal.Decimal
	Status     string
	Error      *string
	Summary    string
	CreatedAt  time.Time
}
