package models

import "time"

// RiskLevel — мягкая оценка текущего состояния лимитов.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "NORMAL"
	RiskElevated RiskLevel = "ELEVATED"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskState — состояние риск-менеджера на одну торговую сессию.
// Мутируется только риск-менеджером: open/close события + тик раз в бар.
type RiskState struct {
	InitialEquity float64
	Equity        float64
	PeakEquity    float64

	DailyPnl     float64
	DayStartedAt time.Time

	ConsecutiveLosses int

	// счётчики в барах
	ForcedCooldownLeft int
	LossCooldownLeft   int
	BarsSinceLastTrade int

	OpenPositions int

	Halted     bool
	HaltReason string
}

// Drawdown — текущая просадка от пика, доля [0..1].
func (s *RiskState) Drawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	dd := (s.PeakEquity - s.Equity) / s.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// DailyLossPct — дневной убыток как доля стартового капитала дня, >= 0.
func (s *RiskState) DailyLossPct() float64 {
	if s.Equity <= 0 || s.DailyPnl >= 0 {
		return 0
	}
	base := s.Equity - s.DailyPnl
	if base <= 0 {
		return 0
	}
	return -s.DailyPnl / base
}

// RiskDecision — структурированный вердикт гейта. Не ошибка и не исключение.
type RiskDecision struct {
	Allowed         bool
	Reason          string
	RecommendedSize float64
	RiskLevel       RiskLevel
	Warnings        []string
}
