package models

import "time"

// TradeRecord — то, что уходит в БД при входе и дополняется при выходе.
type TradeRecord struct {
	TradeID   string `json:"trade_id"`
	SessionID string `json:"session_id"`
	Symbol    string `json:"symbol"`

	Side     Side    `json:"side"`
	Entry    float64 `json:"entry"`
	RawEntry float64 `json:"raw_entry"`
	SL       float64 `json:"sl"`
	TP       float64 `json:"tp"`
	Units    float64 `json:"units"`
	Score    float64 `json:"score"`

	Factors []Factor `json:"factors"`

	OpenedAt time.Time `json:"opened_at"`

	// заполняется на выходе
	ExitPrice float64    `json:"exit_price"`
	MFE       float64    `json:"mfe"` // лучшая цена за время сделки
	Pnl       float64    `json:"pnl"`
	RMultiple float64    `json:"r_multiple"`
	Reason    ExitReason `json:"reason"`
	BarsHeld  int        `json:"bars_held"`
	ClosedAt  time.Time  `json:"closed_at"`
}

// SessionRecord — агрегат по торговой сессии одного символа.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`

	InitialEquity float64 `json:"initial_equity"`
	FinalEquity   float64 `json:"final_equity"`
	Trades        int     `json:"trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}
