package models

// Side — направление сделки.
type Side string

const (
	SideNone  Side = ""
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Factor — один фактор конфлюэнса с весом в итоговом скоре.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Signal — результат скоринга одного закрытого бара. Иммутабелен,
// потребляется ровно один раз за оценку.
type Signal struct {
	Symbol     string   `json:"symbol"`
	Timeframe  string   `json:"timeframe"`
	Side       Side     `json:"side"`
	Entry      float64  `json:"entry"`
	StopLoss   float64  `json:"stop_loss"`
	TakeProfit float64  `json:"take_profit"`
	Score      float64  `json:"score"`
	Factors    []Factor `json:"factors"`
}
