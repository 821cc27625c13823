package models

import "time"

// Candle — закрытая OHLCV-свеча. После закрытия не мутируется.
type Candle struct {
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// LiveCandle — свеча в процессе формирования (или только что закрытая).
// В буфер попадают только Closed=true.
type LiveCandle struct {
	Candle
	Closed bool  `json:"closed"`
	Trades int64 `json:"trades"`
}

// CandleEventKind — вид события от фида.
type CandleEventKind int

const (
	EventUpdate CandleEventKind = iota // тик внутри бара
	EventClosed                        // бар закрылся, ровно один раз на бар
	EventTerminal                      // фид умер окончательно, реконнекты исчерпаны
)

// CandleEvent — единица потока фида: тик, закрытие бара или терминальная ошибка.
type CandleEvent struct {
	Kind      CandleEventKind
	Symbol    string
	Timeframe string
	Candle    LiveCandle
	Err       error
}
