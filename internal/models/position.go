package models

import "time"

// Position — единственная открытая позиция по символу.
// Мутирует её только lifecycle-менеджер, раз в закрытый бар.
type Position struct {
	Symbol   string
	Side     Side
	Units    float64 // размер в базовой валюте
	Fraction float64 // доля капитала под риском

	Entry    float64 // цена входа с учётом фрикций (спред+слиппедж против нас)
	RawEntry float64 // сырая цена входа до фрикций

	SL float64 // мутабелен: BE / трейлинг, двигается только в защитную сторону
	TP float64

	// RiskDist фиксируется на входе и используется для ВСЕЙ R-математики
	// до самого выхода, даже после переноса стопа.
	RiskDist float64

	EntryIndex int
	OpenedAt   time.Time
	BarsHeld   int // монотонно, +1 на каждый закрытый бар

	Score float64

	MFE float64 // максимально благоприятная цена с момента входа

	MovedToBE     bool
	PartialTaken  bool
	PartialPnl    float64 // зафиксированный PnL частичной фиксации (на единицу)
	PartialPrice  float64
	PartialPnlLkd bool
}

// UpdateMFE обновляет максимально благоприятную экскурсию по бару.
func (p *Position) UpdateMFE(high, low float64) {
	if p.Side == SideLong {
		if high > p.MFE {
			p.MFE = high
		}
		return
	}
	if p.MFE == 0 || low < p.MFE {
		p.MFE = low
	}
}

// OpenPosition — sum-тип "позиции может не быть", чтобы никто не
// разыменовал несуществующую позицию.
type OpenPosition struct {
	pos *Position
}

func NoPosition() OpenPosition { return OpenPosition{} }

func SomePosition(p *Position) OpenPosition {
	if p == nil {
		panic("models: SomePosition(nil)")
	}
	return OpenPosition{pos: p}
}

func (o OpenPosition) IsOpen() bool { return o.pos != nil }

// Get паникует, если позиции нет — это ошибка программиста, не рынка.
func (o OpenPosition) Get() *Position {
	if o.pos == nil {
		panic("models: Get() on empty position")
	}
	return o.pos
}
