package models

// ExitReason — причина терминального выхода.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitTimeout    ExitReason = "TIMEOUT"
	ExitReversal   ExitReason = "REVERSAL"
	ExitShutdown   ExitReason = "SHUTDOWN"
)

// ExitAction — решение lifecycle-менеджера по бару.
// Tagged variant вместо числовых кодов: switch по Kind обязан
// покрывать все варианты.
type ExitActionKind int

const (
	ActionHold ExitActionKind = iota
	ActionExitMarket
	ActionTightenStop
	ActionTakePartial
)

type ExitAction struct {
	Kind   ExitActionKind
	Price  float64    // цена исполнения для ExitMarket / TakePartial
	NewSL  float64    // для TightenStop
	Frac   float64    // для TakePartial
	Reason ExitReason // для ExitMarket
	Note   string     // человекочитаемое объяснение для лога/алерта
}

func Hold() ExitAction { return ExitAction{Kind: ActionHold} }

func ExitMarket(price float64, reason ExitReason, note string) ExitAction {
	return ExitAction{Kind: ActionExitMarket, Price: price, Reason: reason, Note: note}
}

func TightenStop(newSL float64, note string) ExitAction {
	return ExitAction{Kind: ActionTightenStop, NewSL: newSL, Note: note}
}

func TakePartial(price, frac float64, note string) ExitAction {
	return ExitAction{Kind: ActionTakePartial, Price: price, Frac: frac, Note: note}
}
