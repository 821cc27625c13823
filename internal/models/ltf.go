package models

// LTFState — фаза подтверждения на младшем таймфрейме.
type LTFState string

const (
	LTFWaitingForZone       LTFState = "WAITING_FOR_ZONE"
	LTFWatchingConfirmation LTFState = "WATCHING_CONFIRMATION"
	LTFConfirmed            LTFState = "CONFIRMED"
	LTFExpired              LTFState = "EXPIRED"
)

// LTFSetup — ожидающее подтверждение по сигналу старшего таймфрейма.
// Живёт от сигнала до confirm/expire, одно на символ.
type LTFSetup struct {
	Symbol string
	Parent Signal

	State    LTFState
	ZoneHigh float64
	ZoneLow  float64

	BarsWaited int // баров с момента создания (фаза ожидания зоны)
	BarsInZone int // баров с момента входа цены в зону

	// уточнённые уровни после подтверждения
	RefinedEntry float64
	RefinedSL    float64
}
