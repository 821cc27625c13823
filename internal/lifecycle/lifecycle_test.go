package lifecycle

import (
	"math"
	"os"
	"testing"
	"time"

	"trade_engine/internal/buffer"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func lcCfg() config.LifecycleConfig {
	return config.LifecycleConfig{
		MaxHoldBars:     48,
		PartialEnabled:  true,
		PartialTriggerR: 0.8,
		PartialFraction: 0.5,
		BEBufferR:       0.05,
		TrailTriggerR:   1.2,
		TrailATRMult:    1.5,
		TrailSwingBars:  5,
		ATRPeriod:       3,
	}
}

// фрикции нулевые: проверяем чистую R-математику
func noFriction() config.FrictionConfig { return config.FrictionConfig{} }

func longPos() *models.Position {
	return &models.Position{
		Symbol:   "BTC-USDT",
		Side:     models.SideLong,
		Units:    1,
		Entry:    100,
		RawEntry: 100,
		SL:       98,
		TP:       106,
		RiskDist: 2,
		MFE:      100,
	}
}

func bar(o, h, l, c float64) models.Candle {
	return models.Candle{Start: time.Unix(0, 0), Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func emptyBuf() *buffer.Buffer {
	return buffer.New("BTC-USDT", time.Minute, 100)
}

func TestBarsHeldIncrements(t *testing.T) {
	m := New(lcCfg(), noFriction())
	p := longPos()
	for i := 1; i <= 3; i++ {
		m.Evaluate(p, bar(100, 100.5, 99.5, 100.2), emptyBuf(), false)
		if p.BarsHeld != i {
			t.Fatalf("barsHeld=%d after %d bars", p.BarsHeld, i)
		}
	}
}

func TestStopLossWinsOverTakeProfit(t *testing.T) {
	// бар зацепил и SL и TP: приоритет фиксированный, первым проверяется стоп
	m := New(lcCfg(), noFriction())
	p := longPos()
	a := m.Evaluate(p, bar(100, 107, 97, 100), emptyBuf(), false)
	if a.Kind != models.ActionExitMarket || a.Reason != models.ExitStopLoss {
		t.Fatalf("expected stop-loss exit, got %+v", a)
	}
	if a.Price != 98 {
		t.Fatalf("exit at stop level, got %v", a.Price)
	}
}

func TestTakeProfitExit(t *testing.T) {
	m := New(lcCfg(), noFriction())
	p := longPos()
	a := m.Evaluate(p, bar(100, 106.5, 99.9, 105), emptyBuf(), false)
	if a.Kind != models.ActionExitMarket || a.Reason != models.ExitTakeProfit {
		t.Fatalf("expected TP exit, got %+v", a)
	}
}

func TestTimeoutExit(t *testing.T) {
	cfg := lcCfg()
	cfg.MaxHoldBars = 2
	cfg.PartialEnabled = false
	m := New(cfg, noFriction())
	p := longPos()

	if a := m.Evaluate(p, bar(100, 100.4, 99.8, 100.1), emptyBuf(), false); a.Kind != models.ActionHold {
		t.Fatalf("bar 1 must hold, got %+v", a)
	}
	a := m.Evaluate(p, bar(100, 100.4, 99.8, 100.1), emptyBuf(), false)
	if a.Kind != models.ActionExitMarket || a.Reason != models.ExitTimeout {
		t.Fatalf("expected timeout on bar 2, got %+v", a)
	}
}

func TestReversalExit(t *testing.T) {
	m := New(lcCfg(), noFriction())
	p := longPos()
	a := m.Evaluate(p, bar(100, 100.4, 99.8, 100.1), emptyBuf(), true)
	if a.Kind != models.ActionExitMarket || a.Reason != models.ExitReversal {
		t.Fatalf("expected reversal exit, got %+v", a)
	}
}

func TestPartialScenario(t *testing.T) {
	// long 100 / SL 98 (R=2), триггер 0.8R, фракция 0.5; цена 101.7 => R=0.85
	m := New(lcCfg(), noFriction())
	p := longPos()

	a := m.Evaluate(p, bar(100, 101.7, 99.9, 101.7), emptyBuf(), false)
	if a.Kind != models.ActionTakePartial {
		t.Fatalf("expected partial at 0.85R, got %+v", a)
	}
	if a.Frac != 0.5 {
		t.Fatalf("partial fraction 0.5, got %v", a.Frac)
	}

	m.ApplyPartial(p, a.Price)
	if !p.PartialTaken {
		t.Fatalf("partialTaken flag not set")
	}
	if math.Abs(p.PartialPnl-1.7) > 1e-9 {
		t.Fatalf("locked pnl/unit 1.7 (0.85R), got %v", p.PartialPnl)
	}
	if p.SL < 100 {
		t.Fatalf("stop must be >= breakeven after partial, got %v", p.SL)
	}

	// второй раз частичная не срабатывает
	a = m.Evaluate(p, bar(101.7, 101.9, 101.0, 101.8), emptyBuf(), false)
	if a.Kind == models.ActionTakePartial {
		t.Fatalf("partial must fire once")
	}
}

func TestStopOnlyMovesProtectively(t *testing.T) {
	p := longPos()
	if !ApplyStop(p, 99) {
		t.Fatalf("improving stop rejected")
	}
	if ApplyStop(p, 98.5) {
		t.Fatalf("loosening stop accepted")
	}
	if p.SL != 99 {
		t.Fatalf("stop mutated by rejected move: %v", p.SL)
	}

	short := &models.Position{Side: models.SideShort, Entry: 100, SL: 102, RiskDist: 2}
	if !ApplyStop(short, 101) {
		t.Fatalf("improving short stop rejected")
	}
	if ApplyStop(short, 101.5) {
		t.Fatalf("loosening short stop accepted")
	}
}

func TestTrailingTightensLongStop(t *testing.T) {
	cfg := lcCfg()
	cfg.PartialEnabled = false
	m := New(cfg, noFriction())
	p := longPos()

	// рынок ушёл сильно вверх: свинг-лоу последних баров выше входа
	b := emptyBuf()
	var cs []models.Candle
	for i := 0; i < 10; i++ {
		px := 100 + float64(i)*0.5
		cs = append(cs, models.Candle{
			Start: time.Unix(int64(i*60), 0), Open: px, High: px + 0.3, Low: px - 0.2, Close: px + 0.1, Volume: 1,
		})
	}
	b.Bootstrap(cs)

	a := m.Evaluate(p, bar(104, 104.6, 103.9, 104.5), b, false) // R > 2
	if a.Kind != models.ActionTightenStop {
		t.Fatalf("expected trailing stop move, got %+v", a)
	}
	if a.NewSL <= p.SL {
		t.Fatalf("trail candidate must improve stop: %v <= %v", a.NewSL, p.SL)
	}
	old := p.SL
	if !ApplyStop(p, a.NewSL) || p.SL <= old {
		t.Fatalf("stop not ratcheted")
	}
}

func TestBlendedClosePnl(t *testing.T) {
	m := New(lcCfg(), noFriction())
	p := longPos()
	p.Units = 2

	m.ApplyPartial(p, 101.7) // partial pnl/unit = 1.7
	pnl, r := m.ClosePnl(p, 103) // final pnl/unit = 3

	// 0.5*1.7 + 0.5*3 = 2.35 на unit, *2 units
	if math.Abs(pnl-4.7) > 1e-9 {
		t.Fatalf("blended pnl 4.7, got %v", pnl)
	}
	if math.Abs(r-1.175) > 1e-9 {
		t.Fatalf("blended R 1.175, got %v", r)
	}
}

func TestFrictionAppliedAgainstHolder(t *testing.T) {
	fr := config.FrictionConfig{SpreadPct: 0.05, SlippagePct: 0.05} // 0.1% суммарно
	m := New(lcCfg(), fr)

	entry := m.EntryPrice(models.SideLong, 100)
	if entry <= 100 {
		t.Fatalf("long entry must be worse (higher), got %v", entry)
	}

	p := longPos()
	p.Entry = entry
	pnl, _ := m.ClosePnl(p, 100)
	if pnl >= 0 {
		t.Fatalf("round-trip at flat price must lose friction, pnl=%v", pnl)
	}

	sEntry := m.EntryPrice(models.SideShort, 100)
	if sEntry >= 100 {
		t.Fatalf("short entry must be worse (lower), got %v", sEntry)
	}
}
