package engine

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	feedsvc "trade_engine/internal/modules/feed/service"
	healthsvc "trade_engine/internal/modules/health/service"
	"trade_engine/internal/notify"
	"trade_engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type stubRecorder struct {
	sessionInserts int
	sessionUpdates int
	tradeInserts   int
	tradeUpdates   int
	lastTrade      models.TradeRecord
	failures       int // сколько первых вызовов падает
}

func (s *stubRecorder) maybeFail() error {
	if s.failures > 0 {
		s.failures--
		return errors.New("db down")
	}
	return nil
}

func (s *stubRecorder) InsertSession(_ context.Context, _ *models.SessionRecord) error {
	if err := s.maybeFail(); err != nil {
		return err
	}
	s.sessionInserts++
	return nil
}

func (s *stubRecorder) UpdateSession(_ context.Context, _ *models.SessionRecord) error {
	if err := s.maybeFail(); err != nil {
		return err
	}
	s.sessionUpdates++
	return nil
}

func (s *stubRecorder) InsertTrade(_ context.Context, t *models.TradeRecord) error {
	if err := s.maybeFail(); err != nil {
		return err
	}
	s.tradeInserts++
	s.lastTrade = *t
	return nil
}

func (s *stubRecorder) UpdateTradeByTradeID(_ context.Context, t *models.TradeRecord) error {
	if err := s.maybeFail(); err != nil {
		return err
	}
	s.tradeUpdates++
	s.lastTrade = *t
	return nil
}

func (s *stubRecorder) GetTradesBySessionID(_ context.Context, _ string) ([]models.TradeRecord, error) {
	if err := s.maybeFail(); err != nil {
		return nil, err
	}
	if s.tradeUpdates == 0 {
		return nil, nil
	}
	return []models.TradeRecord{s.lastTrade}, nil
}

type captureNotifier struct {
	events []string
}

func (c *captureNotifier) Send(a notify.Alert) { c.events = append(c.events, a.Event) }

func (c *captureNotifier) count(event string) int {
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Symbols:        []string{"BTC-USDT"},
		Timeframe:      "15m",
		LTFTimeframe:   "1m",
		InitialCapital: 10000,
	}
	cfg.Feed.BufferMaxSize = 200
	cfg.Lifecycle = config.LifecycleConfig{
		MaxHoldBars:     48,
		PartialEnabled:  false,
		TrailTriggerR:   1.2,
		TrailATRMult:    1.5,
		TrailSwingBars:  5,
		ATRPeriod:       14,
		PartialTriggerR: 0.8,
		PartialFraction: 0.5,
		BEBufferR:       0.05,
	}
	cfg.Risk = config.RiskConfig{
		MaxDailyLossPct:    3,
		MaxDrawdownPct:     10,
		MaxOpenPositions:   1,
		MaxConsecLosses:    3,
		ForcedCooldownBars: 12,
		LossCooldownBars:   3,
		MinBarsBetween:     2,
	}
	cfg.Sizing = config.SizingConfig{
		BaseFraction:  0.02,
		MinFraction:   0.005,
		MaxFraction:   0.04,
		KellyFraction: 0.3,
		TargetVol:     0.01,
		MinVolScale:   0.4,
		MaxVolScale:   1.2,
		DDThreshold:   0.05,
		DDMaxCut:      0.6,
		MinConfidence: 0.7,
		ConfFloor:     0.4,
	}
	cfg.Strategy.TakeProfitRR = 2.0
	return cfg
}

// flatCandles — n одинаковых баров: close 100, диапазон 99..101, TR=2.
func flatCandles(n int) []models.Candle {
	start := time.Unix(1_700_000_000, 0)
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Candle{
			Start: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:  100, High: 101, Low: 99, Close: 100,
			Volume: 10,
		})
	}
	return out
}

func newTestRunner(cfg *config.Config, repo Recorder, n notify.Notifier) *Runner {
	return NewRunner(cfg, "BTC-USDT", feedsvc.NewClient(cfg.Feed), repo, n, healthsvc.NewState())
}

func longSignal() models.Signal {
	return models.Signal{
		Symbol:     "BTC-USDT",
		Timeframe:  "15m",
		Side:       models.SideLong,
		Entry:      100,
		StopLoss:   98,
		TakeProfit: 104,
		Score:      0.9,
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOpenPositionSizesAndRecords(t *testing.T) {
	repo := &stubRecorder{}
	ntf := &captureNotifier{}
	r := newTestRunner(testConfig(), repo, ntf)
	r.buf.Bootstrap(flatCandles(30))

	r.openPosition(longSignal())

	if !r.pos.IsOpen() {
		t.Fatal("position not opened")
	}
	p := r.pos.Get()

	// ATR на плоских барах ровно 2 -> vol scale 0.5 -> fraction 0.01
	if !almostEqual(p.Fraction, 0.01) {
		t.Fatalf("fraction = %v, want 0.01", p.Fraction)
	}
	// units = 0.01 * 10000 / riskDist(2) = 50
	if !almostEqual(p.Units, 50) {
		t.Fatalf("units = %v, want 50", p.Units)
	}
	if !almostEqual(p.RiskDist, 2) {
		t.Fatalf("riskDist = %v, want 2", p.RiskDist)
	}

	if repo.tradeInserts != 1 {
		t.Fatalf("trade inserts = %d, want 1", repo.tradeInserts)
	}
	if ntf.count("ENTRY") != 1 {
		t.Fatalf("ENTRY alerts = %d, want 1", ntf.count("ENTRY"))
	}
	if r.riskMgr.State().OpenPositions != 1 {
		t.Fatalf("risk open positions = %d, want 1", r.riskMgr.State().OpenPositions)
	}
}

func TestSecondEntryBlockedByPositionLimit(t *testing.T) {
	repo := &stubRecorder{}
	ntf := &captureNotifier{}
	r := newTestRunner(testConfig(), repo, ntf)
	r.buf.Bootstrap(flatCandles(30))

	r.openPosition(longSignal())
	r.openPosition(longSignal())

	if repo.tradeInserts != 1 {
		t.Fatalf("trade inserts = %d, want 1", repo.tradeInserts)
	}
	if ntf.count("RISK_BLOCK") != 1 {
		t.Fatalf("RISK_BLOCK alerts = %d, want 1", ntf.count("RISK_BLOCK"))
	}
}

func TestClosePositionUpdatesEverything(t *testing.T) {
	repo := &stubRecorder{}
	ntf := &captureNotifier{}
	r := newTestRunner(testConfig(), repo, ntf)
	r.buf.Bootstrap(flatCandles(30))

	r.openPosition(longSignal())
	r.closePosition(104, models.ExitTakeProfit, "tp hit")

	if r.pos.IsOpen() {
		t.Fatal("position still open after close")
	}
	// 50 юнитов * 4 = 200
	eq := r.riskMgr.State().Equity
	if !almostEqual(eq, 10200) {
		t.Fatalf("equity = %v, want 10200", eq)
	}
	if r.session.Trades != 1 || r.session.Wins != 1 || r.session.Losses != 0 {
		t.Fatalf("session stats = %d/%d/%d, want 1/1/0",
			r.session.Trades, r.session.Wins, r.session.Losses)
	}
	if repo.tradeUpdates != 1 {
		t.Fatalf("trade updates = %d, want 1", repo.tradeUpdates)
	}
	if repo.lastTrade.Reason != models.ExitTakeProfit {
		t.Fatalf("recorded reason = %q, want TAKE_PROFIT", repo.lastTrade.Reason)
	}
	if !almostEqual(repo.lastTrade.RMultiple, 2) {
		t.Fatalf("recorded R = %v, want 2", repo.lastTrade.RMultiple)
	}
	if ntf.count("EXIT") != 1 {
		t.Fatalf("EXIT alerts = %d, want 1", ntf.count("EXIT"))
	}
}

func TestBreakevenCloseIsNotALoss(t *testing.T) {
	repo := &stubRecorder{}
	r := newTestRunner(testConfig(), repo, &captureNotifier{})
	r.buf.Bootstrap(flatCandles(30))

	r.openPosition(longSignal())
	r.closePosition(100, models.ExitTimeout, "flat exit") // ровно по входу, pnl = 0

	if r.session.Trades != 1 || r.session.Wins != 0 || r.session.Losses != 0 {
		t.Fatalf("session stats = %d/%d/%d, want 1/0/0",
			r.session.Trades, r.session.Wins, r.session.Losses)
	}
	if r.losses != 0 || r.wins != 0 {
		t.Fatalf("kelly stats = %d/%d, want 0/0", r.wins, r.losses)
	}
	if cl := r.riskMgr.State().ConsecutiveLosses; cl != 0 {
		t.Fatalf("consecutive losses = %d, want 0", cl)
	}
	if !almostEqual(r.riskMgr.State().Equity, 10000) {
		t.Fatalf("equity = %v, want 10000", r.riskMgr.State().Equity)
	}
}

func TestReentryBlockedRightAfterClose(t *testing.T) {
	repo := &stubRecorder{}
	r := newTestRunner(testConfig(), repo, &captureNotifier{})
	r.buf.Bootstrap(flatCandles(30))

	r.openPosition(longSignal())
	r.closePosition(104, models.ExitTakeProfit, "tp hit")
	r.openPosition(longSignal())

	// min_bars_between: сразу после закрытия вход запрещён
	if r.pos.IsOpen() {
		t.Fatal("reentry allowed immediately after close")
	}
	if repo.tradeInserts != 1 {
		t.Fatalf("trade inserts = %d, want 1", repo.tradeInserts)
	}
}

func TestShutdownClosesOpenPosition(t *testing.T) {
	repo := &stubRecorder{}
	r := newTestRunner(testConfig(), repo, &captureNotifier{})
	r.buf.Bootstrap(flatCandles(30))

	r.openPosition(longSignal())
	r.pos.Get().UpdateMFE(103, 99)
	r.lastPrice = 101
	r.shutdown()

	if r.pos.IsOpen() {
		t.Fatal("position survived shutdown")
	}
	if repo.lastTrade.Reason != models.ExitShutdown {
		t.Fatalf("recorded reason = %q, want SHUTDOWN", repo.lastTrade.Reason)
	}
	if !almostEqual(repo.lastTrade.MFE, 103) {
		t.Fatalf("recorded MFE = %v, want 103", repo.lastTrade.MFE)
	}
	// 50 юнитов * 1 = 50
	if !almostEqual(r.session.FinalEquity, 10050) {
		t.Fatalf("final equity = %v, want 10050", r.session.FinalEquity)
	}
	if repo.sessionUpdates != 1 {
		t.Fatalf("session updates = %d, want 1", repo.sessionUpdates)
	}
	if r.session.StoppedAt.IsZero() {
		t.Fatal("session StoppedAt not set")
	}
}

func TestPersistRetriesOnce(t *testing.T) {
	repo := &stubRecorder{failures: 1}
	r := newTestRunner(testConfig(), repo, &captureNotifier{})
	r.buf.Bootstrap(flatCandles(30))

	// первый InsertTrade падает, ретрай проходит
	r.openPosition(longSignal())

	if repo.tradeInserts != 1 {
		t.Fatalf("trade inserts after retry = %d, want 1", repo.tradeInserts)
	}
	if !r.pos.IsOpen() {
		t.Fatal("db hiccup must not block the trade itself")
	}
}

func TestKellyInputsPriorAndStats(t *testing.T) {
	r := newTestRunner(testConfig(), &stubRecorder{}, &captureNotifier{})

	w, rr := r.kellyInputs()
	if !almostEqual(w, 0.5) {
		t.Fatalf("prior win rate = %v, want 0.5", w)
	}
	if !almostEqual(rr, 2.0) {
		t.Fatalf("prior RR = %v, want 2.0", rr)
	}

	r.wins, r.losses = 3, 1
	r.sumWinR, r.sumLossR = 6, -1 // avg win 2R, avg loss 1R
	w, rr = r.kellyInputs()
	if !almostEqual(w, 4.0/6.0) {
		t.Fatalf("win rate = %v, want 4/6", w)
	}
	if !almostEqual(rr, 2.0) {
		t.Fatalf("RR = %v, want 2.0", rr)
	}
}

func TestApplyActionTightenStop(t *testing.T) {
	r := newTestRunner(testConfig(), &stubRecorder{}, &captureNotifier{})
	r.buf.Bootstrap(flatCandles(30))
	r.openPosition(longSignal())

	p := r.pos.Get()
	r.applyAction(p, models.TightenStop(99, "trail"))
	if !almostEqual(p.SL, 99) {
		t.Fatalf("SL = %v, want 99", p.SL)
	}

	// откат стопа вниз игнорируется
	r.applyAction(p, models.TightenStop(95, "bogus"))
	if !almostEqual(p.SL, 99) {
		t.Fatalf("SL = %v after worse stop, want 99", p.SL)
	}
}
