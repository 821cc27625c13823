package strategy

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

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		ScoreThreshold: 0.6,
		EMAShort:       21,
		EMALong:        55,
		RSIPeriod:      14,
		RSIOverbought:  70,
		RSIOversold:    30,
		StopATRMult:    1.5,
		TakeProfitRR:   2.0,
		VolLookback:    20,
	}
}

// trend строит монотонный ряд: step>0 — ап-тренд, step<0 — даун-тренд.
func trendBuffer(n int, step float64) *buffer.Buffer {
	buf := buffer.New("BTC-USDT", 15*time.Minute, 500)
	start := time.Unix(1_700_000_000, 0)
	candles := make([]models.Candle, 0, n)
	px := 100.0
	for i := 0; i < n; i++ {
		px += step
		candles = append(candles, models.Candle{
			Start: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:  px - step, High: px + 0.2, Low: px - 0.2, Close: px,
			Volume: 10,
		})
	}
	buf.Bootstrap(candles)
	return buf
}

func TestEvaluateNeedsWarmup(t *testing.T) {
	c := NewConfluence("BTC-USDT", "15m", testStrategyConfig())
	buf := trendBuffer(30, 0.5) // меньше warmup

	if _, ok := c.Evaluate(buf, buf.Len()-1); ok {
		t.Fatal("signal emitted before warmup")
	}
}

func TestEvaluateOnlyOnLatestBar(t *testing.T) {
	c := NewConfluence("BTC-USDT", "15m", testStrategyConfig())
	buf := trendBuffer(90, 0.5)

	if _, ok := c.Evaluate(buf, buf.Len()-2); ok {
		t.Fatal("signal emitted for historical index")
	}
}

func TestEvaluateUptrendGoesLong(t *testing.T) {
	c := NewConfluence("BTC-USDT", "15m", testStrategyConfig())
	buf := trendBuffer(90, 0.5)

	sig, ok := c.Evaluate(buf, buf.Len()-1)
	if !ok {
		t.Fatal("no signal in a clean uptrend")
	}
	if sig.Side != models.SideLong {
		t.Fatalf("side = %s, want LONG", sig.Side)
	}
	// тренд + momentum + пробой структуры; RSI на монотонном росте
	// перекуплен и голосует против
	if math.Abs(sig.Score-0.75) > 1e-9 {
		t.Fatalf("score = %v, want 0.75", sig.Score)
	}
	if !(sig.StopLoss < sig.Entry && sig.Entry < sig.TakeProfit) {
		t.Fatalf("bad levels: sl=%v entry=%v tp=%v", sig.StopLoss, sig.Entry, sig.TakeProfit)
	}
	// TP ровно в TakeProfitRR рисков от входа
	rr := (sig.TakeProfit - sig.Entry) / (sig.Entry - sig.StopLoss)
	if math.Abs(rr-2.0) > 1e-9 {
		t.Fatalf("rr = %v, want 2.0", rr)
	}
	if len(sig.Factors) == 0 {
		t.Fatal("factors empty")
	}
}

func TestEvaluateDowntrendGoesShort(t *testing.T) {
	c := NewConfluence("BTC-USDT", "15m", testStrategyConfig())
	buf := trendBuffer(90, -0.5)

	sig, ok := c.Evaluate(buf, buf.Len()-1)
	if !ok {
		t.Fatal("no signal in a clean downtrend")
	}
	if sig.Side != models.SideShort {
		t.Fatalf("side = %s, want SHORT", sig.Side)
	}
	if !(sig.TakeProfit < sig.Entry && sig.Entry < sig.StopLoss) {
		t.Fatalf("bad levels: tp=%v entry=%v sl=%v", sig.TakeProfit, sig.Entry, sig.StopLoss)
	}
}
