package strategy

import (
	"trade_engine/internal/buffer"
	"trade_engine/internal/helper"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/ta"
)

// Confluence — взвешенная сумма независимых бычьих/медвежьих факторов.
// Каждый фактор голосует направлением и весом; сигнал выходит, если
// суммарный скор доминирующей стороны выше порога.
type Confluence struct {
	symbol    string
	timeframe string
	cfg       config.StrategyConfig
}

func NewConfluence(symbol, timeframe string, cfg config.StrategyConfig) *Confluence {
	return &Confluence{symbol: symbol, timeframe: timeframe, cfg: cfg}
}

// минимум истории для всех индикаторов
func (c *Confluence) warmupBars() int {
	n := c.cfg.EMALong
	if c.cfg.RSIPeriod > n {
		n = c.cfg.RSIPeriod
	}
	if c.cfg.VolLookback > n {
		n = c.cfg.VolLookback
	}
	return n + 5
}

func (c *Confluence) Evaluate(buf *buffer.Buffer, idx int) (models.Signal, bool) {
	if buf.Len() < c.warmupBars() || idx != buf.Len()-1 {
		return models.Signal{}, false
	}

	bar := buf.At(idx)
	n := c.warmupBars()
	closes := buf.Closes(n)
	highs := buf.Highs(n)
	lows := buf.Lows(n)

	emaShort := ta.EMA(closes, c.cfg.EMAShort)
	emaLong := ta.EMA(closes, c.cfg.EMALong)
	rsi := ta.RSI(closes, c.cfg.RSIPeriod)
	atr := ta.ATR(highs, lows, closes, 14)
	avgVol := ta.AvgVolume(buf.Volumes(c.cfg.VolLookback+1), c.cfg.VolLookback)

	if emaShort == 0 || emaLong == 0 || atr <= 0 {
		return models.Signal{}, false
	}

	var bull, bear float64
	var bullF, bearF []models.Factor

	// тренд: взаимное положение EMA
	if emaShort > emaLong {
		bull += 0.35
		bullF = append(bullF, models.Factor{Name: "ema_trend_up", Weight: 0.35})
	} else if emaShort < emaLong {
		bear += 0.35
		bearF = append(bearF, models.Factor{Name: "ema_trend_down", Weight: 0.35})
	}

	// momentum: цена относительно короткой EMA
	if bar.Close > emaShort {
		bull += 0.2
		bullF = append(bullF, models.Factor{Name: "above_ema_short", Weight: 0.2})
	} else {
		bear += 0.2
		bearF = append(bearF, models.Factor{Name: "below_ema_short", Weight: 0.2})
	}

	// RSI: откат в тренде, а не перекупленность по тренду
	if rsi < c.cfg.RSIOversold {
		bull += 0.25
		bullF = append(bullF, models.Factor{Name: "rsi_oversold", Weight: 0.25})
	} else if rsi > c.cfg.RSIOverbought {
		bear += 0.25
		bearF = append(bearF, models.Factor{Name: "rsi_overbought", Weight: 0.25})
	} else if rsi > 50 {
		bull += 0.1
		bullF = append(bullF, models.Factor{Name: "rsi_bullish", Weight: 0.1})
	} else {
		bear += 0.1
		bearF = append(bearF, models.Factor{Name: "rsi_bearish", Weight: 0.1})
	}

	// структура: закрытие относительно свинга
	if bar.Close > ta.SwingHigh(highs, 10) {
		bull += 0.2
		bullF = append(bullF, models.Factor{Name: "structure_break_up", Weight: 0.2})
	} else if bar.Close < ta.SwingLow(lows, 10) {
		bear += 0.2
		bearF = append(bearF, models.Factor{Name: "structure_break_down", Weight: 0.2})
	}

	// объём: расширение подтверждает движение
	if avgVol > 0 && bar.Volume > 1.3*avgVol {
		if bar.Close >= bar.Open {
			bull += 0.1
			bullF = append(bullF, models.Factor{Name: "volume_expansion", Weight: 0.1})
		} else {
			bear += 0.1
			bearF = append(bearF, models.Factor{Name: "volume_expansion", Weight: 0.1})
		}
	}

	side := models.SideNone
	score := 0.0
	var factors []models.Factor
	switch {
	case bull >= bear && bull >= c.cfg.ScoreThreshold:
		side, score, factors = models.SideLong, bull, bullF
	case bear > bull && bear >= c.cfg.ScoreThreshold:
		side, score, factors = models.SideShort, bear, bearF
	default:
		return models.Signal{}, false
	}

	entry := bar.Close
	var sl, tp float64
	if side == models.SideLong {
		sl = entry - c.cfg.StopATRMult*atr
		tp = entry + c.cfg.TakeProfitRR*(entry-sl)
		// стоп вниз, тейк вниз: оба уровня не дальше расчётных
		sl = helper.RoundDownToTick(sl, c.cfg.TickSize)
		tp = helper.RoundDownToTick(tp, c.cfg.TickSize)
	} else {
		sl = entry + c.cfg.StopATRMult*atr
		tp = entry - c.cfg.TakeProfitRR*(sl-entry)
		sl = helper.RoundUpToTick(sl, c.cfg.TickSize)
		tp = helper.RoundUpToTick(tp, c.cfg.TickSize)
	}

	return models.Signal{
		Symbol:     c.symbol,
		Timeframe:  c.timeframe,
		Side:       side,
		Entry:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Score:      score,
		Factors:    factors,
	}, true
}
