package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"trade_engine/internal/models"
	"trade_engine/internal/notify"
	"trade_engine/internal/sizing"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/ta"
)

// openPosition — риск-гейт -> сайзер -> открытие. Любой отказ здесь
// не ошибка, сигнал просто пропускается.
func (r *Runner) openPosition(sig models.Signal) {
	decision := r.riskMgr.CheckRisk(r.cfg.Sizing.BaseFraction)
	if !decision.Allowed {
		logger.Info("[RUNNER] %s entry blocked by risk gate: %s", r.symbol, decision.Reason)
		r.notifier.Send(notify.Alert{
			Level: notify.LevelWarning, Event: "RISK_BLOCK",
			Message:   fmt.Sprintf("🛡 [%s] вход заблокирован: %s", r.symbol, decision.Reason),
			Timestamp: time.Now(),
		})
		return
	}
	for _, w := range decision.Warnings {
		logger.Info("[RUNNER] %s risk warning: %s", r.symbol, w)
	}

	state := r.riskMgr.State()
	winRate, avgRR := r.kellyInputs()
	atr := ta.ATR(
		r.buf.Highs(r.cfg.Lifecycle.ATRPeriod+1),
		r.buf.Lows(r.cfg.Lifecycle.ATRPeriod+1),
		r.buf.Closes(r.cfg.Lifecycle.ATRPeriod+1),
		r.cfg.Lifecycle.ATRPeriod,
	)

	entryAdj := r.life.EntryPrice(sig.Side, sig.Entry)
	riskDist := math.Abs(entryAdj - sig.StopLoss)
	if riskDist <= 0 {
		logger.Error("[RUNNER] %s degenerate stop distance, signal skipped (entry=%.6f sl=%.6f)",
			r.symbol, entryAdj, sig.StopLoss)
		return
	}

	sized := r.sizer.Calculate(sizing.Input{
		Equity:       state.Equity,
		ATR:          atr,
		Price:        sig.Entry,
		WinRate:      winRate,
		AvgRR:        avgRR,
		Drawdown:     state.Drawdown(),
		Confidence:   sig.Score,
		StopDistance: riskDist,
	})
	for _, w := range sized.Warnings {
		logger.Info("[RUNNER] %s sizing warning: %s", r.symbol, w)
	}

	fraction := sized.Fraction
	if decision.RecommendedSize < fraction {
		fraction = decision.RecommendedSize
	}
	units := fraction * state.Equity / riskDist
	if units <= 0 {
		return
	}

	pos := &models.Position{
		Symbol:     r.symbol,
		Side:       sig.Side,
		Units:      units,
		Fraction:   fraction,
		Entry:      entryAdj,
		RawEntry:   sig.Entry,
		SL:         sig.StopLoss,
		TP:         sig.TakeProfit,
		RiskDist:   riskDist,
		EntryIndex: r.buf.Len() - 1,
		OpenedAt:   time.Now(),
		Score:      sig.Score,
	}
	r.pos = models.SomePosition(pos)
	r.riskMgr.OnTradeOpened()
	r.health.PositionOpened()

	r.tradeSeq++
	r.trade = &models.TradeRecord{
		TradeID:   fmt.Sprintf("%s-%d", r.session.SessionID, r.tradeSeq),
		SessionID: r.session.SessionID,
		Symbol:    r.symbol,
		Side:      sig.Side,
		Entry:     entryAdj,
		RawEntry:  sig.Entry,
		SL:        sig.StopLoss,
		TP:        sig.TakeProfit,
		Units:     units,
		Score:     sig.Score,
		Factors:   sig.Factors,
		OpenedAt:  pos.OpenedAt,
	}
	r.persist("insert trade", func(ctx context.Context) error {
		return r.repo.InsertTrade(ctx, r.trade)
	})

	logger.Info("[RUNNER] %s OPEN %s units=%.4f entry=%.6f sl=%.6f tp=%.6f frac=%.4f score=%.2f",
		r.symbol, sig.Side, units, entryAdj, sig.StopLoss, sig.TakeProfit, fraction, sig.Score)
	r.notifier.Send(notify.Alert{
		Level: notify.LevelInfo, Event: "ENTRY",
		Message: fmt.Sprintf("✅ [%s] %s @ %.6f | SL %.6f | TP %.6f | %.2f%% капитала",
			r.symbol, sig.Side, entryAdj, sig.StopLoss, sig.TakeProfit, fraction*100),
		Timestamp: time.Now(),
	})
}

func (r *Runner) closePosition(rawPrice float64, reason models.ExitReason, note string) {
	p := r.pos.Get()
	pnl, rMult := r.life.ClosePnl(p, rawPrice)

	r.riskMgr.OnTradeClosed(pnl)
	r.health.PositionClosed()

	// безубыток — не проигрыш: как и в риск-менеджере, лоссом считаем
	// только pnl < 0, ровно ноль не попадает ни в wins, ни в losses
	r.session.Trades++
	switch {
	case pnl > 0:
		r.session.Wins++
		r.wins++
		r.sumWinR += rMult
	case pnl < 0:
		r.session.Losses++
		r.losses++
		r.sumLossR += rMult
	}
	riskState := r.riskMgr.State()
	if dd := riskState.Drawdown(); dd > r.session.MaxDrawdown {
		r.session.MaxDrawdown = dd
	}

	if r.trade != nil {
		r.trade.ExitPrice = rawPrice
		r.trade.MFE = p.MFE
		r.trade.Pnl = pnl
		r.trade.RMultiple = rMult
		r.trade.Reason = reason
		r.trade.BarsHeld = p.BarsHeld
		r.trade.SL = p.SL
		r.trade.ClosedAt = time.Now()
		r.persist("update trade", func(ctx context.Context) error {
			return r.repo.UpdateTradeByTradeID(ctx, r.trade)
		})
		r.trade = nil
	}

	level := notify.LevelInfo
	emoji := "✅"
	if pnl < 0 {
		level = notify.LevelWarning
		emoji = "⚠️"
	}
	logger.Info("[RUNNER] %s CLOSE %s @ %.6f pnl=%.4f R=%.2f reason=%s %s",
		r.symbol, p.Side, rawPrice, pnl, rMult, reason, note)
	r.notifier.Send(notify.Alert{
		Level: level, Event: "EXIT",
		Message: fmt.Sprintf("%s [%s] выход %s @ %.6f | PnL %.4f (%.2fR) | %s",
			emoji, r.symbol, p.Side, rawPrice, pnl, rMult, reason),
		Timestamp: time.Now(),
	})

	r.pos = models.NoPosition()
}

// shutdown закрывает открытую позицию по последней известной цене и
// дописывает сессию. Вызывается ровно один раз, из Start.
func (r *Runner) shutdown() {
	if r.pos.IsOpen() {
		price := r.lastPrice
		if price <= 0 {
			price = r.pos.Get().Entry
		}
		logger.Info("[RUNNER] %s shutdown with open position, closing @ %.6f", r.symbol, price)
		r.closePosition(price, models.ExitShutdown, "graceful shutdown")
	}

	r.session.StoppedAt = time.Now()
	r.session.FinalEquity = r.riskMgr.State().Equity
	r.persist("update session", func(ctx context.Context) error {
		return r.repo.UpdateSession(ctx, &r.session)
	})

	logger.Info("[RUNNER] %s session done: trades=%d wins=%d losses=%d equity %.2f -> %.2f",
		r.symbol, r.session.Trades, r.session.Wins, r.session.Losses,
		r.session.InitialEquity, r.session.FinalEquity)

	r.sendSessionRecap()
}

// sendSessionRecap — итоговый алерт по записанным сделкам сессии.
// Считаем по БД, а не по памяти: это сверка того, что реально доехало.
func (r *Runner) sendSessionRecap() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trades, err := r.repo.GetTradesBySessionID(ctx, r.session.SessionID)
	if err != nil {
		logger.Error("[RUNNER] %s session recap: %v", r.symbol, err)
		return
	}

	var sumR float64
	for _, t := range trades {
		sumR += t.RMultiple
	}
	r.notifier.Send(notify.Alert{
		Level: notify.LevelInfo, Event: "SESSION_END",
		Message: fmt.Sprintf("✅ [%s] сессия закрыта: %d сделок, %.2fR суммарно, equity %.2f -> %.2f",
			r.symbol, len(trades), sumR, r.session.InitialEquity, r.session.FinalEquity),
		Timestamp: time.Now(),
	})
}

func (r *Runner) insertSessionWithRetry(ctx context.Context) {
	if err := r.repo.InsertSession(ctx, &r.session); err != nil {
		logger.Error("[RUNNER] %s insert session: %v, retrying", r.symbol, err)
		if err := r.repo.InsertSession(ctx, &r.session); err != nil {
			// торгуем дальше без отчётности, это деградация, а не стоп
			logger.Error("[RUNNER] %s insert session retry failed: %v", r.symbol, err)
		}
	}
}

// persist — запись в БД с одним ретраем и собственным таймаутом.
// Отказ БД никогда не останавливает торговлю.
func (r *Runner) persist(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil {
		logger.Error("[RUNNER] %s %s: %v, retrying", r.symbol, op, err)
		if err := fn(ctx); err != nil {
			logger.Error("[RUNNER] %s %s retry failed: %v", r.symbol, op, err)
		}
	}
}
