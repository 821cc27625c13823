package lifecycle

import (
	"fmt"

	"trade_engine/internal/buffer"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/ta"
)

// Manager гоняет стейт-машину одной позиции: NONE -> OPEN -> (PARTIAL?) -> CLOSED.
// Вызывается строго один раз на закрытый бар. Порядок проверки терминальных
// триггеров фиксирован: SL -> TP -> таймаут -> разворот структуры.
type Manager struct {
	cfg      config.LifecycleConfig
	friction config.FrictionConfig
}

func New(cfg config.LifecycleConfig, friction config.FrictionConfig) *Manager {
	return &Manager{cfg: cfg, friction: friction}
}

// EntryPrice — цена входа с фрикциями против нас.
func (m *Manager) EntryPrice(side models.Side, raw float64) float64 {
	f := m.friction.PerUnit()
	if side == models.SideLong {
		return raw * (1 + f)
	}
	return raw * (1 - f)
}

// exitPrice — цена выхода с фрикциями против нас.
func (m *Manager) exitPrice(side models.Side, raw float64) float64 {
	f := m.friction.PerUnit()
	if side == models.SideLong {
		return raw * (1 - f)
	}
	return raw * (1 + f)
}

// unrealizedR — текущий прогресс в R по сырой цене (фрикции выхода
// в триггерную математику не включаем, только в реализованный PnL).
func unrealizedR(p *models.Position, price float64) float64 {
	if p.RiskDist <= 0 {
		panic("lifecycle: position with zero RiskDist")
	}
	if p.Side == models.SideLong {
		return (price - p.Entry) / p.RiskDist
	}
	return (p.Entry - price) / p.RiskDist
}

// Evaluate — решение по закрытому бару. Инкрементит BarsHeld и MFE,
// саму позицию больше не трогает: мутации делает Apply.
func (m *Manager) Evaluate(p *models.Position, bar models.Candle, buf *buffer.Buffer, reversal bool) models.ExitAction {
	p.BarsHeld++
	p.UpdateMFE(bar.High, bar.Low)

	// --- 1. терминальные триггеры, первый совпавший решает ---
	if hit, px := stopHit(p, bar); hit {
		return models.ExitMarket(px, models.ExitStopLoss,
			fmt.Sprintf("SL %.6f hit", p.SL))
	}
	if hit, px := takeProfitHit(p, bar); hit {
		return models.ExitMarket(px, models.ExitTakeProfit,
			fmt.Sprintf("TP %.6f hit", p.TP))
	}
	if m.cfg.MaxHoldBars > 0 && p.BarsHeld >= m.cfg.MaxHoldBars {
		return models.ExitMarket(bar.Close, models.ExitTimeout,
			fmt.Sprintf("max hold %d bars", m.cfg.MaxHoldBars))
	}
	if reversal {
		return models.ExitMarket(bar.Close, models.ExitReversal, "structural reversal signal")
	}

	// --- 2. частичная фиксация ---
	if m.cfg.PartialEnabled && !p.PartialTaken {
		if r := unrealizedR(p, bar.Close); r >= m.cfg.PartialTriggerR {
			return models.TakePartial(bar.Close, m.cfg.PartialFraction,
				fmt.Sprintf("partial @ %.2fR", r))
		}
	}

	// --- 3. трейлинг / BE ---
	if cand, note, ok := m.trailCandidate(p, bar, buf); ok {
		return models.TightenStop(cand, note)
	}

	return models.Hold()
}

// trailCandidate — кандидат на новый стоп: структурный свинг против
// ATR-мультипликатора, берём более защитный. Стоп двигается только
// в защитную сторону; кандидат хуже текущего — не кандидат.
func (m *Manager) trailCandidate(p *models.Position, bar models.Candle, buf *buffer.Buffer) (float64, string, bool) {
	r := unrealizedR(p, bar.Close)
	if r < m.cfg.TrailTriggerR {
		return 0, "", false
	}

	n := m.cfg.ATRPeriod * 3
	atr := ta.ATR(buf.Highs(n), buf.Lows(n), buf.Closes(n), m.cfg.ATRPeriod)

	var structural, volatility float64
	if p.Side == models.SideLong {
		structural = ta.SwingLow(buf.Lows(m.cfg.TrailSwingBars+1), m.cfg.TrailSwingBars)
		if atr > 0 {
			volatility = bar.Close - m.cfg.TrailATRMult*atr
		}
		cand := structural
		note := "trail: swing low"
		if volatility > cand { // выше = защитнее для лонга
			cand = volatility
			note = "trail: ATR"
		}
		if cand > p.SL {
			return cand, note, true
		}
		return 0, "", false
	}

	structural = ta.SwingHigh(buf.Highs(m.cfg.TrailSwingBars+1), m.cfg.TrailSwingBars)
	if atr > 0 {
		volatility = bar.Close + m.cfg.TrailATRMult*atr
	}
	cand := structural
	note := "trail: swing high"
	if volatility > 0 && volatility < cand { // ниже = защитнее для шорта
		cand = volatility
		note = "trail: ATR"
	}
	if cand > 0 && cand < p.SL {
		return cand, note, true
	}
	return 0, "", false
}

func stopHit(p *models.Position, bar models.Candle) (bool, float64) {
	if p.Side == models.SideLong {
		if bar.Low <= p.SL {
			return true, p.SL
		}
		return false, 0
	}
	if bar.High >= p.SL {
		return true, p.SL
	}
	return false, 0
}

func takeProfitHit(p *models.Position, bar models.Candle) (bool, float64) {
	if p.TP <= 0 {
		return false, 0
	}
	if p.Side == models.SideLong {
		if bar.High >= p.TP {
			return true, p.TP
		}
		return false, 0
	}
	if bar.Low <= p.TP {
		return true, p.TP
	}
	return false, 0
}

// ApplyStop двигает стоп ТОЛЬКО в защитную сторону. false — кандидат хуже.
func ApplyStop(p *models.Position, newSL float64) bool {
	if p.Side == models.SideLong {
		if newSL <= p.SL {
			return false
		}
	} else {
		if newSL >= p.SL {
			return false
		}
	}
	p.SL = newSL
	return true
}

// ApplyPartial фиксирует часть PnL, переносит стоп на BE+буфер и ставит флаг.
func (m *Manager) ApplyPartial(p *models.Position, price float64) {
	if p.PartialTaken {
		panic("lifecycle: partial already taken")
	}

	exit := m.exitPrice(p.Side, price)
	if p.Side == models.SideLong {
		p.PartialPnl = exit - p.Entry
	} else {
		p.PartialPnl = p.Entry - exit
	}
	p.PartialPrice = price
	p.PartialTaken = true
	p.PartialPnlLkd = true

	// BE + буфер, только если это улучшает стоп
	var be float64
	if p.Side == models.SideLong {
		be = p.Entry + m.cfg.BEBufferR*p.RiskDist
	} else {
		be = p.Entry - m.cfg.BEBufferR*p.RiskDist
	}
	if ApplyStop(p, be) {
		p.MovedToBE = true
	}

	logger.Info("[LIFECYCLE] %s partial taken @ %.6f, pnl/unit=%.6f, SL -> %.6f",
		p.Symbol, price, p.PartialPnl, p.SL)
}

// ClosePnl — реализованный PnL при выходе по rawPrice, с фрикциями и
// блендом частичной фиксации: frac*partialPnl + (1-frac)*finalPnl.
func (m *Manager) ClosePnl(p *models.Position, rawPrice float64) (pnl float64, rMultiple float64) {
	exit := m.exitPrice(p.Side, rawPrice)

	var finalPerUnit float64
	if p.Side == models.SideLong {
		finalPerUnit = exit - p.Entry
	} else {
		finalPerUnit = p.Entry - exit
	}

	perUnit := finalPerUnit
	if p.PartialTaken {
		frac := m.cfg.PartialFraction
		perUnit = frac*p.PartialPnl + (1-frac)*finalPerUnit
	}

	pnl = perUnit * p.Units
	rMultiple = perUnit / p.RiskDist
	return pnl, rMultiple
}
