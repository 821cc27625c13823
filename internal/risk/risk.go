package risk

import (
	"fmt"
	"time"

	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
)

// Manager — чистый гейткипер: никаких сайд-эффектов за пределами своего стейта.
// Один инстанс на торговую сессию символа.
type Manager struct {
	cfg   config.RiskConfig
	state models.RiskState
}

func New(cfg config.RiskConfig, initialEquity float64, now time.Time) *Manager {
	if initialEquity <= 0 {
		panic("risk: initialEquity <= 0")
	}
	return &Manager{
		cfg: cfg,
		state: models.RiskState{
			InitialEquity: initialEquity,
			Equity:        initialEquity,
			PeakEquity:    initialEquity,
			DayStartedAt:  now,
			// до первого трейда лимит "мин. баров между сделками" не должен блокировать
			BarsSinceLastTrade: 1 << 20,
		},
	}
}

// порог "мягкой" деградации — близость к лимиту
const proximityFrac = 0.7

// CheckRisk — вердикт по запрошенному размеру. Жёсткие блоки идут
// в фиксированном порядке приоритета, первый сработавший решает.
func (m *Manager) CheckRisk(requestedSize float64) models.RiskDecision {
	s := &m.state

	deny := func(reason string) models.RiskDecision {
		return models.RiskDecision{Allowed: false, Reason: reason, RiskLevel: models.RiskCritical}
	}

	// --- жёсткие блоки ---
	if s.Halted {
		return deny("halted: " + s.HaltReason)
	}
	maxDaily := m.cfg.MaxDailyLossPct / 100.0
	if maxDaily > 0 && s.DailyLossPct() >= maxDaily {
		return deny(fmt.Sprintf("daily loss limit: %.2f%% >= %.2f%%", s.DailyLossPct()*100, m.cfg.MaxDailyLossPct))
	}
	maxDD := m.cfg.MaxDrawdownPct / 100.0
	if maxDD > 0 && s.Drawdown() >= maxDD {
		return deny(fmt.Sprintf("max drawdown: %.2f%% >= %.2f%%", s.Drawdown()*100, m.cfg.MaxDrawdownPct))
	}
	if m.cfg.MaxOpenPositions > 0 && s.OpenPositions >= m.cfg.MaxOpenPositions {
		return deny(fmt.Sprintf("position limit reached: %d", s.OpenPositions))
	}
	if s.ForcedCooldownLeft > 0 {
		return deny(fmt.Sprintf("forced cooldown after %d consecutive losses: %d bars left",
			m.cfg.MaxConsecLosses, s.ForcedCooldownLeft))
	}
	if m.cfg.MinBarsBetween > 0 && s.BarsSinceLastTrade < m.cfg.MinBarsBetween {
		return deny(fmt.Sprintf("min bars between trades: %d < %d", s.BarsSinceLastTrade, m.cfg.MinBarsBetween))
	}
	if s.LossCooldownLeft > 0 {
		return deny(fmt.Sprintf("post-loss cooldown: %d bars left", s.LossCooldownLeft))
	}

	// --- мягкая деградация: пускаем, но режем размер ---
	size := requestedSize
	var warnings []string
	level := models.RiskNormal

	if maxDaily > 0 && s.DailyLossPct() >= proximityFrac*maxDaily {
		size *= 0.5
		level = models.RiskElevated
		warnings = append(warnings, fmt.Sprintf("approaching daily loss limit (%.2f%%), size halved", s.DailyLossPct()*100))
	}
	if maxDD > 0 && s.Drawdown() >= proximityFrac*maxDD {
		size *= 0.5
		level = models.RiskElevated
		warnings = append(warnings, fmt.Sprintf("approaching max drawdown (%.2f%%), size halved", s.Drawdown()*100))
	}
	if m.cfg.MaxConsecLosses > 1 && s.ConsecutiveLosses >= m.cfg.MaxConsecLosses-1 {
		size *= 0.75
		level = models.RiskElevated
		warnings = append(warnings, fmt.Sprintf("%d consecutive losses, size reduced", s.ConsecutiveLosses))
	}

	return models.RiskDecision{
		Allowed:         true,
		RecommendedSize: size,
		RiskLevel:       level,
		Warnings:        warnings,
	}
}

// OnTradeOpened — позиция открылась (после одобрения гейта).
func (m *Manager) OnTradeOpened() {
	m.state.OpenPositions++
	m.state.BarsSinceLastTrade = 0
}

// OnTradeClosed — закрытие с реализованным PnL: обновляем equity/пик/просадку
// и счётчик подряд идущих убытков, при пороге — взводим принудительный кулдаун.
func (m *Manager) OnTradeClosed(pnl float64) {
	s := &m.state
	if s.OpenPositions <= 0 {
		panic("risk: OnTradeClosed without open position")
	}
	s.OpenPositions--

	s.Equity += pnl
	s.DailyPnl += pnl
	if s.Equity > s.PeakEquity {
		s.PeakEquity = s.Equity
	}

	if pnl < 0 {
		s.ConsecutiveLosses++
		if m.cfg.LossCooldownBars > 0 {
			s.LossCooldownLeft = m.cfg.LossCooldownBars
		}
		if m.cfg.MaxConsecLosses > 0 && s.ConsecutiveLosses >= m.cfg.MaxConsecLosses {
			s.ForcedCooldownLeft = m.cfg.ForcedCooldownBars
			logger.Warn("[RISK] forced cooldown armed: %d losses in a row, %d bars",
				s.ConsecutiveLosses, s.ForcedCooldownLeft)
		}
	} else {
		s.ConsecutiveLosses = 0
	}
}

// OnBar — тик раз в закрытый бар: кулдауны вниз, дневное окно по границе 24h.
func (m *Manager) OnBar(now time.Time) {
	s := &m.state

	if s.ForcedCooldownLeft > 0 {
		s.ForcedCooldownLeft--
		if s.ForcedCooldownLeft == 0 {
			// кулдаун отработал — серия убытков прощена
			s.ConsecutiveLosses = 0
		}
	}
	if s.LossCooldownLeft > 0 {
		s.LossCooldownLeft--
	}
	if s.BarsSinceLastTrade < 1<<20 {
		s.BarsSinceLastTrade++
	}

	if now.Sub(s.DayStartedAt) >= 24*time.Hour {
		logger.Info("[RISK] daily window rolled: pnl=%.2f equity=%.2f", s.DailyPnl, s.Equity)
		s.DailyPnl = 0
		s.DayStartedAt = now
	}
}

// Halt — явная остановка торговли (внешняя команда или фатальное событие).
func (m *Manager) Halt(reason string) {
	m.state.Halted = true
	m.state.HaltReason = reason
}

// State — снапшот для отчётности. Мутировать его бессмысленно.
func (m *Manager) State() models.RiskState { return m.state }
