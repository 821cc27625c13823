package ltf

import (
	"fmt"

	"trade_engine/internal/buffer"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/ta"
)

// Engine — подтверждение входа на младшем таймфрейме.
// WAITING_FOR_ZONE -> WATCHING_CONFIRMATION -> {CONFIRMED | EXPIRED}.
// Один активный сетап на символ; живёт от сигнала старшего ТФ до confirm/expire.
type Engine struct {
	cfg config.LTFConfig
}

func New(cfg config.LTFConfig) *Engine {
	return &Engine{cfg: cfg}
}

// NewSetup — зона цены из entry/stop сигнала старшего ТФ.
func (e *Engine) NewSetup(sig models.Signal) *models.LTFSetup {
	hi, lo := sig.Entry, sig.StopLoss
	if lo > hi {
		hi, lo = lo, hi
	}
	return &models.LTFSetup{
		Symbol:   sig.Symbol,
		Parent:   sig,
		State:    models.LTFWaitingForZone,
		ZoneHigh: hi,
		ZoneLow:  lo,
	}
}

// OnBar — один закрытый бар младшего ТФ. Буфер должен уже содержать этот бар.
// Возвращает true, когда сетап достиг терминального состояния.
func (e *Engine) OnBar(s *models.LTFSetup, ltfBuf *buffer.Buffer) bool {
	switch s.State {
	case models.LTFConfirmed, models.LTFExpired:
		panic("ltf: OnBar on terminal setup")
	case models.LTFWaitingForZone:
		return e.onWaiting(s, ltfBuf)
	case models.LTFWatchingConfirmation:
		return e.onWatching(s, ltfBuf)
	default:
		panic(fmt.Sprintf("ltf: unknown state %q", s.State))
	}
}

func (e *Engine) onWaiting(s *models.LTFSetup, buf *buffer.Buffer) bool {
	s.BarsWaited++

	bar, ok := buf.Latest()
	if !ok {
		return false
	}

	// цена коснулась зоны — начинаем следить за подтверждением
	if bar.Low <= s.ZoneHigh && bar.High >= s.ZoneLow {
		s.State = models.LTFWatchingConfirmation
		s.BarsInZone = 0
		logger.Info("[LTF] %s price entered zone [%.6f..%.6f], watching", s.Symbol, s.ZoneLow, s.ZoneHigh)
		return false
	}

	if e.cfg.ZoneTimeoutBars > 0 && s.BarsWaited >= e.cfg.ZoneTimeoutBars {
		s.State = models.LTFExpired
		logger.Info("[LTF] %s zone never reached, expired after %d bars", s.Symbol, s.BarsWaited)
		return true
	}
	return false
}

func (e *Engine) onWatching(s *models.LTFSetup, buf *buffer.Buffer) bool {
	s.BarsInZone++

	// все сконфигурированные подтверждения должны сойтись ОДНОВРЕМЕННО
	if e.structureBroken(s, buf) && e.flowAligned(s, buf) && e.volumeOK(buf) {
		e.confirm(s, buf)
		return true
	}

	if e.cfg.ConfirmTimeoutBars > 0 && s.BarsInZone >= e.cfg.ConfirmTimeoutBars {
		s.State = models.LTFExpired
		logger.Info("[LTF] %s confirmation timed out after %d bars in zone", s.Symbol, s.BarsInZone)
		return true
	}
	return false
}

// structureBroken — недавний пробой структуры в сторону сделки:
// закрытие выше свинг-хая (лонг) / ниже свинг-лоу (шорт) последних баров.
func (e *Engine) structureBroken(s *models.LTFSetup, buf *buffer.Buffer) bool {
	bar, ok := buf.Latest()
	if !ok || buf.Len() < e.cfg.StructureBreakBars+1 {
		return false
	}
	if s.Parent.Side == models.SideLong {
		return bar.Close > ta.SwingHigh(buf.Highs(e.cfg.StructureBreakBars+1), e.cfg.StructureBreakBars)
	}
	return bar.Close < ta.SwingLow(buf.Lows(e.cfg.StructureBreakBars+1), e.cfg.StructureBreakBars)
}

// flowAligned — прокси order-flow: знак последних дельт close-to-close
// должен совпадать с направлением сделки.
func (e *Engine) flowAligned(s *models.LTFSetup, buf *buffer.Buffer) bool {
	closes := buf.Closes(4)
	if len(closes) < 2 {
		return false
	}
	delta := closes[len(closes)-1] - closes[0]
	if s.Parent.Side == models.SideLong {
		return delta > 0
	}
	return delta < 0
}

// volumeOK — опциональный всплеск объёма против среднего.
func (e *Engine) volumeOK(buf *buffer.Buffer) bool {
	if !e.cfg.RequireVolumeSpike {
		return true
	}
	bar, ok := buf.Latest()
	if !ok {
		return false
	}
	avg := ta.AvgVolume(buf.Volumes(e.cfg.SwingLookback+1), e.cfg.SwingLookback)
	return avg > 0 && bar.Volume >= e.cfg.VolumeSpikeMult*avg
}

// confirm пересчитывает вход/стоп по структуре младшего ТФ:
// ближний противоположный свинг плюс буфер, а не уровни старшего ТФ.
func (e *Engine) confirm(s *models.LTFSetup, buf *buffer.Buffer) {
	bar, _ := buf.Latest()
	pad := bar.Close * e.cfg.StopBufferPct / 100.0

	s.RefinedEntry = bar.Close
	if s.Parent.Side == models.SideLong {
		sl := ta.SwingLow(buf.Lows(e.cfg.SwingLookback+1), e.cfg.SwingLookback) - pad
		if sl >= s.RefinedEntry {
			sl = s.Parent.StopLoss
		}
		s.RefinedSL = sl
	} else {
		sl := ta.SwingHigh(buf.Highs(e.cfg.SwingLookback+1), e.cfg.SwingLookback) + pad
		if sl <= s.RefinedEntry {
			sl = s.Parent.StopLoss
		}
		s.RefinedSL = sl
	}

	s.State = models.LTFConfirmed
	logger.Info("[LTF] %s confirmed: entry %.6f -> %.6f, SL %.6f -> %.6f",
		s.Symbol, s.Parent.Entry, s.RefinedEntry, s.Parent.StopLoss, s.RefinedSL)
}
