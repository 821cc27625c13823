package sizing

import (
	"fmt"

	"trade_engine/internal/modules/config"
)

// Sizer считает долю капитала под риском для одной сделки.
// Порядок поправок фиксирован: Келли -> волатильность -> просадка -> уверенность -> clamp.
type Sizer struct {
	cfg config.SizingConfig
}

func New(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Input — всё, что нужно для расчёта. currentDrawdown и confidence — доли [0..1].
type Input struct {
	Equity       float64
	ATR          float64
	Price        float64
	WinRate      float64
	AvgRR        float64
	Drawdown     float64
	Confidence   float64
	StopDistance float64 // дистанция до стопа в цене
}

// Breakdown — по-компонентный след расчёта для лога и отчёта.
type Breakdown struct {
	Base       float64
	Kelly      float64 // суб-Келли cap (или Base, если Келли не применился)
	VolScale   float64
	DDCut      float64
	ConfScale  float64
}

type Result struct {
	Fraction  float64
	Breakdown Breakdown
	Warnings  []string
}

// Calculate — итоговая доля капитала. Паника на мусорных входах:
// вызывать сайзер до одобрения риск-гейта — ошибка программиста.
func (s *Sizer) Calculate(in Input) Result {
	if in.Equity <= 0 || in.Price <= 0 {
		panic(fmt.Sprintf("sizing: invalid input equity=%.2f price=%.2f", in.Equity, in.Price))
	}

	br := Breakdown{Base: s.cfg.BaseFraction, VolScale: 1, ConfScale: 1}
	size := s.cfg.BaseFraction

	// 1) Келли: f = W - (1-W)/RR, масштабируем суб-Келли множителем.
	// Берём МИНИМУМ от базы и Келли: Келли только ограничивает, не раздувает.
	br.Kelly = size
	if in.AvgRR > 0 && in.WinRate > 0 && in.WinRate < 1 {
		kelly := in.WinRate - (1-in.WinRate)/in.AvgRR
		kelly *= s.cfg.KellyFraction
		if kelly < 0 {
			kelly = 0
		}
		if kelly < size {
			size = kelly
		}
		br.Kelly = kelly
	}

	// 2) Волатильность: реализованный ATR/price против целевого.
	// Выше цели — режем обратно пропорционально, в пределах [min,max] множителя.
	if in.ATR > 0 && s.cfg.TargetVol > 0 {
		realized := in.ATR / in.Price
		scale := 1.0
		if realized > 0 {
			scale = s.cfg.TargetVol / realized
		}
		if scale < s.cfg.MinVolScale {
			scale = s.cfg.MinVolScale
		}
		if scale > s.cfg.MaxVolScale {
			scale = s.cfg.MaxVolScale
		}
		size *= scale
		br.VolScale = scale
	}

	// 3) Просадка: линейный срез после порога, не больше DDMaxCut.
	if s.cfg.DDThreshold > 0 && in.Drawdown > s.cfg.DDThreshold {
		cut := (in.Drawdown - s.cfg.DDThreshold) * 4 // 4x ускорение среза
		if cut > s.cfg.DDMaxCut {
			cut = s.cfg.DDMaxCut
		}
		size *= 1 - cut
		br.DDCut = cut
	}

	// 4) Уверенность сигнала: ниже MinConfidence — линейно вниз до пола.
	if s.cfg.MinConfidence > 0 && in.Confidence < s.cfg.MinConfidence {
		scale := in.Confidence / s.cfg.MinConfidence
		if scale < s.cfg.ConfFloor {
			scale = s.cfg.ConfFloor
		}
		size *= scale
		br.ConfScale = scale
	}

	// 5) Финальный clamp.
	if size < s.cfg.MinFraction {
		size = s.cfg.MinFraction
	}
	if size > s.cfg.MaxFraction {
		size = s.cfg.MaxFraction
	}

	var warnings []string
	if in.StopDistance > 0 {
		// долларовый риск: size — доля капитала, теряемая при срабатывании стопа
		dollarRisk := size * in.Equity
		if dollarRisk > 0.02*in.Equity {
			warnings = append(warnings,
				fmt.Sprintf("risk per trade %.2f exceeds 2%% of equity", dollarRisk))
		}
	}

	return Result{Fraction: size, Breakdown: br, Warnings: warnings}
}
