package ta

import (
	"github.com/markcheno/go-talib"
)

// Тонкая прослойка над talib: все функции принимают готовые серии
// (из буфера свечей) и возвращают последнее значение индикатора.
// talib на недостаточной длине серии возвращает нули — проверяем длину сами.

// ATR — последний Average True Range за period. 0, если данных мало.
func ATR(high, low, close []float64, period int) float64 {
	if period <= 0 || len(close) <= period {
		return 0
	}
	out := talib.Atr(high, low, close, period)
	return out[len(out)-1]
}

// EMA — последняя экспоненциальная скользящая за period.
func EMA(close []float64, period int) float64 {
	if period <= 0 || len(close) < period {
		return 0
	}
	out := talib.Ema(close, period)
	return out[len(out)-1]
}

// RSI — последний RSI за period. 50 (нейтрально), если данных мало.
func RSI(close []float64, period int) float64 {
	if period <= 0 || len(close) <= period {
		return 50
	}
	out := talib.Rsi(close, period)
	return out[len(out)-1]
}

// SwingLow — минимальный low за последние lookback баров (без текущего).
func SwingLow(low []float64, lookback int) float64 {
	n := len(low)
	if n < 2 {
		return 0
	}
	from := n - 1 - lookback
	if from < 0 {
		from = 0
	}
	m := low[from]
	for _, v := range low[from : n-1] {
		if v < m {
			m = v
		}
	}
	return m
}

// SwingHigh — максимальный high за последние lookback баров (без текущего).
func SwingHigh(high []float64, lookback int) float64 {
	n := len(high)
	if n < 2 {
		return 0
	}
	from := n - 1 - lookback
	if from < 0 {
		from = 0
	}
	m := high[from]
	for _, v := range high[from : n-1] {
		if v > m {
			m = v
		}
	}
	return m
}

// AvgVolume — средний объём за lookback баров (без текущего).
func AvgVolume(volume []float64, lookback int) float64 {
	n := len(volume)
	if n < 2 || lookback <= 0 {
		return 0
	}
	from := n - 1 - lookback
	if from < 0 {
		from = 0
	}
	sum := 0.0
	cnt := 0
	for _, v := range volume[from : n-1] {
		sum += v
		cnt++
	}
	if cnt == 0 {
		return 0
	}
	return sum / float64(cnt)
}
