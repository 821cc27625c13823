package buffer

import (
	"sort"
	"time"

	"trade_engine/internal/models"
	"trade_engine/pkg/logger"
)

// Buffer — ограниченное окно закрытых свечей одного символа+таймфрейма.
// Инварианты: таймстемпы строго возрастают, дублей нет, старое вытесняется первым.
// Буфером владеет ровно одна горутина раннера, поэтому мьютекс не нужен.
type Buffer struct {
	symbol   string
	interval time.Duration
	maxSize  int

	candles []models.Candle
}

func New(symbol string, interval time.Duration, maxSize int) *Buffer {
	if maxSize <= 0 {
		panic("buffer: maxSize <= 0")
	}
	return &Buffer{
		symbol:   symbol,
		interval: interval,
		maxSize:  maxSize,
		candles:  make([]models.Candle, 0, maxSize),
	}
}

// Bootstrap заливает историю: дедуп по таймстемпу, сортировка по возрастанию,
// обрезка до maxSize (старейшие уходят).
func (b *Buffer) Bootstrap(candles []models.Candle) {
	seen := make(map[int64]struct{}, len(candles))
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		ts := c.Start.UnixMilli()
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	if len(out) > b.maxSize {
		out = out[len(out)-b.maxSize:]
	}
	b.candles = out

	logger.Info("[BUFFER] %s bootstrap: %d bars (raw %d)", b.symbol, len(out), len(candles))
}

// HandleLiveUpdate возвращает true только для НОВОГО закрытого бара.
// Незакрытые тики не сохраняются; дубли и out-of-order дропаются с логом.
func (b *Buffer) HandleLiveUpdate(lc models.LiveCandle) bool {
	if !lc.Closed {
		return false
	}

	if last, ok := b.Latest(); ok {
		if !lc.Start.After(last.Start) {
			// дубль или более старый бар — не ошибка рынка, просто дроп
			logger.Warn("[BUFFER] %s drop stale closed bar: got=%s last=%s",
				b.symbol, lc.Start.Format(time.RFC3339), last.Start.Format(time.RFC3339))
			return false
		}
		expected := last.Start.Add(b.interval)
		if missed := missedBars(expected, lc.Start, b.interval); missed > 0 {
			logger.Warn("[BUFFER] %s gap detected: expected=%s got=%s missed=%d",
				b.symbol, expected.Format(time.RFC3339), lc.Start.Format(time.RFC3339), missed)
		}
	}

	b.candles = append(b.candles, lc.Candle)
	if len(b.candles) > b.maxSize {
		b.candles = b.candles[1:]
	}
	return true
}

// missedBars — сколько баров пропущено между ожидаемым и пришедшим
// стартом: expected..got, не включая сам got.
func missedBars(expected, got time.Time, interval time.Duration) int {
	if !got.After(expected) {
		return 0
	}
	return int(got.Sub(expected) / interval)
}

func (b *Buffer) Len() int { return len(b.candles) }

func (b *Buffer) Latest() (models.Candle, bool) {
	if len(b.candles) == 0 {
		return models.Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// Window — последние n свечей (или все, если их меньше). Копия.
func (b *Buffer) Window(n int) []models.Candle {
	if n <= 0 || len(b.candles) == 0 {
		return nil
	}
	if n > len(b.candles) {
		n = len(b.candles)
	}
	out := make([]models.Candle, n)
	copy(out, b.candles[len(b.candles)-n:])
	return out
}

// At — свеча по индексу от начала буфера.
func (b *Buffer) At(i int) models.Candle {
	if i < 0 || i >= len(b.candles) {
		panic("buffer: index out of range")
	}
	return b.candles[i]
}

// IndexOf — индекс свечи с данным стартом, -1 если нет.
func (b *Buffer) IndexOf(ts time.Time) int {
	for i := len(b.candles) - 1; i >= 0; i-- {
		if b.candles[i].Start.Equal(ts) {
			return i
		}
		if b.candles[i].Start.Before(ts) {
			return -1
		}
	}
	return -1
}

// Gaps — индексы свечей, перед которыми обнаружен разрыв по интервалу.
func (b *Buffer) Gaps() []int {
	var gaps []int
	for i := 1; i < len(b.candles); i++ {
		expected := b.candles[i-1].Start.Add(b.interval)
		if b.candles[i].Start.After(expected) {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

// Серии для индикаторов — последние n баров.

func (b *Buffer) Closes(n int) []float64  { return b.series(n, func(c models.Candle) float64 { return c.Close }) }
func (b *Buffer) Highs(n int) []float64   { return b.series(n, func(c models.Candle) float64 { return c.High }) }
func (b *Buffer) Lows(n int) []float64    { return b.series(n, func(c models.Candle) float64 { return c.Low }) }
func (b *Buffer) Volumes(n int) []float64 { return b.series(n, func(c models.Candle) float64 { return c.Volume }) }

func (b *Buffer) series(n int, f func(models.Candle) float64) []float64 {
	if n <= 0 || n > len(b.candles) {
		n = len(b.candles)
	}
	out := make([]float64, 0, n)
	for _, c := range b.candles[len(b.candles)-n:] {
		out = append(out, f(c))
	}
	return out
}
