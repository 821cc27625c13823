package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Stream — логический стрим одного символа по набору таймфреймов.
// Disconnect идемпотентен и гасит в том числе будущие реконнекты.
type Stream struct {
	events chan models.CandleEvent

	cancel context.CancelFunc
	once   sync.Once
}

func (s *Stream) Events() <-chan models.CandleEvent { return s.events }

// Disconnect — явный shutdown сильнее авто-реконнекта: стрим больше
// не попытается подняться, даже если был в середине backoff-паузы.
func (s *Stream) Disconnect() {
	s.once.Do(s.cancel)
}

// wsFrame — логический формат сообщения: канал+инструмент и строки
// [ts, o, h, l, c, vol, ..., confirm].
type wsFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// Stream поднимает подписку symbol+timeframes и начинает слать события.
// Закрытые бары дедуплицируются по строго возрастающему таймстемпу.
func (c *Client) Stream(ctx context.Context, symbol string, timeframes []string) *Stream {
	sctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		events: make(chan models.CandleEvent, 64),
		cancel: cancel,
	}
	go c.run(sctx, st, symbol, timeframes)
	return st
}

func (c *Client) run(ctx context.Context, st *Stream, symbol string, timeframes []string) {
	defer close(st.events)

	// таймстемп последнего закрытого бара по каждому ТФ — для дедупа
	lastClosed := make(map[string]int64, len(timeframes))

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx, symbol, timeframes)
		if err != nil {
			attempts++
			log.Printf("[WS] %s dial error (attempt %d/%d): %v", symbol, attempts, c.cfg.MaxReconnectAttempts, err)
			if attempts >= c.cfg.MaxReconnectAttempts {
				st.emit(ctx, models.CandleEvent{
					Kind:   models.EventTerminal,
					Symbol: symbol,
					Err:    fmt.Errorf("feed: reconnect attempts exhausted (%d): %w", attempts, err),
				})
				return
			}
			if !sleepBackoff(ctx, c.backoff(attempts)) {
				return
			}
			continue
		}

		// keepalive ping — иначе сервер рвёт соединение
		stopPing := make(chan struct{})
		go func() {
			t := time.NewTicker(c.cfg.HeartbeatInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				case <-t.C:
					_ = conn.WriteJSON(map[string]string{"op": "ping"})
				}
			}
		}()

		readErr := c.readLoop(ctx, conn, st, symbol, lastClosed, &attempts)
		close(stopPing)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		attempts++
		log.Printf("[WS] %s read loop died (attempt %d/%d): %v", symbol, attempts, c.cfg.MaxReconnectAttempts, readErr)
		if attempts >= c.cfg.MaxReconnectAttempts {
			st.emit(ctx, models.CandleEvent{
				Kind:   models.EventTerminal,
				Symbol: symbol,
				Err:    fmt.Errorf("feed: reconnect attempts exhausted (%d): %w", attempts, readErr),
			})
			return
		}
		if !sleepBackoff(ctx, c.backoff(attempts)) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context, symbol string, timeframes []string) (*websocket.Conn, error) {
	conn, _, err := c.wsDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return nil, err
	}

	args := make([]map[string]string, 0, len(timeframes))
	for _, tf := range timeframes {
		args = append(args, map[string]string{
			"channel": "candle" + tf,
			"instId":  symbol,
		})
	}
	sub := map[string]any{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[WS] %s connected, %d channels", symbol, len(timeframes))
	return conn, nil
}

// readLoop читает кадры до ошибки транспорта. Watchdog: если за два
// heartbeat-интервала не пришло ни одного кадра — считаем линию мёртвой.
func (c *Client) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	st *Stream,
	symbol string,
	lastClosed map[string]int64,
	attempts *int,
) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.cfg.HeartbeatInterval))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		*attempts = 0 // живой кадр обнуляет счётчик реконнектов

		var frame wsFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil {
			continue // pong и служебные кадры
		}
		if len(frame.Data) == 0 || frame.Arg.InstID != symbol {
			continue
		}
		tf := tfFromChannel(frame.Arg.Channel)
		if tf == "" {
			continue
		}

		for _, row := range frame.Data {
			lc, ok := parseCandleRow(row)
			if !ok {
				log.Printf("[WS] %s malformed row dropped: %v", symbol, row)
				continue
			}

			if !lc.Closed {
				st.emit(ctx, models.CandleEvent{
					Kind: models.EventUpdate, Symbol: symbol, Timeframe: tf, Candle: lc,
				})
				continue
			}

			ts := lc.Start.UnixMilli()
			if prev, seen := lastClosed[tf]; seen && ts <= prev {
				// дубль или out-of-order закрытие — подавляем
				continue
			}
			lastClosed[tf] = ts
			st.emit(ctx, models.CandleEvent{
				Kind: models.EventClosed, Symbol: symbol, Timeframe: tf, Candle: lc,
			})
		}
	}
}

func (st *Stream) emit(ctx context.Context, ev models.CandleEvent) {
	select {
	case st.events <- ev:
	case <-ctx.Done():
	}
}

// backoff — экспоненциальная пауза base*2^(n-1), с потолком.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.ReconnectMax {
			return c.cfg.ReconnectMax
		}
	}
	if d > c.cfg.ReconnectMax {
		return c.cfg.ReconnectMax
	}
	return d
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func tfFromChannel(channel string) string {
	const prefix = "candle"
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return ""
	}
	return channel[len(prefix):]
}

// parseCandleRow — [ts,o,h,l,c,vol,volCcy,volCcyQuote,confirm]
func parseCandleRow(row []string) (models.LiveCandle, bool) {
	if len(row) < 6 {
		return models.LiveCandle{}, false
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.LiveCandle{}, false
	}
	var vals [5]float64
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil || v < 0 {
			return models.LiveCandle{}, false
		}
		vals[i] = v
	}
	closed := len(row) >= 9 && row[8] == "1"
	return models.LiveCandle{
		Candle: models.Candle{
			Start:  time.UnixMilli(ms).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		},
		Closed: closed,
	}, true
}
