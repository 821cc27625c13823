package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"trade_engine/internal/models"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
)

type historyResp struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// Backfill тянет days дней истории постранично (от свежего к старому),
// с паузой между запросами под rate limit, затем дедуп + сортировка
// по возрастанию. Последняя (потенциально незакрытая) свеча отрезается.
func (c *Client) Backfill(ctx context.Context, symbol, timeframe string, days int) ([]models.Candle, error) {
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	var all []models.Candle
	before := int64(0) // пагинация: отдай бары старше этого ts

	for {
		page, err := c.fetchPage(ctx, symbol, timeframe, before)
		if err != nil {
			return nil, fmt.Errorf("backfill %s %s: %w", symbol, timeframe, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)

		oldest := page[len(page)-1].Start
		if oldest.Before(since) {
			break
		}
		before = oldest.UnixMilli()

		// не душим REST API
		if !sleepBackoff(ctx, c.cfg.RequestDelay) {
			return nil, ctx.Err()
		}
	}

	// дедуп по таймстемпу + сортировка по возрастанию
	seen := make(map[int64]struct{}, len(all))
	out := all[:0]
	for _, cd := range all {
		ts := cd.Start.UnixMilli()
		if _, dup := seen[ts]; dup {
			continue
		}
		if cd.Start.Before(since) {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, cd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	if len(out) > 0 {
		// последний бар страницы может быть ещё не закрыт
		out = out[:len(out)-1]
	}

	logger.Info("[FEED] %s %s backfill: %d bars (%d days)", symbol, timeframe, len(out), days)
	return out, nil
}

// fetchPage — одна страница истории, бары отсортированы от новых к старым.
func (c *Client) fetchPage(ctx context.Context, symbol, timeframe string, before int64) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("instId", symbol)
	q.Set("bar", timeframe)
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	if before > 0 {
		q.Set("after", strconv.FormatInt(before, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.RESTURL+"/api/v5/market/history-candles?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var hr historyResp
	if err := sonic.Unmarshal(body, &hr); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if hr.Code != "" && hr.Code != "0" {
		return nil, fmt.Errorf("api code %s: %s", hr.Code, hr.Msg)
	}

	out := make([]models.Candle, 0, len(hr.Data))
	for _, row := range hr.Data {
		lc, ok := parseCandleRow(row)
		if !ok {
			continue
		}
		out = append(out, lc.Candle)
	}
	return out, nil
}
