package service

import (
	"context"
	"testing"
	"time"

	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
)

func feedCfg() config.FeedConfig {
	return config.FeedConfig{
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    20 * time.Second,
		PageLimit:            300,
		RequestDelay:         time.Millisecond,
	}
}

func TestBackoffSchedule(t *testing.T) {
	c := NewClient(feedCfg())
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := c.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d)=%v, want %v", i+1, got, w)
		}
	}
}

func TestStreamTerminalAfterReconnectsExhausted(t *testing.T) {
	cfg := feedCfg()
	cfg.WSURL = "ws://127.0.0.1:1" // закрытый порт, каждый dial падает сразу
	cfg.MaxReconnectAttempts = 3
	cfg.ReconnectBase = time.Millisecond
	cfg.ReconnectMax = 4 * time.Millisecond
	c := NewClient(cfg)

	st := c.Stream(context.Background(), "BTC-USDT", []string{"15m"})
	defer st.Disconnect()

	deadline := time.After(10 * time.Second)
	terminals := 0
loop:
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				// канал закрыт — реконнектов больше не будет
				break loop
			}
			if ev.Kind != models.EventTerminal {
				t.Fatalf("unexpected event kind %d before terminal", ev.Kind)
			}
			if ev.Err == nil {
				t.Fatal("terminal event without error")
			}
			terminals++
		case <-deadline:
			t.Fatal("no terminal event / channel close before deadline")
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminals)
	}
}

func TestParseCandleRowClosed(t *testing.T) {
	row := []string{"60000", "100", "101", "99", "100.5", "12.5", "0", "0", "1"}
	lc, ok := parseCandleRow(row)
	if !ok {
		t.Fatalf("row rejected")
	}
	if !lc.Closed {
		t.Fatalf("confirm=1 must mean closed")
	}
	if lc.Start.UnixMilli() != 60000 || lc.Open != 100 || lc.High != 101 || lc.Low != 99 || lc.Close != 100.5 || lc.Volume != 12.5 {
		t.Fatalf("bad parse: %+v", lc)
	}
}

func TestParseCandleRowInProgress(t *testing.T) {
	row := []string{"60000", "100", "101", "99", "100.5", "12.5", "0", "0", "0"}
	lc, ok := parseCandleRow(row)
	if !ok || lc.Closed {
		t.Fatalf("confirm=0 must be in-progress, ok=%v closed=%v", ok, lc.Closed)
	}
}

func TestParseCandleRowMalformed(t *testing.T) {
	for _, row := range [][]string{
		{},
		{"60000", "100"},
		{"xx", "100", "101", "99", "100.5", "12.5"},
		{"60000", "100", "nope", "99", "100.5", "12.5"},
		{"60000", "-1", "101", "99", "100.5", "12.5"},
	} {
		if _, ok := parseCandleRow(row); ok {
			t.Fatalf("malformed row accepted: %v", row)
		}
	}
}

func TestTFFromChannel(t *testing.T) {
	if tf := tfFromChannel("candle15m"); tf != "15m" {
		t.Fatalf("got %q", tf)
	}
	if tf := tfFromChannel("tickers"); tf != "" {
		t.Fatalf("non-candle channel must map to empty, got %q", tf)
	}
}
