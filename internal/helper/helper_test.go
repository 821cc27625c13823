package helper

import (
	"math"
	"testing"
)

func TestNormTF(t *testing.T) {
	cases := map[string]string{
		"candle15m": "15m",
		"candle1m":  "1m",
		"60m":       "1h",
		"1H":        "1h",
		" 5m ":      "5m",
		"4h":        "4h",
	}
	for in, want := range cases {
		if got := NormTF(in); got != want {
			t.Errorf("NormTF(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundToTick(t *testing.T) {
	if got := RoundDownToTick(100.07, 0.05); math.Abs(got-100.05) > 1e-9 {
		t.Errorf("RoundDownToTick = %v, want 100.05", got)
	}
	if got := RoundUpToTick(100.07, 0.05); math.Abs(got-100.10) > 1e-9 {
		t.Errorf("RoundUpToTick = %v, want 100.10", got)
	}
	// точное попадание в тик не двигается
	if got := RoundDownToTick(100.05, 0.05); math.Abs(got-100.05) > 1e-9 {
		t.Errorf("RoundDownToTick exact = %v, want 100.05", got)
	}
	if got := RoundUpToTick(100.05, 0.05); math.Abs(got-100.05) > 1e-9 {
		t.Errorf("RoundUpToTick exact = %v, want 100.05", got)
	}
	// нулевой тик — цена как есть
	if got := RoundDownToTick(100.07, 0); got != 100.07 {
		t.Errorf("zero tick = %v, want passthrough", got)
	}
}
