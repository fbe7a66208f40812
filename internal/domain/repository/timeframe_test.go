package repository

import (
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	for _, s := range []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"} {
		tf, err := ParseTimeframe(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if string(tf) != s {
			t.Fatalf("%s parsed as %s", s, tf)
		}
	}
	// Unsupported values are a client error, never silently rounded.
	for _, s := range []string{"", "2m", "1w", "60", "1M"} {
		if _, err := ParseTimeframe(s); err == nil {
			t.Fatalf("%q should be rejected", s)
		}
	}
}

func TestTruncateAlignsToGrid(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 37, 42, 123, time.UTC)
	cases := map[Timeframe]time.Time{
		TF1m:  time.Date(2026, 3, 1, 10, 37, 0, 0, time.UTC),
		TF5m:  time.Date(2026, 3, 1, 10, 35, 0, 0, time.UTC),
		TF30m: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		TF1h:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		TF1d:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for tf, want := range cases {
		if got := tf.Truncate(at); !got.Equal(want) {
			t.Fatalf("%s: got %s, want %s", tf, got, want)
		}
	}
}

func TestUpstream(t *testing.T) {
	if src, ok := TF1h.Upstream(); !ok || src != TF1m {
		t.Fatalf("1h upstream: %s %v", src, ok)
	}
	// The minute level aggregates raw ticks, not another candle table.
	if _, ok := TF1m.Upstream(); ok {
		t.Fatal("1m should have no candle upstream")
	}
}

func TestSourceFor(t *testing.T) {
	cases := map[Timeframe]Timeframe{
		TF1m:  TF1m,
		TF1h:  TF1h,
		TF5m:  TF1m, // 1h does not divide 5m
		TF15m: TF1m,
		TF30m: TF1m,
		TF4h:  TF1h, // coarsest divisor wins
		TF1d:  TF1h,
	}
	for tf, want := range cases {
		if got := SourceFor(tf); got != want {
			t.Fatalf("%s: got %s, want %s", tf, got, want)
		}
	}
}
