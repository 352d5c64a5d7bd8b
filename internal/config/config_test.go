package config

import (
	"testing"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

func TestSeries_Parse(t *testing.T) {
	var cfg Config
	cfg.CandleSeries = "BTCUSDT/1m, ETHUSDT/5m"

	series, err := cfg.Series()
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Fatalf("got %d series, want 2", len(series))
	}
	if series[0].Symbol != "BTCUSDT" || series[0].Timeframe != model.TF1m {
		t.Fatalf("series[0] = %+v", series[0])
	}
	if series[1].Symbol != "ETHUSDT" || series[1].Timeframe != model.TF5m {
		t.Fatalf("series[1] = %+v", series[1])
	}
}

func TestSeries_Invalid(t *testing.T) {
	var cfg Config
	for _, raw := range []string{"BTCUSDT", "BTCUSDT/7m", "/1m"} {
		cfg.CandleSeries = raw
		if _, err := cfg.Series(); err == nil {
			t.Errorf("%q: expected error", raw)
		}
	}
}

func TestSeries_Empty(t *testing.T) {
	var cfg Config
	series, err := cfg.Series()
	if err != nil || series != nil {
		t.Fatalf("empty: %v %v", series, err)
	}
}

func TestValidate_RejectsBadShardCount(t *testing.T) {
	var cfg Config
	cfg.Engine.ShardCount = 0
	cfg.Engine.ShardQueueSize = 1
	cfg.Engine.RetainedWindow = 1
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for zero shards")
	}
}
