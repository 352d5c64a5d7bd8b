package registry

import (
	"math"
	"testing"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{
		Symbol: "TEST", Timeframe: model.TF1m,
		OpenTime:  time.Unix(0, 0).UTC(),
		CloseTime: time.Unix(60, 0).UTC(),
		Open:      close, High: close + 0.5, Low: close - 0.5, Close: close,
		Closed: true,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// series is a fixed pseudo-random walk used by the batch-equivalence tests.
func series(n int) []float64 {
	prices := make([]float64, n)
	p := 100.0
	seed := uint64(42)
	for i := range prices {
		seed = seed*6364136223846793005 + 1442695040888963407
		step := float64(int64(seed>>33)%200-100) / 50.0
		p += step
		prices[i] = p
	}
	return prices
}

// ────────────────────────────────────────────────────────────
// Batch reference formulas
// ────────────────────────────────────────────────────────────

func refSMA(prices []float64, period int) float64 {
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

// refEMASeries returns the EMA series; entries before index period-1 are meaningless.
func refEMASeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	mult := 2.0 / float64(period+1)
	sum := 0.0
	for i, p := range prices {
		if i < period {
			sum += p
			if i == period-1 {
				out[i] = sum / float64(period)
			}
			continue
		}
		out[i] = p*mult + out[i-1]*(1-mult)
	}
	return out
}

func refRSI(prices []float64, period int) float64 {
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		p := float64(period)
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102.0
	// SMA after candle 4: (102+104+103)/3 = 103.0
	// SMA after candle 5: (104+103+105)/3 = 104.0
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Outputs()[Output], expected[i], 0.0001)
		}
	}
}

func TestSMA_WarmingBoundary(t *testing.T) {
	// For an N-period SMA, Ready must flip exactly on the Nth closed candle.
	for _, period := range []int{1, 2, 5, 14} {
		sma := NewSMA(period)
		for i := 1; i <= period+2; i++ {
			sma.Update(candle(100))
			want := i >= period
			if sma.Ready() != want {
				t.Errorf("period=%d candle=%d: Ready()=%v, want %v", period, i, sma.Ready(), want)
			}
		}
	}
}

func TestSMA_Peek_DoesNotMutate(t *testing.T) {
	sma := NewSMA(3)
	for _, p := range []float64{100, 102, 104} {
		sma.Update(candle(p))
	}
	before := sma.Outputs()[Output]
	_ = sma.Peek(candle(200))
	assertClose(t, "SMA after Peek", sma.Outputs()[Output], before, 0.0001)
}

func TestSMA_Peek_CorrectValue(t *testing.T) {
	sma := NewSMA(3)
	for _, p := range []float64{100, 102, 104} {
		sma.Update(candle(p))
	}
	// Peek with 106 → (102+104+106)/3 = 104
	assertClose(t, "SMA Peek", sma.Peek(candle(106))[Output], 104.0, 0.0001)
}

func TestSMA_IncrementalEqualsBatch(t *testing.T) {
	prices := series(300)
	for _, period := range []int{5, 20, 50} {
		sma := NewSMA(period)
		for _, p := range prices {
			sma.Update(candle(p))
		}
		assertClose(t, "SMA batch equivalence", sma.Outputs()[Output], refSMA(prices, period), 1e-6)
	}
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 0.5
	// Candle 3: SMA seed = (100+102+104)/3 = 102.0
	// Candle 4: 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(candle(p))
		if ema.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Outputs()[Output], expected[i], 0.0001)
		}
	}
}

func TestEMA_IncrementalEqualsBatch(t *testing.T) {
	prices := series(300)
	for _, period := range []int{9, 21} {
		ema := NewEMA(period)
		for _, p := range prices {
			ema.Update(candle(p))
		}
		ref := refEMASeries(prices, period)
		assertClose(t, "EMA batch equivalence", ema.Outputs()[Output], ref[len(ref)-1], 1e-6)
	}
}

// ────────────────────────────────────────────────────────────
// SMMA
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Candle 3: SMA seed = 102.0
	// Candle 4: (102.0*2 + 103)/3 = 102.3333
	// Candle 5: (102.3333*2 + 105)/3 = 103.2222
	smma := NewSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}
	for i, p := range prices {
		smma.Update(candle(p))
		if i >= 2 {
			assertClose(t, "SMMA(3)", smma.Outputs()[Output], expected[i], 0.001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_AllGains(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 20; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	if !rsi.Ready() {
		t.Fatal("RSI should be ready after 20 candles")
	}
	assertClose(t, "RSI all gains", rsi.Outputs()[Output], 100.0, 0.0001)
}

func TestRSI_WarmingBoundary(t *testing.T) {
	rsi := NewRSI(14)
	for i := 1; i <= 15; i++ {
		rsi.Update(candle(100 + float64(i%3)))
		want := i >= 15 // period+1 candles needed for the first delta window
		if rsi.Ready() != want {
			t.Errorf("candle %d: Ready()=%v, want %v", i, rsi.Ready(), want)
		}
	}
}

func TestRSI_IncrementalEqualsBatch(t *testing.T) {
	prices := series(300)
	rsi := NewRSI(14)
	for _, p := range prices {
		rsi.Update(candle(p))
	}
	assertClose(t, "RSI batch equivalence", rsi.Outputs()[Output], refRSI(prices, 14), 1e-6)
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_IncrementalEqualsBatch(t *testing.T) {
	prices := series(300)
	fast, slow, signal := 12, 26, 9

	macd := NewMACD(fast, slow, signal)
	for _, p := range prices {
		macd.Update(candle(p))
	}
	if !macd.Ready() {
		t.Fatal("MACD should be ready after 300 candles")
	}

	// Batch reference: macd line series from slow-1 onward, then EMA(signal)
	// over the line series with SMA seed.
	fastRef := refEMASeries(prices, fast)
	slowRef := refEMASeries(prices, slow)
	var line []float64
	for i := slow - 1; i < len(prices); i++ {
		line = append(line, fastRef[i]-slowRef[i])
	}
	sigRef := refEMASeries(line, signal)

	got := macd.Outputs()
	wantLine := line[len(line)-1]
	wantSig := sigRef[len(sigRef)-1]
	assertClose(t, "MACD line", got["macd"], wantLine, 1e-6)
	assertClose(t, "MACD signal", got["signal"], wantSig, 1e-6)
	assertClose(t, "MACD histogram", got["histogram"], wantLine-wantSig, 1e-6)
}

func TestMACD_WarmingBoundary(t *testing.T) {
	macd := NewMACD(3, 5, 4)
	min := MinHistory(KindMACD, map[string]float64{"fast": 3, "slow": 5, "signal": 4})
	for i := 1; i <= min+2; i++ {
		macd.Update(candle(100 + float64(i)))
		want := i >= min
		if macd.Ready() != want {
			t.Errorf("candle %d: Ready()=%v, want %v (min=%d)", i, macd.Ready(), want, min)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger Bands
// ────────────────────────────────────────────────────────────

func TestBBands_Correctness_Period3(t *testing.T) {
	// Prices 10, 11, 12: mean = 11, variance = 2/3, σ ≈ 0.816497
	// mult=2 → upper ≈ 12.632993, lower ≈ 9.367007
	bb := NewBBands(3, 2)
	for _, p := range []float64{10, 11, 12} {
		bb.Update(candle(p))
	}
	out := bb.Outputs()
	assertClose(t, "BB middle", out["middle"], 11.0, 0.0001)
	assertClose(t, "BB upper", out["upper"], 12.632993, 0.0001)
	assertClose(t, "BB lower", out["lower"], 9.367007, 0.0001)
}

func TestBBands_IncrementalEqualsBatch(t *testing.T) {
	prices := series(300)
	period, mult := 20, 2.0

	bb := NewBBands(period, mult)
	for _, p := range prices {
		bb.Update(candle(p))
	}

	window := prices[len(prices)-period:]
	mean := 0.0
	for _, p := range window {
		mean += p
	}
	mean /= float64(period)
	variance := 0.0
	for _, p := range window {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(period)
	dev := mult * math.Sqrt(variance)

	out := bb.Outputs()
	assertClose(t, "BB middle batch", out["middle"], mean, 1e-6)
	assertClose(t, "BB upper batch", out["upper"], mean+dev, 1e-6)
	assertClose(t, "BB lower batch", out["lower"], mean-dev, 1e-6)
}

// ────────────────────────────────────────────────────────────
// Snapshot / Restore
// ────────────────────────────────────────────────────────────

func TestSnapshotRoundtrip_AllKinds(t *testing.T) {
	prices := series(120)
	cases := []struct {
		kind   Kind
		params map[string]float64
	}{
		{KindSMA, map[string]float64{"period": 20}},
		{KindEMA, map[string]float64{"period": 9}},
		{KindSMMA, map[string]float64{"period": 7}},
		{KindRSI, map[string]float64{"period": 14}},
		{KindMACD, map[string]float64{"fast": 12, "slow": 26, "signal": 9}},
		{KindBBands, map[string]float64{"period": 20, "mult": 2}},
	}

	for _, tc := range cases {
		orig, err := New(tc.kind, tc.params)
		if err != nil {
			t.Fatalf("%s: New: %v", tc.kind, err)
		}
		for _, p := range prices[:80] {
			orig.Update(candle(p))
		}

		restored, err := FromSnapshot(orig.Snapshot())
		if err != nil {
			t.Fatalf("%s: FromSnapshot: %v", tc.kind, err)
		}

		// Both must evolve identically after the checkpoint.
		for _, p := range prices[80:] {
			orig.Update(candle(p))
			restored.Update(candle(p))
		}
		want := orig.Outputs()
		got := restored.Outputs()
		for name, w := range want {
			assertClose(t, string(tc.kind)+" restored "+name, got[name], w, 1e-9)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Validation
// ────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		params  map[string]float64
		wantErr bool
	}{
		{"sma ok", KindSMA, map[string]float64{"period": 14}, false},
		{"sma missing period", KindSMA, map[string]float64{}, true},
		{"sma zero period", KindSMA, map[string]float64{"period": 0}, true},
		{"sma fractional period", KindSMA, map[string]float64{"period": 2.5}, true},
		{"sma period at cap", KindSMA, map[string]float64{"period": 10000}, false},
		{"sma huge period", KindSMA, map[string]float64{"period": 2e9}, true},
		{"macd huge slow", KindMACD, map[string]float64{"fast": 12, "slow": 1e7, "signal": 9}, true},
		{"macd ok", KindMACD, map[string]float64{"fast": 12, "slow": 26, "signal": 9}, false},
		{"macd fast >= slow", KindMACD, map[string]float64{"fast": 26, "slow": 12, "signal": 9}, true},
		{"bbands ok", KindBBands, map[string]float64{"period": 20, "mult": 2}, false},
		{"bbands zero mult", KindBBands, map[string]float64{"period": 20, "mult": 0}, true},
		{"unknown kind", Kind("vwap"), map[string]float64{"period": 20}, true},
	}
	for _, tc := range cases {
		err := Validate(tc.kind, tc.params)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}
