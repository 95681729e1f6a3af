package indicators

import (
	"math"
	"testing"

	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/pkg/models"
	"github.com/stretchr/testify/assert"
)

func candlesFromCloses(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Open: c, High: c, Low: c, Close: c}
	}
	return out
}

// manualRSI простая средняя прибылей и убытков по последним period изменениям
func manualRSI(closes []float64, period int) float64 {
	start := len(closes) - period - 1
	if start < 0 {
		start = 0
	}
	var gain, loss float64
	for i := start + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	return 100 - 100/(1+gain/loss)
}

func TestRSIShortWindowIsNeutral(t *testing.T) {
	for n := 0; n < 14; n++ {
		closes := make([]float64, n)
		for i := range closes {
			closes[i] = float64(100 + i*i)
		}
		assert.Equal(t, 50.0, RSI(candlesFromCloses(closes...), 14), "n=%d", n)
	}
}

func TestRSIFlatWindowIsNeutral(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 42
	}
	assert.Equal(t, 50.0, RSI(candlesFromCloses(closes...), 14))
}

func TestRSIAllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	assert.Equal(t, 100.0, RSI(candlesFromCloses(closes...), 14))
}

func TestRSIAllLosses(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 - i)
	}
	assert.Equal(t, 0.0, RSI(candlesFromCloses(closes...), 14))
}

func TestRSIMatchesSimpleAverages(t *testing.T) {
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08,
		45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64,
	}
	got := RSI(candlesFromCloses(closes...), 14)
	assert.InDelta(t, manualRSI(closes, 14), got, 1e-9)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 100.0)
}

func TestRSIUsesOnlyTrailingWindow(t *testing.T) {
	tail := []float64{10, 11, 10, 12, 11, 13}
	a := RSI(candlesFromCloses(append([]float64{1, 500, 2}, tail...)...), 5)
	b := RSI(candlesFromCloses(tail...), 5)
	assert.InDelta(t, b, a, 1e-9)
}

func TestBollingerShortWindowCentersOnLastClose(t *testing.T) {
	b := Bollinger(candlesFromCloses(100, 101, 200), 14, 2)
	assert.Equal(t, 200.0, b.Mid)
	assert.InDelta(t, 200.2, b.Upper, 1e-9)
	assert.InDelta(t, 199.8, b.Lower, 1e-9)

	assert.Equal(t, models.Bands{}, Bollinger(nil, 14, 2))
}

func TestBollingerPopulationStdDev(t *testing.T) {
	// SMA 99.5, дисперсия генеральной совокупности 1.25
	b := Bollinger(candlesFromCloses(500, 101, 100, 99, 98), 4, 2)
	sd := math.Sqrt(1.25)
	assert.InDelta(t, 99.5, b.Mid, 1e-9)
	assert.InDelta(t, 99.5+2*sd, b.Upper, 1e-9)
	assert.InDelta(t, 99.5-2*sd, b.Lower, 1e-9)
}

func TestBollingerFlatWindow(t *testing.T) {
	b := Bollinger(candlesFromCloses(5, 5, 5, 5), 4, 2)
	assert.InDelta(t, 5.0, b.Mid, 1e-9)
	assert.InDelta(t, 5.0, b.Upper, 1e-9)
	assert.InDelta(t, 5.0, b.Lower, 1e-9)
}

func TestComputeIsPure(t *testing.T) {
	cfg := config.Default().Analysis
	candles := candlesFromCloses(1, 2, 3, 2, 1, 2, 3, 4, 5, 4, 3, 2, 3, 4, 5, 6)
	first := Compute(candles, cfg)
	second := Compute(candles, cfg)
	assert.Equal(t, first, second)
	assert.Equal(t, 6.0, candles[len(candles)-1].Close)
}
