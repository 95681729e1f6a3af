// Package indicators рассчитывает технические индикаторы по окну свечей.
// Все функции чистые и безопасны для одновременного вызова из воркеров.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/pkg/models"
)

// NeutralRSI значение RSI при недостатке данных или плоском окне
const NeutralRSI = 50.0

// RSI рассчитывает RSI по последним period изменениям цены закрытия.
// При недостатке свечей возвращает 50, при нулевых потерях и наличии роста 100.
func RSI(candles []models.Candle, period int) float64 {
	if period < 1 || len(candles) < period {
		return NeutralRSI
	}

	n := period + 1
	if len(candles) < n {
		n = len(candles)
	}
	closes := closesOf(candles[len(candles)-n:])

	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		if d := closes[i] - closes[i-1]; d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}

	switch {
	case gain == 0 && loss == 0:
		return NeutralRSI
	case loss == 0:
		return 100
	case gain == 0:
		return 0
	}

	lookback := len(closes) - 1
	if lookback < 2 {
		// talib не считает RSI с периодом 1
		return 100 - 100/(1+gain/loss)
	}

	rsi := talib.Rsi(closes, lookback)
	return rsi[len(rsi)-1]
}

// Bollinger рассчитывает полосы Боллинджера по последним period закрытиям
// (SMA и стандартное отклонение генеральной совокупности).
// При недостатке свечей возвращает полосы ±0.1% вокруг последнего закрытия.
func Bollinger(candles []models.Candle, period int, stdDev float64) models.Bands {
	if len(candles) == 0 {
		return models.Bands{}
	}
	if period < 2 || len(candles) < period {
		last := candles[len(candles)-1].Close
		return models.Bands{Upper: last * 1.001, Mid: last, Lower: last * 0.999}
	}

	closes := closesOf(candles[len(candles)-period:])
	upper, mid, lower := talib.BBands(closes, period, stdDev, stdDev, talib.SMA)

	i := len(closes) - 1
	bands := models.Bands{Upper: upper[i], Mid: mid[i], Lower: lower[i]}
	if math.IsNaN(bands.Upper) || math.IsNaN(bands.Lower) {
		bands.Upper, bands.Lower = bands.Mid, bands.Mid
	}
	return bands
}

// Compute считает все индикаторы окна по настройкам анализа
func Compute(candles []models.Candle, cfg config.AnalysisConfig) models.IndicatorSnapshot {
	return models.IndicatorSnapshot{
		RSI:       RSI(candles, cfg.RSI.Period),
		Bollinger: Bollinger(candles, cfg.Bollinger.Period, cfg.Bollinger.StdDev),
	}
}

func closesOf(candles []models.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
