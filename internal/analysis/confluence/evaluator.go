// Package confluence оценивает окно свечей по трем правилам: моментум, касание полосы Боллинджера и RSI.
package confluence

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/skalibog/confluence/internal/analysis/indicators"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/pkg/models"
)

const rulesTotal = 3

// Evaluator применяет правила конфлюенции к окну свечей
type Evaluator struct {
	cfg        config.AnalysisConfig
	windowSize int
	now        func() time.Time
}

// NewEvaluator создает оценщик
func NewEvaluator(analysis config.AnalysisConfig, windowSize int) *Evaluator {
	return &Evaluator{
		cfg:        analysis,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// MinScore порог, начиная с которого направление принимается
func (e *Evaluator) MinScore() float64 {
	return e.cfg.MinScore
}

// Evaluate оценивает окно и возвращает сигнал. При недостатке свечей сигнал NONE с нулевым баллом.
func (e *Evaluator) Evaluate(window models.CandleWindow) models.Signal {
	signal := models.NeutralSignal(window.Symbol, e.now())
	signal.Mode = window.Mode

	candles := window.Candles
	if len(candles) == 0 || len(candles) < e.windowSize || len(candles) < e.momentumCandles() {
		return signal
	}

	signal.ID = uuid.NewString()

	last := candles[len(candles)-1]
	signal.EntryPrice = last.Close
	signal.CandleTime = last.OpenTime
	signal.Indicators = indicators.Compute(candles, e.cfg)

	bullish, bearish := e.momentum(candles)
	buy := models.Rules{
		Momentum:   bullish,
		BandTouch:  last.Low <= signal.Indicators.Bollinger.Lower,
		Oscillator: signal.Indicators.RSI <= e.cfg.RSI.Oversold,
	}
	sell := models.Rules{
		Momentum:   bearish,
		BandTouch:  last.High >= signal.Indicators.Bollinger.Upper,
		Oscillator: signal.Indicators.RSI >= e.cfg.RSI.Overbought,
	}

	signal.BuyScore = score(buy)
	signal.SellScore = score(sell)

	switch {
	case signal.BuyScore > signal.SellScore:
		signal.Bias, signal.Score, signal.Rules = models.DirectionBuy, signal.BuyScore, buy
	case signal.SellScore > signal.BuyScore:
		signal.Bias, signal.Score, signal.Rules = models.DirectionSell, signal.SellScore, sell
	default:
		// равенство (в том числе 0:0) не дает направления
		signal.Score = signal.BuyScore
		return signal
	}

	if signal.Score >= e.cfg.MinScore {
		signal.Direction = signal.Bias
	}
	return signal
}

// momentum проверяет две свечи подряд в одну сторону.
// В режиме current берутся текущая и предыдущая свеча, в режиме closed две закрытые перед текущей.
func (e *Evaluator) momentum(candles []models.Candle) (bullish, bearish bool) {
	end := len(candles)
	if e.cfg.MomentumMode == config.MomentumClosed {
		end--
	}
	a, b := candles[end-2], candles[end-1]
	return a.Bullish() && b.Bullish(), a.Bearish() && b.Bearish()
}

func (e *Evaluator) momentumCandles() int {
	if e.cfg.MomentumMode == config.MomentumClosed {
		return 3
	}
	return 2
}

// score доля сработавших правил в процентах. Без моментума направление получает 0.
func score(r models.Rules) float64 {
	if !r.Momentum {
		return 0
	}
	return math.Round(float64(r.Passed())/rulesTotal*100*100) / 100
}
