package exchange

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/skalibog/confluence/pkg/models"
)

// SyntheticSource генерирует свечи случайным блужданием.
// Используется как деградированный режим, когда биржа недоступна, и как провайдер для демонстрации.
type SyntheticSource struct {
	mu         sync.Mutex
	rng        *rand.Rand
	anchors    map[string]float64
	volatility float64
	now        func() time.Time
}

// NewSyntheticSource создает генератор. volatility доля цены на шаг (например 0.0008).
func NewSyntheticSource(seed uint64, volatility float64) *SyntheticSource {
	if volatility <= 0 {
		volatility = 0.0008
	}
	return &SyntheticSource{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		anchors:    make(map[string]float64),
		volatility: volatility,
		now:        time.Now,
	}
}

// Anchor задает последнюю известную цену, от которой строится блуждание. Нулевая цена игнорируется.
func (s *SyntheticSource) Anchor(symbol string, price float64) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	s.anchors[symbol] = price
	s.mu.Unlock()
}

// FetchCandles реализует CandleSource
func (s *SyntheticSource) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrNoData
	}

	step := models.IntervalDuration(interval)
	end := s.now().Truncate(step)

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.anchors[symbol]
	if !ok {
		price = 100
	}

	candles := make([]models.Candle, limit)
	for i := 0; i < limit; i++ {
		open := price
		closePrice := open * (1 + s.rng.NormFloat64()*s.volatility)
		high := math.Max(open, closePrice) * (1 + math.Abs(s.rng.NormFloat64())*s.volatility/2)
		low := math.Min(open, closePrice) * (1 - math.Abs(s.rng.NormFloat64())*s.volatility/2)
		openTime := end.Add(-time.Duration(limit-1-i) * step)

		candles[i] = models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    1 + s.rng.Float64()*100,
			CloseTime: openTime.Add(step),
		}
		price = closePrice
	}
	s.anchors[symbol] = price

	return candles, nil
}
