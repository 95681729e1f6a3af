package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/confluence/internal/metrics"
	"github.com/skalibog/confluence/pkg/logger"
	"github.com/skalibog/confluence/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrNoData источник ответил, но свечей нет
	ErrNoData = errors.New("нет данных")
	// ErrMalformed источник вернул данные, которые не удалось разобрать
	ErrMalformed = errors.New("некорректные данные")
)

// CandleSource источник свечей. Свечи возвращаются от старых к новым.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// CandleRecorder сохраняет полученные живые свечи (например, в InfluxDB)
type CandleRecorder interface {
	SaveCandles(ctx context.Context, candles []models.Candle) error
}

// SoftSource оборачивает источник: ограничивает запрос по времени и никогда не возвращает ошибку.
// При сбое отдается синтетическое окно (если включено) или пустое окно с причиной.
type SoftSource struct {
	source   CandleSource
	timeout  time.Duration
	fallback *SyntheticSource
	recorder CandleRecorder

	mu        sync.Mutex
	lastClose map[string]float64
}

// NewSoftSource создает обертку. fallback может быть nil.
func NewSoftSource(source CandleSource, timeout time.Duration, fallback *SyntheticSource) *SoftSource {
	return &SoftSource{
		source:    source,
		timeout:   timeout,
		fallback:  fallback,
		lastClose: make(map[string]float64),
	}
}

// WithRecorder включает запись живых свечей
func (s *SoftSource) WithRecorder(r CandleRecorder) *SoftSource {
	s.recorder = r
	return s
}

// Window получает окно свечей инструмента
func (s *SoftSource) Window(ctx context.Context, symbol, interval string, limit int) models.CandleWindow {
	fetchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	candles, err := s.source.FetchCandles(fetchCtx, symbol, interval, limit)
	if err == nil && len(candles) == 0 {
		err = ErrNoData
	}
	if err == nil {
		s.rememberClose(symbol, candles[len(candles)-1].Close)
		metrics.FetchTotal.WithLabelValues(symbol, string(models.FeedLive)).Inc()
		if s.recorder != nil {
			if rerr := s.recorder.SaveCandles(ctx, candles); rerr != nil {
				logger.Warn("Не удалось сохранить свечи", zap.String("symbol", symbol), zap.Error(rerr))
			}
		}
		return models.CandleWindow{Symbol: symbol, Candles: candles, Mode: models.FeedLive}
	}

	metrics.FetchFailures.WithLabelValues(symbol, failureReason(err)).Inc()
	logger.Warn("Ошибка получения свечей",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Error(err))

	if s.fallback != nil && ctx.Err() == nil {
		s.fallback.Anchor(symbol, s.anchor(symbol))
		synthetic, serr := s.fallback.FetchCandles(ctx, symbol, interval, limit)
		if serr == nil && len(synthetic) > 0 {
			metrics.FetchTotal.WithLabelValues(symbol, string(models.FeedSynthetic)).Inc()
			logger.Warn("Используются синтетические свечи", zap.String("symbol", symbol))
			return models.CandleWindow{Symbol: symbol, Candles: synthetic, Mode: models.FeedSynthetic, Err: err}
		}
	}

	metrics.FetchTotal.WithLabelValues(symbol, string(models.FeedUnavailable)).Inc()
	return models.CandleWindow{Symbol: symbol, Mode: models.FeedUnavailable, Err: err}
}

func (s *SoftSource) rememberClose(symbol string, price float64) {
	s.mu.Lock()
	s.lastClose[symbol] = price
	s.mu.Unlock()
}

func (s *SoftSource) anchor(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClose[symbol]
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// parseErr оборачивает ошибку разбора числа
func parseErr(field string, err error) error {
	return fmt.Errorf("%w: поле %s: %v", ErrMalformed, field, err)
}
