// Package grading проверяет результат сигнала на следующей свече: тейк-профит, стоп-лосс или закрытие.
package grading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/internal/metrics"
	"github.com/skalibog/confluence/internal/storage"
	"github.com/skalibog/confluence/pkg/logger"
	"github.com/skalibog/confluence/pkg/models"
	"go.uber.org/zap"
)

// WindowSource отдает окно свечей инструмента, не возвращая ошибок
type WindowSource interface {
	Window(ctx context.Context, symbol, interval string, limit int) models.CandleWindow
}

// Grader оценивает отложенные сигналы
type Grader struct {
	source         WindowSource
	journal        storage.Journal
	interval       string
	window         int
	slTp           decimal.Decimal
	minScore       float64
	gradeSynthetic bool
	now            func() time.Time
}

// NewGrader создает проверяющего
func NewGrader(cfg *config.Config, source WindowSource, journal storage.Journal) *Grader {
	if journal == nil {
		journal = storage.NopJournal{}
	}
	return &Grader{
		source:         source,
		journal:        journal,
		interval:       cfg.Trading.Interval,
		window:         cfg.Grading.Window,
		slTp:           decimal.NewFromFloat(cfg.Grading.SLTPPercent),
		minScore:       cfg.Analysis.MinScore,
		gradeSynthetic: cfg.Grading.GradeSynthetic,
		now:            time.Now,
	}
}

// Grade оценивает отложенный сигнал. Возвращает nil без ошибки, если проверка пропущена.
func (g *Grader) Grade(ctx context.Context, pending models.PendingCheck) (*models.HistoryEntry, error) {
	sig := pending.Signal

	if sig.Direction == models.DirectionNone || sig.Instrument == "" {
		return g.skip("no_direction", sig), nil
	}
	if sig.Score < g.minScore {
		return g.skip("below_threshold", sig), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	window := g.source.Window(ctx, sig.Instrument, g.interval, g.window)
	candle, ok := window.Last()
	if !ok || window.Mode == models.FeedUnavailable {
		return g.skip("no_data", sig), nil
	}
	if window.Mode == models.FeedSynthetic && !g.gradeSynthetic {
		return g.skip("synthetic", sig), nil
	}
	// свеча входа или более ранняя: новой свечи еще нет
	if !candle.OpenTime.After(sig.CandleTime) {
		return g.skip("stale", sig), nil
	}

	outcome := Classify(sig.Direction, sig.EntryPrice, candle, g.slTp)

	entry := &models.HistoryEntry{
		ID:         uuid.NewString(),
		SignalID:   sig.ID,
		Timestamp:  sig.Timestamp,
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
		Score:      sig.Score,
		Outcome:    outcome,
		EntryPrice: sig.EntryPrice,
		ExitPrice:  candle.Close,
		GradedAt:   g.now(),
		Mode:       window.Mode,
	}

	metrics.GradesTotal.WithLabelValues(string(outcome)).Inc()
	logger.Info("Результат сигнала",
		zap.String("symbol", entry.Instrument),
		zap.String("direction", string(entry.Direction)),
		zap.String("outcome", string(outcome)),
		zap.Float64("entry", entry.EntryPrice),
		zap.Float64("exit", entry.ExitPrice))

	if err := g.journal.SaveOutcome(ctx, *entry); err != nil {
		logger.Warn("Не удалось сохранить результат", zap.Error(err))
	}
	return entry, nil
}

func (g *Grader) skip(reason string, sig models.Signal) *models.HistoryEntry {
	metrics.GradesSkipped.WithLabelValues(reason).Inc()
	logger.Debug("Проверка сигнала пропущена",
		zap.String("reason", reason),
		zap.String("symbol", sig.Instrument),
		zap.String("direction", string(sig.Direction)))
	return nil
}

// Classify определяет результат по свече. Тейк-профит проверяется раньше стоп-лосса,
// затем сравнивается закрытие с ценой входа. Для направления NONE результат пустой.
func Classify(direction models.Direction, entryPrice float64, candle models.Candle, slTp decimal.Decimal) models.Outcome {
	entry := decimal.NewFromFloat(entryPrice)
	up := entry.Mul(decimal.NewFromInt(1).Add(slTp))
	down := entry.Mul(decimal.NewFromInt(1).Sub(slTp))

	high := decimal.NewFromFloat(candle.High)
	low := decimal.NewFromFloat(candle.Low)
	closePrice := decimal.NewFromFloat(candle.Close)

	switch direction {
	case models.DirectionBuy:
		switch {
		case high.GreaterThanOrEqual(up):
			return models.OutcomeWinTP
		case low.LessThanOrEqual(down):
			return models.OutcomeLossSL
		case closePrice.GreaterThan(entry):
			return models.OutcomeWinClose
		default:
			return models.OutcomeLossClose
		}
	case models.DirectionSell:
		switch {
		case low.LessThanOrEqual(down):
			return models.OutcomeWinTP
		case high.GreaterThanOrEqual(up):
			return models.OutcomeLossSL
		case closePrice.LessThan(entry):
			return models.OutcomeWinClose
		default:
			return models.OutcomeLossClose
		}
	default:
		return ""
	}
}
