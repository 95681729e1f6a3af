package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/confluence/internal/analysis/confluence"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/internal/metrics"
	"github.com/skalibog/confluence/internal/storage"
	"github.com/skalibog/confluence/pkg/logger"
	"github.com/skalibog/confluence/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WindowSource отдает окно свечей инструмента, не возвращая ошибок
type WindowSource interface {
	Window(ctx context.Context, symbol, interval string, limit int) models.CandleWindow
}

// Analyzer оценивает все отслеживаемые инструменты и выбирает лучший сигнал
type Analyzer struct {
	source     WindowSource
	evaluator  *confluence.Evaluator
	journal    storage.Journal
	symbols    []string
	interval   string
	windowSize int
	maxWorkers int
	now        func() time.Time
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(cfg *config.Config, source WindowSource, journal storage.Journal) *Analyzer {
	if journal == nil {
		journal = storage.NopJournal{}
	}
	return &Analyzer{
		source:     source,
		evaluator:  confluence.NewEvaluator(cfg.Analysis, cfg.Trading.WindowSize),
		journal:    journal,
		symbols:    append([]string(nil), cfg.Trading.Symbols...),
		interval:   cfg.Trading.Interval,
		windowSize: cfg.Trading.WindowSize,
		maxWorkers: cfg.Analysis.MaxWorkers,
		now:        time.Now,
	}
}

// Symbols возвращает отслеживаемые инструменты в заданном порядке
func (a *Analyzer) Symbols() []string {
	return append([]string(nil), a.symbols...)
}

// Evaluate оценивает все инструменты параллельно (не больше maxWorkers одновременно).
// Ошибка возвращается только при отмене контекста.
func (a *Analyzer) Evaluate(ctx context.Context) (models.CycleResult, error) {
	candidates := make([]models.Signal, len(a.symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxWorkers)

	for i, symbol := range a.symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candidates[i] = a.evaluateSymbol(gctx, symbol)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return models.CycleResult{}, fmt.Errorf("оценка инструментов прервана: %w", err)
	}

	result := models.CycleResult{Best: best(candidates), Candidates: candidates}

	metrics.SignalsTotal.WithLabelValues(string(result.Best.Direction)).Inc()
	logger.Info("Лучший кандидат цикла",
		zap.String("symbol", result.Best.Instrument),
		zap.String("direction", string(result.Best.Direction)),
		zap.String("bias", string(result.Best.Bias)),
		zap.Float64("score", result.Best.Score))

	if result.Best.Direction != models.DirectionNone {
		if err := a.journal.SaveSignal(ctx, result.Best); err != nil {
			logger.Warn("Не удалось сохранить сигнал", zap.Error(err))
		}
	}

	return result, nil
}

// evaluateSymbol получает окно и оценивает его. Паника превращается в нейтральный сигнал.
func (a *Analyzer) evaluateSymbol(ctx context.Context, symbol string) (signal models.Signal) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Паника при оценке инструмента",
				zap.String("symbol", symbol),
				zap.Any("panic", r))
			signal = models.NeutralSignal(symbol, a.now())
		}
	}()

	window := a.source.Window(ctx, symbol, a.interval, a.windowSize)
	signal = a.evaluator.Evaluate(window)

	logger.Debug("AGGREGATOR: Инструмент оценен",
		zap.String("symbol", symbol),
		zap.String("mode", string(window.Mode)),
		zap.Int("candles", len(window.Candles)),
		zap.Float64("buy", signal.BuyScore),
		zap.Float64("sell", signal.SellScore),
		zap.Float64("rsi", signal.Indicators.RSI))
	return signal
}

// best выбирает сигнал с максимальным баллом. При равенстве побеждает первый по порядку инструмент.
func best(candidates []models.Signal) models.Signal {
	if len(candidates) == 0 {
		return models.NeutralSignal("", time.Time{})
	}
	top := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > top.Score {
			top = c
		}
	}
	return top
}
