// Package scheduler запускает циклы проверки и оценки, выровненные по границам расписания.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/robfig/cron/v3"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/internal/metrics"
	"github.com/skalibog/confluence/pkg/logger"
	"github.com/skalibog/confluence/pkg/models"
	"go.uber.org/zap"
)

// Phase фаза текущего цикла
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseGrading
	PhaseEvaluating
	PhasePromoting
)

func (p Phase) String() string {
	switch p {
	case PhaseGrading:
		return "GRADING"
	case PhaseEvaluating:
		return "EVALUATING"
	case PhasePromoting:
		return "PROMOTING"
	default:
		return "IDLE"
	}
}

// Evaluator оценивает все инструменты
type Evaluator interface {
	Evaluate(ctx context.Context) (models.CycleResult, error)
}

// Grader проверяет отложенный сигнал
type Grader interface {
	Grade(ctx context.Context, pending models.PendingCheck) (*models.HistoryEntry, error)
}

// Store хранилище состояния, в которое пишет только планировщик
type Store interface {
	Pending() (models.PendingCheck, bool)
	ResolvePending(entry *models.HistoryEntry)
	ApplyCycleResult(result models.CycleResult, entry *models.HistoryEntry)
}

// Status состояние планировщика для страницы статуса
type Status struct {
	Phase        string        `json:"phase"`
	Cycles       uint64        `json:"cycles"`
	Failures     uint64        `json:"failures"`
	LastCycleAt  time.Time     `json:"last_cycle_at"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	NextRunAt    time.Time     `json:"next_run_at"`
}

// Scheduler выполняет циклы: сначала проверка прошлого сигнала, затем оценка следующего
type Scheduler struct {
	evaluator Evaluator
	grader    Grader
	store     Store

	schedule     cron.Schedule
	startupDelay time.Duration
	minScore     float64
	backoff      *backoff.Backoff

	phase atomic.Int32

	mu     sync.Mutex
	status Status

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New создает планировщик
func New(cfg *config.Config, evaluator Evaluator, grader Grader, store Store) (*Scheduler, error) {
	schedule, err := config.CronParser.Parse(cfg.Scheduler.Schedule)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора расписания %q: %w", cfg.Scheduler.Schedule, err)
	}

	return &Scheduler{
		evaluator:    evaluator,
		grader:       grader,
		store:        store,
		schedule:     schedule,
		startupDelay: cfg.Scheduler.StartupDelay,
		minScore:     cfg.Analysis.MinScore,
		backoff: &backoff.Backoff{
			Min:    cfg.Scheduler.BackoffMin,
			Max:    cfg.Scheduler.BackoffMax,
			Factor: 2,
		},
		now:   time.Now,
		sleep: sleepContext,
	}, nil
}

// Phase текущая фаза цикла
func (s *Scheduler) Phase() Phase {
	return Phase(s.phase.Load())
}

// Status копия состояния планировщика
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Phase = s.Phase().String()
	return st
}

// Run выполняет циклы до отмены контекста. После успешного цикла ждет следующую границу расписания,
// после сбоя ждет по экспоненциальной задержке.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("Планировщик запущен", zap.Duration("startup_delay", s.startupDelay))

	if err := s.sleep(ctx, s.startupDelay); err != nil {
		return err
	}

	for {
		start := s.now()
		err := s.RunCycle(ctx)
		elapsed := s.now().Sub(start)

		if ctx.Err() != nil {
			logger.Info("Планировщик остановлен")
			return ctx.Err()
		}

		var wait time.Duration
		if err != nil {
			wait = s.backoff.Duration()
			metrics.CyclesTotal.WithLabelValues("error").Inc()
			logger.Error("Ошибка цикла анализа",
				zap.Error(err),
				zap.Duration("backoff", wait))
		} else {
			s.backoff.Reset()
			metrics.CyclesTotal.WithLabelValues("ok").Inc()
			metrics.CycleDuration.Observe(elapsed.Seconds())
			wait = s.untilNextBoundary()
		}

		s.recordCycle(start, elapsed, err, wait)

		if err := s.sleep(ctx, wait); err != nil {
			logger.Info("Планировщик остановлен")
			return err
		}
	}
}

// RunCycle выполняет один цикл. Паника внутри цикла возвращается как ошибка.
// Если проверка прошлого сигнала выполнена, а оценка не удалась, проверка все равно закрывается.
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	defer s.phase.Store(int32(PhaseIdle))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Паника в цикле анализа",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("паника в цикле: %v", r)
		}
	}()

	var (
		entry    *models.HistoryEntry
		graded   bool
		resolved bool
	)
	defer func() {
		if graded && !resolved {
			s.store.ResolvePending(entry)
		}
	}()

	if pending, ok := s.store.Pending(); ok {
		s.phase.Store(int32(PhaseGrading))
		graded = true

		var gerr error
		entry, gerr = s.grader.Grade(ctx, pending)
		if gerr != nil {
			if errors.Is(gerr, context.Canceled) {
				return gerr
			}
			logger.Warn("Ошибка проверки сигнала",
				zap.String("symbol", pending.Signal.Instrument),
				zap.Error(gerr))
			entry = nil
		}
	}

	s.phase.Store(int32(PhaseEvaluating))
	result, err := s.evaluator.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("ошибка оценки: %w", err)
	}

	if result.Best.Direction != models.DirectionNone && result.Best.Score >= s.minScore {
		s.phase.Store(int32(PhasePromoting))
	}
	s.store.ApplyCycleResult(result, entry)
	resolved = true

	return nil
}

func (s *Scheduler) untilNextBoundary() time.Duration {
	now := s.now()
	return s.schedule.Next(now).Sub(now)
}

func (s *Scheduler) recordCycle(start time.Time, elapsed time.Duration, err error, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastCycleAt = start
	s.status.LastDuration = elapsed
	s.status.NextRunAt = s.now().Add(wait)
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
		return
	}
	s.status.Cycles++
	s.status.LastError = ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
