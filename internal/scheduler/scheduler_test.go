package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/internal/state"
	"github.com/skalibog/confluence/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeEvaluator struct {
	log     *callLog
	results []models.Signal
	panicAt map[int]bool
	errAt   map[int]bool
	n       int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context) (models.CycleResult, error) {
	i := f.n
	f.n++
	f.log.add("evaluate")
	if f.panicAt[i] {
		panic("evaluator exploded")
	}
	if f.errAt[i] {
		return models.CycleResult{}, errors.New("upstream gone")
	}
	sig := models.NeutralSignal("BTC-USDT", time.Time{})
	if i < len(f.results) {
		sig = f.results[i]
	}
	return models.CycleResult{Best: sig, Candidates: []models.Signal{sig}}, nil
}

type fakeGrader struct {
	log *callLog
	err error
}

func (f *fakeGrader) Grade(_ context.Context, p models.PendingCheck) (*models.HistoryEntry, error) {
	f.log.add("grade:" + p.Signal.ID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.HistoryEntry{
		ID:         "h-" + p.Signal.ID,
		SignalID:   p.Signal.ID,
		Instrument: p.Signal.Instrument,
		Direction:  p.Signal.Direction,
		Score:      p.Signal.Score,
		Outcome:    models.OutcomeWinTP,
	}, nil
}

func buy(id string) models.Signal {
	return models.Signal{ID: id, Instrument: "BTC-USDT", Direction: models.DirectionBuy, Bias: models.DirectionBuy, Score: 100, EntryPrice: 100}
}

func newTestScheduler(t *testing.T, ev Evaluator, gr Grader, st Store) *Scheduler {
	t.Helper()
	cfg := config.Default()
	cfg.Scheduler.StartupDelay = 0
	s, err := New(cfg, ev, gr, st)
	require.NoError(t, err)
	return s
}

func TestGradingPrecedesEvaluation(t *testing.T) {
	log := &callLog{}
	store := state.NewStore(10, 80)
	ev := &fakeEvaluator{log: log, results: []models.Signal{buy("a"), buy("b"), models.NeutralSignal("BTC-USDT", time.Time{})}}
	s := newTestScheduler(t, ev, &fakeGrader{log: log}, store)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RunCycle(context.Background()))
	}

	assert.Equal(t, []string{"evaluate", "grade:a", "evaluate", "grade:b", "evaluate"}, log.get())

	snap := store.Snapshot()
	assert.Nil(t, snap.Pending)
	require.Len(t, snap.History, 2)
	assert.Equal(t, "b", snap.History[0].SignalID)
	assert.Equal(t, "a", snap.History[1].SignalID)
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestPendingResolvedWhenEvaluationPanics(t *testing.T) {
	log := &callLog{}
	store := state.NewStore(10, 80)
	ev := &fakeEvaluator{log: log, results: []models.Signal{buy("a")}, panicAt: map[int]bool{1: true}}
	s := newTestScheduler(t, ev, &fakeGrader{log: log}, store)

	require.NoError(t, s.RunCycle(context.Background()))
	_, ok := store.Pending()
	require.True(t, ok)

	err := s.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluator exploded")

	_, ok = store.Pending()
	assert.False(t, ok)
	assert.Len(t, store.Snapshot().History, 1)

	// следующий цикл не проверяет тот же сигнал повторно
	require.NoError(t, s.RunCycle(context.Background()))
	assert.Equal(t, []string{"evaluate", "grade:a", "evaluate", "evaluate"}, log.get())
}

func TestPendingResolvedWhenEvaluationFails(t *testing.T) {
	log := &callLog{}
	store := state.NewStore(10, 80)
	ev := &fakeEvaluator{log: log, results: []models.Signal{buy("a")}, errAt: map[int]bool{1: true}}
	s := newTestScheduler(t, ev, &fakeGrader{log: log}, store)

	require.NoError(t, s.RunCycle(context.Background()))
	require.Error(t, s.RunCycle(context.Background()))

	_, ok := store.Pending()
	assert.False(t, ok)
	assert.Len(t, store.Snapshot().History, 1)
}

func TestGraderErrorDoesNotAbortCycle(t *testing.T) {
	log := &callLog{}
	store := state.NewStore(10, 80)
	ev := &fakeEvaluator{log: log, results: []models.Signal{buy("a"), buy("b")}}
	s := newTestScheduler(t, ev, &fakeGrader{log: log, err: errors.New("no candle")}, store)

	require.NoError(t, s.RunCycle(context.Background()))
	require.NoError(t, s.RunCycle(context.Background()))

	p, ok := store.Pending()
	require.True(t, ok)
	assert.Equal(t, "b", p.Signal.ID)
	assert.Empty(t, store.Snapshot().History)
}

func TestRunAlignsToBoundaryAndBacksOff(t *testing.T) {
	log := &callLog{}
	store := state.NewStore(10, 80)
	ev := &fakeEvaluator{log: log, panicAt: map[int]bool{1: true, 2: true}}
	s := newTestScheduler(t, ev, &fakeGrader{log: log}, store)

	now := time.Date(2024, 1, 1, 12, 0, 42, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 6 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// стартовая задержка, граница минуты, две задержки после сбоев, сброс и снова граница
	require.Len(t, sleeps, 6)
	assert.Equal(t, time.Duration(0), sleeps[0])
	assert.Equal(t, 18*time.Second, sleeps[1])
	assert.Equal(t, 5*time.Second, sleeps[2])
	assert.Equal(t, 10*time.Second, sleeps[3])
	assert.Equal(t, 18*time.Second, sleeps[4])
	assert.Equal(t, 18*time.Second, sleeps[5])

	st := s.Status()
	assert.Equal(t, uint64(3), st.Cycles)
	assert.Equal(t, uint64(2), st.Failures)
	assert.Equal(t, "IDLE", st.Phase)
}

func TestRunStopsOnCancel(t *testing.T) {
	log := &callLog{}
	s := newTestScheduler(t, &fakeEvaluator{log: log}, &fakeGrader{log: log}, state.NewStore(10, 80))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("планировщик не остановился")
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.Schedule = "not a cron"
	_, err := New(cfg, nil, nil, nil)
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "IDLE", PhaseIdle.String())
	assert.Equal(t, "GRADING", PhaseGrading.String())
	assert.Equal(t, "EVALUATING", PhaseEvaluating.String())
	assert.Equal(t, "PROMOTING", PhasePromoting.String())
}
