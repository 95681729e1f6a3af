// Package state хранит текущий сигнал, историю проверок и отложенную проверку.
// Пишет только планировщик, читают HTTP, потоковые клиенты и терминальный интерфейс.
package state

import (
	"sync"
	"time"

	"github.com/skalibog/confluence/internal/metrics"
	"github.com/skalibog/confluence/pkg/models"
)

// Store единственный источник истины о состоянии движка
type Store struct {
	mu sync.RWMutex

	maxHistory int
	minScore   float64

	cycle        uint64
	current      models.Signal
	candidates   []models.Signal
	history      []models.HistoryEntry
	pending      *models.PendingCheck
	lastApproved *models.LastApproved
	graded       map[string]bool

	subMu  sync.Mutex
	subs   map[int]chan models.Snapshot
	nextID int
}

// NewStore создает хранилище. maxHistory ограничивает историю, minScore порог постановки на проверку.
func NewStore(maxHistory int, minScore float64) *Store {
	if maxHistory < 1 {
		maxHistory = 1
	}
	return &Store{
		maxHistory: maxHistory,
		minScore:   minScore,
		current:    models.NeutralSignal("", time.Time{}),
		graded:     make(map[string]bool),
		subs:       make(map[int]chan models.Snapshot),
	}
}

// Snapshot возвращает копию состояния. История от новых к старым.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.Snapshot {
	snap := models.Snapshot{
		Cycle:      s.cycle,
		Current:    s.current,
		Candidates: append([]models.Signal(nil), s.candidates...),
		History:    make([]models.HistoryEntry, len(s.history)),
		Stats:      models.ComputeStats(s.history),
	}
	for i, h := range s.history {
		snap.History[len(s.history)-1-i] = h
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	if s.lastApproved != nil {
		la := *s.lastApproved
		snap.LastApproved = &la
	}
	return snap
}

// Pending возвращает копию отложенной проверки, если она есть
func (s *Store) Pending() (models.PendingCheck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return models.PendingCheck{}, false
	}
	return *s.pending, true
}

// ResolvePending закрывает отложенную проверку вне полного цикла (например, если оценка не удалась).
// entry может быть nil, если проверка была пропущена.
func (s *Store) ResolvePending(entry *models.HistoryEntry) {
	s.mu.Lock()
	s.appendHistoryLocked(entry)
	s.pending = nil
	metrics.PendingChecks.Set(0)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// ApplyCycleResult записывает итог цикла: результат прошлой проверки, текущий сигнал и кандидатов.
// Если лучший сигнал прошел порог, его копия становится новой отложенной проверкой.
func (s *Store) ApplyCycleResult(result models.CycleResult, entry *models.HistoryEntry) {
	s.mu.Lock()
	s.appendHistoryLocked(entry)
	s.pending = nil

	s.cycle++
	s.current = result.Best
	s.candidates = append([]models.Signal(nil), result.Candidates...)

	if s.promotable(result.Best) {
		s.pending = &models.PendingCheck{Signal: result.Best}
		s.lastApproved = &models.LastApproved{
			Timestamp:  result.Best.Timestamp,
			Instrument: result.Best.Instrument,
			Direction:  result.Best.Direction,
			EntryPrice: result.Best.EntryPrice,
		}
		metrics.PendingChecks.Set(1)
	} else {
		metrics.PendingChecks.Set(0)
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *Store) promotable(sig models.Signal) bool {
	return sig.Direction != models.DirectionNone && sig.Score >= s.minScore
}

// appendHistoryLocked добавляет запись с вытеснением самой старой. Повторная запись по тому же сигналу игнорируется.
func (s *Store) appendHistoryLocked(entry *models.HistoryEntry) {
	if entry == nil {
		return
	}
	if entry.SignalID != "" {
		if s.graded[entry.SignalID] {
			return
		}
		s.graded[entry.SignalID] = true
	}

	s.history = append(s.history, *entry)
	if over := len(s.history) - s.maxHistory; over > 0 {
		for _, old := range s.history[:over] {
			delete(s.graded, old.SignalID)
		}
		s.history = append([]models.HistoryEntry(nil), s.history[over:]...)
	}
}

// Subscribe подписывает на снимки после каждой записи. Медленный подписчик пропускает снимки.
// cancel нужно вызвать для освобождения подписки.
func (s *Store) Subscribe(buffer int) (<-chan models.Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.Snapshot, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(snap models.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
