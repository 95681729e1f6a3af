package models

import (
	"time"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Bullish сообщает, закрылась ли свеча выше открытия
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish сообщает, закрылась ли свеча ниже открытия
func (c Candle) Bearish() bool { return c.Close < c.Open }

// FeedMode показывает, откуда взялись свечи окна
type FeedMode string

const (
	FeedLive        FeedMode = "live"
	FeedSynthetic   FeedMode = "synthetic"
	FeedUnavailable FeedMode = "unavailable"
)

// CandleWindow окно свечей одного инструмента (от старых к новым) вместе с режимом источника
type CandleWindow struct {
	Symbol  string
	Candles []Candle
	Mode    FeedMode
	// Err причина деградации, если Mode != FeedLive
	Err error
}

// Last возвращает последнюю свечу окна
func (w CandleWindow) Last() (Candle, bool) {
	if len(w.Candles) == 0 {
		return Candle{}, false
	}
	return w.Candles[len(w.Candles)-1], true
}

// Bands полосы Боллинджера
type Bands struct {
	Upper float64 `json:"upper"`
	Mid   float64 `json:"mid"`
	Lower float64 `json:"lower"`
}

// IndicatorSnapshot значения индикаторов на последней свече окна
type IndicatorSnapshot struct {
	RSI       float64 `json:"rsi"`
	Bollinger Bands   `json:"bollinger"`
}

// Direction направление сигнала
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionNone Direction = "NONE"
)

// Rules какие правила конфлюенции сработали для ведущего направления
type Rules struct {
	Momentum   bool `json:"momentum"`
	BandTouch  bool `json:"band_touch"`
	Oscillator bool `json:"oscillator"`
}

// Passed количество сработавших правил
func (r Rules) Passed() int {
	n := 0
	for _, ok := range []bool{r.Momentum, r.BandTouch, r.Oscillator} {
		if ok {
			n++
		}
	}
	return n
}

// Signal результат оценки одного инструмента за цикл
type Signal struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	// Bias ведущее направление, даже если балл ниже порога
	Bias       Direction         `json:"bias"`
	Score      float64           `json:"score"`
	BuyScore   float64           `json:"buy_score"`
	SellScore  float64           `json:"sell_score"`
	Rules      Rules             `json:"rules"`
	Indicators IndicatorSnapshot `json:"indicators"`
	EntryPrice float64           `json:"entry_price"`
	CandleTime time.Time         `json:"candle_time"`
	Timestamp  time.Time         `json:"timestamp"`
	Mode       FeedMode          `json:"mode"`
}

// Blocked сообщает, что у сигнала есть ведущее направление, но балл не дотянул до порога
func (s Signal) Blocked() bool {
	return s.Direction == DirectionNone && s.Bias != DirectionNone && s.Score > 0
}

// NeutralSignal сигнал без направления для инструмента
func NeutralSignal(instrument string, ts time.Time) Signal {
	return Signal{
		Instrument: instrument,
		Direction:  DirectionNone,
		Bias:       DirectionNone,
		Timestamp:  ts,
		Mode:       FeedUnavailable,
	}
}

// CycleResult итог оценки всех инструментов за цикл
type CycleResult struct {
	Best       Signal   `json:"best"`
	Candidates []Signal `json:"candidates"`
}

// PendingCheck копия сигнала, ожидающая оценки результата на следующем шаге
type PendingCheck struct {
	Signal Signal `json:"signal"`
}

// Outcome результат сделки
type Outcome string

const (
	OutcomeWinTP     Outcome = "WIN_TP"
	OutcomeWinClose  Outcome = "WIN_CLOSE"
	OutcomeLossSL    Outcome = "LOSS_SL"
	OutcomeLossClose Outcome = "LOSS_CLOSE"
)

// IsWin сообщает, считается ли результат выигрышем
func (o Outcome) IsWin() bool {
	return o == OutcomeWinTP || o == OutcomeWinClose
}

// HistoryEntry оцененная сделка
type HistoryEntry struct {
	ID         string    `json:"id"`
	SignalID   string    `json:"signal_id"`
	Timestamp  time.Time `json:"timestamp"`
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Score      float64   `json:"score"`
	Outcome    Outcome   `json:"outcome"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	GradedAt   time.Time `json:"graded_at"`
	Mode       FeedMode  `json:"mode"`
}

// Stats агрегированная статистика по истории
type Stats struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
}

// ComputeStats считает статистику по истории
func ComputeStats(history []HistoryEntry) Stats {
	var st Stats
	for _, h := range history {
		st.Total++
		if h.Outcome.IsWin() {
			st.Wins++
		}
	}
	st.Losses = st.Total - st.Wins
	if st.Total > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Total) * 100
	}
	return st
}

// LastApproved последний сигнал, прошедший порог
type LastApproved struct {
	Timestamp  time.Time `json:"timestamp"`
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
}

// Snapshot согласованный срез состояния для слоя представления
type Snapshot struct {
	Cycle        uint64         `json:"cycle"`
	Current      Signal         `json:"current"`
	Candidates   []Signal       `json:"candidates"`
	History      []HistoryEntry `json:"history"`
	Stats        Stats          `json:"stats"`
	Pending      *PendingCheck  `json:"pending,omitempty"`
	LastApproved *LastApproved  `json:"last_approved,omitempty"`
}

// IntervalDuration конвертирует строковый интервал в duration
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m", "1min":
		return time.Minute
	case "3m", "3min":
		return 3 * time.Minute
	case "5m", "5min":
		return 5 * time.Minute
	case "15m", "15min":
		return 15 * time.Minute
	case "30m", "30min":
		return 30 * time.Minute
	case "1h", "1hour":
		return time.Hour
	case "2h", "2hour":
		return 2 * time.Hour
	case "4h", "4hour":
		return 4 * time.Hour
	case "6h", "6hour":
		return 6 * time.Hour
	case "8h", "8hour":
		return 8 * time.Hour
	case "12h", "12hour":
		return 12 * time.Hour
	case "1d", "1day":
		return 24 * time.Hour
	case "3d":
		return 72 * time.Hour
	case "1w", "1week":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}
