// Package presenter переводит состояние движка в подписи для HTTP и терминального интерфейса.
package presenter

import (
	"fmt"
	"time"

	"github.com/skalibog/confluence/pkg/models"
)

// NotAvailable подпись для отсутствующего значения
const NotAvailable = "N/A"

const timeLayout = "15:04:05"

// Presenter форматирует снимки в заданном часовом поясе
type Presenter struct {
	loc *time.Location
}

// New создает форматировщик для часового пояса (например, America/Sao_Paulo)
func New(timezone string) (*Presenter, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("неизвестный часовой пояс %q: %w", timezone, err)
	}
	return &Presenter{loc: loc}, nil
}

// SignalView сигнал с подписями
type SignalView struct {
	Instrument  string   `json:"instrument"`
	Label       string   `json:"label"`
	Direction   string   `json:"direction"`
	Score       string   `json:"score"`
	EntryPrice  string   `json:"entry_price"`
	RSI         string   `json:"rsi"`
	Time        string   `json:"time"`
	Mode        string   `json:"mode"`
	Blocked     bool     `json:"blocked"`
	Explanation []string `json:"explanation"`
}

// HistoryView строка истории
type HistoryView struct {
	Time       string `json:"time"`
	Instrument string `json:"instrument"`
	Direction  string `json:"direction"`
	Outcome    string `json:"outcome"`
	Win        bool   `json:"win"`
	Score      string `json:"score"`
	Diff       string `json:"diff"`
}

// StatsView статистика с процентом выигрышей строкой
type StatsView struct {
	Total   int    `json:"total"`
	Wins    int    `json:"wins"`
	Losses  int    `json:"losses"`
	WinRate string `json:"win_rate"`
}

// LastApprovedView последний принятый сигнал
type LastApprovedView struct {
	Time       string `json:"time"`
	Instrument string `json:"instrument"`
	Direction  string `json:"direction"`
}

// View снимок, готовый к отображению
type View struct {
	Cycle        uint64           `json:"cycle"`
	Current      SignalView       `json:"current"`
	Candidates   []SignalView     `json:"candidates"`
	History      []HistoryView    `json:"history"`
	Stats        StatsView        `json:"stats"`
	Pending      string           `json:"pending"`
	LastApproved LastApprovedView `json:"last_approved"`
}

// Build форматирует снимок. Не читает текущее время, поэтому одинаковые снимки дают одинаковый вид.
func (p *Presenter) Build(snap models.Snapshot) View {
	v := View{
		Cycle:   snap.Cycle,
		Current: p.Signal(snap.Current),
		History: make([]HistoryView, len(snap.History)),
		Stats:   Stats(snap.Stats),
		Pending: NotAvailable,
		LastApproved: LastApprovedView{
			Time:       NotAvailable,
			Instrument: NotAvailable,
			Direction:  NotAvailable,
		},
	}

	v.Candidates = make([]SignalView, len(snap.Candidates))
	for i, c := range snap.Candidates {
		v.Candidates[i] = p.Signal(c)
	}
	for i, h := range snap.History {
		v.History[i] = p.History(h)
	}
	if snap.Pending != nil {
		ps := snap.Pending.Signal
		v.Pending = fmt.Sprintf("%s %s @ %s", ps.Instrument, DirectionLabel(ps.Direction), formatPrice(ps.EntryPrice))
	}
	if la := snap.LastApproved; la != nil {
		v.LastApproved = LastApprovedView{
			Time:       p.Time(la.Timestamp),
			Instrument: la.Instrument,
			Direction:  DirectionLabel(la.Direction),
		}
	}
	return v
}

// Signal форматирует сигнал
func (p *Presenter) Signal(s models.Signal) SignalView {
	v := SignalView{
		Instrument:  s.Instrument,
		Label:       SignalLabel(s),
		Direction:   string(s.Direction),
		Score:       fmt.Sprintf("%.0f%%", s.Score),
		EntryPrice:  formatPrice(s.EntryPrice),
		RSI:         fmt.Sprintf("%.2f", s.Indicators.RSI),
		Time:        p.Time(s.Timestamp),
		Mode:        string(s.Mode),
		Blocked:     s.Blocked(),
		Explanation: Explain(s),
	}
	if s.Instrument == "" {
		v.Instrument = NotAvailable
	}
	if s.EntryPrice == 0 {
		v.EntryPrice = NotAvailable
	}
	return v
}

// History форматирует запись истории
func (p *Presenter) History(h models.HistoryEntry) HistoryView {
	diff := h.ExitPrice - h.EntryPrice
	sign := ""
	if diff >= 0 {
		sign = "+"
	}
	return HistoryView{
		Time:       p.Time(h.Timestamp),
		Instrument: h.Instrument,
		Direction:  DirectionLabel(h.Direction),
		Outcome:    OutcomeLabel(h.Outcome),
		Win:        h.Outcome.IsWin(),
		Score:      fmt.Sprintf("%.0f%%", h.Score),
		Diff:       fmt.Sprintf("%s%.5f", sign, diff),
	}
}

// Time время в настроенном часовом поясе
func (p *Presenter) Time(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	return t.In(p.loc).Format(timeLayout)
}

// Stats статистика с процентом выигрышей. Пустая история дает N/A.
func Stats(st models.Stats) StatsView {
	v := StatsView{Total: st.Total, Wins: st.Wins, Losses: st.Losses, WinRate: NotAvailable}
	if st.Total > 0 {
		v.WinRate = fmt.Sprintf("%.2f%%", st.WinRate)
	}
	return v
}

// OutcomeLabel подпись результата
func OutcomeLabel(o models.Outcome) string {
	switch o {
	case models.OutcomeWinTP:
		return "WIN ✅ (TP)"
	case models.OutcomeWinClose:
		return "WIN ✅"
	case models.OutcomeLossSL:
		return "LOSS ❌ (SL)"
	case models.OutcomeLossClose:
		return "LOSS ❌"
	default:
		return string(o)
	}
}

// DirectionLabel подпись направления
func DirectionLabel(d models.Direction) string {
	switch d {
	case models.DirectionBuy:
		return "ПОКУПКА"
	case models.DirectionSell:
		return "ПРОДАЖА"
	default:
		return "НЕЙТРАЛЬНО"
	}
}

// SignalLabel подпись сигнала с учетом заблокированного входа
func SignalLabel(s models.Signal) string {
	if s.Blocked() {
		return fmt.Sprintf("ВХОД ЗАБЛОКИРОВАН (%s)", DirectionLabel(s.Bias))
	}
	return DirectionLabel(s.Direction)
}

// Explain перечисляет сработавшие правила ведущего направления
func Explain(s models.Signal) []string {
	if s.Bias == models.DirectionNone {
		return []string{"Нет двух свечей подряд в одном направлении"}
	}

	var out []string
	if s.Rules.Momentum {
		if s.Bias == models.DirectionBuy {
			out = append(out, "Две бычьи свечи подряд")
		} else {
			out = append(out, "Две медвежьи свечи подряд")
		}
	}
	if s.Rules.BandTouch {
		if s.Bias == models.DirectionBuy {
			out = append(out, fmt.Sprintf("Касание нижней полосы Боллинджера (%s)", formatPrice(s.Indicators.Bollinger.Lower)))
		} else {
			out = append(out, fmt.Sprintf("Касание верхней полосы Боллинджера (%s)", formatPrice(s.Indicators.Bollinger.Upper)))
		}
	}
	if s.Rules.Oscillator {
		if s.Bias == models.DirectionBuy {
			out = append(out, fmt.Sprintf("RSI в зоне перепроданности (%.2f)", s.Indicators.RSI))
		} else {
			out = append(out, fmt.Sprintf("RSI в зоне перекупленности (%.2f)", s.Indicators.RSI))
		}
	}
	return out
}

func formatPrice(v float64) string {
	return fmt.Sprintf("%.5f", v)
}
