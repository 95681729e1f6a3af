package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/internal/presenter"
	"github.com/skalibog/confluence/pkg/models"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("#222222"))
)

const maxLogLines = 50

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// SnapshotSource источник снимков состояния
type SnapshotSource interface {
	Snapshot() models.Snapshot
	Subscribe(buffer int) (<-chan models.Snapshot, func())
}

// TermUI терминальная панель сигналов, истории и логов
type TermUI struct {
	store     SnapshotSource
	presenter *presenter.Presenter
	refresh   time.Duration
	logFile   string
}

// NewTermUI создает терминальный интерфейс. logFile JSON-лог, который показывается внизу панели.
func NewTermUI(cfg config.UIConfig, store SnapshotSource, p *presenter.Presenter, logFile string) *TermUI {
	refresh := time.Duration(cfg.RefreshRate) * time.Millisecond
	if refresh <= 0 {
		refresh = time.Second
	}
	return &TermUI{
		store:     store,
		presenter: p,
		refresh:   refresh,
		logFile:   logFile,
	}
}

// Run запускает интерфейс и блокируется до выхода пользователя или отмены контекста
func (ui *TermUI) Run(ctx context.Context) error {
	updates, cancel := ui.store.Subscribe(4)
	defer cancel()

	m := newModel(ui, updates)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

// Сообщения для обновления UI
type snapshotMsg models.Snapshot
type tickMsg struct{}

// model модель bubbletea
type model struct {
	ui            *TermUI
	updates       <-chan models.Snapshot
	view          presenter.View
	logs          []string
	selectedIndex int
	width         int
	height        int
}

func newModel(ui *TermUI, updates <-chan models.Snapshot) model {
	return model{
		ui:      ui,
		updates: updates,
		view:    ui.presenter.Build(ui.store.Snapshot()),
		logs:    []string{"Движок запущен. Ожидание первого цикла..."},
		width:   120,
		height:  40,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.updates), tick(m.ui.refresh))
}

func waitForSnapshot(updates <-chan models.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.selectedIndex = max(0, m.selectedIndex-1)
		case "down":
			m.selectedIndex = min(max(len(m.view.Candidates)-1, 0), m.selectedIndex+1)
		case "r":
			m.logs = m.ui.readLogs(m.logs)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		m.view = m.ui.presenter.Build(models.Snapshot(msg))
		return m, waitForSnapshot(m.updates)

	case tickMsg:
		m.logs = m.ui.readLogs(m.logs)
		return m, tick(m.ui.refresh)
	}

	return m, nil
}

func (m model) View() string {
	title := titleStyle.Render(fmt.Sprintf("CONFLUENCE - сигналы конфлюенции (цикл %d)", m.view.Cycle))
	footer := footerStyle.Render("Клавиши: ↑/↓ - навигация, R - перезагрузить логи, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			renderCurrentSection(m.view),
			"\n",
			renderCandidatesSection(m.view.Candidates, m.selectedIndex),
			"\n",
			renderHistorySection(m.view),
			"\n",
			renderLogsSection(m.logs),
			"\n",
			footer,
		),
	)
}

func renderCurrentSection(v presenter.View) string {
	var content strings.Builder
	cur := v.Current
	content.WriteString(fmt.Sprintf("  %s %s  Балл: %s  Цена: %s  RSI: %s  [%s %s]\n",
		cur.Instrument, formatLabel(cur), cur.Score, cur.EntryPrice, cur.RSI, cur.Time, cur.Mode))
	for _, e := range cur.Explanation {
		content.WriteString("    • " + e + "\n")
	}
	content.WriteString(fmt.Sprintf("  Ожидает проверки: %s\n", v.Pending))
	content.WriteString(fmt.Sprintf("  Последний вход: %s %s %s\n",
		v.LastApproved.Time, v.LastApproved.Instrument, v.LastApproved.Direction))

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ТЕКУЩИЙ СИГНАЛ"), content.String()))
}

func renderCandidatesSection(candidates []presenter.SignalView, selectedIndex int) string {
	var content strings.Builder
	if len(candidates) == 0 {
		content.WriteString("  Ожидание данных...\n")
	}
	for i, c := range candidates {
		line := fmt.Sprintf("  %-10s %s (%s) Цена: %s RSI: %s", c.Instrument, formatLabel(c), c.Score, c.EntryPrice, c.RSI)
		if i == selectedIndex {
			line = selectedStyle.Render("> " + line[2:])
		}
		content.WriteString(line + "\n")
	}
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ИНСТРУМЕНТЫ"), content.String()))
}

func renderHistorySection(v presenter.View) string {
	var content strings.Builder
	content.WriteString(fmt.Sprintf("  Всего: %d  Выигрыши: %d  Проигрыши: %d  Процент: %s\n",
		v.Stats.Total, v.Stats.Wins, v.Stats.Losses, v.Stats.WinRate))
	for _, h := range v.History {
		style := lipgloss.NewStyle().Foreground(errorColor)
		if h.Win {
			style = lipgloss.NewStyle().Foreground(successColor)
		}
		content.WriteString(fmt.Sprintf("  [%s] %s %s -> %s (Балл: %s. Разница: %s)\n",
			h.Time, h.Instrument, h.Direction, style.Render(h.Outcome), h.Score, h.Diff))
	}
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ИСТОРИЯ"), content.String()))
}

func renderLogsSection(logs []string) string {
	var content strings.Builder

	maxLogsToShow := 8
	start := 0
	if len(logs) > maxLogsToShow {
		start = len(logs) - maxLogsToShow
	}

	for _, log := range logs[start:] {
		// Выделение по уровню логирования
		switch {
		case strings.Contains(log, "[ERROR]"):
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		case strings.Contains(log, "[INFO]"):
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		case strings.Contains(log, "[WARN]"):
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		case strings.Contains(log, "[DEBUG]"):
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}
		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ЛОГИ"), content.String()))
}

func formatLabel(s presenter.SignalView) string {
	var style lipgloss.Style
	switch {
	case s.Blocked:
		style = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	case s.Direction == string(models.DirectionBuy):
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case s.Direction == string(models.DirectionSell):
		style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
	}
	return style.Render(s.Label)
}

// readLogs читает последние строки JSON-лога. При ошибке возвращает прежние строки.
func (ui *TermUI) readLogs(prev []string) []string {
	if ui.logFile == "" {
		return prev
	}
	file, err := os.Open(ui.logFile)
	if err != nil {
		return prev
	}
	defer file.Close()

	logs, err := parseLogLines(file)
	if err != nil || len(logs) == 0 {
		return prev
	}
	return logs
}

// parseLogLines разбирает JSON-строки zap в короткие строки вида "[15:04:05] [INFO] сообщение (поле: значение)"
func parseLogLines(f *os.File) ([]string, error) {
	scanner := bufio.NewScanner(f)
	var logs []string

	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > maxLogLines {
			logs = logs[1:]
		}
	}
	return logs, scanner.Err()
}

func formatLogLine(line string) string {
	var zapLog map[string]interface{}
	if err := json.Unmarshal([]byte(line), &zapLog); err != nil {
		return line
	}

	level, _ := zapLog["level"].(string)
	ts, _ := zapLog["ts"].(string)
	msg, _ := zapLog["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	formatted := fmt.Sprintf("[%s] [%s] %s", timestamp, level, msg)

	keys := make([]string, 0, len(zapLog))
	for k := range zapLog {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		formatted += fmt.Sprintf(" (%s: %v)", k, zapLog[k])
	}
	return formatted
}
