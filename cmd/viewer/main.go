// Package main is a terminal viewer for stored split-adjusted price history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"PriceKeeper/internal/config"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/query"
	"PriceKeeper/internal/service"
	"PriceKeeper/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).MarginTop(1)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// statTemplates are shown above the table.
var statTemplates = []string{"latest_close", "period_return", "sma_20", "sma_50", "rsi_14", "daily_volatility", "range_position_52w"}

type viewModel struct {
	svc     *service.Service
	limit   int
	symbols []model.TrackedSymbol
	active  int
	table   table.Model
	stats   map[string]query.Result
	loaded  time.Time
	err     error
}

type seriesMsg struct {
	symbol string
	bars   []model.AdjustedPriceRecord
	stats  map[string]query.Result
	err    error
}

type trackedMsg struct {
	symbols []model.TrackedSymbol
	err     error
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	limit := flag.Int("n", 250, "bars to show")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}
	svc, err := service.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("[FATAL] open: %v", err)
	}
	defer svc.Close()

	p := tea.NewProgram(newViewModel(svc, *limit), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running viewer: %v\n", err)
		os.Exit(1)
	}
}

func newViewModel(svc *service.Service, limit int) viewModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Date", Width: 10},
			{Title: "Open", Width: 10},
			{Title: "High", Width: 10},
			{Title: "Low", Width: 10},
			{Title: "Close", Width: 10},
			{Title: "Chg %", Width: 8},
			{Title: "Volume", Width: 12},
			{Title: "Factor", Width: 7},
		}),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#7D56F4")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4")).
		Bold(false)
	t.SetStyles(s)

	return viewModel{svc: svc, limit: limit, table: t}
}

func (m viewModel) Init() tea.Cmd {
	return loadTracked(m.svc)
}

func loadTracked(svc *service.Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		symbols, err := svc.Tracked(ctx)
		return trackedMsg{symbols: symbols, err: err}
	}
}

func loadSeries(svc *service.Service, symbol string, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		bars, err := svc.HistoricalSeries(ctx, symbol, store.Range{}, limit)
		if err != nil {
			return seriesMsg{symbol: symbol, err: err}
		}
		named := make(map[string]string, len(statTemplates))
		for _, name := range statTemplates {
			if tpl, ok := query.LookupTemplate(name); ok {
				named[name] = tpl.Expression
			}
		}
		stats, err := svc.EvaluateMany(ctx, symbol, named, store.Range{}, limit)
		return seriesMsg{symbol: symbol, bars: bars, stats: stats, err: err}
	}
}

func (m viewModel) current() string {
	if len(m.symbols) == 0 {
		return ""
	}
	return m.symbols[m.active].Symbol
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			if len(m.symbols) > 0 {
				m.active = (m.active + 1) % len(m.symbols)
				return m, loadSeries(m.svc, m.current(), m.limit)
			}
		case "shift+tab", "left", "h":
			if len(m.symbols) > 0 {
				m.active = (m.active + len(m.symbols) - 1) % len(m.symbols)
				return m, loadSeries(m.svc, m.current(), m.limit)
			}
		case "r":
			if sym := m.current(); sym != "" {
				return m, loadSeries(m.svc, sym, m.limit)
			}
		}

	case tea.WindowSizeMsg:
		if h := msg.Height - 14; h > 5 {
			m.table.SetHeight(h)
		}

	case trackedMsg:
		m.symbols, m.err = msg.symbols, msg.err
		if sym := m.current(); sym != "" {
			return m, loadSeries(m.svc, sym, m.limit)
		}

	case seriesMsg:
		if msg.symbol != m.current() {
			return m, nil
		}
		m.err = msg.err
		m.stats = msg.stats
		m.table.SetRows(barRows(msg.bars))
		m.table.GotoTop()
		m.loaded = time.Now()
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// barRows renders newest-first bars with the change versus the previous session.
func barRows(bars []model.AdjustedPriceRecord) []table.Row {
	rows := make([]table.Row, len(bars))
	for i, b := range bars {
		chg := ""
		if i+1 < len(bars) && bars[i+1].Close > 0 {
			chg = fmt.Sprintf("%+.2f", (b.Close-bars[i+1].Close)/bars[i+1].Close*100)
		}
		rows[i] = table.Row{
			b.Date.String(),
			fmt.Sprintf("%.2f", b.Open),
			fmt.Sprintf("%.2f", b.High),
			fmt.Sprintf("%.2f", b.Low),
			fmt.Sprintf("%.2f", b.Close),
			chg,
			fmt.Sprintf("%d", b.Volume),
			fmt.Sprintf("%g", b.AdjustmentFactor),
		}
	}
	return rows
}

func (m viewModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("PriceKeeper"))
	b.WriteString("\n\n")

	if len(m.symbols) == 0 {
		if m.err != nil {
			b.WriteString(errStyle.Render(m.err.Error()))
		} else {
			b.WriteString("No tracked symbols. Use `pricekeeper track SYMBOL`.")
		}
		b.WriteString(helpStyle.Render("\nq: quit"))
		return b.String()
	}

	tabs := make([]string, len(m.symbols))
	for i, s := range m.symbols {
		if i == m.active {
			tabs[i] = activeTabStyle.Render(s.Symbol)
		} else {
			tabs[i] = tabStyle.Render(s.Symbol)
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n")
	} else {
		b.WriteString(boxStyle.Render(m.statsLine()))
		b.WriteString("\n")
	}
	b.WriteString(m.table.View())

	updated := ""
	if !m.loaded.IsZero() {
		updated = " | loaded " + m.loaded.Format("15:04:05")
	}
	b.WriteString(helpStyle.Render("←/→: symbol | ↑/↓: scroll | r: reload | q: quit" + updated))
	return b.String()
}

func (m viewModel) statsLine() string {
	parts := make([]string, 0, len(statTemplates))
	for _, name := range statTemplates {
		r, ok := m.stats[name]
		if !ok || r.Err != nil {
			continue
		}
		tpl, _ := query.LookupTemplate(name)
		text := fmt.Sprintf("%s %s", name, service.FormatValue(r.Value, tpl.Display))
		if name == "period_return" {
			if f, ok := r.Value.(float64); ok && f < 0 {
				text = downStyle.Render(text)
			} else {
				text = upStyle.Render(text)
			}
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "  ")
}
