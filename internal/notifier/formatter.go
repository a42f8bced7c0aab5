package notifier

import (
	"fmt"
	"html"
	"strings"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/pricesvc"
)

// Escape makes text safe for Telegram HTML parse mode.
func Escape(s string) string { return html.EscapeString(s) }

// FormatRunSummary formats a refresh run into a Telegram message.
func FormatRunSummary(s model.RunSummary) string {
	var b strings.Builder

	icon := "✅"
	if len(s.Errors) > 0 {
		icon = "⚠️"
	}
	b.WriteString(fmt.Sprintf("%s <b>PriceKeeper refresh</b> | %s (%s)\n\n", icon, s.StartedAt.UTC().Format("2006-01-02 15:04"), s.Trigger))
	b.WriteString(fmt.Sprintf("Symbols: %d (skipped %d)\n", s.Processed, s.Skipped))
	b.WriteString(fmt.Sprintf("Data refreshed: %d | Splits checked: %d", s.DataRefreshed, s.SplitsChecked))
	if s.SplitsAdded > 0 {
		b.WriteString(fmt.Sprintf(" (%d new)", s.SplitsAdded))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Upstream calls: %d\n", s.UpstreamCalls))
	b.WriteString(fmt.Sprintf("Rows: +%d ~%d =%d\n", s.RowsInserted, s.RowsUpdated, s.RowsSkipped))
	if s.RateLimited {
		b.WriteString("\n⛔ Upstream rate limit reached, remaining symbols wait for the next run\n")
	}

	if len(s.Errors) > 0 {
		b.WriteString("\n<b>Errors:</b>\n")
		for _, e := range s.Errors {
			b.WriteString(fmt.Sprintf("  %s [%s]: %s\n", e.Symbol, e.Stage, Escape(e.Error)))
		}
	}
	for _, w := range s.Warnings {
		b.WriteString(fmt.Sprintf("  ⚠️ %s\n", Escape(w)))
	}
	return b.String()
}

// TrackedStatus is a tracked symbol with what the store holds for it.
type TrackedStatus struct {
	model.TrackedSymbol
	Rows   int
	Latest date.Date // zero when nothing is stored
}

// TrackedReport is the answer to /tracked.
type TrackedReport struct {
	Today   date.Date
	Symbols []TrackedStatus
	// BudgetLeft is the number of upstream calls left today; -1 means no daily budget.
	BudgetLeft int
}

// FormatTracked lists tracked symbols with their freshness and stored history.
func FormatTracked(r TrackedReport) string {
	var b strings.Builder
	if len(r.Symbols) == 0 {
		b.WriteString("No symbols tracked")
	} else {
		b.WriteString(fmt.Sprintf("📋 <b>Tracked symbols</b> | %s\n\n", r.Today))
		for _, ts := range r.Symbols {
			state := "stale"
			if ts.LastDataRefresh == r.Today {
				state = "fresh"
			}
			b.WriteString(fmt.Sprintf("%s: %s (data %s), %d bars", ts.Symbol, state, orNever(ts.LastDataRefresh), ts.Rows))
			if ts.Rows > 0 {
				b.WriteString(fmt.Sprintf(" to %s", ts.Latest))
			}
			b.WriteString("\n")
		}
	}
	if r.BudgetLeft >= 0 {
		b.WriteString(fmt.Sprintf("\nUpstream calls left today: %d", r.BudgetLeft))
	}
	return b.String()
}

func orNever(d date.Date) string {
	if d.IsZero() {
		return "never"
	}
	return d.String()
}

// FormatQuote formats a current quote.
func FormatQuote(q pricesvc.Quote) string {
	change := 0.0
	if q.Open > 0 {
		change = (q.Price - q.Open) / q.Open * 100
	}
	return fmt.Sprintf("💵 <b>%s</b> %.2f (%+.2f%% vs open)\nH %.2f | L %.2f | Vol %d\n%s",
		q.Symbol, q.Price, change, q.High, q.Low, q.Volume, q.Timestamp)
}

// FormatHelp lists the chat commands.
func FormatHelp() string {
	return "Available commands:\n• /refresh\n• /tracked\n• /price SYMBOL\n• /query SYMBOL TEMPLATE"
}
