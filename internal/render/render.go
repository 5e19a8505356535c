// Package render formats aggregated command statistics for humans.
package render

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"ttrace/internal/ledger"
)

// Headers are the column titles shared by the table and the TUI.
var Headers = []string{"COMMAND", "RUNS", "TOTAL", "MEAN", "LAST", "OK", "FAIL"}

// FormatDuration renders d as "850ms", "1.52s" or "2m 15s".
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60*1000:
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	default:
		secs := ms / 1000
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
}

// Entry pairs a command with its aggregate.
type Entry struct {
	Command string
	Stats   ledger.CommandStats
}

// Sorted orders aggregates by total time spent, longest first, then by command.
func Sorted(stats ledger.Stats) []Entry {
	out := make([]Entry, 0, len(stats))
	for cmd, s := range stats {
		out = append(out, Entry{Command: cmd, Stats: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stats.TotalDuration != out[j].Stats.TotalDuration {
			return out[i].Stats.TotalDuration > out[j].Stats.TotalDuration
		}
		return out[i].Command < out[j].Command
	})
	return out
}

// Row renders one entry in Headers order.
func Row(e Entry) []string {
	return []string{
		e.Command,
		strconv.FormatUint(e.Stats.Count, 10),
		FormatDuration(e.Stats.TotalDuration),
		FormatDuration(e.Stats.Mean()),
		FormatDuration(e.Stats.LastRunDuration),
		strconv.FormatUint(e.Stats.SuccessCount, 10),
		strconv.FormatUint(e.Stats.FailCount, 10),
	}
}

// Table renders stats as a bordered table. limit <= 0 shows every command.
func Table(stats ledger.Stats, limit int) string {
	entries := Sorted(stats)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, Row(e))
	}

	widths := columnWidths(rows)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("244"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			// Row 0 is the header. The table truncates cells that exactly fill
			// their column, so every column carries padding on both sides.
			s := cell.Width(widths[col] + 2)
			if row == 0 {
				s = s.Bold(true)
			}
			return s
		}).
		Headers(Headers...).
		Rows(rows...)
	return t.Render()
}

// columnWidths returns the widest cell per column, headers included.
func columnWidths(rows [][]string) []int {
	widths := make([]int, len(Headers))
	for i, h := range Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, c := range row {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}
