// Package view renders daemon state for the terminal.
package view

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"tunnelctl/internal/server"
	"tunnelctl/internal/tunnel"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#303030", Dark: "#E0E0E0"})
	readyStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5FD75F"})
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD75F"})
	closedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"})
	emptyStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"})
)

const maxCellWidth = 36

var columns = []string{"KEY", "TUNNEL", "GEN", "PID", "STATE", "AGE"}

// TunnelTable renders the tunnels grouped by key as an aligned table.
func TunnelTable(entries []server.KeyTunnels, now time.Time) string {
	var rows [][]string
	var states []string
	for _, e := range entries {
		for _, info := range e.Tunnels {
			state := stateOf(info)
			rows = append(rows, []string{
				e.Key,
				info.ID,
				info.Generation,
				pid(info.PID),
				state,
				age(now, info.LaunchedAt),
			})
			states = append(states, state)
		}
	}
	if len(rows) == 0 {
		return emptyStyle.Render("No tunnels registered") + "\n"
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = runewidth.StringWidth(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(truncate(cell)); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(formatRow(columns, widths)))
	b.WriteString("\n")
	for i, row := range rows {
		line := formatRow(row, widths)
		b.WriteString(styleFor(states[i]).Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func formatRow(cells []string, widths []int) string {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		padded[i] = runewidth.FillRight(truncate(cell), widths[i])
	}
	return strings.TrimRight(strings.Join(padded, "  "), " ")
}

func truncate(s string) string {
	if runewidth.StringWidth(s) <= maxCellWidth {
		return s
	}
	return runewidth.Truncate(s, maxCellWidth, "…")
}

func stateOf(info tunnel.Info) string {
	switch {
	case info.Closed:
		return "closed"
	case info.Ready:
		return "ready"
	default:
		return "unconfirmed"
	}
}

func styleFor(state string) lipgloss.Style {
	switch state {
	case "ready":
		return readyStyle
	case "closed":
		return closedStyle
	default:
		return pendingStyle
	}
}

func pid(p int) string {
	if p <= 0 {
		return "-"
	}
	return strconv.Itoa(p)
}

func age(now, launched time.Time) string {
	if launched.IsZero() {
		return "-"
	}
	d := now.Sub(launched).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
