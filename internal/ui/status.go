// Package ui formats supervisor status reports for the command line.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jpalmerr/barista/internal/supervisor"
)

// MaxValueWidth caps the VALUE column; longer values are cut with an ellipsis.
const MaxValueWidth = 40

// StatusColumn is one column of the status table.
type StatusColumn struct {
	Title string
	Width int
}

// StatusColumns are the columns of [RenderStatus], in order.
var StatusColumns = []StatusColumn{
	{Title: "#", Width: 4},
	{Title: "NAME", Width: 14},
	{Title: "PHASE", Width: 10},
	{Title: "VALUE", Width: MaxValueWidth + 2},
	{Title: "AGE", Width: 8},
	{Title: "TTL", Width: 8},
	{Title: "PROCS", Width: 7},
	{Title: "LINES", Width: 8},
	{Title: "LOG", Width: 0},
}

// RenderStatus renders r as a human-readable table. now is used to phrase
// log modification times.
func RenderStatus(r supervisor.Report, now time.Time) string {
	var b strings.Builder

	summary := fmt.Sprintf("%d/%d running, generation %d", r.Running(), len(r.Slots), r.Generation)
	b.WriteString(titleStyle.Render("barista: "+stateLabel(r.State)) + "  " + mutedStyle.Render(summary) + "\n\n")

	if len(r.Slots) == 0 {
		b.WriteString("No commands configured\n")
		return b.String()
	}

	var header strings.Builder
	header.WriteString("  ")
	for _, col := range StatusColumns {
		header.WriteString(padRight(col.Title, col.Width))
	}
	b.WriteString(headerStyle.Render(header.String()) + "\n")

	for _, s := range r.Slots {
		cells := []string{
			fmt.Sprintf("%d", s.Index),
			s.Name,
			phaseLabel(s.Phase),
			valueLabel(s),
			ageLabel(s),
			ttlLabel(s.TTLMillis),
			procsLabel(s),
			humanize.Comma(int64(s.LogLines)),
			logLabel(s, now),
		}

		b.WriteString("  ")
		for i, cell := range cells {
			b.WriteString(padRight(cell, StatusColumns[i].Width))
		}
		b.WriteString("\n")

		if s.Phase == supervisor.PhaseFailed && s.Reason != "" {
			b.WriteString("      " + errorStyle.Render(s.Reason) + "\n")
		}
	}

	return b.String()
}

// WriteJSON writes r as indented JSON for scripts.
func WriteJSON(w io.Writer, r supervisor.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func stateLabel(state supervisor.State) string {
	if state == supervisor.StateOn {
		return successStyle.Render(string(state))
	}
	return warnStyle.Render(string(state))
}

func phaseLabel(p supervisor.Phase) string {
	switch p {
	case supervisor.PhaseRunning:
		return successStyle.Render(string(p))
	case supervisor.PhaseFailed:
		return errorStyle.Render(string(p))
	default:
		return mutedStyle.Render(string(p))
	}
}

func valueLabel(s supervisor.SlotReport) string {
	if !s.HasValue {
		return mutedStyle.Render("-")
	}
	v := truncate(s.Value, MaxValueWidth)
	if !s.Fresh {
		return mutedStyle.Render(v + " (expired)")
	}
	return v
}

func ageLabel(s supervisor.SlotReport) string {
	if !s.HasValue {
		return mutedStyle.Render("-")
	}
	return formatMillis(s.AgeMillis)
}

func ttlLabel(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return formatMillis(ms)
}

// procsLabel counts the processes in a running collector's group. Anything
// past the leader's own children shows up here first when a command leaks.
func procsLabel(s supervisor.SlotReport) string {
	if len(s.GroupPIDs) == 0 {
		return mutedStyle.Render("-")
	}
	return fmt.Sprintf("%d", len(s.GroupPIDs))
}

func logLabel(s supervisor.SlotReport, now time.Time) string {
	if s.LogBytes == 0 && s.LogAgeMillis == 0 {
		return mutedStyle.Render("empty")
	}
	size := humanize.Bytes(uint64(s.LogBytes))
	if s.LogAgeMillis == 0 {
		return size
	}
	modified := now.Add(-time.Duration(s.LogAgeMillis) * time.Millisecond)
	return size + ", " + humanize.RelTime(modified, now, "ago", "from now")
}

// formatMillis renders a millisecond count as a short duration: 350ms,
// 1.5s, 2m0s.
func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return d.String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// truncate shortens s to at most width cells, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// padRight pads s to width visible cells. ANSI styling does not count.
func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		if width == 0 {
			return s
		}
		return s + " "
	}
	return s + strings.Repeat(" ", width-visible)
}
