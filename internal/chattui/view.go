package chattui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agusx1211/parley/internal/chat"
	"github.com/agusx1211/parley/internal/theme"
)

const sidebarWidth = 26

var spinnerFrames = []string{"", "", "", "", "", "", "", "", "", ""}

func (m Model) sidebarVisible() bool {
	return m.width >= 90 && len(m.keys) > 1
}

func (m Model) transcriptWidth() int {
	w := m.width
	if m.sidebarVisible() {
		w -= sidebarWidth + 1
	}
	if w < 20 {
		w = 20
	}
	return w
}

func (m Model) transcriptHeight() int {
	// Header, status bar, and the composer with its padding.
	h := m.height - 2 - m.input.Height() - 1
	if h < 3 {
		h = 3
	}
	return h
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")

	transcript := m.transcriptView()
	if m.sidebarVisible() {
		transcript = lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), transcript)
	}
	b.WriteString(transcript)
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	return b.String()
}

func (m Model) headerView() string {
	title := "parley"
	if key := m.activeKey(); key != "" {
		title = fmt.Sprintf("parley · %s", key)
	}
	rec := m.activeRecord()
	if rec != nil && rec.Status == chat.StatusStreaming {
		title += " " + spinnerFrames[m.spinnerTick%len(spinnerFrames)]
	}
	return headerStyle.Width(m.width).Render(ansi.Truncate(title, m.width-4, "…"))
}

func (m Model) sidebarView() string {
	var lines []string
	for i, key := range m.keys {
		indicator := theme.StatusIdle.String()
		if rec, ok := m.engine.Snapshot(key); ok {
			indicator = theme.SessionStatusIndicator(string(rec.Status))
		}
		label := ansi.Truncate(key, sidebarWidth-6, "…")
		line := indicator + label
		if i == m.active {
			line = sessionActiveStyle.Render(line)
		} else {
			line = sessionDimStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return sidebarStyle.
		Width(sidebarWidth).
		Height(m.transcriptHeight() - 2).
		Render(strings.Join(lines, "\n"))
}

func (m Model) transcriptView() string {
	lines := m.transcriptLines()
	vh := m.transcriptHeight()

	start := m.scrollPos
	if start > len(lines) {
		start = len(lines)
	}
	end := start + vh
	if end > len(lines) {
		end = len(lines)
	}
	visible := lines[start:end]

	out := make([]string, vh)
	copy(out, visible)
	for i := len(visible); i < vh; i++ {
		out[i] = ""
	}
	return strings.Join(out, "\n")
}

// transcriptLines renders the active session's snapshot into wrapped lines:
// persisted messages with their parts, then live tool executions and
// subagents that have no persisted counterpart yet.
func (m Model) transcriptLines() []string {
	rec := m.activeRecord()
	if rec == nil {
		return []string{dimStyle.Render("no session")}
	}
	width := m.transcriptWidth() - 2
	if width < 10 {
		width = 10
	}

	var lines []string
	push := func(styled string) {
		for _, l := range strings.Split(ansi.Wrap(styled, width, " "), "\n") {
			lines = append(lines, l)
		}
	}

	if rec.HistoryLoading {
		push(dimStyle.Render("loading history..."))
	}

	for i := range rec.Messages {
		msg := &rec.Messages[i]
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		switch msg.Role {
		case chat.RoleUser:
			push(userLabelStyle.Render("you"))
		default:
			push(assistantLabelStyle.Render("agent"))
		}
		if len(msg.Parts) == 0 {
			if msg.Text != "" {
				push(textStyle.Render(msg.Text))
			}
			continue
		}
		for _, part := range msg.Parts {
			for _, l := range m.partLines(part, width) {
				lines = append(lines, l)
			}
		}
	}

	for _, l := range m.liveLines(rec, width) {
		lines = append(lines, l)
	}

	if rec.LastError != "" {
		lines = append(lines, "")
		push(toolErrorStyle.Render("error: " + rec.LastError))
	}
	return lines
}

func (m Model) partLines(part chat.Part, width int) []string {
	wrap := func(s string) []string {
		return strings.Split(ansi.Wrap(s, width, " "), "\n")
	}
	switch part.Type {
	case chat.PartText:
		return wrap(textStyle.Render(part.Text))
	case chat.PartReasoning:
		return wrap(reasoningStyle.Render(part.Text))
	case chat.PartToolCall:
		return wrap(toolLabelStyle.Render("⚒ "+part.ToolName) + dimStyle.Render(" "+compactArgs(part.Args, 60)))
	case chat.PartToolResult:
		style := toolResultStyle
		if part.IsError {
			style = toolErrorStyle
		}
		return wrap(style.Render("  → " + firstLine(part.Result, 120)))
	case chat.PartSubagent:
		sub := part.Subagent
		if sub == nil {
			return nil
		}
		label := fmt.Sprintf("◌ subagent %s (%s)", nonEmpty(sub.Label, sub.ID), sub.Status)
		out := wrap(subagentLabelStyle.Render(label))
		if sub.ResultSummary != "" {
			out = append(out, wrap(dimStyle.Render("  "+firstLine(sub.ResultSummary, 120)))...)
		}
		return out
	default:
		return nil
	}
}

// liveLines renders ephemeral state: executing tools and non-terminal
// subagents, which have no persisted part yet.
func (m Model) liveLines(rec *chat.SessionRecord, width int) []string {
	var lines []string
	wrap := func(s string) {
		lines = append(lines, strings.Split(ansi.Wrap(s, width, " "), "\n")...)
	}

	for _, exec := range sortedExecutions(rec.ToolExecutions) {
		var line string
		switch exec.Phase {
		case chat.ToolExecuting:
			line = toolLabelStyle.Render("⚒ "+exec.Name) + dimStyle.Render(" running "+spinnerFrames[m.spinnerTick%len(spinnerFrames)])
		case chat.ToolFailed:
			line = toolErrorStyle.Render("⚒ " + exec.Name + " failed")
		default:
			line = toolResultStyle.Render("⚒ " + exec.Name + " done")
		}
		wrap(line)
	}

	for _, sub := range sortedSubagents(rec.Subagents) {
		if sub.Status.Terminal() {
			continue
		}
		line := fmt.Sprintf("◌ subagent %s %s", nonEmpty(sub.Label, sub.ID), sub.Status)
		if sub.CurrentTool != "" {
			line += fmt.Sprintf(" · %s (%d tools)", sub.CurrentTool, sub.ToolCount)
		}
		wrap(subagentLabelStyle.Render(line))
	}
	return lines
}

func (m Model) statusView() string {
	if m.connErr != nil {
		return errorBarStyle.Width(m.width).Render("connection lost: " + m.connErr.Error())
	}

	parts := []string{
		statusKeyStyle.Render("enter") + " send",
		statusKeyStyle.Render("esc") + " abort",
		statusKeyStyle.Render("^r") + " retry",
		statusKeyStyle.Render("tab") + " session",
	}
	if m.usage != nil {
		parts = append(parts, fmt.Sprintf("%d⇡ %d⇣ $%.4f",
			m.usage.InputTokens, m.usage.OutputTokens, m.usage.CostUSD))
	}
	if rec := m.activeRecord(); rec != nil && len(rec.PendingSends) > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", len(rec.PendingSends)))
	}
	return statusBarStyle.Width(m.width).Render(ansi.Truncate(strings.Join(parts, "  "), m.width-2, "…"))
}
