package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"

	"github.com/koscakluka/scarlett-term/core/turn"
)

const (
	headerHeight = 1
	inputHeight  = 1
	helpHeight   = 1
)

func (m *Model) resize() {
	m.input.Width = max(10, m.width-4)
	m.viewport.Width = m.width
	m.viewport.Height = max(1, m.height-headerHeight-inputHeight-helpHeight)
}

func (m *Model) rerender(follow bool) {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if follow && atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "loading…"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderInput())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send · ctrl+p narrate/stop replay · ctrl+s stop audio · /help · ctrl+c quit"))
	return b.String()
}

func (m *Model) renderHeader() string {
	title := headerStyle.Render("Scarlett")
	if m.status == nil {
		return title
	}
	meta := fmt.Sprintf(" %s · %s · phase %d %s · %d msgs",
		m.status.Mode, m.status.Expression, m.status.Phase, m.status.PhaseName, m.status.MessageCount)
	return title + headerMetaStyle.Render(meta)
}

func (m *Model) renderInput() string {
	if m.busy {
		return m.spin.View() + " Scarlett is replying…"
	}
	return m.input.View()
}

func (m *Model) renderTranscript() string {
	width := max(20, m.viewport.Width-2)

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		switch msg.role {
		case roleUser:
			b.WriteString(userLabelStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(wordwrap.String(msg.text, width))
			b.WriteString("\n")

		case roleAssistant:
			b.WriteString(m.renderAssistantMessage(msg, width))

		case roleSystem:
			b.WriteString(systemStyle.Render(wordwrap.String("· "+msg.text, width)))
			b.WriteString("\n")
		}
	}

	// The in-turn status rows live under the in-progress reply and vanish
	// with the turn.
	if rows := m.renderStatusRows(width); rows != "" {
		b.WriteString("\n")
		b.WriteString(rows)
	}

	return b.String()
}

func (m *Model) renderAssistantMessage(msg message, width int) string {
	var b strings.Builder

	label := "Scarlett"
	if msg.mode != "" {
		label += headerMetaStyle.Render(fmt.Sprintf(" (%s/%s)", msg.mode, msg.expression))
	}
	if glyph := narrationGlyph(msg.narration); glyph != "" {
		label += " " + narrationStyle.Render(glyph)
	}
	if msg.streaming {
		label += " " + m.spin.View()
	}
	b.WriteString(assistantLabelStyle.Render(label))
	b.WriteString("\n")

	if msg.text != "" {
		b.WriteString(m.renderMarkdown(msg.text, width))
	}
	if msg.errText != "" {
		b.WriteString(errorStyle.Render(wordwrap.String("⚠ "+msg.errText, width)))
		b.WriteString("\n")
	}
	return b.String()
}

func narrationGlyph(state narrationState) string {
	switch state {
	case narrationLoading:
		return "◌ fetching audio"
	case narrationPlaying:
		return "▶ narrating"
	}
	return ""
}

// renderMarkdown re-renders the whole accumulated text, every token. Cheap
// enough at chat scale and it keeps partial markdown well-formed.
func (m *Model) renderMarkdown(text string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return wordwrap.String(text, width) + "\n"
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return wordwrap.String(text, width) + "\n"
	}
	return strings.TrimRight(rendered, "\n") + "\n"
}

func (m *Model) renderStatusRows(width int) string {
	var rows []string

	for _, id := range m.toolOrder {
		record := m.toolRows[id]
		marker := "⚙"
		if record.Status == turn.ToolCallDone {
			marker = "✓"
		}
		row := toolRowStyle.Render(fmt.Sprintf("%s %s", marker, record.Label))
		if record.Summary != "" {
			row += toolSummaryStyle.Render(" — " + turn.SummaryPreview(record.Summary))
		}
		rows = append(rows, row)
	}

	if m.retry != nil {
		rows = append(rows, retryRowStyle.Render("↻ "+m.retry.String()))
	}

	if m.pending != nil {
		prompt := fmt.Sprintf("? %s (%s) — confirm? [y/n]", m.pending.Title, m.pending.Time)
		rows = append(rows, pendingRowStyle.Render(wordwrap.String(prompt, width)))
	}

	return strings.Join(rows, "\n")
}

func (m *Model) runCommand(input string) tea.Cmd {
	command, argument, _ := strings.Cut(strings.TrimSpace(input), " ")
	argument = strings.TrimSpace(argument)

	switch command {
	case "/quit":
		m.stopNarration()
		return tea.Quit

	case "/help":
		m.appendNotice("commands: /status /memory /recall <query> /save /reset /quit")
		m.rerender(true)
		return nil

	case "/status":
		return tea.Sequence(m.statusCmd(), func() tea.Msg {
			return noticeMsg{text: "status refreshed"}
		})

	case "/memory":
		return m.memoryCmd()

	case "/recall":
		if argument == "" {
			m.appendNotice("usage: /recall <query>")
			m.rerender(true)
			return nil
		}
		return m.recallCmd(argument)

	case "/save":
		return func() tea.Msg {
			if err := m.client.SaveMemory(m.baseCtx); err != nil {
				return noticeMsg{text: fmt.Sprintf("save failed: %v", err)}
			}
			return noticeMsg{text: "memory saved"}
		}

	case "/reset":
		return func() tea.Msg {
			if err := m.client.ResetMemory(m.baseCtx); err != nil {
				return noticeMsg{text: fmt.Sprintf("reset failed: %v", err)}
			}
			return noticeMsg{text: "memory and conversation reset"}
		}
	}

	m.appendNotice(fmt.Sprintf("unknown command %s, try /help", command))
	m.rerender(true)
	return nil
}

func (m *Model) statusCmd() tea.Cmd {
	return func() tea.Msg {
		status, err := m.client.Status(m.baseCtx)
		return statusMsg{status: status, err: err}
	}
}

func (m *Model) memoryCmd() tea.Cmd {
	return func() tea.Msg {
		memory, err := m.client.Memory(m.baseCtx)
		if err != nil {
			return noticeMsg{text: fmt.Sprintf("memory unavailable: %v", err)}
		}

		var b strings.Builder
		b.WriteString("memory:")
		for key, value := range memory.Metadata {
			fmt.Fprintf(&b, "\n  %s: %v", key, value)
		}
		if len(memory.Semantic) > 0 {
			b.WriteString("\n  semantic:")
			for _, entry := range memory.Semantic {
				fmt.Fprintf(&b, "\n   - %s", entry)
			}
		}
		return noticeMsg{text: b.String()}
	}
}

func (m *Model) recallCmd(query string) tea.Cmd {
	return func() tea.Msg {
		results, err := m.client.RecallMemories(m.baseCtx, query)
		if err != nil {
			return noticeMsg{text: fmt.Sprintf("recall failed: %v", err)}
		}
		if len(results) == 0 {
			return noticeMsg{text: fmt.Sprintf("nothing recalled for %q", query)}
		}
		return noticeMsg{text: fmt.Sprintf("recalled for %q:\n   - %s", query, strings.Join(results, "\n   - "))}
	}
}
