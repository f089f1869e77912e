// Package tui is the terminal chat interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/koscakluka/scarlett-term/core/api"
	"github.com/koscakluka/scarlett-term/core/narration"
	"github.com/koscakluka/scarlett-term/core/turn"
)

type role int

const (
	roleUser role = iota
	roleAssistant
	roleSystem
)

type narrationState int

const (
	narrationIdle narrationState = iota
	narrationLoading
	narrationPlaying
)

type message struct {
	role      role
	text      string
	streaming bool
	errText   string

	mode       string
	expression string

	narration narrationState
}

type Model struct {
	client   *api.Client
	turns    *turn.Manager
	narrator *narration.Narrator
	baseCtx  context.Context

	events chan tea.Msg

	input    textinput.Model
	viewport viewport.Model
	spin     spinner.Model

	messages []message
	busy     bool

	toolOrder []string
	toolRows  map[string]turn.ToolCallRecord
	retry     *turn.RetryNotice
	pending   *turn.PendingAction

	// narratingIdx is the transcript index the active narration is bound
	// to, -1 when nothing narrates.
	narratingIdx int
	autoNarrate  bool

	status *api.Status

	width  int
	height int
	ready  bool
}

type ModelOption func(*Model)

// WithoutAutoNarration keeps finished replies silent until replayed by hand.
func WithoutAutoNarration() ModelOption {
	return func(m *Model) { m.autoNarrate = false }
}

// NewModel wires the interface together. A nil narrator disables narration
// entirely.
func NewModel(ctx context.Context, client *api.Client, turns *turn.Manager, narrator *narration.Narrator, opts ...ModelOption) *Model {
	input := textinput.New()
	input.Placeholder = "Say something to Scarlett…"
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot

	m := &Model{
		client:       client,
		turns:        turns,
		narrator:     narrator,
		baseCtx:      ctx,
		events:       make(chan tea.Msg, 64),
		input:        input,
		viewport:     viewport.New(0, 0),
		spin:         spin,
		toolRows:     map[string]turn.ToolCallRecord{},
		narratingIdx: -1,
		autoNarrate:  narrator != nil,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.narrator == nil {
		m.autoNarrate = false
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spin.Tick,
		waitEventCmd(m.events),
		m.statusCmd(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		m.rerender(true)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tokenMsg:
		m.retry = nil
		index := m.ensureStreamingMessage()
		m.messages[index].text = msg.text
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case toolStartMsg:
		if _, exists := m.toolRows[msg.record.ID]; !exists {
			m.toolOrder = append(m.toolOrder, msg.record.ID)
		}
		m.toolRows[msg.record.ID] = msg.record
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case toolDoneMsg:
		if _, exists := m.toolRows[msg.record.ID]; exists {
			m.toolRows[msg.record.ID] = msg.record
		}
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case retryMsg:
		notice := msg.notice
		m.retry = &notice
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case confirmMsg:
		action := msg.action
		m.pending = &action
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case turnDoneMsg:
		m.retry = nil
		index := m.ensureStreamingMessage()
		if msg.result.Text != "" {
			m.messages[index].text = msg.result.Text
		}
		m.messages[index].streaming = false
		m.messages[index].mode = msg.result.Mode
		m.messages[index].expression = msg.result.Expression
		if m.autoNarrate && strings.TrimSpace(m.messages[index].text) != "" {
			m.startNarration(index)
		}
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case turnErrMsg:
		m.retry = nil
		index := m.ensureStreamingMessage()
		m.messages[index].streaming = false
		m.messages[index].errText = msg.message
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case turnClosedMsg:
		// Unconditional turn cleanup, however the stream ended.
		m.busy = false
		m.toolOrder = nil
		m.toolRows = map[string]turn.ToolCallRecord{}
		m.retry = nil
		m.rerender(true)
		return m, tea.Batch(waitEventCmd(m.events), m.statusCmd())

	case narrationPlayingMsg:
		if msg.index == m.narratingIdx && msg.index < len(m.messages) {
			m.messages[msg.index].narration = narrationPlaying
			m.rerender(false)
		}
		return m, waitEventCmd(m.events)

	case narrationIdleMsg:
		if msg.index == m.narratingIdx && msg.index < len(m.messages) {
			m.messages[msg.index].narration = narrationIdle
			m.narratingIdx = -1
			m.rerender(false)
		}
		return m, waitEventCmd(m.events)

	case narrationErrMsg:
		if msg.index == m.narratingIdx && msg.index < len(m.messages) {
			m.messages[msg.index].narration = narrationIdle
			m.narratingIdx = -1
		}
		m.appendNotice(fmt.Sprintf("narration failed: %v", msg.err))
		m.rerender(true)
		return m, waitEventCmd(m.events)

	case statusMsg:
		if msg.err == nil {
			status := msg.status
			m.status = &status
		}
		return m, nil

	case noticeMsg:
		m.appendNotice(msg.text)
		m.rerender(true)
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.stopNarration()
		return m, tea.Quit

	case "ctrl+s":
		m.stopNarration()
		m.rerender(false)
		return m, nil

	case "ctrl+p":
		m.replayLastReply()
		m.rerender(false)
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "y", "n":
		if m.pending != nil && m.input.Value() == "" {
			return m, m.resolvePendingAction(msg.String() == "y")
		}

	case "enter":
		return m, m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}

	if m.busy {
		m.appendNotice("Scarlett is still replying, hold on")
		m.rerender(true)
		return nil
	}

	m.busy = true
	m.messages = append(m.messages, message{role: roleUser, text: text})
	m.rerender(true)

	return tea.Batch(m.sendCmd(text), m.spin.Tick)
}

func (m *Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.turns.Send(m.baseCtx, text, m.turnCallbacks()); err != nil {
			if errors.Is(err, turn.ErrTurnActive) {
				return noticeMsg{text: "a reply is already streaming"}
			}
			// Route through the event channel like the session callbacks
			// would, so turn cleanup stays on one path.
			m.events <- turnErrMsg{message: err.Error()}
			m.events <- turnClosedMsg{}
		}
		return nil
	}
}

// turnCallbacks bridges the session's reader goroutine onto the event
// channel, preserving stream order.
func (m *Model) turnCallbacks() turn.Callbacks {
	return turn.Callbacks{
		OnToken:     func(_, text string) { m.events <- tokenMsg{text: text} },
		OnToolStart: func(record turn.ToolCallRecord) { m.events <- toolStartMsg{record: record} },
		OnToolDone:  func(record turn.ToolCallRecord) { m.events <- toolDoneMsg{record: record} },
		OnRetry:     func(notice turn.RetryNotice) { m.events <- retryMsg{notice: notice} },
		OnConfirm:   func(action turn.PendingAction) { m.events <- confirmMsg{action: action} },
		OnDone:      func(result turn.Result) { m.events <- turnDoneMsg{result: result} },
		OnError:     func(message string) { m.events <- turnErrMsg{message: message} },
		OnClosed:    func() { m.events <- turnClosedMsg{} },
	}
}

// ensureStreamingMessage lazily creates the in-progress reply, the first
// token is what brings it into existence.
func (m *Model) ensureStreamingMessage() int {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].role == roleAssistant && m.messages[i].streaming {
			return i
		}
	}
	m.messages = append(m.messages, message{role: roleAssistant, streaming: true})
	return len(m.messages) - 1
}

func (m *Model) appendNotice(text string) {
	m.messages = append(m.messages, message{role: roleSystem, text: text})
}

func (m *Model) startNarration(index int) {
	if m.narrator == nil || index < 0 || index >= len(m.messages) {
		return
	}

	// Only one affordance is ever non-idle, reset the previous one before
	// rebinding.
	if m.narratingIdx >= 0 && m.narratingIdx < len(m.messages) {
		m.messages[m.narratingIdx].narration = narrationIdle
	}
	m.narratingIdx = index
	m.messages[index].narration = narrationLoading

	// Narration hooks must never block: they run on the pipeline goroutine
	// whose teardown Stop and Narrate wait for, and both are called from
	// the update loop, the only drainer of the event channel. A blocking
	// send here with a backlogged channel would wedge the whole program.
	m.narrator.Narrate(m.baseCtx, m.messages[index].text, narration.Hooks{
		OnPlaying: func() { m.postEvent(narrationPlayingMsg{index: index}) },
		OnError:   func(err error) { m.postEvent(narrationErrMsg{index: index, err: err}) },
		OnIdle:    func() { m.postEvent(narrationIdleMsg{index: index}) },
	})
}

// postEvent delivers without blocking the caller, spilling to a goroutine
// when the channel is full. Spilled events may arrive out of order, the
// narration handlers tolerate that by ignoring anything not bound to the
// current invocation's index.
func (m *Model) postEvent(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
		go func() { m.events <- msg }()
	}
}

func (m *Model) stopNarration() {
	if m.narrator == nil {
		return
	}
	m.narrator.Stop()
	if m.narratingIdx >= 0 && m.narratingIdx < len(m.messages) {
		m.messages[m.narratingIdx].narration = narrationIdle
	}
	m.narratingIdx = -1
}

// replayLastReply toggles narration of the most recent finished reply.
func (m *Model) replayLastReply() {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.role != roleAssistant || msg.streaming || msg.text == "" {
			continue
		}
		if i == m.narratingIdx {
			m.stopNarration()
			return
		}
		m.startNarration(i)
		return
	}
}

func (m *Model) resolvePendingAction(confirm bool) tea.Cmd {
	action := *m.pending
	m.pending = nil
	m.rerender(true)

	return func() tea.Msg {
		var result api.ActionResult
		var err error
		if confirm {
			result, err = m.client.ConfirmAction(m.baseCtx, action.ActionID)
		} else {
			result, err = m.client.CancelAction(m.baseCtx, action.ActionID)
		}
		if err != nil {
			return noticeMsg{text: fmt.Sprintf("action %q failed: %v", action.Title, err)}
		}
		text := result.Status
		if result.Message != "" {
			text = result.Message
		}
		return noticeMsg{text: fmt.Sprintf("%s: %s", action.Title, text)}
	}
}
