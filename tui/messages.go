package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/koscakluka/scarlett-term/core/api"
	"github.com/koscakluka/scarlett-term/core/turn"
)

// Turn progress crosses from the session's reader goroutine into the update
// loop as messages on the model's event channel.
type (
	tokenMsg      struct{ text string }
	toolStartMsg  struct{ record turn.ToolCallRecord }
	toolDoneMsg   struct{ record turn.ToolCallRecord }
	retryMsg      struct{ notice turn.RetryNotice }
	confirmMsg    struct{ action turn.PendingAction }
	turnDoneMsg   struct{ result turn.Result }
	turnErrMsg    struct{ message string }
	turnClosedMsg struct{}
)

// Narration lifecycle, bound to the transcript index the invocation was
// started for.
type (
	narrationPlayingMsg struct{ index int }
	narrationIdleMsg    struct{ index int }
	narrationErrMsg     struct {
		index int
		err   error
	}
)

type statusMsg struct {
	status api.Status
	err    error
}

// noticeMsg appends a system line to the transcript.
type noticeMsg struct{ text string }

func waitEventCmd(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}
