package tui

import (
	"context"
	"testing"
	"time"

	"github.com/koscakluka/scarlett-term/core/api"
	"github.com/koscakluka/scarlett-term/core/audio"
	"github.com/koscakluka/scarlett-term/core/narration"
	"github.com/koscakluka/scarlett-term/core/turn"
)

func testModel() *Model {
	return NewModel(context.Background(), api.NewClient(""), turn.NewManager(nil), nil)
}

func TestFirstTokenLazilyCreatesTheReply(t *testing.T) {
	m := testModel()

	m.Update(tokenMsg{text: "Hel"})
	m.Update(tokenMsg{text: "Hello"})

	if len(m.messages) != 1 {
		t.Fatalf("expected one in-progress reply, got %d messages", len(m.messages))
	}
	reply := m.messages[0]
	if reply.role != roleAssistant || !reply.streaming {
		t.Fatalf("expected a streaming assistant reply, got %+v", reply)
	}
	if reply.text != "Hello" {
		t.Fatalf("expected the accumulated text, got %q", reply.text)
	}
}

func TestRetryRowIsClearedByTheNextToken(t *testing.T) {
	m := testModel()

	m.Update(retryMsg{notice: turn.RetryNotice{Attempt: 1, MaxRetries: 3, WaitSeconds: 1.5}})
	if m.retry == nil {
		t.Fatal("expected the retry row to be shown")
	}

	m.Update(tokenMsg{text: "resumed"})
	if m.retry != nil {
		t.Fatal("expected the retry row to be cleared once tokens resume")
	}
}

func TestTurnCleanupRemovesStatusRowsUnconditionally(t *testing.T) {
	m := testModel()
	m.busy = true

	m.Update(toolStartMsg{record: turn.ToolCallRecord{ID: "c1", Label: "Searching the web", Status: turn.ToolCallRunning}})
	m.Update(retryMsg{notice: turn.RetryNotice{}})
	m.Update(turnClosedMsg{})

	if m.busy {
		t.Fatal("expected input to be re-enabled after the turn")
	}
	if len(m.toolOrder) != 0 || m.retry != nil {
		t.Fatal("expected tool and retry rows to be removed at end of turn")
	}
}

func TestTurnErrorPreservesAccumulatedText(t *testing.T) {
	m := testModel()

	m.Update(tokenMsg{text: "partial answer"})
	m.Update(turnErrMsg{message: "stream reset"})

	reply := m.messages[0]
	if reply.streaming {
		t.Fatal("expected the reply to be finalized")
	}
	if reply.text != "partial answer" {
		t.Fatalf("expected the accumulated text to survive, got %q", reply.text)
	}
	if reply.errText != "stream reset" {
		t.Fatalf("expected the inline error indicator, got %q", reply.errText)
	}
}

type clipSynthesizer struct{}

func (clipSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte(text), nil
}

type instantPlayer struct{}

func (instantPlayer) Play([]byte, audio.EncodingInfo) (audio.Playback, error) {
	done := make(chan struct{})
	close(done)
	return instantPlayback{done: done}, nil
}

func (instantPlayer) Close() error { return nil }

type instantPlayback struct{ done chan struct{} }

func (p instantPlayback) Done() <-chan struct{} { return p.done }
func (instantPlayback) Err() error              { return nil }
func (instantPlayback) Stop()                   {}

func TestStoppingNarrationReturnsWhileTheEventChannelIsBacklogged(t *testing.T) {
	narrator := narration.NewNarrator(clipSynthesizer{}, instantPlayer{},
		narration.WithDecoder(func(clip []byte) ([]byte, audio.EncodingInfo, error) {
			return clip, audio.GetDefaultEncodingInfo(), nil
		}))
	m := NewModel(context.Background(), api.NewClient(""), turn.NewManager(nil), narrator)

	// Nothing drains the channel here, exactly the state the update loop is
	// in while it waits inside Stop.
	for i := 0; i < cap(m.events); i++ {
		m.events <- noticeMsg{text: "backlog"}
	}

	m.messages = append(m.messages, message{role: roleAssistant, text: "Hi there!"})
	m.startNarration(0)

	// Give the pipeline time to drain its instantly-finished clip and fire
	// its lifecycle hooks against the full channel.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.stopNarration()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected stopping narration to return despite the backlogged event channel")
	}
}

func TestDoneAppliesModeAndExpression(t *testing.T) {
	m := testModel()

	m.Update(tokenMsg{text: "draft"})
	m.Update(turnDoneMsg{result: turn.Result{Text: "final", Mode: "psycho", Expression: "angry"}})

	reply := m.messages[0]
	if reply.text != "final" || reply.mode != "psycho" || reply.expression != "angry" {
		t.Fatalf("unexpected finalized reply: %+v", reply)
	}
}
