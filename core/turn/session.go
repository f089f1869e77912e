// Package turn assembles the server's SSE turn stream into a message.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/scarlett-term/core/eventstream"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
)

const (
	eventToken         = "token"
	eventToolStart     = "tool_start"
	eventToolDone      = "tool_done"
	eventRetry         = "llm_retry"
	eventConfirmAction = "confirm_action"
	eventDone          = "done"
	eventError         = "error"
)

// Callbacks is invoked from the session's reader goroutine, one call at a
// time, in stream order.
type Callbacks struct {
	OnToken     func(token string, text string)
	OnToolStart func(ToolCallRecord)
	OnToolDone  func(ToolCallRecord)
	OnRetry     func(RetryNotice)
	OnConfirm   func(PendingAction)
	OnDone      func(Result)
	OnError     func(message string)
	OnClosed    func()
}

func (c *Callbacks) defaults() *Callbacks {
	if c.OnToken == nil {
		c.OnToken = func(string, string) {}
	}
	if c.OnToolStart == nil {
		c.OnToolStart = func(ToolCallRecord) {}
	}
	if c.OnToolDone == nil {
		c.OnToolDone = func(ToolCallRecord) {}
	}
	if c.OnRetry == nil {
		c.OnRetry = func(RetryNotice) {}
	}
	if c.OnConfirm == nil {
		c.OnConfirm = func(PendingAction) {}
	}
	if c.OnDone == nil {
		c.OnDone = func(Result) {}
	}
	if c.OnError == nil {
		c.OnError = func(string) {}
	}
	if c.OnClosed == nil {
		c.OnClosed = func() {}
	}
	return c
}

// Session assembles one streamed turn. It is created lazily on the first
// send of a turn and finalizes exactly once, even when the stream ends
// without a terminal event.
type Session struct {
	callbacks Callbacks

	mu        sync.Mutex
	text      strings.Builder
	toolOrder []string
	toolCalls map[string]*ToolCallRecord
	status    Status
}

func newSession(callbacks Callbacks) *Session {
	return &Session{
		callbacks: *callbacks.defaults(),
		toolCalls: map[string]*ToolCallRecord{},
		status:    StatusActive,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// ToolCalls is a point-in-time copy of the turn's tool records, in arrival
// order.
func (s *Session) ToolCalls() []ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ToolCallRecord, 0, len(s.toolOrder))
	for _, id := range s.toolOrder {
		var record ToolCallRecord
		_ = copier.Copy(&record, s.toolCalls[id])
		records = append(records, record)
	}
	return records
}

// run drains the stream and finalizes the session. The stream is closed and
// OnClosed fires on every exit path.
func (s *Session) run(ctx context.Context, stream io.ReadCloser) {
	ctx, span := tracer.Start(ctx, "turn.session")
	defer span.End()

	defer s.callbacks.OnClosed()
	defer stream.Close()

	consumer := eventstream.NewConsumer().
		On(eventToken, s.handleToken).
		On(eventToolStart, s.handleToolStart).
		On(eventToolDone, s.handleToolDone).
		On(eventRetry, s.handleRetry).
		On(eventConfirmAction, s.handleConfirmAction).
		On(eventDone, s.handleDone).
		On(eventError, s.handleError).
		OnUnknown(func(event string, _ []byte) {
			logger.Debug("ignoring unrecognized event", "event", event)
		})

	if err := consumer.Run(ctx, stream); err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown, not a failure.
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn stream failed")
		s.finalizeError(err.Error())
		return
	}

	// Streams are supposed to end with done or error, but a turn that got
	// cut short still finishes with whatever text made it across.
	s.mu.Lock()
	text := s.text.String()
	s.mu.Unlock()
	s.finalizeDone(Result{Text: text})
}

func (s *Session) handleToken(payload []byte) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}

	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.text.WriteString(body.Token)
	text := s.text.String()
	s.mu.Unlock()

	s.callbacks.OnToken(body.Token, text)
}

func (s *Session) handleToolStart(payload []byte) {
	var body struct {
		Tool   string `json:"tool"`
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.CallID == "" {
		return
	}

	record := &ToolCallRecord{
		ID:     body.CallID,
		Tool:   body.Tool,
		Label:  ToolLabel(body.Tool),
		Status: ToolCallRunning,
	}

	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	if _, exists := s.toolCalls[record.ID]; !exists {
		s.toolOrder = append(s.toolOrder, record.ID)
	}
	s.toolCalls[record.ID] = record
	s.mu.Unlock()

	s.callbacks.OnToolStart(*record)
}

func (s *Session) handleToolDone(payload []byte) {
	var body struct {
		CallID  string `json:"call_id"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}

	s.mu.Lock()
	record, ok := s.toolCalls[body.CallID]
	if !ok || s.status != StatusActive {
		s.mu.Unlock()
		// A completion for a call that never started carries nothing to
		// update.
		return
	}
	record.Status = ToolCallDone
	record.Summary = body.Summary
	updated := *record
	s.mu.Unlock()

	s.callbacks.OnToolDone(updated)
}

func (s *Session) handleRetry(payload []byte) {
	var body struct {
		Attempt     *int     `json:"attempt"`
		MaxRetries  *int     `json:"max_retries"`
		WaitSeconds *float64 `json:"wait_seconds"`
		Error       string   `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}

	notice := RetryNotice{
		Attempt:     defaultRetryAttempt,
		MaxRetries:  defaultRetryMaxRetries,
		WaitSeconds: defaultRetryWaitSeconds,
		Cause:       body.Error,
	}
	if body.Attempt != nil {
		notice.Attempt = *body.Attempt
	}
	if body.MaxRetries != nil {
		notice.MaxRetries = *body.MaxRetries
	}
	if body.WaitSeconds != nil {
		notice.WaitSeconds = *body.WaitSeconds
	}

	s.callbacks.OnRetry(notice)
}

func (s *Session) handleConfirmAction(payload []byte) {
	var body struct {
		ActionID string `json:"action_id"`
		Title    string `json:"title"`
		Time     string `json:"time"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ActionID == "" {
		return
	}

	s.callbacks.OnConfirm(PendingAction{
		ActionID: body.ActionID,
		Title:    body.Title,
		Time:     body.Time,
	})
}

func (s *Session) handleDone(payload []byte) {
	var body struct {
		Mode         string   `json:"mode"`
		Expression   string   `json:"expression"`
		FullResponse string   `json:"full_response"`
		ToolsUsed    []string `json:"tools_used"`
	}
	_ = json.Unmarshal(payload, &body)

	s.mu.Lock()
	text := s.text.String()
	s.mu.Unlock()

	// The server's full response is authoritative over the accumulated
	// tokens when both are present.
	if body.FullResponse != "" {
		text = body.FullResponse
	}

	s.finalizeDone(Result{
		Text:       text,
		Mode:       body.Mode,
		Expression: body.Expression,
		ToolsUsed:  body.ToolsUsed,
	})
}

func (s *Session) handleError(payload []byte) {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	if body.Error == "" {
		body.Error = "something went wrong"
	}
	s.finalizeError(body.Error)
}

func (s *Session) finalizeDone(result Result) {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.status = StatusCompleted
	s.mu.Unlock()

	s.callbacks.OnDone(result)
}

func (s *Session) finalizeError(message string) {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.status = StatusErrored
	s.mu.Unlock()

	s.callbacks.OnError(message)
}
