package turn

import (
	"fmt"

	"github.com/muesli/reflow/truncate"
)

type ToolCallStatus string

const (
	ToolCallRunning ToolCallStatus = "running"
	ToolCallDone    ToolCallStatus = "done"
)

// ToolCallRecord tracks one tool execution announced by the server. Records
// are keyed by the server-assigned call ID and live for the duration of the
// turn.
type ToolCallRecord struct {
	ID      string
	Tool    string
	Label   string
	Status  ToolCallStatus
	Summary string
}

var toolLabels = map[string]string{
	"web_search":       "Searching the web",
	"fetch_url":        "Reading a page",
	"get_current_time": "Checking the time",
	"calculate":        "Calculating",
}

// ToolLabel maps a tool identifier to its display label, falling back to
// the raw identifier for tools this client does not know about.
func ToolLabel(tool string) string {
	if label, ok := toolLabels[tool]; ok {
		return label
	}
	return tool
}

const summaryPreviewWidth = 80

// SummaryPreview trims a tool result summary down to one display row.
func SummaryPreview(summary string) string {
	return truncate.StringWithTail(summary, summaryPreviewWidth, "…")
}

// Retry defaults mirror the server's provider retry policy, used when a
// retry notice arrives with fields missing.
const (
	defaultRetryAttempt     = 1
	defaultRetryMaxRetries  = 3
	defaultRetryWaitSeconds = 1.5
)

// RetryNotice reports that the server hit a transient provider error and is
// backing off before trying again.
type RetryNotice struct {
	Attempt     int
	MaxRetries  int
	WaitSeconds float64
	Cause       string
}

func (n RetryNotice) String() string {
	return fmt.Sprintf("Connection error, retrying in %.1fs... (%d/%d)", n.WaitSeconds, n.Attempt, n.MaxRetries)
}

// PendingAction is a server-side action awaiting explicit confirmation.
type PendingAction struct {
	ActionID string
	Title    string
	Time     string
}

// Result is a finalized turn.
type Result struct {
	Text       string
	Mode       string
	Expression string
	ToolsUsed  []string
}
