// Package eventstream reconstructs typed server events from a raw SSE byte
// stream.
//
// The wire convention is two-line: an `event:` line naming the type of the
// `data:` line that follows it. Chunks arrive cut at arbitrary byte
// boundaries, so the consumer buffers the trailing partial line between
// feeds and only ever acts on complete lines.
package eventstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/codes"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"

	// DefaultEventType labels data lines that arrive without a preceding
	// event-type line.
	DefaultEventType = "message"
)

type Handler func(payload []byte)

type Consumer struct {
	handlers map[string]Handler
	catchAll func(event string, payload []byte)

	// fragment holds the bytes after the last newline seen so far, they
	// are the start of a line whose end has not arrived yet.
	fragment []byte

	// eventType is the pending type for the next data line. It resets to
	// DefaultEventType after every dispatch, a type applies to exactly one
	// payload.
	eventType string
}

func NewConsumer() *Consumer {
	return &Consumer{
		handlers:  map[string]Handler{},
		eventType: DefaultEventType,
	}
}

// On registers a handler for one event type, replacing any previous one.
// Registration is not safe concurrently with Feed or Run.
func (c *Consumer) On(event string, handler Handler) *Consumer {
	c.handlers[event] = handler
	return c
}

// OnUnknown registers a handler for event types nothing else is registered
// for. Without one, unrecognized events are dropped silently.
func (c *Consumer) OnUnknown(handler func(event string, payload []byte)) *Consumer {
	c.catchAll = handler
	return c
}

// Run reads the stream to its end, feeding every chunk through the
// consumer. A clean end of stream returns nil, an unterminated final line
// or a dangling event-type line is discarded either way.
func (c *Consumer) Run(ctx context.Context, r io.Reader) error {
	ctx, span := tracer.Start(ctx, "eventstream.consume")
	defer span.End()

	buffer := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buffer)
		if n > 0 {
			c.Feed(buffer[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "event stream read failed")
			return fmt.Errorf("failed to read event stream: %w", err)
		}
	}
}

// Feed consumes one chunk of raw bytes. Chunk boundaries carry no meaning,
// feeding a stream byte by byte dispatches the same events as feeding it
// whole.
func (c *Consumer) Feed(chunk []byte) {
	c.fragment = append(c.fragment, chunk...)
	for {
		i := bytes.IndexByte(c.fragment, '\n')
		if i < 0 {
			return
		}
		line := strings.TrimSuffix(string(c.fragment[:i]), "\r")
		c.fragment = c.fragment[i+1:]
		c.feedLine(line)
	}
}

func (c *Consumer) feedLine(line string) {
	switch {
	case strings.HasPrefix(line, eventPrefix):
		// A newer event-type line overrides a pending one, the overridden
		// type never saw a data line so nothing is lost.
		c.eventType = strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))

	case strings.HasPrefix(line, dataPrefix):
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		event := c.eventType
		c.eventType = DefaultEventType
		c.dispatch(event, []byte(payload))

	default:
		// Blank lines and comment lines carry nothing.
	}
}

func (c *Consumer) dispatch(event string, payload []byte) {
	if !json.Valid(payload) {
		logger.Warn("dropping malformed event payload", "event", event)
		return
	}

	if handler, ok := c.handlers[event]; ok {
		handler(payload)
		return
	}
	if c.catchAll != nil {
		c.catchAll(event, payload)
	}
}
