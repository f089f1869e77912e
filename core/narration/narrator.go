// Package narration drives the latency-hiding speech pipeline: segment the
// text, fetch synthesized audio one chunk ahead of playback, and play the
// chunks back gaplessly in order.
package narration

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/koscakluka/scarlett-term/core/audio"
	"github.com/koscakluka/scarlett-term/core/audio/mp3"
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Decoder turns a fetched clip into playable PCM.
type Decoder func(clip []byte) ([]byte, audio.EncodingInfo, error)

// Hooks reports an invocation's lifecycle to whatever owns its affordance.
// OnPlaying fires once, when the first chunk becomes audible. OnIdle fires
// when the narration runs out or fails, never on cancellation, the caller
// that cancelled already knows.
type Hooks struct {
	OnPlaying func()
	OnError   func(err error)
	OnIdle    func()
}

func (h *Hooks) defaults() *Hooks {
	if h.OnPlaying == nil {
		h.OnPlaying = func() {}
	}
	if h.OnError == nil {
		h.OnError = func(error) {}
	}
	if h.OnIdle == nil {
		h.OnIdle = func() {}
	}
	return h
}

// Narrator owns the single active invocation. Starting a narration tears
// down whatever was narrating before, fully, before the new invocation's
// first fetch goes out.
type Narrator struct {
	synthesizer Synthesizer
	player      audio.Player
	decode      Decoder

	mu     sync.Mutex
	active *Invocation
}

type NarratorOption func(*Narrator)

func WithDecoder(decode Decoder) NarratorOption {
	return func(n *Narrator) { n.decode = decode }
}

func NewNarrator(synthesizer Synthesizer, player audio.Player, opts ...NarratorOption) *Narrator {
	narrator := &Narrator{
		synthesizer: synthesizer,
		player:      player,
		decode:      mp3.Decode,
	}
	for _, opt := range opts {
		opt(narrator)
	}
	return narrator
}

// Narrate starts narrating text, cancelling and fully tearing down any
// active invocation first. By the time Narrate returns, the previous
// invocation has released its resources and the new one has not yet issued
// a fetch.
func (n *Narrator) Narrate(ctx context.Context, text string, hooks Hooks) *Invocation {
	n.mu.Lock()
	previous := n.active
	n.active = nil
	n.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	chunks := Split(text)
	if len(chunks) == 0 {
		// Unsegmentable text still narrates, raw, as a single chunk.
		chunks = []Chunk{{Index: 0, Text: text}}
	}

	invocation := newInvocation(ctx, text, chunks, hooks)

	n.mu.Lock()
	n.active = invocation
	n.mu.Unlock()

	go invocation.run(n.synthesizer, n.player, n.decode, func() { n.clear(invocation) })
	return invocation
}

// Stop cancels the active narration, if any, and waits for its teardown.
func (n *Narrator) Stop() {
	n.mu.Lock()
	active := n.active
	n.active = nil
	n.mu.Unlock()

	if active != nil {
		active.Stop()
	}
}

func (n *Narrator) clear(invocation *Invocation) {
	n.mu.Lock()
	if n.active == invocation {
		n.active = nil
	}
	n.mu.Unlock()
}

// Invocation is one narration of one text, start to finish. It holds the
// shared cancellation for all of its fetches and playbacks and at most one
// live playback resource at a time.
type Invocation struct {
	ID   string
	Text string

	chunks []Chunk
	hooks  Hooks

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	playback audio.Playback

	done chan struct{}
}

func newInvocation(ctx context.Context, text string, chunks []Chunk, hooks Hooks) *Invocation {
	ctx, cancel := context.WithCancel(ctx)
	return &Invocation{
		ID:     uuid.NewString(),
		Text:   text,
		chunks: chunks,
		hooks:  *hooks.defaults(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Done is closed once the pipeline has exited and everything the invocation
// held is released.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

// Stop cancels the invocation and blocks until its teardown completes. Safe
// to call more than once. Stopping is not a failure and is never reported
// through the error hook.
func (inv *Invocation) Stop() {
	inv.cancel()

	inv.mu.Lock()
	playback := inv.playback
	inv.playback = nil
	inv.mu.Unlock()

	if playback != nil {
		playback.Stop()
	}

	<-inv.done
}

type fetchResult struct {
	clip []byte
	err  error
}

func (inv *Invocation) run(synthesizer Synthesizer, player audio.Player, decode Decoder, onExit func()) {
	_, span := tracer.Start(inv.ctx, "narration.invocation",
		trace.WithAttributes(
			attribute.String("narration.invocation.id", inv.ID),
			attribute.Int("narration.chunks", len(inv.chunks)),
		))
	defer span.End()

	defer close(inv.done)
	defer onExit()

	// Each fetch resolves into its own 1-buffered channel so an abandoned
	// fetch can finish without anyone listening.
	fetches := make([]chan fetchResult, len(inv.chunks))
	issueFetch := func(index int) {
		result := make(chan fetchResult, 1)
		fetches[index] = result
		go func() {
			clip, err := synthesizer.Synthesize(inv.ctx, inv.chunks[index].Text)
			result <- fetchResult{clip: clip, err: err}
		}()
	}

	issueFetch(0)

	playing := false
	for _, chunk := range inv.chunks {
		var fetch fetchResult
		select {
		case fetch = <-fetches[chunk.Index]:
		case <-inv.ctx.Done():
			return
		}

		if fetch.err != nil {
			if inv.ctx.Err() != nil {
				// A fetch failing because teardown abandoned it is not news.
				return
			}
			span.RecordError(fetch.err)
			span.SetStatus(codes.Error, "narration fetch failed")
			// A failed fetch is likely a systemic outage, the rest of the
			// narration is abandoned rather than skipped over.
			inv.hooks.OnError(fetch.err)
			inv.hooks.OnIdle()
			return
		}

		// Issue the next fetch before decoding this chunk, overlapping its
		// network latency with this chunk's decode and playback. At most
		// two fetches are ever in flight: this resolved one's successor.
		if next := chunk.Index + 1; next < len(inv.chunks) {
			issueFetch(next)
		}

		pcm, encoding, err := decode(fetch.clip)
		if err != nil {
			// One bad clip should not silence the rest of the message, the
			// chunk counts as ended and the pipeline moves on.
			logger.Warn("skipping undecodable narration chunk", "invocation", inv.ID, "chunk", chunk.Index, "error", err)
			continue
		}
		logger.Debug("narration chunk decoded", "invocation", inv.ID, "chunk", chunk.Index, "duration", encoding.Duration(len(pcm)))

		playback, err := player.Play(pcm, encoding)
		if err != nil {
			logger.Warn("skipping unplayable narration chunk", "invocation", inv.ID, "chunk", chunk.Index, "error", err)
			continue
		}

		inv.mu.Lock()
		if inv.ctx.Err() != nil {
			inv.mu.Unlock()
			playback.Stop()
			return
		}
		inv.playback = playback
		inv.mu.Unlock()

		if !playing {
			playing = true
			inv.hooks.OnPlaying()
		}

		select {
		case <-playback.Done():
			inv.mu.Lock()
			inv.playback = nil
			inv.mu.Unlock()
			// Release is idempotent, a naturally ended playback has already
			// let its device go.
			playback.Stop()
			if err := playback.Err(); err != nil {
				logger.Warn("narration chunk playback failed", "invocation", inv.ID, "chunk", chunk.Index, "error", err)
			}
			if inv.ctx.Err() != nil {
				return
			}
		case <-inv.ctx.Done():
			inv.mu.Lock()
			inv.playback = nil
			inv.mu.Unlock()
			playback.Stop()
			return
		}
	}

	inv.hooks.OnIdle()
}
