package narration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/scarlett-term/core/audio"
)

type synthFunc func(ctx context.Context, text string) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

// recordingSynthesizer echoes the chunk text back as the clip and reports
// every request on a channel.
func recordingSynthesizer(requests chan string, fail func(text string) error) Synthesizer {
	return synthFunc(func(_ context.Context, text string) ([]byte, error) {
		requests <- text
		if fail != nil {
			if err := fail(text); err != nil {
				return nil, err
			}
		}
		return []byte(text), nil
	})
}

type fakePlayback struct {
	clip []byte

	done        chan struct{}
	settleOnce  sync.Once
	releaseOnce sync.Once
	releases    *atomic.Int32
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Err() error            { return nil }

func (p *fakePlayback) Stop() {
	p.finish()
	p.release()
}

// finish settles the playback as a natural end would.
func (p *fakePlayback) finish() {
	p.settleOnce.Do(func() { close(p.done) })
	p.release()
}

func (p *fakePlayback) release() {
	p.releaseOnce.Do(func() { p.releases.Add(1) })
}

type fakePlayer struct {
	started  chan *fakePlayback
	releases atomic.Int32
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{started: make(chan *fakePlayback, 8)}
}

func (p *fakePlayer) Play(pcm []byte, _ audio.EncodingInfo) (audio.Playback, error) {
	playback := &fakePlayback{
		clip:     pcm,
		done:     make(chan struct{}),
		releases: &p.releases,
	}
	p.started <- playback
	return playback, nil
}

func (p *fakePlayer) Close() error { return nil }

func passthroughDecoder(clip []byte) ([]byte, audio.EncodingInfo, error) {
	return clip, audio.GetDefaultEncodingInfo(), nil
}

func await[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func awaitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestNarrationPrefetchesTheNextChunkWhileTheCurrentOnePlays(t *testing.T) {
	requests := make(chan string, 8)
	player := newFakePlayer()
	narrator := NewNarrator(recordingSynthesizer(requests, nil), player, WithDecoder(passthroughDecoder))

	idle := make(chan struct{})
	narrator.Narrate(context.Background(), "One! Two! Three!", Hooks{
		OnIdle: func() { close(idle) },
	})

	first := await(t, player.started, "the first playback")

	// Both the current chunk and its successor have been requested while
	// the first chunk is still playing.
	if got := await(t, requests, "the first fetch"); got != "One!" {
		t.Fatalf("expected the first fetch to be %q, got %q", "One!", got)
	}
	if got := await(t, requests, "the prefetch"); got != "Two!" {
		t.Fatalf("expected the prefetch to be %q, got %q", "Two!", got)
	}

	// The third chunk must not be requested until the second's fetch has
	// been consumed, which cannot happen before the first chunk ends.
	select {
	case text := <-requests:
		t.Fatalf("expected at most 2 fetches in flight, saw an extra one for %q", text)
	default:
	}

	first.finish()
	second := await(t, player.started, "the second playback")
	if got := await(t, requests, "the third fetch"); got != "Three!" {
		t.Fatalf("expected the third fetch to be %q, got %q", "Three!", got)
	}

	second.finish()
	third := await(t, player.started, "the third playback")
	third.finish()

	awaitClosed(t, idle, "the pipeline to finish")
}

func TestNarrationFetchFailureAbortsAllRemainingChunks(t *testing.T) {
	requests := make(chan string, 8)
	player := newFakePlayer()
	synthesizer := recordingSynthesizer(requests, func(text string) error {
		if text == "Two!" {
			return errors.New("synthesis down")
		}
		return nil
	})
	narrator := NewNarrator(synthesizer, player, WithDecoder(passthroughDecoder))

	failures := make(chan error, 1)
	idle := make(chan struct{})
	invocation := narrator.Narrate(context.Background(), "One! Two! Three!", Hooks{
		OnError: func(err error) { failures <- err },
		OnIdle:  func() { close(idle) },
	})

	first := await(t, player.started, "the first playback")
	first.finish()

	if err := await(t, failures, "the fetch failure"); err == nil {
		t.Fatal("expected a narration error")
	}
	awaitClosed(t, idle, "the affordance reset")
	awaitClosed(t, invocation.Done(), "the pipeline teardown")

	// Only the first chunk ever played and the third was never requested.
	select {
	case pb := <-player.started:
		t.Fatalf("expected no playback after the failure, got one for %q", string(pb.clip))
	default:
	}
	fetched := map[string]bool{}
	for {
		select {
		case text := <-requests:
			fetched[text] = true
			continue
		default:
		}
		break
	}
	if fetched["Three!"] {
		t.Fatal("expected the fetch failure to abort the remaining chunks")
	}
}

func TestNarrationDecodeFailureSkipsOnlyThatChunk(t *testing.T) {
	requests := make(chan string, 8)
	player := newFakePlayer()
	decoder := func(clip []byte) ([]byte, audio.EncodingInfo, error) {
		if string(clip) == "Two!" {
			return nil, audio.EncodingInfo{}, errors.New("corrupt clip")
		}
		return clip, audio.GetDefaultEncodingInfo(), nil
	}
	narrator := NewNarrator(recordingSynthesizer(requests, nil), player, WithDecoder(decoder))

	errored := atomic.Bool{}
	idle := make(chan struct{})
	narrator.Narrate(context.Background(), "One! Two! Three!", Hooks{
		OnError: func(error) { errored.Store(true) },
		OnIdle:  func() { close(idle) },
	})

	first := await(t, player.started, "the first playback")
	if string(first.clip) != "One!" {
		t.Fatalf("expected the first playback to carry %q, got %q", "One!", string(first.clip))
	}
	first.finish()

	// The bad middle chunk is skipped, the third still plays.
	third := await(t, player.started, "the third playback")
	if string(third.clip) != "Three!" {
		t.Fatalf("expected the third playback to carry %q, got %q", "Three!", string(third.clip))
	}
	third.finish()

	awaitClosed(t, idle, "the pipeline to finish")
	if errored.Load() {
		t.Fatal("expected a decode failure to be skipped, not reported")
	}
}

func TestStoppingNarrationReleasesTheActiveResourceExactlyOnce(t *testing.T) {
	requests := make(chan string, 8)
	player := newFakePlayer()
	narrator := NewNarrator(recordingSynthesizer(requests, nil), player, WithDecoder(passthroughDecoder))

	errored := atomic.Bool{}
	invocation := narrator.Narrate(context.Background(), "One! Two!", Hooks{
		OnError: func(error) { errored.Store(true) },
	})

	playback := await(t, player.started, "the first playback")

	narrator.Stop()
	awaitClosed(t, invocation.Done(), "the pipeline teardown")

	if got := player.releases.Load(); got != 1 {
		t.Fatalf("expected exactly one release, got %d", got)
	}

	// Stopping again, or stopping the already-released playback, changes
	// nothing.
	invocation.Stop()
	playback.Stop()
	if got := player.releases.Load(); got != 1 {
		t.Fatalf("expected the release to stay at one, got %d", got)
	}
	if errored.Load() {
		t.Fatal("expected cancellation not to be reported as an error")
	}
}

func TestStartingANarrationTearsDownTheActiveOneFirst(t *testing.T) {
	requests := make(chan string, 8)
	player := newFakePlayer()
	narrator := NewNarrator(recordingSynthesizer(requests, nil), player, WithDecoder(passthroughDecoder))

	first := narrator.Narrate(context.Background(), "A!", Hooks{})
	await(t, player.started, "the first narration's playback")
	if got := await(t, requests, "the first narration's fetch"); got != "A!" {
		t.Fatalf("unexpected first fetch: %q", got)
	}

	second := narrator.Narrate(context.Background(), "B!", Hooks{})

	// By the time Narrate returns, the previous invocation is fully torn
	// down and the new one has not fetched anything yet.
	select {
	case <-first.Done():
	default:
		t.Fatal("expected the first narration to be torn down before the second starts")
	}
	if got := player.releases.Load(); got != 1 {
		t.Fatalf("expected the first narration's resource to be released once, got %d", got)
	}

	if got := await(t, requests, "the second narration's fetch"); got != "B!" {
		t.Fatalf("unexpected second fetch: %q", got)
	}
	playback := await(t, player.started, "the second narration's playback")
	playback.finish()
	awaitClosed(t, second.Done(), "the second narration to finish")
}

func TestNarrationFallsBackToTheRawTextWhenUnsegmentable(t *testing.T) {
	requests := make(chan string, 8)
	player := newFakePlayer()
	narrator := NewNarrator(recordingSynthesizer(requests, nil), player, WithDecoder(passthroughDecoder))

	invocation := narrator.Narrate(context.Background(), "   ", Hooks{})

	if got := await(t, requests, "the raw-text fetch"); got != "   " {
		t.Fatalf("expected the raw text to be narrated as one chunk, got %q", got)
	}
	playback := await(t, player.started, "the playback")
	playback.finish()
	awaitClosed(t, invocation.Done(), "the pipeline to finish")
}
