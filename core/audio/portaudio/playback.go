package portaudio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/koscakluka/scarlett-term/core/audio"
)

const defaultFramesPerBuffer = 1024

// Player plays decoded PCM clips through PortAudio. It owns at most one
// active clip, starting a new one stops whatever is currently playing.
type Player struct {
	framesPerBuffer int

	mu      sync.Mutex
	current *playback
	closed  bool
}

func NewPlayer() (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	return &Player{framesPerBuffer: defaultFramesPerBuffer}, nil
}

func (p *Player) Play(pcm []byte, encoding audio.EncodingInfo) (audio.Playback, error) {
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("player is closed")
	}
	previous := p.current
	p.current = nil
	p.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	out := make([]int16, p.framesPerBuffer*encoding.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, encoding.Channels, float64(encoding.SampleRate), p.framesPerBuffer, out,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open playback stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start playback stream: %w", err)
	}

	pb := &playback{
		stream:   stream,
		out:      out,
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	go pb.run(pcm)

	p.mu.Lock()
	p.current = pb
	p.mu.Unlock()

	return pb, nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.closed = true
	p.mu.Unlock()

	if current != nil {
		current.Stop()
	}

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate portaudio: %w", err)
	}
	return nil
}

type playback struct {
	stream *portaudio.Stream
	out    []int16

	stopped  atomic.Bool
	done     chan struct{}
	released chan struct{}
	err      error

	settleOnce  sync.Once
	releaseOnce sync.Once
}

func (pb *playback) Done() <-chan struct{} {
	return pb.done
}

func (pb *playback) Err() error {
	<-pb.done
	return pb.err
}

func (pb *playback) Stop() {
	pb.stopped.Store(true)
	pb.settle(nil)
	// The writer goroutine notices the flag after at most one buffer of
	// audio and closes the stream, wait for that so the device is free
	// before anything else claims it.
	<-pb.released
}

func (pb *playback) settle(err error) {
	pb.settleOnce.Do(func() {
		pb.err = err
		close(pb.done)
	})
}

func (pb *playback) release() {
	pb.releaseOnce.Do(func() {
		_ = pb.stream.Stop()
		_ = pb.stream.Close()
		close(pb.released)
	})
}

// run pushes the clip through the stream one buffer at a time. Write blocks
// for the duration of a buffer, so the loop paces itself off the device.
func (pb *playback) run(pcm []byte) {
	defer pb.release()
	defer pb.settle(nil)

	bufferSize := len(pb.out) * 2
	for offset := 0; offset < len(pcm); offset += bufferSize {
		if pb.stopped.Load() {
			return
		}

		chunk := pcm[offset:min(offset+bufferSize, len(pcm))]
		if len(chunk) < bufferSize {
			// Zero-fill the tail so the final partial buffer plays clean.
			padded := make([]byte, bufferSize)
			copy(padded, chunk)
			chunk = padded
		}

		if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, pb.out); err != nil {
			pb.settle(fmt.Errorf("failed to frame playback buffer: %w", err))
			return
		}
		if err := pb.stream.Write(); err != nil {
			pb.settle(fmt.Errorf("failed to write to playback stream: %w", err))
			return
		}
	}
}
