package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/koscakluka/scarlett-term/core/audio"
)

// Player plays decoded PCM clips through miniaudio. It owns at most one
// active clip, starting a new one stops whatever is currently playing.
type Player struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext

	mu      sync.Mutex
	current *playback
	closed  bool
}

func NewPlayer() (*Player, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) {}, //log.Println("malgo:", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	return &Player{audioContext: audioCtx}, nil
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

	pb := &playback{
		pcm:  pcm,
		done: make(chan struct{}),
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(encoding.Channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encoding.SampleRate / 10) // ~100ms of audio
	config.Periods = 4

	device, err := malgo.InitDevice(
		p.audioContext.Context,
		config,
		malgo.DeviceCallbacks{Data: pb.processAudio(encoding)},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	pb.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	// The device cannot be uninitialized from its own data callback, so a
	// companion goroutine releases it once the playback settles.
	go func() {
		<-pb.done
		pb.release()
	}()

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

	if err := p.audioContext.Uninit(); err != nil {
		return fmt.Errorf("failed to uninitialize audio context: %w", err)
	}
	p.audioContext.Free()
	return nil
}

type playback struct {
	device *malgo.Device

	mu  sync.Mutex
	pcm []byte

	done chan struct{}
	err  error

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
	pb.settle(nil)
	pb.release()
}

// settle resolves the playback exactly once, whichever of natural drain,
// failure, or Stop gets there first wins.
func (pb *playback) settle(err error) {
	pb.settleOnce.Do(func() {
		pb.err = err
		close(pb.done)
	})
}

func (pb *playback) release() {
	pb.releaseOnce.Do(func() {
		if pb.device != nil {
			pb.device.Uninit()
		}
	})
}

func (pb *playback) processAudio(encoding audio.EncodingInfo) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		pb.mu.Lock()
		n := copy(pOutput, pb.pcm)
		pb.pcm = pb.pcm[n:]
		pb.mu.Unlock()

		if n < len(pOutput) {
			silence := encoding.SilenceValue()
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = silence
			}
		}

		// The clip has drained once a callback finds nothing left to copy,
		// at that point the device-internal periods have played out too.
		if n == 0 {
			pb.settle(nil)
		}
	}
}
