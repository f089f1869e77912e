package mp3

import (
	"bytes"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/koscakluka/scarlett-term/core/audio"
)

// Decode converts an MP3 clip into 16-bit little-endian PCM.
//
// The decoder always produces two interleaved channels regardless of the
// source channel count, so the returned encoding is stereo linear16 at the
// clip's native sample rate.
func Decode(data []byte) ([]byte, audio.EncodingInfo, error) {
	decoder, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, audio.EncodingInfo{}, fmt.Errorf("failed to open mp3 clip: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, audio.EncodingInfo{}, fmt.Errorf("failed to decode mp3 clip: %w", err)
	}

	encoding := audio.EncodingInfo{
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		Format:     audio.EncodingLinear16,
	}
	return pcm, encoding, nil
}
