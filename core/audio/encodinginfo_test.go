package audio

import (
	"testing"
	"time"
)

func TestEncodingInfoDuration(t *testing.T) {
	encoding := EncodingInfo{SampleRate: 44100, Channels: 2, Format: EncodingLinear16}

	oneSecond := 44100 * 2 * 2
	if got := encoding.Duration(oneSecond); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
	if got := encoding.Duration(oneSecond / 2); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %v", got)
	}
}

func TestEncodingInfoDurationOfZeroedEncodingIsZero(t *testing.T) {
	if got := (EncodingInfo{}).Duration(1024); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestEncodingInfoIsZero(t *testing.T) {
	if GetDefaultEncodingInfo().IsZero() {
		t.Fatal("expected the default encoding to be usable")
	}
	if !(EncodingInfo{SampleRate: 44100}).IsZero() {
		t.Fatal("expected an encoding without channels or format to be zero")
	}
}
