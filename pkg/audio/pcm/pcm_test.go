package pcm

import (
	"testing"
	"time"
)

func TestFormat_Properties(t *testing.T) {
	tests := []struct {
		format Format
		rate   int
		str    string
	}{
		{L16Mono16K, 16000, "audio/L16; rate=16000; channels=1"},
		{L16Mono24K, 24000, "audio/L16; rate=24000; channels=1"},
		{L16Mono48K, 48000, "audio/L16; rate=48000; channels=1"},
	}
	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.format.SampleRate(); got != tt.rate {
				t.Errorf("SampleRate() = %d, want %d", got, tt.rate)
			}
			if got := tt.format.Channels(); got != 1 {
				t.Errorf("Channels() = %d, want 1", got)
			}
			if got := tt.format.Depth(); got != 16 {
				t.Errorf("Depth() = %d, want 16", got)
			}
			if got := tt.format.BytesPerSample(); got != 2 {
				t.Errorf("BytesPerSample() = %d, want 2", got)
			}
			if got := tt.format.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
		})
	}
}

func TestFormat_FrameBytes(t *testing.T) {
	tests := []struct {
		format Format
		d      time.Duration
		want   int
	}{
		{L16Mono16K, 20 * time.Millisecond, 640},
		{L16Mono16K, 10 * time.Millisecond, 320},
		{L16Mono24K, 20 * time.Millisecond, 960},
		{L16Mono48K, 20 * time.Millisecond, 1920},
		{L16Mono16K, time.Second, 32000},
	}
	for _, tt := range tests {
		if got := tt.format.FrameBytes(tt.d); got != tt.want {
			t.Errorf("%v.FrameBytes(%v) = %d, want %d", tt.format, tt.d, got, tt.want)
		}
	}
}

func TestFormat_DurationRoundTrip(t *testing.T) {
	f := L16Mono16K
	n := f.BytesInDuration(250 * time.Millisecond)
	if got := f.Duration(n); got != 250*time.Millisecond {
		t.Errorf("Duration(%d) = %v, want 250ms", n, got)
	}
}

func TestFormat_BytesRate(t *testing.T) {
	if got := L16Mono16K.BytesRate(); got != 32000 {
		t.Errorf("BytesRate() = %d, want 32000", got)
	}
	if got := L16Mono24K.BytesRate(); got != 48000 {
		t.Errorf("BytesRate() = %d, want 48000", got)
	}
}

func TestFormat_SilenceFrame(t *testing.T) {
	frame := L16Mono16K.SilenceFrame(20 * time.Millisecond)
	if len(frame) != 640 {
		t.Fatalf("SilenceFrame length = %d, want 640", len(frame))
	}
	for i, b := range frame {
		if b != 0 {
			t.Fatalf("SilenceFrame[%d] = %d, want 0", i, b)
		}
	}
}

func TestFormatForRate(t *testing.T) {
	tests := []struct {
		rate int
		want Format
		ok   bool
	}{
		{16000, L16Mono16K, true},
		{24000, L16Mono24K, true},
		{48000, L16Mono48K, true},
		{44100, 0, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		got, ok := FormatForRate(tt.rate)
		if ok != tt.ok {
			t.Errorf("FormatForRate(%d) ok = %v, want %v", tt.rate, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("FormatForRate(%d) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}
