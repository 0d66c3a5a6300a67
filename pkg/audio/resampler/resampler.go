package resampler

import (
	"fmt"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/voxwire/voxwire/pkg/audio/pcm"
)

// flushPad is the stretch of silence pushed through the filter on Flush to
// recover audio still sitting in the filter delay line.
const flushPad = 60 * time.Millisecond

// Converter converts 16-bit mono PCM audio from one sample rate to another.
// Call Convert for each chunk as it arrives and Flush once at end of stream.
// A Converter is not safe for concurrent use.
type Converter struct {
	from pcm.Format
	to   pcm.Format

	rs   resampling.Resampler // nil when no rate conversion is needed
	half []byte               // trailing odd byte of the previous chunk
}

// New creates a Converter from one format to another. When the sample rates
// match, Convert passes chunks through untouched.
func New(from, to pcm.Format) (*Converter, error) {
	c := &Converter{from: from, to: to}
	if from.SampleRate() == to.SampleRate() {
		return c, nil
	}
	config := &resampling.Config{
		InputRate:  float64(from.SampleRate()),
		OutputRate: float64(to.SampleRate()),
		Channels:   to.Channels(),
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	rs, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	c.rs = rs
	return c, nil
}

// From returns the input format.
func (c *Converter) From() pcm.Format { return c.from }

// To returns the output format.
func (c *Converter) To() pcm.Format { return c.to }

// Convert converts one chunk of input audio and returns whatever output the
// filter produces; the result may be empty while the filter fills its delay
// line. A chunk with an odd byte count keeps its trailing byte pending until
// the next chunk completes the sample.
func (c *Converter) Convert(chunk []byte) ([]byte, error) {
	data := chunk
	if len(c.half) > 0 {
		data = append(c.half, chunk...)
		c.half = nil
	}
	if len(data)%2 != 0 {
		c.half = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, nil
	}
	if c.rs == nil {
		return data, nil
	}
	return c.process(bytesToFloats(data))
}

// Flush drains audio still held in the filter delay line. A pending odd byte
// is dropped. The Converter remains usable after Flush.
func (c *Converter) Flush() ([]byte, error) {
	c.half = nil
	if c.rs == nil {
		return nil, nil
	}
	pad := make([]float64, c.from.SamplesInDuration(flushPad))
	return c.process(pad)
}

func (c *Converter) process(input []float64) ([]byte, error) {
	output, err := c.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	return floatsToBytes(output), nil
}

// bytesToFloats decodes little-endian int16 samples into floats normalized to
// [-1, 1].
func bytesToFloats(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

// floatsToBytes encodes floats back into little-endian int16 samples,
// clipping anything outside [-1, 1].
func floatsToBytes(f []float64) []byte {
	out := make([]byte, len(f)*2)
	for i, s := range f {
		v := int16(s * 32767.0)
		if s > 1.0 {
			v = 32767
		} else if s < -1.0 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
