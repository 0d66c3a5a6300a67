// Package pcm provides types and utilities for working with PCM (Pulse Code
// Modulation) audio data.
//
// The package defines formats for common configurations (16-bit mono at
// various sample rates) along with frame-size arithmetic, RMS energy
// measurement, and WAV encoding.
//
// Example usage:
//
//	// The canonical capture format: 16kHz mono.
//	format := pcm.L16Mono16K
//
//	// Size of one 20ms analysis frame (640 bytes).
//	frame := format.FrameBytes(20 * time.Millisecond)
//
//	// Energy of a frame, normalized to [0, 1].
//	energy := pcm.RMS(data)
package pcm
