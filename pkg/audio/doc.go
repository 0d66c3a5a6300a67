// Package audio is an umbrella for audio handling sub-packages:
//
//   - pcm: PCM format descriptors and chunk framing for 16-bit linear audio
//   - resampler: sample-rate conversion between PCM formats
//
// Example usage:
//
//	import "github.com/voxwire/voxwire/pkg/audio/pcm"
//
//	format := pcm.L16Mono16K
//	chunk := format.DataChunk(audioData)
package audio
