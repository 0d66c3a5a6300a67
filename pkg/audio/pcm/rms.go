package pcm

import (
	"encoding/binary"
	"math"
)

// RMS computes the root mean square of 16-bit little-endian samples,
// normalized to [0, 1]. A trailing odd byte is ignored. Empty input
// yields 0.
func RMS(p []byte) float64 {
	n := len(p) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(p[i*2:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
