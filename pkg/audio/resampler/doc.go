// Package resampler converts 16-bit mono PCM audio between sample rates.
//
// A Converter is push-driven: feed it chunks as they arrive from a synthesis
// stream and forward whatever it returns, then Flush once at end of stream to
// drain the filter. Conversion is pure Go (no CGO/FFI dependencies).
//
// Example usage:
//
//	conv, err := resampler.New(pcm.L16Mono24K, pcm.L16Mono16K)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for chunk := range chunks {
//	    out, err := conv.Convert(chunk)
//	    // forward out
//	}
//	tail, err := conv.Flush()
//	// forward tail
package resampler
