package pcm

import (
	"bytes"
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// EncodeWAV writes data as a RIFF/WAVE file with a standard 44-byte PCM
// header for the given format.
func EncodeWAV(w io.Writer, f Format, data []byte) error {
	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(data)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.Channels()))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate()))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.BytesRate()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(f.BytesPerSample()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(f.Depth()))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// WAV returns data wrapped as a complete in-memory WAV file.
func WAV(f Format, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(data))
	// Writing to a bytes.Buffer cannot fail.
	_ = EncodeWAV(&buf, f, data)
	return buf.Bytes()
}
