// Package record persists completed user utterances as WAV files for later
// inspection. Recording is strictly best-effort: the session keeps running
// whether or not a recording lands.
package record

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/voxwire/voxwire/pkg/audio/pcm"
)

// FileStore is where recordings land.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named recording.
	// If it does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named recording for writing, truncating any previous
	// content. The caller must close the returned WriteCloser to flush.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named recording. Missing recordings are not an
	// error (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named recording exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Recorder writes one WAV per completed utterance, grouped by client.
type Recorder struct {
	store FileStore
}

// NewRecorder creates a recorder on the given store. A nil store disables
// recording: SaveUtterance becomes a no-op.
func NewRecorder(store FileStore) *Recorder {
	return &Recorder{store: store}
}

// Enabled reports whether recordings are being persisted.
func (r *Recorder) Enabled() bool {
	return r != nil && r.store != nil
}

// SaveUtterance WAV-encodes one utterance and writes it under
// <clientID>/<timestamp>-<uuid>.wav, returning the stored name. A disabled
// recorder returns "" and no error.
func (r *Recorder) SaveUtterance(ctx context.Context, clientID string, audio []byte, format pcm.Format) (string, error) {
	if !r.Enabled() {
		return "", nil
	}
	name := path.Join(clientID, fmt.Sprintf("%s-%s.wav",
		time.Now().UTC().Format("20060102_150405"), uuid.NewString()))

	w, err := r.store.Write(ctx, name)
	if err != nil {
		return "", fmt.Errorf("record: open %s: %w", name, err)
	}
	if err := pcm.EncodeWAV(w, format, audio); err != nil {
		w.Close()
		return "", fmt.Errorf("record: encode %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("record: store %s: %w", name, err)
	}
	return name, nil
}
