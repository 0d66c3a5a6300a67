package record

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/voxwire/voxwire/pkg/audio/pcm"
)

// ---------------------------------------------------------------------------
// mock S3 client
// ---------------------------------------------------------------------------

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
var errNotFound = &apiError{code: "NotFound", msg: "not found"}

// mockS3 is a thread-safe in-memory S3 backend for testing.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte

	// Optional hooks to inject errors.
	putErr  error
	headErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

// ---------------------------------------------------------------------------
// store contract
// ---------------------------------------------------------------------------

// stores returns every FileStore implementation under test.
func stores(t *testing.T) map[string]FileStore {
	t.Helper()
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal error: %v", err)
	}
	return map[string]FileStore{
		"local": local,
		"s3":    NewS3(newMockS3(), "recordings", "voice"),
	}
}

func TestStore_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			const data = "riff data"
			w, err := store.Write(ctx, "u1/rec.wav")
			if err != nil {
				t.Fatalf("Write error: %v", err)
			}
			if _, err := io.WriteString(w, data); err != nil {
				t.Fatalf("write error: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}

			ok, err := store.Exists(ctx, "u1/rec.wav")
			if err != nil || !ok {
				t.Fatalf("Exists = %v, %v; want true", ok, err)
			}

			r, err := store.Read(ctx, "u1/rec.wav")
			if err != nil {
				t.Fatalf("Read error: %v", err)
			}
			got, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				t.Fatalf("read error: %v", err)
			}
			if string(got) != data {
				t.Fatalf("content = %q, want %q", got, data)
			}

			if err := store.Delete(ctx, "u1/rec.wav"); err != nil {
				t.Fatalf("Delete error: %v", err)
			}
			if ok, _ := store.Exists(ctx, "u1/rec.wav"); ok {
				t.Fatal("recording still exists after Delete")
			}
			// Idempotent.
			if err := store.Delete(ctx, "u1/rec.wav"); err != nil {
				t.Fatalf("second Delete error: %v", err)
			}
		})
	}
}

func TestStore_ReadMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Read(ctx, "nope.wav"); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("Read error = %v, want os.ErrNotExist", err)
			}
		})
	}
}

func TestS3_WriteCloseReportsUploadError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("access denied")
	store := NewS3(mock, "recordings", "")

	w, err := store.Write(context.Background(), "u1/rec.wav")
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	io.WriteString(w, "data")
	if err := w.Close(); err == nil {
		t.Fatal("Close should report the upload error")
	}
}

func TestS3_KeyPrefix(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "recordings", "voice")

	w, _ := store.Write(context.Background(), "u1/rec.wav")
	io.WriteString(w, "x")
	if err := w.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, ok := mock.objects["voice/u1/rec.wav"]; !ok {
		t.Fatalf("object keys = %v, want voice/u1/rec.wav", mock.objects)
	}
}

// ---------------------------------------------------------------------------
// recorder
// ---------------------------------------------------------------------------

var recordingName = regexp.MustCompile(`^u1/\d{8}_\d{6}-[0-9a-f-]{36}\.wav$`)

func TestRecorder_SaveUtterance(t *testing.T) {
	mock := newMockS3()
	rec := NewRecorder(NewS3(mock, "recordings", ""))

	audio := make([]byte, 640)
	name, err := rec.SaveUtterance(context.Background(), "u1", audio, pcm.L16Mono16K)
	if err != nil {
		t.Fatalf("SaveUtterance error: %v", err)
	}
	if !recordingName.MatchString(name) {
		t.Errorf("name = %q, want <clientID>/<timestamp>-<uuid>.wav", name)
	}

	data, ok := mock.objects[name]
	if !ok {
		t.Fatalf("recording %q not stored; have %v", name, mock.objects)
	}
	if len(data) != 44+len(audio) {
		t.Errorf("stored %d bytes, want 44-byte WAV header + %d payload", len(data), len(audio))
	}
	if string(data[:4]) != "RIFF" {
		t.Errorf("stored object does not start with a RIFF header")
	}
}

func TestRecorder_Disabled(t *testing.T) {
	rec := NewRecorder(nil)
	if rec.Enabled() {
		t.Fatal("recorder with nil store should be disabled")
	}
	name, err := rec.SaveUtterance(context.Background(), "u1", []byte{1, 2}, pcm.L16Mono16K)
	if err != nil {
		t.Fatalf("SaveUtterance error: %v", err)
	}
	if name != "" {
		t.Fatalf("name = %q, want empty", name)
	}
}

func TestRecorder_StoreFailure(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("bucket gone")
	rec := NewRecorder(NewS3(mock, "recordings", ""))

	if _, err := rec.SaveUtterance(context.Background(), "u1", []byte{1, 2}, pcm.L16Mono16K); err == nil {
		t.Fatal("SaveUtterance should surface the store failure")
	}
}
