package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
listen: ":9000"
audio:
  frame_ms: 30
  silence_timeout_ms: 700
queue:
  backend: redis
  redis:
    addr: localhost:6379
    db: 2
providers:
  asr:
    name: openai
  gen:
    name: gemini
    model: gemini-2.0-flash
    system_prompt: Keep replies short.
  tts:
    name: openai
    voice: alloy
recording:
  enabled: true
  backend: local
  dir: /tmp/rec
history_limit: 10
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxwire.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	svc, err := Load[Service](path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if svc.Listen != ":9000" {
		t.Errorf("Listen = %q", svc.Listen)
	}
	if svc.Audio.FrameMs != 30 || svc.Audio.SilenceTimeoutMs != 700 {
		t.Errorf("audio = %+v", svc.Audio)
	}
	if svc.Queue.Backend != QueueRedis || svc.Queue.Redis.Addr != "localhost:6379" || svc.Queue.Redis.DB != 2 {
		t.Errorf("queue = %+v", svc.Queue)
	}
	if svc.Providers.Gen.Name != ProviderGemini || svc.Providers.Gen.SystemPrompt != "Keep replies short." {
		t.Errorf("gen provider = %+v", svc.Providers.Gen)
	}
	if !svc.Recording.Enabled || svc.Recording.Dir != "/tmp/rec" {
		t.Errorf("recording = %+v", svc.Recording)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load[Service](filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load on a missing file succeeded")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed")
	if _, err := Load[Service](path); err == nil {
		t.Fatal("Load on broken YAML succeeded")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	in := &Service{Listen: ":7000", Queue: Queue{Backend: QueueBadger, Badger: Badger{Dir: "/data"}}}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load[Service](path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Listen != in.Listen || out.Queue.Backend != in.Queue.Backend || out.Queue.Badger.Dir != in.Queue.Badger.Dir {
		t.Errorf("roundtrip = %+v", out)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	var svc Service
	svc.Normalize()

	if svc.Listen != ":8080" {
		t.Errorf("Listen = %q", svc.Listen)
	}
	if svc.Audio.FrameMs != 20 || svc.Audio.SilenceTimeoutMs != 1000 || svc.Audio.PollTimeoutMs != 500 {
		t.Errorf("audio defaults = %+v", svc.Audio)
	}
	if svc.Audio.EnergyFloor != 0.01 {
		t.Errorf("energy floor = %v", svc.Audio.EnergyFloor)
	}
	if svc.Queue.Backend != QueueMemory {
		t.Errorf("queue backend = %q", svc.Queue.Backend)
	}
	if svc.HeartbeatSec != 30 || svc.HistoryLimit != 20 {
		t.Errorf("heartbeat %d history %d", svc.HeartbeatSec, svc.HistoryLimit)
	}
	if svc.Providers.ASR.Name != ProviderOpenAI || svc.Providers.ASR.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("asr provider = %+v", svc.Providers.ASR)
	}

	gem := Service{Providers: Providers{Gen: Provider{Name: ProviderGemini}}}
	gem.Normalize()
	if gem.Providers.Gen.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("gemini key env = %q", gem.Providers.Gen.APIKeyEnv)
	}

	if svc.Heartbeat() != 30*time.Second || svc.Audio.Frame() != 20*time.Millisecond {
		t.Error("duration accessors disagree with normalized fields")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Service {
		var svc Service
		svc.Normalize()
		return &svc
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Service)
		wantSub string
	}{
		{
			name:    "unknown queue backend",
			mutate:  func(s *Service) { s.Queue.Backend = "kafka" },
			wantSub: "queue.backend",
		},
		{
			name:    "redis without addr",
			mutate:  func(s *Service) { s.Queue.Backend = QueueRedis },
			wantSub: "queue.redis.addr",
		},
		{
			name:    "badger without dir",
			mutate:  func(s *Service) { s.Queue.Backend = QueueBadger },
			wantSub: "queue.badger.dir",
		},
		{
			name:    "gemini asr unsupported",
			mutate:  func(s *Service) { s.Providers.ASR.Name = ProviderGemini },
			wantSub: "providers.asr.name",
		},
		{
			name:    "unknown gen provider",
			mutate:  func(s *Service) { s.Providers.Gen.Name = "llama" },
			wantSub: "providers.gen.name",
		},
		{
			name:    "s3 recording without bucket",
			mutate:  func(s *Service) { s.Recording.Enabled = true; s.Recording.Backend = RecordS3 },
			wantSub: "recording.s3.bucket",
		},
		{
			name: "s3 recording without region or endpoint",
			mutate: func(s *Service) {
				s.Recording.Enabled = true
				s.Recording.Backend = RecordS3
				s.Recording.S3.Bucket = "b"
			},
			wantSub: "recording.s3.region",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := valid()
			tt.mutate(svc)
			err := svc.Validate()
			if err == nil {
				t.Fatal("Validate accepted a broken config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not name %q", err, tt.wantSub)
			}
		})
	}
}
