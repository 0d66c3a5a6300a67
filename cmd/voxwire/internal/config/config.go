// Package config loads the voxwire service configuration from YAML.
//
// One file configures one server process:
//
//	listen: ":8080"
//	queue:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	providers:
//	  asr:
//	    name: openai
//	  gen:
//	    name: gemini
//	    model: gemini-2.0-flash
//	  tts:
//	    name: openai
//	    voice: alloy
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Load reads a YAML file into T.
func Load[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var v T
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &v, nil
}

// Save writes v to a YAML file.
func Save[T any](path string, v *T) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Queue backend names.
const (
	QueueRedis  = "redis"
	QueueBadger = "badger"
	QueueMemory = "memory"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Recording backend names.
const (
	RecordLocal = "local"
	RecordS3    = "s3"
)

// Service is the full server configuration.
type Service struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	Audio     Audio     `yaml:"audio"`
	Queue     Queue     `yaml:"queue"`
	Providers Providers `yaml:"providers"`
	Recording Recording `yaml:"recording"`

	// HeartbeatSec is the per-connection WebSocket ping cadence.
	HeartbeatSec int `yaml:"heartbeat_sec"`

	// HistoryLimit bounds the conversation window, in exchanges.
	HistoryLimit int `yaml:"history_limit"`
}

// Audio holds the segmentation knobs.
type Audio struct {
	// FrameMs is the VAD analysis frame length.
	FrameMs int `yaml:"frame_ms"`

	// EnergyFloor is the minimum RMS treated as signal, on a 0..1 scale.
	EnergyFloor float64 `yaml:"energy_floor"`

	// SilenceTimeoutMs is the silence gap that completes an utterance.
	SilenceTimeoutMs int `yaml:"silence_timeout_ms"`

	// PollTimeoutMs bounds one dispatch queue poll.
	PollTimeoutMs int `yaml:"poll_timeout_ms"`
}

// Queue selects the per-client queue backend.
type Queue struct {
	// Backend is one of redis, badger, memory.
	Backend string `yaml:"backend"`

	Redis  Redis  `yaml:"redis"`
	Badger Badger `yaml:"badger"`
}

// Redis configures the redis backend.
type Redis struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// Badger configures the embedded badger backend.
type Badger struct {
	Dir string `yaml:"dir"`
}

// Providers names the three AI providers.
type Providers struct {
	ASR Provider `yaml:"asr"`
	Gen Provider `yaml:"gen"`
	TTS Provider `yaml:"tts"`
}

// Provider configures one AI provider. Zero-value model, voice and timeout
// fall back to adapter defaults.
type Provider struct {
	// Name is one of openai, gemini.
	Name string `yaml:"name"`

	Model string `yaml:"model"`

	// Voice applies to tts only.
	Voice string `yaml:"voice"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint, for OpenAI-compatible APIs.
	BaseURL string `yaml:"base_url"`

	// TimeoutSec bounds one provider call.
	TimeoutSec int `yaml:"timeout_sec"`

	// SystemPrompt applies to gen only.
	SystemPrompt string `yaml:"system_prompt"`
}

// Recording configures utterance audio persistence.
type Recording struct {
	Enabled bool `yaml:"enabled"`

	// Backend is one of local, s3.
	Backend string `yaml:"backend"`

	// Dir is the root directory for the local backend.
	Dir string `yaml:"dir"`

	S3 S3 `yaml:"s3"`
}

// S3 configures the s3 recording backend. Credentials come from the
// standard AWS environment variables.
type S3 struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`

	// Endpoint overrides the S3 endpoint, for compatible stores
	// (MinIO, R2).
	Endpoint string `yaml:"endpoint"`
}

// Normalize fills defaults in place.
func (s *Service) Normalize() {
	if s.Listen == "" {
		s.Listen = ":8080"
	}
	if s.Audio.FrameMs <= 0 {
		s.Audio.FrameMs = 20
	}
	if s.Audio.EnergyFloor <= 0 {
		s.Audio.EnergyFloor = 0.01
	}
	if s.Audio.SilenceTimeoutMs <= 0 {
		s.Audio.SilenceTimeoutMs = 1000
	}
	if s.Audio.PollTimeoutMs <= 0 {
		s.Audio.PollTimeoutMs = 500
	}
	if s.Queue.Backend == "" {
		s.Queue.Backend = QueueMemory
	}
	if s.HeartbeatSec <= 0 {
		s.HeartbeatSec = 30
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = 20
	}
	normalizeProvider(&s.Providers.ASR, ProviderOpenAI)
	normalizeProvider(&s.Providers.Gen, ProviderOpenAI)
	normalizeProvider(&s.Providers.TTS, ProviderOpenAI)
	if s.Recording.Enabled && s.Recording.Backend == "" {
		s.Recording.Backend = RecordLocal
	}
	if s.Recording.Backend == RecordLocal && s.Recording.Dir == "" {
		s.Recording.Dir = "recordings"
	}
}

func normalizeProvider(p *Provider, defaultName string) {
	if p.Name == "" {
		p.Name = defaultName
	}
	if p.APIKeyEnv == "" {
		switch p.Name {
		case ProviderGemini:
			p.APIKeyEnv = "GEMINI_API_KEY"
		default:
			p.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
}

// Validate reports the first structural problem, naming the offending field.
// Call Normalize first.
func (s *Service) Validate() error {
	switch s.Queue.Backend {
	case QueueRedis:
		if s.Queue.Redis.Addr == "" {
			return fmt.Errorf("config: queue.redis.addr is required for the redis backend")
		}
	case QueueBadger:
		if s.Queue.Badger.Dir == "" {
			return fmt.Errorf("config: queue.badger.dir is required for the badger backend")
		}
	case QueueMemory:
	default:
		return fmt.Errorf("config: queue.backend %q is not one of %s, %s, %s",
			s.Queue.Backend, QueueRedis, QueueBadger, QueueMemory)
	}

	if err := validateProvider("providers.asr", &s.Providers.ASR, ProviderOpenAI); err != nil {
		return err
	}
	if err := validateProvider("providers.gen", &s.Providers.Gen, ProviderOpenAI, ProviderGemini); err != nil {
		return err
	}
	if err := validateProvider("providers.tts", &s.Providers.TTS, ProviderOpenAI); err != nil {
		return err
	}

	if s.Recording.Enabled {
		switch s.Recording.Backend {
		case RecordLocal:
			if s.Recording.Dir == "" {
				return fmt.Errorf("config: recording.dir is required for the local backend")
			}
		case RecordS3:
			if s.Recording.S3.Bucket == "" {
				return fmt.Errorf("config: recording.s3.bucket is required for the s3 backend")
			}
			if s.Recording.S3.Region == "" && s.Recording.S3.Endpoint == "" {
				return fmt.Errorf("config: recording.s3.region or recording.s3.endpoint is required")
			}
		default:
			return fmt.Errorf("config: recording.backend %q is not one of %s, %s",
				s.Recording.Backend, RecordLocal, RecordS3)
		}
	}
	return nil
}

func validateProvider(field string, p *Provider, allowed ...string) error {
	ok := false
	for _, name := range allowed {
		if p.Name == name {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("config: %s.name %q is not supported (allowed: %v)", field, p.Name, allowed)
	}
	if p.APIKeyEnv == "" {
		return fmt.Errorf("config: %s.api_key_env is required", field)
	}
	return nil
}

// Frame returns the VAD frame length.
func (a Audio) Frame() time.Duration { return time.Duration(a.FrameMs) * time.Millisecond }

// Silence returns the utterance silence gap.
func (a Audio) Silence() time.Duration { return time.Duration(a.SilenceTimeoutMs) * time.Millisecond }

// Poll returns the dispatch poll timeout.
func (a Audio) Poll() time.Duration { return time.Duration(a.PollTimeoutMs) * time.Millisecond }

// Heartbeat returns the registry ping cadence.
func (s *Service) Heartbeat() time.Duration { return time.Duration(s.HeartbeatSec) * time.Second }

// Timeout returns the provider call timeout, zero when unset.
func (p Provider) Timeout() time.Duration { return time.Duration(p.TimeoutSec) * time.Second }
