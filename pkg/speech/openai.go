package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/voxwire/voxwire/pkg/audio/pcm"
)

// OpenAI speech model defaults.
const (
	// ModelWhisper1 is the transcription default.
	ModelWhisper1 = "whisper-1"

	// ModelGPT4oMiniTTS is the synthesis default.
	ModelGPT4oMiniTTS = "gpt-4o-mini-tts"

	// VoiceAlloy is the synthesis voice default.
	VoiceAlloy = "alloy"
)

const (
	// defaultCallTimeout bounds one provider call, including stream drain.
	// Providers occasionally stall instead of failing; the deadline turns a
	// hung session into a retriable error.
	defaultCallTimeout = 30 * time.Second

	// synthStreamSize bounds buffered TTS chunks before the producer blocks.
	synthStreamSize = 32
)

// OpenAIOptions configures the OpenAI speech adapters. Zero values use
// defaults.
type OpenAIOptions struct {
	// TranscribeModel defaults to ModelWhisper1.
	TranscribeModel string

	// SynthesizeModel defaults to ModelGPT4oMiniTTS.
	SynthesizeModel string

	// Voice defaults to VoiceAlloy.
	Voice string

	// CallTimeout defaults to 30s.
	CallTimeout time.Duration
}

func (o *OpenAIOptions) normalize() {
	if o.TranscribeModel == "" {
		o.TranscribeModel = ModelWhisper1
	}
	if o.SynthesizeModel == "" {
		o.SynthesizeModel = ModelGPT4oMiniTTS
	}
	if o.Voice == "" {
		o.Voice = VoiceAlloy
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
}

// OpenAITranscriber implements [Transcriber] using the OpenAI audio
// transcriptions API. Utterance audio is wrapped in a WAV container before
// upload.
//
// This also works with any OpenAI-compatible provider (e.g. Groq) by
// constructing the client with option.WithBaseURL.
type OpenAITranscriber struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

var _ Transcriber = (*OpenAITranscriber)(nil)

// NewOpenAITranscriber creates a transcriber on a shared client. opts may be
// nil.
func NewOpenAITranscriber(client *openai.Client, opts *OpenAIOptions) *OpenAITranscriber {
	if opts == nil {
		opts = &OpenAIOptions{}
	}
	opts.normalize()
	return &OpenAITranscriber{
		client:  client,
		model:   opts.TranscribeModel,
		timeout: opts.CallTimeout,
	}
}

// Transcribe implements Transcriber.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, format pcm.Format) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(t.model),
		File:  openai.File(bytes.NewReader(pcm.WAV(format, audio)), "utterance.wav", "audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// OpenAISynthesizer implements [Synthesizer] using the OpenAI speech API with
// the raw PCM response format, which is 24 kHz 16-bit mono.
type OpenAISynthesizer struct {
	client  *openai.Client
	model   string
	voice   string
	timeout time.Duration
}

var _ Synthesizer = (*OpenAISynthesizer)(nil)

// NewOpenAISynthesizer creates a synthesizer on a shared client. opts may be
// nil.
func NewOpenAISynthesizer(client *openai.Client, opts *OpenAIOptions) *OpenAISynthesizer {
	if opts == nil {
		opts = &OpenAIOptions{}
	}
	opts.normalize()
	return &OpenAISynthesizer{
		client:  client,
		model:   opts.SynthesizeModel,
		voice:   opts.Voice,
		timeout: opts.CallTimeout,
	}
}

// Synthesize implements Synthesizer. The response body streams into the
// returned Stream in roughly 100ms chunks; closing the stream early tears
// down the HTTP response.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}

	sb := NewStreamBuilder(pcm.L16Mono24K, synthStreamSize)
	go func() {
		defer cancel()
		defer resp.Body.Close()

		slab := make([]byte, pcm.L16Mono24K.BytesInDuration(100*time.Millisecond))
		for {
			n, err := io.ReadFull(resp.Body, slab)
			if n > 0 {
				if err := sb.Add(slices.Clone(slab[:n])); err != nil {
					return
				}
			}
			switch err {
			case nil:
			case io.EOF, io.ErrUnexpectedEOF:
				sb.Done()
				return
			default:
				sb.Abort(fmt.Errorf("speech: synthesize read: %w", err))
				return
			}
		}
	}()
	return sb.Stream(), nil
}
