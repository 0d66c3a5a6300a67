// Package vad segments PCM audio into speech and silence.
//
// A Segmenter classifies fixed-size frames using a pluggable Engine, with an
// RMS energy floor applied in front of the engine so low-energy background
// noise never classifies as speech regardless of the engine's verdict.
package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxwire/voxwire/pkg/audio/pcm"
)

// ErrInvalidFrameSize is returned by Classify when a frame does not match
// the configured frame size. Callers must pre-chunk audio into whole frames.
var ErrInvalidFrameSize = errors.New("vad: invalid frame size")

// Engine classifies one fixed-size frame as speech. Implementations must be
// side-effect free per call.
type Engine interface {
	Detect(frame []byte) (bool, error)
}

// EnergyEngine classifies a frame as speech when its RMS energy reaches
// Threshold. Zero value is unusable; use NewEnergyEngine for defaults.
type EnergyEngine struct {
	Threshold float64
}

// DefaultEnergyThreshold is the RMS level above which a frame counts as
// speech, on the [0, 1] scale of pcm.RMS.
const DefaultEnergyThreshold = 0.015

// NewEnergyEngine returns an EnergyEngine with the given threshold, or the
// default when threshold is 0.
func NewEnergyEngine(threshold float64) *EnergyEngine {
	if threshold == 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyEngine{Threshold: threshold}
}

// Detect implements Engine.
func (e *EnergyEngine) Detect(frame []byte) (bool, error) {
	return pcm.RMS(frame) >= e.Threshold, nil
}

// Config configures a Segmenter. Zero values fall back to defaults.
type Config struct {
	// Format is the PCM format of incoming audio. Default pcm.L16Mono16K.
	Format pcm.Format

	// FrameDuration is the analysis frame length. Default 20ms.
	FrameDuration time.Duration

	// EnergyFloor gates classification: frames with RMS below the floor are
	// silence no matter what the engine says. Default 0.01. Set negative to
	// disable the gate.
	EnergyFloor float64

	// Engine is the speech model. Default NewEnergyEngine(0).
	Engine Engine
}

// DefaultFrameDuration is the analysis frame length used when Config leaves
// it unset.
const DefaultFrameDuration = 20 * time.Millisecond

// DefaultEnergyFloor suppresses background-noise false positives.
const DefaultEnergyFloor = 0.01

// Segmenter classifies audio frames as speech or silence. It keeps no state
// between calls.
type Segmenter struct {
	format      pcm.Format
	frameBytes  int
	energyFloor float64
	engine      Engine
}

// New creates a Segmenter from cfg.
func New(cfg Config) *Segmenter {
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.EnergyFloor == 0 {
		cfg.EnergyFloor = DefaultEnergyFloor
	}
	if cfg.EnergyFloor < 0 {
		cfg.EnergyFloor = 0
	}
	if cfg.Engine == nil {
		cfg.Engine = NewEnergyEngine(0)
	}
	return &Segmenter{
		format:      cfg.Format,
		frameBytes:  cfg.Format.FrameBytes(cfg.FrameDuration),
		energyFloor: cfg.EnergyFloor,
		engine:      cfg.Engine,
	}
}

// FrameBytes returns the exact frame size Classify accepts.
func (s *Segmenter) FrameBytes() int {
	return s.frameBytes
}

// Format returns the PCM format the Segmenter was configured with.
func (s *Segmenter) Format() pcm.Format {
	return s.format
}

// Classify reports whether a single frame contains speech. The frame must be
// exactly FrameBytes long; any other length returns ErrInvalidFrameSize.
func (s *Segmenter) Classify(frame []byte) (bool, error) {
	if len(frame) != s.frameBytes {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidFrameSize, len(frame), s.frameBytes)
	}
	if s.energyFloor > 0 && pcm.RMS(frame) < s.energyFloor {
		return false, nil
	}
	return s.engine.Detect(frame)
}

// ClassifyChunk splits chunk into whole frames and reports whether any frame
// contains speech. A trailing partial frame is silently discarded. An empty
// chunk is silence.
func (s *Segmenter) ClassifyChunk(chunk []byte) (bool, error) {
	for len(chunk) >= s.frameBytes {
		speech, err := s.Classify(chunk[:s.frameBytes])
		if err != nil {
			return false, err
		}
		if speech {
			return true, nil
		}
		chunk = chunk[s.frameBytes:]
	}
	return false, nil
}
