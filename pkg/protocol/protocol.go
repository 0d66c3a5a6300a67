// Package protocol defines the WebSocket wire envelopes exchanged between a
// voice client and the session server.
//
// Server-to-client traffic is JSON text frames: one Envelope per frame, with
// Type naming the variant and the remaining fields populated per variant.
// Client-to-server traffic is binary frames carrying raw PCM audio, plus the
// occasional JSON control envelope (stop).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Server envelope types (sent from server to client).
const (
	// TypeHello is sent once after connect with the session parameters.
	TypeHello = "hello"

	// TypeState announces a session state transition.
	TypeState = "state"

	// TypeTranscript echoes the user's completed utterance.
	TypeTranscript = "transcript"

	// Reply audio streaming. Every started stream terminates with exactly
	// one of TypeAudioStreamEnd or TypeAudioStreamError.
	TypeAudioStreamStart = "audio_stream_start"
	TypeAudioChunk       = "audio_chunk"
	TypeAudioStreamEnd   = "audio_stream_end"
	TypeAudioStreamError = "audio_stream_error"

	// TypeError is a best-effort session-fatal notice before close.
	TypeError = "error"
)

// Client envelope types (sent from client to server).
const (
	// TypeStop aborts current playback and clears pending replies.
	TypeStop = "stop"
)

// Envelope is the union of all wire message variants. Type selects the
// variant; unrelated fields stay at their zero value and are omitted on the
// wire.
type Envelope struct {
	Type string `json:"type"`

	// hello
	SessionID   string `json:"session_id,omitzero"`
	AudioFormat string `json:"audio_format,omitzero"`
	FrameMs     int    `json:"frame_ms,omitzero"`

	// state
	State string `json:"state,omitzero"`

	// transcript and audio_stream_start
	Text string `json:"text,omitzero"`

	// audio_chunk; Data is base64 on the wire, ChunkNumber is 1-based.
	Data        []byte `json:"data,omitzero"`
	ChunkNumber int    `json:"chunk_number,omitzero"`

	// audio_stream_end
	TotalChunks int `json:"total_chunks,omitzero"`

	// audio_stream_error and error
	Error string `json:"error,omitzero"`
}

// Hello builds the post-connect greeting envelope.
func Hello(sessionID, audioFormat string, frameMs int) *Envelope {
	return &Envelope{Type: TypeHello, SessionID: sessionID, AudioFormat: audioFormat, FrameMs: frameMs}
}

// State builds a state transition envelope.
func State(state string) *Envelope {
	return &Envelope{Type: TypeState, State: state}
}

// Transcript builds an utterance echo envelope.
func Transcript(text string) *Envelope {
	return &Envelope{Type: TypeTranscript, Text: text}
}

// AudioStreamStart announces the reply sentence about to stream.
func AudioStreamStart(text string) *Envelope {
	return &Envelope{Type: TypeAudioStreamStart, Text: text}
}

// AudioChunk wraps one synthesized audio chunk. n is 1-based.
func AudioChunk(data []byte, n int) *Envelope {
	return &Envelope{Type: TypeAudioChunk, Data: data, ChunkNumber: n}
}

// AudioStreamEnd terminates a stream successfully.
func AudioStreamEnd(total int) *Envelope {
	return &Envelope{Type: TypeAudioStreamEnd, TotalChunks: total}
}

// AudioStreamError terminates a stream after a synthesis failure.
func AudioStreamError(msg string) *Envelope {
	return &Envelope{Type: TypeAudioStreamError, Error: msg}
}

// SessionError builds the session-fatal notice.
func SessionError(msg string) *Envelope {
	return &Envelope{Type: TypeError, Error: msg}
}

// Stop builds the client barge-in control.
func Stop() *Envelope {
	return &Envelope{Type: TypeStop}
}

// Marshal encodes the envelope for a text frame.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", e.Type, err)
	}
	return data, nil
}

// Unmarshal decodes a text frame into an envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("protocol: parse envelope: %w", err)
	}
	if e.Type == "" {
		return nil, errors.New("protocol: envelope missing type")
	}
	return &e, nil
}

// ClientMessage is one inbound WebSocket frame, decoded. Exactly one of the
// fields is set.
type ClientMessage struct {
	// Audio holds the raw PCM payload of a binary frame.
	Audio []byte

	// Control holds the parsed envelope of a text frame.
	Control *Envelope
}

// ParseClientMessage decodes an inbound frame by its WebSocket message type:
// binary frames are audio, text frames are control envelopes.
func ParseClientMessage(messageType int, data []byte) (*ClientMessage, error) {
	switch messageType {
	case websocket.BinaryMessage:
		return &ClientMessage{Audio: data}, nil
	case websocket.TextMessage:
		e, err := Unmarshal(data)
		if err != nil {
			return nil, err
		}
		return &ClientMessage{Control: e}, nil
	}
	return nil, fmt.Errorf("protocol: unexpected message type %d", messageType)
}
