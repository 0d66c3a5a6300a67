// Package session coordinates one client's voice conversation, from audio
// ingest and utterance detection through reply generation to paced delivery
// of synthesized speech back over the connection.
//
// A Session runs three loops sharing one context. The ingest loop reads
// client frames, segments them into utterances and hands completed prompts to
// the reply worker. The reply worker generates a reply per utterance and
// enqueues it sentence by sentence. The dispatch loop drains the queue one
// sentence at a time, synthesizing and streaming each before taking the next,
// so the client never receives two overlapping replies.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/api/iterator"

	"github.com/voxwire/voxwire/pkg/audio/pcm"
	"github.com/voxwire/voxwire/pkg/audio/resampler"
	"github.com/voxwire/voxwire/pkg/gen"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/queue"
	"github.com/voxwire/voxwire/pkg/record"
	"github.com/voxwire/voxwire/pkg/speech"
	"github.com/voxwire/voxwire/pkg/utterance"
	"github.com/voxwire/voxwire/pkg/vad"
)

const (
	// DefaultPollTimeout bounds one queue poll, and with it the dispatch
	// loop's reaction time to cancellation.
	DefaultPollTimeout = 500 * time.Millisecond

	// DefaultUtteranceBacklog is the number of flushed utterances that may
	// wait for the reply worker before ingest blocks.
	DefaultUtteranceBacklog = 8

	// queueFailureLimit is the number of consecutive broker failures the
	// dispatch loop tolerates before tearing the session down.
	queueFailureLimit = 5

	recordTimeout = 30 * time.Second
)

// DefaultStopPhrases are transcriptions treated as a spoken stop request
// while the session is speaking.
var DefaultStopPhrases = []string{"stop", "stop talking", "be quiet"}

// Conn is the duplex transport to one client. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
}

// Config assembles a Session. ClientID, Conn, Queue and the three providers
// are required; everything else has defaults.
type Config struct {
	ClientID string
	Conn     Conn
	Queue    queue.Queue

	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Generator   gen.Generator

	// Recorder persists utterance audio. Nil disables recording.
	Recorder *record.Recorder

	// History is the conversation window. Default: a fresh bounded history.
	History *gen.History

	// InputFormat is the PCM format of client audio. Default pcm.L16Mono16K.
	InputFormat pcm.Format

	// OutputFormat is the PCM format of audio sent to the client. Synthesized
	// audio is resampled to it. Default pcm.L16Mono16K.
	OutputFormat pcm.Format

	// FrameDuration is the VAD analysis frame length. Default 20ms.
	FrameDuration time.Duration

	// EnergyFloor gates VAD classification; see vad.Config.
	EnergyFloor float64

	// Engine overrides the VAD engine. Default energy-based.
	Engine vad.Engine

	// SilenceTimeout is the silence gap that completes an utterance.
	// Default utterance.DefaultSilenceTimeout.
	SilenceTimeout time.Duration

	// PollTimeout bounds one dispatch queue poll. Default DefaultPollTimeout.
	PollTimeout time.Duration

	// StopPhrases trigger spoken barge-in. Default DefaultStopPhrases.
	StopPhrases []string

	// UtteranceBacklog sizes the ingest-to-reply channel.
	// Default DefaultUtteranceBacklog.
	UtteranceBacklog int

	// Logger receives session logs. Default slog.Default().
	Logger *slog.Logger
}

// Session is one client's conversation. Create with New, drive with Run.
type Session struct {
	id       string
	clientID string
	conn     Conn
	queue    queue.Queue

	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	generator   gen.Generator
	recorder    *record.Recorder
	history     *gen.History
	log         *slog.Logger

	seg         *vad.Segmenter
	agg         *utterance.Aggregator
	inFormat    pcm.Format
	outFormat   pcm.Format
	frameDur    time.Duration
	pollTimeout time.Duration
	stopPhrases map[string]struct{}

	utterances chan string

	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	genCancel      context.CancelFunc
	dispatchCancel context.CancelFunc
}

// New creates a Session from cfg.
func New(cfg Config) (*Session, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("session: client id is required")
	}
	if cfg.Conn == nil {
		return nil, errors.New("session: conn is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("session: queue is required")
	}
	if cfg.Transcriber == nil || cfg.Synthesizer == nil || cfg.Generator == nil {
		return nil, errors.New("session: transcriber, synthesizer and generator are required")
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = vad.DefaultFrameDuration
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.UtteranceBacklog <= 0 {
		cfg.UtteranceBacklog = DefaultUtteranceBacklog
	}
	if cfg.StopPhrases == nil {
		cfg.StopPhrases = DefaultStopPhrases
	}
	if cfg.History == nil {
		cfg.History = gen.NewHistory(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	stop := make(map[string]struct{}, len(cfg.StopPhrases))
	for _, p := range cfg.StopPhrases {
		stop[normalizePhrase(p)] = struct{}{}
	}

	return &Session{
		id:          uuid.NewString(),
		clientID:    cfg.ClientID,
		conn:        cfg.Conn,
		queue:       cfg.Queue,
		transcriber: cfg.Transcriber,
		synthesizer: cfg.Synthesizer,
		generator:   cfg.Generator,
		recorder:    cfg.Recorder,
		history:     cfg.History,
		log:         cfg.Logger,
		seg: vad.New(vad.Config{
			Format:        cfg.InputFormat,
			FrameDuration: cfg.FrameDuration,
			EnergyFloor:   cfg.EnergyFloor,
			Engine:        cfg.Engine,
		}),
		agg:         utterance.NewAggregator(cfg.SilenceTimeout),
		inFormat:    cfg.InputFormat,
		outFormat:   cfg.OutputFormat,
		frameDur:    cfg.FrameDuration,
		pollTimeout: cfg.PollTimeout,
		stopPhrases: stop,
		utterances:  make(chan string, cfg.UtteranceBacklog),
		state:       StateIdle,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ClientID returns the client id the session serves.
func (s *Session) ClientID() string { return s.clientID }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until the client disconnects, ctx is cancelled or a
// loop fails. It returns only after all session goroutines have exited; the
// client's queue is cleared on the way out. A clean stop returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frameMs := int(s.frameDur / time.Millisecond)
	if err := s.write(protocol.Hello(s.id, s.inFormat.String(), frameMs)); err != nil {
		return err
	}
	s.transition(StateListening)
	s.log.Info("session: started", "client", s.clientID, "session", s.id)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		defer cancel() // ingest ending ends the session
		fail(s.ingest(ctx))
	}()
	go func() {
		defer wg.Done()
		fail(s.replyWorker(ctx))
	}()
	go func() {
		defer wg.Done()
		fail(s.dispatch(ctx))
	}()
	go func() {
		// Force a blocked conn read to return once the session winds down.
		defer wg.Done()
		<-ctx.Done()
		_ = s.conn.SetReadDeadline(time.Now())
	}()
	wg.Wait()

	s.transition(StateStopped)

	clearCtx, clearCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer clearCancel()
	if err := s.queue.Clear(clearCtx, s.clientID); err != nil {
		s.log.Warn("session: clear queue", "client", s.clientID, "error", err)
	}

	errMu.Lock()
	err := firstErr
	errMu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		_ = s.write(protocol.SessionError(err.Error()))
		s.log.Error("session: ended", "client", s.clientID, "error", err)
		return err
	}
	s.log.Info("session: ended", "client", s.clientID)
	return nil
}

// Interrupt aborts playback: in-flight generation and synthesis are
// cancelled, queued replies are dropped and the session goes back to
// listening. Ingest is unaffected.
func (s *Session) Interrupt(ctx context.Context) {
	s.mu.Lock()
	genCancel := s.genCancel
	dispatchCancel := s.dispatchCancel
	s.mu.Unlock()
	if genCancel != nil {
		genCancel()
	}
	if dispatchCancel != nil {
		dispatchCancel()
	}
	if err := s.queue.Clear(ctx, s.clientID); err != nil {
		s.log.Warn("session: clear queue", "client", s.clientID, "error", err)
	}
	s.transition(StateListening)
}

// ingest reads client frames until the conn closes. Speech audio accumulates
// into silence-terminated segments; each closed segment is transcribed and
// appended to the utterance in progress. The flush check runs before the next
// frame is accepted.
func (s *Session) ingest(ctx context.Context) error {
	var (
		segBuf   []byte // speech audio since the last silence gap
		uttAudio []byte // all speech audio of the utterance in progress
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(segBuf) == 0 && s.agg.ShouldFlush(time.Now()) {
			if err := s.finishUtterance(ctx, uttAudio); err != nil {
				return err
			}
			uttAudio = nil
		}

		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isClientGone(err) {
				s.log.Info("session: client disconnected", "client", s.clientID)
				return nil
			}
			return fmt.Errorf("session: read: %w", err)
		}

		msg, err := protocol.ParseClientMessage(mt, data)
		if err != nil {
			s.log.Warn("session: dropping frame", "client", s.clientID, "error", err)
			continue
		}

		switch {
		case msg.Audio != nil:
			now := time.Now()
			speechHeard, err := s.seg.ClassifyChunk(msg.Audio)
			if err != nil {
				return fmt.Errorf("session: classify: %w", err)
			}
			if speechHeard {
				segBuf = append(segBuf, msg.Audio...)
				continue
			}
			if len(segBuf) > 0 {
				if s.closeSegment(ctx, segBuf, now) {
					uttAudio = append(uttAudio, segBuf...)
				}
				segBuf = nil
			}
		case msg.Control != nil:
			switch msg.Control.Type {
			case protocol.TypeStop:
				s.log.Info("session: stop requested", "client", s.clientID)
				s.Interrupt(ctx)
			default:
				s.log.Warn("session: unhandled control", "client", s.clientID, "type", msg.Control.Type)
			}
		}
	}
}

// closeSegment transcribes one silence-terminated run of speech. It reports
// whether the audio belongs to the utterance in progress.
func (s *Session) closeSegment(ctx context.Context, audio []byte, now time.Time) bool {
	text, err := s.transcriber.Transcribe(ctx, audio, s.inFormat)
	if err != nil {
		s.log.Error("session: transcribe", "client", s.clientID, "error", err)
		return false
	}
	if text == "" {
		// Heard nothing. Keep the audio only if an utterance is already open.
		return s.agg.Len() > 0
	}
	if s.State() == StateSpeaking && s.matchesStopPhrase(text) {
		s.log.Info("session: spoken barge-in", "client", s.clientID, "text", text)
		s.Interrupt(ctx)
		return false
	}
	s.agg.Append(text, now)
	return true
}

// finishUtterance flushes the aggregator and hands the prompt to the reply
// worker. The recording is written in the background and never blocks or
// fails the session.
func (s *Session) finishUtterance(ctx context.Context, audio []byte) error {
	text, ok := s.agg.Flush()
	if !ok {
		return nil
	}
	s.transition(StateProcessing)
	s.log.Info("session: utterance", "client", s.clientID, "text", text)

	if s.recorder.Enabled() && len(audio) > 0 {
		go s.saveRecording(audio)
	}

	if err := s.write(protocol.Transcript(text)); err != nil {
		return err
	}
	s.history.Add(gen.RoleUser, text)

	select {
	case s.utterances <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// replyWorker consumes flushed utterances in order, one generation at a time,
// which keeps reply sentences in per-client FIFO order across utterances.
func (s *Session) replyWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case prompt := <-s.utterances:
			err := s.generateReply(ctx, prompt)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, context.Canceled):
				s.log.Debug("session: generation interrupted", "client", s.clientID)
			default:
				s.log.Error("session: generate reply", "client", s.clientID, "error", err)
			}
		}
	}
}

// generateReply streams one reply through the sentence segmenter and
// enqueues each completed sentence. Broker failures drop the sentence and
// keep going; the full reply lands in history once generation finishes.
func (s *Session) generateReply(ctx context.Context, prompt string) error {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.setGenCancel(cancel)
	defer s.setGenCancel(nil)

	stream, err := s.generator.GenerateStream(gctx, s.history.Snapshot(), prompt)
	if err != nil {
		s.transition(StateListening)
		return fmt.Errorf("session: generate: %w", err)
	}
	defer stream.Close()

	seg := speech.NewSentenceSegmenter(nil)
	defer seg.Close()

	go func() {
		for {
			frag, err := stream.Next()
			if err != nil {
				if err == iterator.Done {
					seg.CloseWrite()
				} else {
					seg.Abort(err)
				}
				return
			}
			if err := seg.WriteString(frag); err != nil {
				return
			}
		}
	}()

	var (
		reply    strings.Builder
		enqueued int
	)
	for {
		sentence, err := seg.Next(gctx)
		if err == iterator.Done {
			break
		}
		if err != nil {
			if enqueued == 0 {
				s.transition(StateListening)
			}
			return fmt.Errorf("session: reply stream: %w", err)
		}
		if err := s.queue.Put(gctx, s.clientID, queue.NewSentence(sentence)); err != nil {
			s.log.Warn("session: enqueue sentence", "client", s.clientID, "error", err)
		} else {
			enqueued++
		}
		if reply.Len() > 0 {
			reply.WriteByte(' ')
		}
		reply.WriteString(sentence)
	}
	if reply.Len() > 0 {
		s.history.Add(gen.RoleAssistant, reply.String())
	}
	if enqueued == 0 {
		s.transition(StateListening)
	}
	return nil
}

// dispatch drains the queue one sentence at a time. The in-flight message is
// the back-pressure slot: no poll happens while one is being streamed.
func (s *Session) dispatch(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := s.queue.Get(ctx, s.clientID, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= queueFailureLimit {
				return fmt.Errorf("session: queue get: %w", err)
			}
			s.log.Warn("session: queue get", "client", s.clientID, "error", err)
			continue
		}
		failures = 0
		if msg == nil {
			if s.State() == StateSpeaking {
				s.transition(StateListening)
			}
			continue
		}
		if msg.Type != queue.TypeSentence {
			s.log.Warn("session: skipping message", "client", s.clientID, "type", msg.Type)
			continue
		}
		s.transition(StateSpeaking)
		if err := s.streamToClient(ctx, msg.Content); err != nil {
			return err
		}
	}
}

// streamToClient synthesizes one sentence and streams it as an envelope
// sequence: start, chunks, then exactly one terminal end or error. Synthesis
// and conversion failures are terminal for the stream but not the session;
// write failures are session-fatal.
func (s *Session) streamToClient(ctx context.Context, sentence string) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.setDispatchCancel(cancel)
	defer s.setDispatchCancel(nil)

	stream, err := s.synthesizer.Synthesize(dctx, sentence)
	if err != nil {
		s.log.Error("session: synthesize", "client", s.clientID, "error", err)
		return s.write(protocol.AudioStreamError("synthesis failed"))
	}
	defer stream.Close()

	conv, err := resampler.New(stream.Format(), s.outFormat)
	if err != nil {
		s.log.Error("session: resampler", "client", s.clientID, "error", err)
		return s.write(protocol.AudioStreamError("unsupported audio format"))
	}

	if err := s.write(protocol.AudioStreamStart(sentence)); err != nil {
		return err
	}
	chunks := 0
	send := func(out []byte) error {
		if len(out) == 0 {
			return nil
		}
		chunks++
		return s.write(protocol.AudioChunk(out, chunks))
	}
	for {
		chunk, cerr := stream.Next()
		if cerr == iterator.Done {
			tail, ferr := conv.Flush()
			if ferr != nil {
				s.log.Error("session: resample", "client", s.clientID, "error", ferr)
				return s.write(protocol.AudioStreamError("audio conversion failed"))
			}
			if err := send(tail); err != nil {
				return err
			}
			return s.write(protocol.AudioStreamEnd(chunks))
		}
		if cerr != nil {
			s.log.Warn("session: synthesis stream", "client", s.clientID, "error", cerr)
			return s.write(protocol.AudioStreamError("synthesis interrupted"))
		}
		out, cerr := conv.Convert(chunk)
		if cerr != nil {
			s.log.Error("session: resample", "client", s.clientID, "error", cerr)
			return s.write(protocol.AudioStreamError("audio conversion failed"))
		}
		if err := send(out); err != nil {
			return err
		}
	}
}

func (s *Session) saveRecording(audio []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	name, err := s.recorder.SaveUtterance(ctx, s.clientID, audio, s.inFormat)
	if err != nil {
		s.log.Warn("session: save recording", "client", s.clientID, "error", err)
		return
	}
	s.log.Debug("session: recorded utterance", "client", s.clientID, "name", name)
}

// write marshals env and writes it as one text frame. Writes from the three
// loops are serialized here.
func (s *Session) write(env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("session: write %s: %w", env.Type, err)
	}
	return nil
}

// transition moves to st, logging and reporting the change to the client.
// The state envelope is best effort. Stopped is terminal.
func (s *Session) transition(st State) {
	s.mu.Lock()
	if s.state == st || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = st
	s.mu.Unlock()
	s.log.Debug("session: state", "client", s.clientID, "from", from.String(), "to", st.String())
	if err := s.write(protocol.State(st.String())); err != nil {
		s.log.Debug("session: state write", "client", s.clientID, "error", err)
	}
}

func (s *Session) setGenCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.genCancel = cancel
	s.mu.Unlock()
}

func (s *Session) setDispatchCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.dispatchCancel = cancel
	s.mu.Unlock()
}

func (s *Session) matchesStopPhrase(text string) bool {
	_, ok := s.stopPhrases[normalizePhrase(text)]
	return ok
}

func normalizePhrase(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRight(text, " .,!?。！？")
}

func isClientGone(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
