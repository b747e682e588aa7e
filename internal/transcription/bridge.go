package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/annotate"
	"github.com/northwind-health/scribe/internal/storage"
	"github.com/northwind-health/scribe/internal/transcribe"
)

// Store is the slice of the session store the bridge needs.
type Store interface {
	CreateTranscriptionSession(ts storage.TranscriptionSession) error
	GetTranscriptionSession(id string) (storage.TranscriptionSession, error)
	UpdateTranscriptionSession(id string, patch storage.TranscriptionSessionPatch) error
	DeleteTranscriptionSession(id string) error
	AppendSegment(seg transcribe.Segment, expiresAt time.Time) error
	CountSegments(encounterID string) (int, error)
	AppendRecording(rec storage.Recording) error
}

// Observer receives every produced segment, partial and final alike, for
// immediate display. Delivery is best-effort.
type Observer interface {
	SegmentReady(seg transcribe.Segment)
}

// LiveHandle is an open streaming connection to the ASR provider. Bytes
// written to it produce transcript events asynchronously on the sink.
type LiveHandle interface {
	io.Writer
	Stop()
}

// LiveEventSink receives transcript events from a live handle.
type LiveEventSink interface {
	HandleLiveResult(sessionID, encounterID string, words []transcribe.Word, transcript string, confidence float64, isPartial bool)
}

// LiveDialer opens a live ASR connection for a session. A nil dialer, or a
// dialer error, leaves the session on the batch path.
type LiveDialer func(ctx context.Context, sessionID, encounterID string, sink LiveEventSink) (LiveHandle, error)

// BatchResult is the outcome of a one-shot batch transcription call.
type BatchResult struct {
	Text       string
	Confidence float64
}

// BatchTranscriber performs one-shot transcription of a buffered audio window.
type BatchTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, model string) (BatchResult, error)
}

// StopResult is returned by StopTranscription.
type StopResult struct {
	SegmentCount int
	RecordingID  string
}

// Options tunes the bridge's backlog policy and model selection.
type Options struct {
	FlushBytes    int
	FlushInterval time.Duration
	Retention     time.Duration
	MedicalModel  string
	GeneralModel  string
	Provider      string
}

// sessionState is the process-local side of a transcription session: the
// live handle (if this process opened one) and the audio backlog awaiting a
// batch flush. It is purely a warm-worker cache; a fresh process starts with
// an empty registry and every chunk transparently takes the batch path.
type sessionState struct {
	handle       LiveHandle
	backlog      [][]byte
	backlogBytes int
	lastFlush    time.Time
}

// Bridge connects audio-capture sessions to a streaming ASR provider, with a
// time/size-windowed batching fallback when no live connection is available.
type Bridge struct {
	store    Store
	batch    BatchTranscriber
	dial     LiveDialer
	observer Observer
	log      *zap.SugaredLogger
	opts     Options

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func NewBridge(store Store, batch BatchTranscriber, dial LiveDialer, observer Observer, opts Options, log *zap.SugaredLogger) *Bridge {
	if opts.FlushBytes <= 0 {
		opts.FlushBytes = 128 * 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 4320 * time.Hour
	}
	if opts.Provider == "" {
		opts.Provider = "deepgram"
	}

	return &Bridge{
		store:    store,
		batch:    batch,
		dial:     dial,
		observer: observer,
		log:      log,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*sessionState),
	}
}

// StartTranscription creates a transcription session and attempts to open a
// live ASR connection for it. Failure to open is not an error: the session
// proceeds on the batch path.
func (b *Bridge) StartTranscription(ctx context.Context, connectionID, encounterID string) (string, error) {
	sessionID := b.newID()
	now := b.now().UTC()

	ts := storage.TranscriptionSession{
		ID:           sessionID,
		ConnectionID: connectionID,
		EncounterID:  encounterID,
		StartedAt:    now,
		Status:       storage.TranscriptionActive,
		Provider:     b.opts.Provider,
		LastFlushAt:  now,
	}
	if err := b.store.CreateTranscriptionSession(ts); err != nil {
		return "", fmt.Errorf("persist transcription session: %w", err)
	}

	state := &sessionState{lastFlush: now}
	if b.dial != nil {
		handle, err := b.dial(ctx, sessionID, encounterID, b)
		if err != nil {
			b.log.Warnw("live transcription unavailable, using batch fallback",
				"session_id", sessionID,
				"error", err,
			)
		} else {
			state.handle = handle
		}
	}

	b.mu.Lock()
	b.sessions[sessionID] = state
	b.mu.Unlock()

	b.log.Infow("transcription started",
		"session_id", sessionID,
		"encounter_id", encounterID,
		"live", state.handle != nil,
	)

	return sessionID, nil
}

// ProcessAudioChunk routes one audio chunk. With an open live handle the
// bytes are forwarded and results arrive asynchronously, so the return is
// nil. Otherwise the chunk joins the in-memory backlog, and a segment is
// returned when this chunk pushes the backlog over the byte or time
// threshold and the flushed window transcribes to non-empty text.
func (b *Bridge) ProcessAudioChunk(ctx context.Context, sessionID string, chunk []byte) (*transcribe.Segment, error) {
	ts, err := b.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	state := b.state(sessionID, ts.LastFlushAt)

	b.mu.Lock()
	handle := state.handle
	b.mu.Unlock()

	if handle != nil {
		if _, err := handle.Write(chunk); err != nil {
			b.log.Warnw("live handle write failed, degrading to batch",
				"session_id", sessionID,
				"error", err,
			)
			b.mu.Lock()
			state.handle = nil
			b.mu.Unlock()
			handle.Stop()
		} else {
			return nil, nil
		}
	}

	b.mu.Lock()
	state.backlog = append(state.backlog, chunk)
	state.backlogBytes += len(chunk)
	shouldFlush := state.backlogBytes >= b.opts.FlushBytes ||
		b.now().Sub(state.lastFlush) >= b.opts.FlushInterval
	b.mu.Unlock()

	if !shouldFlush {
		return nil, nil
	}

	return b.flush(ctx, sessionID, ts.EncounterID, state)
}

// flush drains the backlog, runs one batch transcription over the window,
// and persists the result. Provider failure is logged and swallowed: the
// next window carries the content forward.
func (b *Bridge) flush(ctx context.Context, sessionID, encounterID string, state *sessionState) (*transcribe.Segment, error) {
	b.mu.Lock()
	audio := bytes.Join(state.backlog, nil)
	state.backlog = nil
	state.backlogBytes = 0
	state.lastFlush = b.now()
	b.mu.Unlock()

	flushedAt := b.now().UTC()
	if err := b.store.UpdateTranscriptionSession(sessionID, storage.TranscriptionSessionPatch{LastFlushAt: &flushedAt}); err != nil {
		b.log.Warnw("record flush time failed", "session_id", sessionID, "error", err)
	}

	if len(audio) == 0 {
		return nil, nil
	}
	if b.batch == nil {
		b.log.Warnw("no batch transcriber configured, dropping window",
			"session_id", sessionID,
			"bytes", len(audio),
		)
		return nil, nil
	}

	result, err := b.transcribeWithFallback(ctx, audio)
	if err != nil {
		b.log.Warnw("batch transcription failed, window skipped",
			"session_id", sessionID,
			"bytes", len(audio),
			"error", fmt.Errorf("%w: %v", ErrProviderUnavailable, err),
		)
		return nil, nil
	}
	if result.Text == "" {
		return nil, nil
	}

	annotation := annotate.Annotate(result.Text, -1)
	seg := transcribe.Segment{
		EncounterID: encounterID,
		Timestamp:   flushedAt,
		Text:        result.Text,
		Speaker:     annotation.Speaker,
		Channel:     -1,
		Confidence:  result.Confidence,
		Entities:    annotation.Entities,
	}

	if err := b.store.AppendSegment(seg, flushedAt.Add(b.opts.Retention)); err != nil {
		return nil, fmt.Errorf("persist segment: %w", err)
	}
	if b.observer != nil {
		b.observer.SegmentReady(seg)
	}

	return &seg, nil
}

// transcribeWithFallback tries the domain-tuned model first and retries
// exactly once with the general-purpose model.
func (b *Bridge) transcribeWithFallback(ctx context.Context, audio []byte) (BatchResult, error) {
	result, err := b.batch.Transcribe(ctx, audio, b.opts.MedicalModel)
	if err == nil {
		return result, nil
	}

	b.log.Warnw("medical model transcription failed, retrying with general model",
		"model", b.opts.MedicalModel,
		"error", err,
	)

	result, retryErr := b.batch.Transcribe(ctx, audio, b.opts.GeneralModel)
	if retryErr != nil {
		return BatchResult{}, fmt.Errorf("after retry with %s: %w", b.opts.GeneralModel, retryErr)
	}
	return result, nil
}

// HandleLiveResult consumes transcript events from a live handle. Final
// segments are annotated and persisted; partial segments are only forwarded
// to the observer for display.
func (b *Bridge) HandleLiveResult(sessionID, encounterID string, words []transcribe.Word, transcript string, confidence float64, isPartial bool) {
	segments := transcribe.GroupWordsByChannel(words)
	if len(segments) == 0 {
		if transcript == "" {
			return
		}
		segments = []transcribe.Segment{{Text: transcript, Channel: -1, Confidence: confidence}}
	}

	now := b.now().UTC()
	for _, seg := range segments {
		annotation := annotate.Annotate(seg.Text, seg.Channel)
		seg.EncounterID = encounterID
		seg.Timestamp = now
		seg.Speaker = annotation.Speaker
		seg.Entities = annotation.Entities
		seg.Partial = isPartial
		if seg.Confidence == 0 {
			seg.Confidence = confidence
		}

		if !isPartial {
			if err := b.store.AppendSegment(seg, now.Add(b.opts.Retention)); err != nil {
				b.log.Warnw("persist live segment failed",
					"session_id", sessionID,
					"error", err,
				)
				continue
			}
		}

		if b.observer != nil {
			b.observer.SegmentReady(seg)
		}
	}
}

// StopTranscription closes any live handle, flushes residual backlog, marks
// the session completed and links a recording-metadata record for the
// transcription-only artifact. The linkage is best-effort: its failure is
// logged but does not fail the stop.
func (b *Bridge) StopTranscription(ctx context.Context, sessionID string) (StopResult, error) {
	ts, err := b.loadSession(sessionID)
	if err != nil {
		return StopResult{}, err
	}

	b.mu.Lock()
	state := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	if state != nil {
		if state.handle != nil {
			state.handle.Stop()
			state.handle = nil
		}
		if _, err := b.flush(ctx, sessionID, ts.EncounterID, state); err != nil {
			b.log.Warnw("residual backlog flush failed", "session_id", sessionID, "error", err)
		}
	}

	completed := storage.TranscriptionCompleted
	if err := b.store.UpdateTranscriptionSession(sessionID, storage.TranscriptionSessionPatch{Status: &completed}); err != nil {
		b.log.Warnw("mark transcription completed failed", "session_id", sessionID, "error", err)
	}

	count, err := b.store.CountSegments(ts.EncounterID)
	if err != nil {
		b.log.Warnw("count segments failed", "encounter_id", ts.EncounterID, "error", err)
	}

	endedAt := b.now().UTC()
	rec := storage.Recording{
		ID:                     b.newID(),
		EncounterID:            ts.EncounterID,
		StartedAt:              ts.StartedAt,
		EndedAt:                endedAt,
		DurationSeconds:        int64(math.Round(endedAt.Sub(ts.StartedAt).Seconds())),
		TranscriptionSessionID: sessionID,
	}
	recordingID := rec.ID
	if err := b.store.AppendRecording(rec); err != nil {
		b.log.Warnw("recording metadata link failed",
			"session_id", sessionID,
			"error", fmt.Errorf("%w: %v", ErrLinkFailed, err),
		)
		recordingID = ""
	}

	if err := b.store.DeleteTranscriptionSession(sessionID); err != nil {
		b.log.Warnw("delete transcription session failed", "session_id", sessionID, "error", err)
	}

	b.log.Infow("transcription stopped",
		"session_id", sessionID,
		"encounter_id", ts.EncounterID,
		"segments", count,
	)

	return StopResult{SegmentCount: count, RecordingID: recordingID}, nil
}

// Discard drops any process-local state for a session without touching the
// durable row. The sweeper uses it when it deletes orphaned sessions.
func (b *Bridge) Discard(sessionID string) {
	b.mu.Lock()
	state := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	if state != nil && state.handle != nil {
		state.handle.Stop()
	}
}

func (b *Bridge) loadSession(sessionID string) (storage.TranscriptionSession, error) {
	ts, err := b.store.GetTranscriptionSession(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.TranscriptionSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return storage.TranscriptionSession{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return ts, nil
}

// state returns the process-local state for a session, creating an empty
// batch-path entry when this worker has none. lastFlush seeds from the
// durable row so a fresh worker does not flush immediately on arrival.
func (b *Bridge) state(sessionID string, lastFlush time.Time) *sessionState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.sessions[sessionID]; ok {
		return st
	}

	if lastFlush.IsZero() {
		lastFlush = b.now()
	}
	st := &sessionState{lastFlush: lastFlush}
	b.sessions[sessionID] = st
	return st
}
