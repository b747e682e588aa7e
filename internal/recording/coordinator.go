package recording

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/objectstore"
	"github.com/northwind-health/scribe/internal/storage"
)

// Store is the slice of the session store the coordinator needs. Session
// rows are the only memory shared across invocations; every operation loads
// at the start and writes back before returning.
type Store interface {
	CreateRecordingSession(rs storage.RecordingSession) error
	GetRecordingSession(id string) (storage.RecordingSession, error)
	ActiveRecordingSessionForConnection(connectionID string) (string, bool, error)
	UpdateRecordingSession(id string, patch storage.RecordingSessionPatch) error
	AppendUploadPart(id string, part storage.UploadPart, lastSeq int64) (int, error)
	DeleteRecordingSession(id string) error
	AppendRecording(rec storage.Recording) error
}

// Uploads is the multi-part upload surface of the object store.
type Uploads interface {
	CreateUpload(key string) (string, error)
	UploadPart(uploadID string, partNumber int, data []byte) (string, error)
	CompleteUpload(uploadID, key string, parts []objectstore.Part) error
	AbortUpload(uploadID string) error
}

// StartResult is returned by StartRecording. UploadID and ObjectKey together
// form the direct-upload target handed back to the client as a fast path.
type StartResult struct {
	SessionID string
	UploadID  string
	ObjectKey string
}

// Chunk statuses.
const (
	ChunkUploaded = "uploaded"
	ChunkPaused   = "paused"
)

// ChunkResult is returned by ProcessAudioChunk.
type ChunkResult struct {
	Status    string
	PartCount int
}

// StopResult is returned by StopRecording.
type StopResult struct {
	RecordingID     string
	DurationSeconds int64
	ObjectKey       string
}

// Coordinator manages one multi-part durable upload per recording session.
type Coordinator struct {
	store   Store
	uploads Uploads
	log     *zap.SugaredLogger
	now     func() time.Time
	newID   func() string
}

func NewCoordinator(store Store, uploads Uploads, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		store:   store,
		uploads: uploads,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// ObjectKey derives the deterministic storage key for a session's audio.
func ObjectKey(encounterID, sessionID string) string {
	return fmt.Sprintf("encounters/%s/audio/%s.pcm", encounterID, sessionID)
}

// StartRecording opens a multi-part upload and creates the session row. At
// most one recording session may be active per connection.
func (c *Coordinator) StartRecording(connectionID, encounterID string) (StartResult, error) {
	if existing, active, err := c.store.ActiveRecordingSessionForConnection(connectionID); err != nil {
		return StartResult{}, fmt.Errorf("check active session: %w", err)
	} else if active {
		return StartResult{}, fmt.Errorf("session %s: %w", existing, ErrRecordingInProgress)
	}

	sessionID := c.newID()
	objectKey := ObjectKey(encounterID, sessionID)

	uploadID, err := c.uploads.CreateUpload(objectKey)
	if err != nil {
		return StartResult{}, fmt.Errorf("open multi-part upload: %w: %v", ErrUploadFailed, err)
	}

	rs := storage.RecordingSession{
		ID:           sessionID,
		ConnectionID: connectionID,
		EncounterID:  encounterID,
		StartedAt:    c.now().UTC(),
		UploadID:     uploadID,
		ObjectKey:    objectKey,
		LastSeq:      -1,
	}
	if err := c.store.CreateRecordingSession(rs); err != nil {
		_ = c.uploads.AbortUpload(uploadID)
		return StartResult{}, fmt.Errorf("persist recording session: %w", err)
	}

	c.log.Infow("recording started",
		"session_id", sessionID,
		"connection_id", connectionID,
		"encounter_id", encounterID,
	)

	return StartResult{SessionID: sessionID, UploadID: uploadID, ObjectKey: objectKey}, nil
}

// ProcessAudioChunk uploads one chunk as the next part of the session's
// upload. Out-of-sequence chunks are accepted and uploaded anyway; ordering
// is advisory and gaps are only logged. The part list and sequence counter
// are updated transactionally in the session row.
func (c *Coordinator) ProcessAudioChunk(connectionID, sessionID string, chunk []byte, seq int64) (ChunkResult, error) {
	rs, err := c.load(connectionID, sessionID)
	if err != nil {
		return ChunkResult{}, err
	}

	if rs.Paused {
		return ChunkResult{Status: ChunkPaused, PartCount: len(rs.Parts)}, nil
	}

	if seq != rs.LastSeq+1 {
		c.log.Warnw("out-of-sequence audio chunk accepted",
			"session_id", sessionID,
			"expected_seq", rs.LastSeq+1,
			"received_seq", seq,
		)
	}

	partNumber := len(rs.Parts) + 1
	etag, err := c.uploads.UploadPart(rs.UploadID, partNumber, chunk)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("upload part %d: %w: %v", partNumber, ErrUploadFailed, err)
	}

	lastSeq := rs.LastSeq + 1
	if seq > rs.LastSeq {
		lastSeq = seq
	}

	part := storage.UploadPart{Number: partNumber, ETag: etag, Size: len(chunk)}
	count, err := c.store.AppendUploadPart(sessionID, part, lastSeq)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("record part %d: %w", partNumber, err)
	}

	return ChunkResult{Status: ChunkUploaded, PartCount: count}, nil
}

// StopRecording completes the upload and finalizes the recording. A session
// with zero uploaded parts is discarded and reported as a failure.
func (c *Coordinator) StopRecording(connectionID, sessionID string) (StopResult, error) {
	rs, err := c.load(connectionID, sessionID)
	if err != nil {
		return StopResult{}, err
	}

	if len(rs.Parts) == 0 {
		_ = c.uploads.AbortUpload(rs.UploadID)
		if err := c.store.DeleteRecordingSession(sessionID); err != nil {
			c.log.Warnw("delete empty recording session failed", "session_id", sessionID, "error", err)
		}
		return StopResult{}, fmt.Errorf("session %s: %w", sessionID, ErrNoAudioRecorded)
	}

	parts := make([]objectstore.Part, 0, len(rs.Parts))
	for _, p := range rs.Parts {
		parts = append(parts, objectstore.Part{Number: p.Number, ETag: p.ETag})
	}
	if err := c.uploads.CompleteUpload(rs.UploadID, rs.ObjectKey, parts); err != nil {
		return StopResult{}, fmt.Errorf("complete upload: %w: %v", ErrUploadFailed, err)
	}

	endedAt := c.now().UTC()
	duration := int64(math.Round(endedAt.Sub(rs.StartedAt).Seconds()))

	rec := storage.Recording{
		ID:              c.newID(),
		EncounterID:     rs.EncounterID,
		StartedAt:       rs.StartedAt,
		EndedAt:         endedAt,
		DurationSeconds: duration,
		ObjectKey:       rs.ObjectKey,
	}
	if err := c.store.AppendRecording(rec); err != nil {
		return StopResult{}, fmt.Errorf("append recording metadata: %w", err)
	}

	if err := c.store.DeleteRecordingSession(sessionID); err != nil {
		c.log.Warnw("delete recording session failed", "session_id", sessionID, "error", err)
	}

	c.log.Infow("recording stopped",
		"session_id", sessionID,
		"recording_id", rec.ID,
		"parts", len(rs.Parts),
		"audio_bytes", rs.AudioBytes,
		"duration_seconds", duration,
	)

	return StopResult{RecordingID: rec.ID, DurationSeconds: duration, ObjectKey: rs.ObjectKey}, nil
}

// UpdateStatus toggles the session's paused flag.
func (c *Coordinator) UpdateStatus(connectionID, sessionID string, paused bool) error {
	if _, err := c.load(connectionID, sessionID); err != nil {
		return err
	}

	patch := storage.RecordingSessionPatch{Paused: &paused}
	if err := c.store.UpdateRecordingSession(sessionID, patch); err != nil {
		return fmt.Errorf("update paused flag: %w", err)
	}
	return nil
}

func (c *Coordinator) load(connectionID, sessionID string) (storage.RecordingSession, error) {
	rs, err := c.store.GetRecordingSession(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.RecordingSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return storage.RecordingSession{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if rs.ConnectionID != connectionID {
		return storage.RecordingSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionMismatch)
	}
	return rs, nil
}
