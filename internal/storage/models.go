package storage

import "time"

// Transcription session statuses. There is no failed state: transcription
// failures degrade to the batch path instead of terminating the session.
const (
	TranscriptionActive    = "active"
	TranscriptionCompleted = "completed"
)

// Note statuses.
const (
	NotePending   = "pending"
	NoteRunning   = "running"
	NoteCompleted = "completed"
	NoteFailed    = "failed"
)

// UploadPart records one completed multi-part upload part.
type UploadPart struct {
	Number int    `json:"number"`
	ETag   string `json:"etag"`
	Size   int    `json:"size"`
}

// RecordingSession is the durable state of one audio-capture attempt. It is
// the only memory shared between the stateless invocations that handle a
// capture connection.
type RecordingSession struct {
	ID           string       `json:"id"`
	ConnectionID string       `json:"connection_id"`
	EncounterID  string       `json:"encounter_id"`
	StartedAt    time.Time    `json:"started_at"`
	UploadID     string       `json:"upload_id"`
	ObjectKey    string       `json:"object_key"`
	Paused       bool         `json:"paused"`
	LastSeq      int64        `json:"last_seq"`
	Parts        []UploadPart `json:"parts"`
	AudioBytes   int64        `json:"audio_bytes"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TranscriptionSession is the durable state of one live-transcription
// attempt. The audio backlog itself is process-local and is not persisted.
type TranscriptionSession struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	EncounterID  string    `json:"encounter_id"`
	StartedAt    time.Time `json:"started_at"`
	Status       string    `json:"status"`
	Provider     string    `json:"provider"`
	LastFlushAt  time.Time `json:"last_flush_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Recording links an encounter to a finished audio artifact. Rows are
// append-only and never mutated.
type Recording struct {
	ID                     string    `json:"id"`
	EncounterID            string    `json:"encounter_id"`
	StartedAt              time.Time `json:"started_at"`
	EndedAt                time.Time `json:"ended_at"`
	DurationSeconds        int64     `json:"duration_seconds"`
	ObjectKey              string    `json:"object_key,omitempty"`
	TranscriptionSessionID string    `json:"transcription_session_id,omitempty"`
}

// Note is the generated visit note for an encounter.
type Note struct {
	EncounterID string    `json:"encounter_id"`
	Body        string    `json:"body"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RecordingSessionPatch is a typed partial update for a recording session.
// Only nil-checked fields are written; there is no dynamic field list, so
// internal columns can never be reached through a patch.
type RecordingSessionPatch struct {
	Paused     *bool
	LastSeq    *int64
	AudioBytes *int64
}

// TranscriptionSessionPatch is a typed partial update for a transcription
// session.
type TranscriptionSessionPatch struct {
	Status      *string
	LastFlushAt *time.Time
}
