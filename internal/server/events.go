package server

import (
	"time"

	"github.com/northwind-health/scribe/internal/annotate"
)

const EventVersion = 1

// Event is the envelope shared by every message the service emits over a
// websocket, capture responses and observer broadcasts alike.
type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectedEvent struct {
	Event
	ConnectionID string `json:"connection_id"`
}

type RecordingStartedEvent struct {
	Event
	EncounterID            string `json:"encounter_id"`
	SessionID              string `json:"session_id"`
	TranscriptionSessionID string `json:"transcription_session_id,omitempty"`
	UploadID               string `json:"upload_id,omitempty"`
	ObjectKey              string `json:"object_key,omitempty"`
}

type ChunkAckEvent struct {
	Event
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Status    string `json:"status"`
	PartCount int    `json:"part_count"`
}

type StatusChangedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Paused    bool   `json:"paused"`
}

type RecordingStoppedEvent struct {
	Event
	EncounterID           string `json:"encounter_id,omitempty"`
	RecordingID           string `json:"recording_id"`
	DurationSeconds       int64  `json:"duration_seconds"`
	ObjectKey             string `json:"object_key,omitempty"`
	SegmentCount          int    `json:"segment_count"`
	TranscriptRecordingID string `json:"transcript_recording_id,omitempty"`
}

type SegmentEvent struct {
	Event
	EncounterID string            `json:"encounter_id"`
	Speaker     string            `json:"speaker"`
	Text        string            `json:"text"`
	Confidence  float64           `json:"confidence"`
	Entities    []annotate.Entity `json:"entities,omitempty"`
	StartTime   float64           `json:"start_time"`
	EndTime     float64           `json:"end_time"`
	Partial     bool              `json:"partial"`
}

type ErrorEvent struct {
	Event
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
