package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/northwind-health/scribe/internal/recording"
	"github.com/northwind-health/scribe/internal/transcription"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Command types accepted on the capture socket.
const (
	cmdStartRecording  = "start-recording"
	cmdAudioChunk      = "audio-chunk"
	cmdPauseRecording  = "pause-recording"
	cmdResumeRecording = "resume-recording"
	cmdStopRecording   = "stop-recording"
)

// command is the JSON shape of every capture-socket message, discriminated
// by Type. Audio arrives base64-encoded.
type command struct {
	Type                   string `json:"type"`
	EncounterID            string `json:"encounter_id,omitempty"`
	SessionID              string `json:"session_id,omitempty"`
	TranscriptionSessionID string `json:"transcription_session_id,omitempty"`
	Seq                    int64  `json:"seq,omitempty"`
	Audio                  string `json:"audio,omitempty"`
}

func registerCaptureRoute(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /ws/capture", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Log.Warnw("capture upgrade error", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		session := &captureConn{
			conn:         conn,
			connectionID: uuid.NewString(),
			deps:         deps,
		}
		session.run(r.Context())
	})
}

// captureConn handles one capture connection. Each inbound command is an
// independent invocation against durable session state; the struct itself
// holds no session state beyond the connection id.
type captureConn struct {
	conn         *websocket.Conn
	connectionID string
	deps         Deps
}

func (c *captureConn) run(ctx context.Context) {
	c.send(ConnectedEvent{
		Event:        newEvent("connected", time.Now().UTC()),
		ConnectionID: c.connectionID,
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			// Disconnect without stop-recording: the orphan sweeper will
			// collect whatever sessions this connection left behind.
			c.deps.Log.Infow("capture connection closed", "connection_id", c.connectionID)
			return
		}

		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.sendError("bad_command", "malformed command payload")
			continue
		}

		c.dispatch(ctx, cmd)
	}
}

func (c *captureConn) dispatch(ctx context.Context, cmd command) {
	switch cmd.Type {
	case cmdStartRecording:
		c.handleStart(ctx, cmd)
	case cmdAudioChunk:
		c.handleChunk(ctx, cmd)
	case cmdPauseRecording:
		c.handlePauseResume(cmd, true)
	case cmdResumeRecording:
		c.handlePauseResume(cmd, false)
	case cmdStopRecording:
		c.handleStop(ctx, cmd)
	default:
		c.sendError("bad_command", "unknown command type "+cmd.Type)
	}
}

func (c *captureConn) handleStart(ctx context.Context, cmd command) {
	if cmd.EncounterID == "" {
		c.sendError("bad_command", "encounter_id is required")
		return
	}

	start, err := c.deps.Recorder.StartRecording(c.connectionID, cmd.EncounterID)
	if err != nil {
		c.sendOpError(err)
		return
	}

	transcriptionID := ""
	if c.deps.Transcriber != nil {
		transcriptionID, err = c.deps.Transcriber.StartTranscription(ctx, c.connectionID, cmd.EncounterID)
		if err != nil {
			c.deps.Log.Warnw("start transcription failed, recording continues",
				"connection_id", c.connectionID,
				"error", err,
			)
			transcriptionID = ""
		}
	}

	if c.deps.Hub != nil {
		c.deps.Hub.BroadcastRecordingStarted(cmd.EncounterID, start.SessionID)
	}

	c.send(RecordingStartedEvent{
		Event:                  newEvent("recording_started", time.Now().UTC()),
		EncounterID:            cmd.EncounterID,
		SessionID:              start.SessionID,
		TranscriptionSessionID: transcriptionID,
		UploadID:               start.UploadID,
		ObjectKey:              start.ObjectKey,
	})
}

func (c *captureConn) handleChunk(ctx context.Context, cmd command) {
	chunk, err := base64.StdEncoding.DecodeString(cmd.Audio)
	if err != nil {
		c.sendError("bad_command", "audio payload is not valid base64")
		return
	}

	result, err := c.deps.Recorder.ProcessAudioChunk(c.connectionID, cmd.SessionID, chunk, cmd.Seq)
	if err != nil {
		c.sendOpError(err)
		return
	}

	// The bridge only sees chunks the coordinator accepted for upload, so
	// paused captures produce no transcript either.
	if result.Status == recording.ChunkUploaded && c.deps.Transcriber != nil && cmd.TranscriptionSessionID != "" {
		if _, err := c.deps.Transcriber.ProcessAudioChunk(ctx, cmd.TranscriptionSessionID, chunk); err != nil {
			c.deps.Log.Warnw("transcription chunk failed",
				"transcription_session_id", cmd.TranscriptionSessionID,
				"error", err,
			)
		}
	}

	c.send(ChunkAckEvent{
		Event:     newEvent("chunk_ack", time.Now().UTC()),
		SessionID: cmd.SessionID,
		Seq:       cmd.Seq,
		Status:    result.Status,
		PartCount: result.PartCount,
	})
}

func (c *captureConn) handlePauseResume(cmd command, paused bool) {
	if err := c.deps.Recorder.UpdateStatus(c.connectionID, cmd.SessionID, paused); err != nil {
		c.sendOpError(err)
		return
	}

	if c.deps.Hub != nil {
		c.deps.Hub.BroadcastStatusChanged(cmd.SessionID, paused)
	}

	c.send(StatusChangedEvent{
		Event:     newEvent("status_changed", time.Now().UTC()),
		SessionID: cmd.SessionID,
		Paused:    paused,
	})
}

func (c *captureConn) handleStop(ctx context.Context, cmd command) {
	var (
		segmentCount          int
		transcriptRecordingID string
	)
	if c.deps.Transcriber != nil && cmd.TranscriptionSessionID != "" {
		stop, err := c.deps.Transcriber.StopTranscription(ctx, cmd.TranscriptionSessionID)
		if err != nil {
			c.deps.Log.Warnw("stop transcription failed",
				"transcription_session_id", cmd.TranscriptionSessionID,
				"error", err,
			)
		} else {
			segmentCount = stop.SegmentCount
			transcriptRecordingID = stop.RecordingID
		}
	}

	stop, err := c.deps.Recorder.StopRecording(c.connectionID, cmd.SessionID)
	if err != nil {
		c.sendOpError(err)
		return
	}

	if c.deps.Hub != nil {
		c.deps.Hub.BroadcastRecordingStopped(cmd.EncounterID, stop.RecordingID, stop.DurationSeconds)
	}
	if c.deps.Finisher != nil {
		c.deps.Finisher.RecordingFinished(cmd.EncounterID, stop.ObjectKey)
	}

	c.send(RecordingStoppedEvent{
		Event:                 newEvent("recording_stopped", time.Now().UTC()),
		EncounterID:           cmd.EncounterID,
		RecordingID:           stop.RecordingID,
		DurationSeconds:       stop.DurationSeconds,
		ObjectKey:             stop.ObjectKey,
		SegmentCount:          segmentCount,
		TranscriptRecordingID: transcriptRecordingID,
	})
}

func (c *captureConn) send(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.deps.Log.Warnw("capture event marshal error", "error", err)
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.deps.Log.Warnw("capture write error", "connection_id", c.connectionID, "error", err)
	}
}

func (c *captureConn) sendError(code, message string) {
	c.send(ErrorEvent{
		Event:   newEvent("error", time.Now().UTC()),
		Code:    code,
		Message: message,
	})
}

// sendOpError maps the typed coordinator/bridge errors onto wire error codes.
func (c *captureConn) sendOpError(err error) {
	code := "internal"
	switch {
	case errors.Is(err, recording.ErrSessionNotFound), errors.Is(err, transcription.ErrSessionNotFound):
		code = "session_not_found"
	case errors.Is(err, recording.ErrSessionMismatch):
		code = "session_mismatch"
	case errors.Is(err, recording.ErrNoAudioRecorded):
		code = "no_audio_recorded"
	case errors.Is(err, recording.ErrRecordingInProgress):
		code = "recording_in_progress"
	case errors.Is(err, recording.ErrUploadFailed):
		code = "upload_failed"
	}
	c.sendError(code, err.Error())
}
