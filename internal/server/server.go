package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/recording"
	"github.com/northwind-health/scribe/internal/storage"
	"github.com/northwind-health/scribe/internal/transcribe"
	"github.com/northwind-health/scribe/internal/transcription"
)

// Recorder is the coordinator surface the transport layer drives.
type Recorder interface {
	StartRecording(connectionID, encounterID string) (recording.StartResult, error)
	ProcessAudioChunk(connectionID, sessionID string, chunk []byte, seq int64) (recording.ChunkResult, error)
	StopRecording(connectionID, sessionID string) (recording.StopResult, error)
	UpdateStatus(connectionID, sessionID string, paused bool) error
}

// Transcriber is the bridge surface the transport layer drives.
type Transcriber interface {
	StartTranscription(ctx context.Context, connectionID, encounterID string) (string, error)
	ProcessAudioChunk(ctx context.Context, sessionID string, chunk []byte) (*transcribe.Segment, error)
	StopTranscription(ctx context.Context, sessionID string) (transcription.StopResult, error)
}

// ReadStore is the read-side store surface behind the REST API.
type ReadStore interface {
	ListSegments(encounterID string, limit int) ([]transcribe.Segment, error)
	ListRecordings(encounterID string) ([]storage.Recording, error)
	GetRecording(id string) (storage.Recording, error)
	GetNote(encounterID string) (storage.Note, error)
}

// AudioOpener reads completed audio objects back for playback.
type AudioOpener interface {
	Open(key string) (io.ReadSeekCloser, error)
}

// Finisher is notified after a recording finalizes, for best-effort
// post-processing such as note generation and archival.
type Finisher interface {
	RecordingFinished(encounterID, objectKey string)
}

// Deps collects everything the HTTP layer needs.
type Deps struct {
	Log         *zap.SugaredLogger
	Hub         *Hub
	Recorder    Recorder
	Transcriber Transcriber
	Store       ReadStore
	Audio       AudioOpener
	Finisher    Finisher
}

// Handler builds the service's HTTP handler: the capture socket, the
// observer feed and the read API.
func Handler(deps Deps) http.Handler {
	mux := http.NewServeMux()

	registerCaptureRoute(mux, deps)
	registerObserveRoute(mux, deps)
	registerAPIRoutes(mux, deps)

	return mux
}

// registerObserveRoute serves the observer feed: a write-only websocket that
// relays hub events to dashboards.
func registerObserveRoute(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /ws/observe", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Log.Warnw("observe upgrade error", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		connected, err := json.Marshal(ConnectedEvent{
			Event: newEvent("connected", time.Now().UTC()),
		})
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, connected)
		}

		ch := deps.Hub.Subscribe()
		defer deps.Hub.Unsubscribe(ch)

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}
