package server

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/transcribe"
)

// Hub fans transcript and session events out to observer websockets. Sends
// never block: a subscriber that cannot keep up loses events rather than
// stalling the capture path.
type Hub struct {
	log     *zap.SugaredLogger
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[chan []byte]struct{}),
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// SegmentReady implements the bridge's observer: every partial and final
// segment goes out to connected observers for immediate display.
func (h *Hub) SegmentReady(seg transcribe.Segment) {
	h.broadcastEvent(SegmentEvent{
		Event:       newEvent("segment", seg.Timestamp),
		EncounterID: seg.EncounterID,
		Speaker:     seg.Speaker,
		Text:        seg.Text,
		Confidence:  seg.Confidence,
		Entities:    seg.Entities,
		StartTime:   seg.StartTime,
		EndTime:     seg.EndTime,
		Partial:     seg.Partial,
	})
}

func (h *Hub) BroadcastRecordingStarted(encounterID, sessionID string) {
	h.broadcastEvent(RecordingStartedEvent{
		Event:       newEvent("recording_started", time.Now().UTC()),
		EncounterID: encounterID,
		SessionID:   sessionID,
	})
}

func (h *Hub) BroadcastRecordingStopped(encounterID, recordingID string, durationSeconds int64) {
	h.broadcastEvent(RecordingStoppedEvent{
		Event:           newEvent("recording_stopped", time.Now().UTC()),
		EncounterID:     encounterID,
		RecordingID:     recordingID,
		DurationSeconds: durationSeconds,
	})
}

func (h *Hub) BroadcastStatusChanged(sessionID string, paused bool) {
	h.broadcastEvent(StatusChangedEvent{
		Event:     newEvent("status_changed", time.Now().UTC()),
		SessionID: sessionID,
		Paused:    paused,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Warnw("event marshal error", "error", err)
		return
	}
	h.Broadcast(payload)
}
