package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/northwind-health/scribe/internal/storage"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func registerAPIRoutes(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/encounters/{id}/segments", func(w http.ResponseWriter, r *http.Request) {
		encounterID := r.PathValue("id")
		if !validID(encounterID) {
			writeJSONError(w, http.StatusForbidden, "invalid encounter id")
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		segments, err := deps.Store.ListSegments(encounterID, limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list segments: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, segments)
	})

	mux.HandleFunc("GET /api/encounters/{id}/recordings", func(w http.ResponseWriter, r *http.Request) {
		encounterID := r.PathValue("id")
		if !validID(encounterID) {
			writeJSONError(w, http.StatusForbidden, "invalid encounter id")
			return
		}

		recordings, err := deps.Store.ListRecordings(encounterID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, recordings)
	})

	mux.HandleFunc("GET /api/encounters/{id}/note", func(w http.ResponseWriter, r *http.Request) {
		encounterID := r.PathValue("id")
		if !validID(encounterID) {
			writeJSONError(w, http.StatusForbidden, "invalid encounter id")
			return
		}

		note, err := deps.Store.GetNote(encounterID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get note: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, note)
	})

	mux.HandleFunc("GET /api/recordings/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		recordingID := r.PathValue("id")
		if !validID(recordingID) {
			writeJSONError(w, http.StatusForbidden, "invalid recording id")
			return
		}

		rec, err := deps.Store.GetRecording(recordingID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get recording: %v", err))
			return
		}

		if rec.ObjectKey == "" {
			writeJSONError(w, http.StatusNotFound, "recording has no audio artifact")
			return
		}

		f, err := deps.Audio.Open(rec.ObjectKey)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "audio object not found")
			return
		}
		defer func() { _ = f.Close() }()

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, recordingID+".pcm", rec.EndedAt, f)
	})
}

func validID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
