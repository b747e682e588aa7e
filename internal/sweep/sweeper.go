package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/storage"
)

// Store is the slice of the session store the sweeper needs.
type Store interface {
	StaleRecordingSessions(cutoff time.Time) ([]storage.RecordingSession, error)
	DeleteRecordingSession(id string) error
	StaleTranscriptionSessions(cutoff time.Time) ([]storage.TranscriptionSession, error)
	DeleteTranscriptionSession(id string) error
	PurgeExpiredSegments(now time.Time) (int64, error)
}

// Uploads aborts the multi-part uploads of swept recording sessions.
type Uploads interface {
	AbortUpload(uploadID string) error
}

// Registry drops process-local transcription state for swept sessions.
type Registry interface {
	Discard(sessionID string)
}

// Sweeper periodically collects orphaned sessions: sessions whose owning
// connection disappeared without a stop command. A session counts as
// orphaned when its last activity is older than the configured age.
type Sweeper struct {
	store    Store
	uploads  Uploads
	registry Registry
	log      *zap.SugaredLogger

	age      time.Duration
	interval time.Duration
	now      func() time.Time
}

func New(store Store, uploads Uploads, registry Registry, age, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	if age <= 0 {
		age = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		uploads:  uploads,
		registry: registry,
		log:      log,
		age:      age,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs one pass: abort and delete orphaned recording sessions,
// delete orphaned transcription sessions, and purge expired segments.
func (s *Sweeper) Sweep() {
	cutoff := s.now().UTC().Add(-s.age)

	recSessions, err := s.store.StaleRecordingSessions(cutoff)
	if err != nil {
		s.log.Warnw("list stale recording sessions failed", "error", err)
	}
	for _, rs := range recSessions {
		if s.uploads != nil && rs.UploadID != "" {
			if err := s.uploads.AbortUpload(rs.UploadID); err != nil {
				s.log.Warnw("abort orphaned upload failed",
					"session_id", rs.ID,
					"upload_id", rs.UploadID,
					"error", err,
				)
			}
		}
		if err := s.store.DeleteRecordingSession(rs.ID); err != nil {
			s.log.Warnw("delete orphaned recording session failed", "session_id", rs.ID, "error", err)
			continue
		}
		s.log.Infow("orphaned recording session swept",
			"session_id", rs.ID,
			"connection_id", rs.ConnectionID,
			"last_activity", rs.UpdatedAt,
		)
	}

	trSessions, err := s.store.StaleTranscriptionSessions(cutoff)
	if err != nil {
		s.log.Warnw("list stale transcription sessions failed", "error", err)
	}
	for _, ts := range trSessions {
		if s.registry != nil {
			s.registry.Discard(ts.ID)
		}
		if err := s.store.DeleteTranscriptionSession(ts.ID); err != nil {
			s.log.Warnw("delete orphaned transcription session failed", "session_id", ts.ID, "error", err)
			continue
		}
		s.log.Infow("orphaned transcription session swept",
			"session_id", ts.ID,
			"connection_id", ts.ConnectionID,
		)
	}

	purged, err := s.store.PurgeExpiredSegments(s.now().UTC())
	if err != nil {
		s.log.Warnw("purge expired segments failed", "error", err)
	} else if purged > 0 {
		s.log.Infow("expired segments purged", "count", purged)
	}
}
