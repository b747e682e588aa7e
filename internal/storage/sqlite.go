package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/northwind-health/scribe/internal/transcribe"
)

// ErrNotFound is returned when a session, recording or note does not exist.
var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "scribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	statements := []struct {
		name string
		ddl  string
	}{
		{"recording_sessions", `
			CREATE TABLE IF NOT EXISTS recording_sessions (
				id TEXT PRIMARY KEY,
				connection_id TEXT NOT NULL,
				encounter_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				upload_id TEXT NOT NULL DEFAULT '',
				object_key TEXT NOT NULL DEFAULT '',
				paused INTEGER NOT NULL DEFAULT 0,
				last_seq INTEGER NOT NULL DEFAULT -1,
				parts TEXT NOT NULL DEFAULT '[]',
				audio_bytes INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			);
		`},
		{"transcription_sessions", `
			CREATE TABLE IF NOT EXISTS transcription_sessions (
				id TEXT PRIMARY KEY,
				connection_id TEXT NOT NULL,
				encounter_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				status TEXT NOT NULL,
				provider TEXT NOT NULL DEFAULT '',
				last_flush_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
		`},
		{"segments", `
			CREATE TABLE IF NOT EXISTS segments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				encounter_id TEXT NOT NULL,
				ts TEXT NOT NULL,
				text TEXT NOT NULL,
				speaker TEXT NOT NULL,
				channel INTEGER NOT NULL DEFAULT -1,
				confidence REAL NOT NULL DEFAULT 0,
				entities TEXT NOT NULL DEFAULT '[]',
				start_time REAL NOT NULL DEFAULT 0,
				end_time REAL NOT NULL DEFAULT 0,
				expires_at TEXT NOT NULL
			);
		`},
		{"recordings", `
			CREATE TABLE IF NOT EXISTS recordings (
				id TEXT PRIMARY KEY,
				encounter_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				ended_at TEXT NOT NULL,
				duration_seconds INTEGER NOT NULL,
				object_key TEXT NOT NULL DEFAULT '',
				transcription_session_id TEXT NOT NULL DEFAULT ''
			);
		`},
		{"notes", `
			CREATE TABLE IF NOT EXISTS notes (
				encounter_id TEXT PRIMARY KEY,
				body TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				updated_at TEXT NOT NULL
			);
		`},
		{"note_requests", `
			CREATE TABLE IF NOT EXISTS note_requests (
				encounter_id TEXT NOT NULL,
				prompt_hash TEXT NOT NULL,
				created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(encounter_id, prompt_hash)
			);
		`},
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", stmt.name, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_recording_sessions_connection ON recording_sessions(connection_id)",
		"CREATE INDEX IF NOT EXISTS idx_recording_sessions_updated ON recording_sessions(updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_transcription_sessions_updated ON transcription_sessions(updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_segments_encounter ON segments(encounter_id, ts)",
		"CREATE INDEX IF NOT EXISTS idx_segments_expires ON segments(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_recordings_encounter ON recordings(encounter_id, started_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- Recording sessions ---

func (s *SQLiteStore) CreateRecordingSession(rs RecordingSession) error {
	if strings.TrimSpace(rs.ID) == "" {
		return errors.New("recording session id is required")
	}

	parts, err := marshalParts(rs.Parts)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO recording_sessions(id, connection_id, encounter_id, started_at, upload_id, object_key, paused, last_seq, parts, audio_bytes, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.ID,
		rs.ConnectionID,
		rs.EncounterID,
		formatTime(rs.StartedAt),
		rs.UploadID,
		rs.ObjectKey,
		boolToInt(rs.Paused),
		rs.LastSeq,
		parts,
		rs.AudioBytes,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("create recording session %s: %w", rs.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRecordingSession(id string) (RecordingSession, error) {
	row := s.db.QueryRow(
		`SELECT id, connection_id, encounter_id, started_at, upload_id, object_key, paused, last_seq, parts, audio_bytes, updated_at
		 FROM recording_sessions WHERE id = ?`,
		id,
	)
	return scanRecordingSession(row)
}

// ActiveRecordingSessionForConnection reports whether the connection already
// owns a recording session, enforcing the one-active-session invariant.
func (s *SQLiteStore) ActiveRecordingSessionForConnection(connectionID string) (string, bool, error) {
	row := s.db.QueryRow(
		`SELECT id FROM recording_sessions WHERE connection_id = ? LIMIT 1`,
		connectionID,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query active recording session: %w", err)
	}
	return id, true, nil
}

func (s *SQLiteStore) UpdateRecordingSession(id string, patch RecordingSessionPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if patch.Paused != nil {
		sets = append(sets, "paused = ?")
		args = append(args, boolToInt(*patch.Paused))
	}
	if patch.LastSeq != nil {
		sets = append(sets, "last_seq = ?")
		args = append(args, *patch.LastSeq)
	}
	if patch.AudioBytes != nil {
		sets = append(sets, "audio_bytes = ?")
		args = append(args, *patch.AudioBytes)
	}

	args = append(args, id)
	res, err := s.db.Exec(
		"UPDATE recording_sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update recording session %s: %w", id, err)
	}
	return requireRow(res, id)
}

// AppendUploadPart atomically appends a completed part to the session's part
// list and advances the sequence and byte counters. It returns the new part
// count.
func (s *SQLiteStore) AppendUploadPart(id string, part UploadPart, lastSeq int64) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin append part: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	var audioBytes int64
	if err := tx.QueryRow(
		`SELECT parts, audio_bytes FROM recording_sessions WHERE id = ?`, id,
	).Scan(&raw, &audioBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("recording session %s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("read parts for session %s: %w", id, err)
	}

	var parts []UploadPart
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return 0, fmt.Errorf("decode parts for session %s: %w", id, err)
	}
	parts = append(parts, part)

	encoded, err := marshalParts(parts)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		`UPDATE recording_sessions SET parts = ?, last_seq = ?, audio_bytes = ?, updated_at = ? WHERE id = ?`,
		encoded,
		lastSeq,
		audioBytes+int64(part.Size),
		formatTime(time.Now()),
		id,
	); err != nil {
		return 0, fmt.Errorf("append part for session %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append part: %w", err)
	}
	return len(parts), nil
}

func (s *SQLiteStore) DeleteRecordingSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM recording_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording session %s: %w", id, err)
	}
	return requireRow(res, id)
}

// StaleRecordingSessions returns sessions with no activity since cutoff.
func (s *SQLiteStore) StaleRecordingSessions(cutoff time.Time) ([]RecordingSession, error) {
	rows, err := s.db.Query(
		`SELECT id, connection_id, encounter_id, started_at, upload_id, object_key, paused, last_seq, parts, audio_bytes, updated_at
		 FROM recording_sessions WHERE updated_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale recording sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []RecordingSession
	for rows.Next() {
		rs, err := scanRecordingSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale recording sessions: %w", err)
	}
	return sessions, nil
}

// --- Transcription sessions ---

func (s *SQLiteStore) CreateTranscriptionSession(ts TranscriptionSession) error {
	if strings.TrimSpace(ts.ID) == "" {
		return errors.New("transcription session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO transcription_sessions(id, connection_id, encounter_id, started_at, status, provider, last_flush_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID,
		ts.ConnectionID,
		ts.EncounterID,
		formatTime(ts.StartedAt),
		ts.Status,
		ts.Provider,
		formatTime(ts.LastFlushAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("create transcription session %s: %w", ts.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTranscriptionSession(id string) (TranscriptionSession, error) {
	row := s.db.QueryRow(
		`SELECT id, connection_id, encounter_id, started_at, status, provider, last_flush_at, updated_at
		 FROM transcription_sessions WHERE id = ?`,
		id,
	)
	return scanTranscriptionSession(row)
}

func (s *SQLiteStore) UpdateTranscriptionSession(id string, patch TranscriptionSessionPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.LastFlushAt != nil {
		sets = append(sets, "last_flush_at = ?")
		args = append(args, formatTime(*patch.LastFlushAt))
	}

	args = append(args, id)
	res, err := s.db.Exec(
		"UPDATE transcription_sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update transcription session %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) DeleteTranscriptionSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM transcription_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transcription session %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) StaleTranscriptionSessions(cutoff time.Time) ([]TranscriptionSession, error) {
	rows, err := s.db.Query(
		`SELECT id, connection_id, encounter_id, started_at, status, provider, last_flush_at, updated_at
		 FROM transcription_sessions WHERE updated_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale transcription sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []TranscriptionSession
	for rows.Next() {
		ts, err := scanTranscriptionSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale transcription sessions: %w", err)
	}
	return sessions, nil
}

// --- Segments ---

// AppendSegment durably writes a final transcript segment. Partial segments
// must never reach this method.
func (s *SQLiteStore) AppendSegment(seg transcribe.Segment, expiresAt time.Time) error {
	if seg.Partial {
		return errors.New("partial segments are not persisted")
	}

	entities, err := json.Marshal(seg.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	if seg.Entities == nil {
		entities = []byte("[]")
	}

	_, err = s.db.Exec(
		`INSERT INTO segments(encounter_id, ts, text, speaker, channel, confidence, entities, start_time, end_time, expires_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.EncounterID,
		formatTime(seg.Timestamp),
		strings.TrimSpace(seg.Text),
		seg.Speaker,
		seg.Channel,
		seg.Confidence,
		string(entities),
		seg.StartTime,
		seg.EndTime,
		formatTime(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("append segment for encounter %s: %w", seg.EncounterID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSegments(encounterID string, limit int) ([]transcribe.Segment, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.Query(
		`SELECT encounter_id, ts, text, speaker, channel, confidence, entities, start_time, end_time
		 FROM segments
		 WHERE encounter_id = ?
		 ORDER BY ts ASC, id ASC
		 LIMIT ?`,
		encounterID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for encounter %s: %w", encounterID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcribe.Segment, 0, 32)
	for rows.Next() {
		var seg transcribe.Segment
		var ts, entities string
		if err := rows.Scan(&seg.EncounterID, &ts, &seg.Text, &seg.Speaker, &seg.Channel, &seg.Confidence, &entities, &seg.StartTime, &seg.EndTime); err != nil {
			return nil, fmt.Errorf("scan segment for encounter %s: %w", encounterID, err)
		}

		seg.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse segment timestamp for encounter %s: %w", encounterID, err)
		}
		if err := json.Unmarshal([]byte(entities), &seg.Entities); err != nil {
			return nil, fmt.Errorf("decode segment entities for encounter %s: %w", encounterID, err)
		}

		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows for encounter %s: %w", encounterID, err)
	}
	return segments, nil
}

func (s *SQLiteStore) CountSegments(encounterID string) (int, error) {
	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM segments WHERE encounter_id = ?`, encounterID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count segments for encounter %s: %w", encounterID, err)
	}
	return count, nil
}

// PurgeExpiredSegments removes segments past their retention deadline and
// returns the number deleted.
func (s *SQLiteStore) PurgeExpiredSegments(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM segments WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge expired segments: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return deleted, nil
}

// --- Recordings ---

// AppendRecording adds a recording to the encounter's list. Recordings are
// insert-only; an existing row is never overwritten.
func (s *SQLiteStore) AppendRecording(rec Recording) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("recording id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO recordings(id, encounter_id, started_at, ended_at, duration_seconds, object_key, transcription_session_id)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.EncounterID,
		formatTime(rec.StartedAt),
		formatTime(rec.EndedAt),
		rec.DurationSeconds,
		rec.ObjectKey,
		rec.TranscriptionSessionID,
	)
	if err != nil {
		return fmt.Errorf("append recording %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRecording(id string) (Recording, error) {
	row := s.db.QueryRow(
		`SELECT id, encounter_id, started_at, ended_at, duration_seconds, object_key, transcription_session_id
		 FROM recordings WHERE id = ?`,
		id,
	)

	var rec Recording
	var startedAt, endedAt string
	if err := row.Scan(&rec.ID, &rec.EncounterID, &startedAt, &endedAt, &rec.DurationSeconds, &rec.ObjectKey, &rec.TranscriptionSessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, fmt.Errorf("recording %s: %w", id, ErrNotFound)
		}
		return Recording{}, fmt.Errorf("query recording %s: %w", id, err)
	}

	var err error
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return Recording{}, fmt.Errorf("parse recording %s started_at: %w", id, err)
	}
	if rec.EndedAt, err = parseTime(endedAt); err != nil {
		return Recording{}, fmt.Errorf("parse recording %s ended_at: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecordings(encounterID string) ([]Recording, error) {
	rows, err := s.db.Query(
		`SELECT id, encounter_id, started_at, ended_at, duration_seconds, object_key, transcription_session_id
		 FROM recordings WHERE encounter_id = ? ORDER BY started_at ASC`,
		encounterID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings for encounter %s: %w", encounterID, err)
	}
	defer func() { _ = rows.Close() }()

	recordings := make([]Recording, 0, 8)
	for rows.Next() {
		var rec Recording
		var startedAt, endedAt string
		if err := rows.Scan(&rec.ID, &rec.EncounterID, &startedAt, &endedAt, &rec.DurationSeconds, &rec.ObjectKey, &rec.TranscriptionSessionID); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse recording started_at: %w", err)
		}
		if rec.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, fmt.Errorf("parse recording ended_at: %w", err)
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recording rows: %w", err)
	}
	return recordings, nil
}

// --- Notes ---

func (s *SQLiteStore) UpsertNote(encounterID, body, status string) error {
	_, err := s.db.Exec(
		`INSERT INTO notes(encounter_id, body, status, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(encounter_id) DO UPDATE SET body = excluded.body, status = excluded.status, updated_at = excluded.updated_at`,
		encounterID,
		body,
		status,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert note for encounter %s: %w", encounterID, err)
	}
	return nil
}

func (s *SQLiteStore) GetNote(encounterID string) (Note, error) {
	row := s.db.QueryRow(
		`SELECT encounter_id, body, status, updated_at FROM notes WHERE encounter_id = ?`,
		encounterID,
	)

	var note Note
	var updatedAt string
	if err := row.Scan(&note.EncounterID, &note.Body, &note.Status, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, fmt.Errorf("note for encounter %s: %w", encounterID, ErrNotFound)
		}
		return Note{}, fmt.Errorf("query note for encounter %s: %w", encounterID, err)
	}

	var err error
	if note.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Note{}, fmt.Errorf("parse note updated_at: %w", err)
	}
	return note, nil
}

// ClaimNoteRequest records an idempotency claim for a note generation
// attempt. It reports true if this caller won the claim.
func (s *SQLiteStore) ClaimNoteRequest(encounterID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO note_requests(encounter_id, prompt_hash) VALUES(?, ?)`,
		encounterID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim note request for encounter %s: %w", encounterID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim note rows affected: %w", err)
	}
	return rows > 0, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordingSession(row rowScanner) (RecordingSession, error) {
	var rs RecordingSession
	var startedAt, parts, updatedAt string
	var paused int
	if err := row.Scan(&rs.ID, &rs.ConnectionID, &rs.EncounterID, &startedAt, &rs.UploadID, &rs.ObjectKey, &paused, &rs.LastSeq, &parts, &rs.AudioBytes, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RecordingSession{}, fmt.Errorf("recording session: %w", ErrNotFound)
		}
		return RecordingSession{}, fmt.Errorf("scan recording session: %w", err)
	}

	rs.Paused = paused != 0

	var err error
	if rs.StartedAt, err = parseTime(startedAt); err != nil {
		return RecordingSession{}, fmt.Errorf("parse recording session started_at: %w", err)
	}
	if rs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return RecordingSession{}, fmt.Errorf("parse recording session updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(parts), &rs.Parts); err != nil {
		return RecordingSession{}, fmt.Errorf("decode recording session parts: %w", err)
	}
	return rs, nil
}

func scanTranscriptionSession(row rowScanner) (TranscriptionSession, error) {
	var ts TranscriptionSession
	var startedAt, lastFlushAt, updatedAt string
	if err := row.Scan(&ts.ID, &ts.ConnectionID, &ts.EncounterID, &startedAt, &ts.Status, &ts.Provider, &lastFlushAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TranscriptionSession{}, fmt.Errorf("transcription session: %w", ErrNotFound)
		}
		return TranscriptionSession{}, fmt.Errorf("scan transcription session: %w", err)
	}

	var err error
	if ts.StartedAt, err = parseTime(startedAt); err != nil {
		return TranscriptionSession{}, fmt.Errorf("parse transcription session started_at: %w", err)
	}
	if ts.LastFlushAt, err = parseTime(lastFlushAt); err != nil {
		return TranscriptionSession{}, fmt.Errorf("parse transcription session last_flush_at: %w", err)
	}
	if ts.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return TranscriptionSession{}, fmt.Errorf("parse transcription session updated_at: %w", err)
	}
	return ts, nil
}

func marshalParts(parts []UploadPart) (string, error) {
	if parts == nil {
		return "[]", nil
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("encode parts: %w", err)
	}
	return string(data), nil
}

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
