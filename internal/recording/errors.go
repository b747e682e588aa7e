package recording

import "errors"

// Protocol violations are surfaced to the caller and never retried.
var (
	// ErrSessionNotFound means the session id has no durable row.
	ErrSessionNotFound = errors.New("recording session not found")

	// ErrSessionMismatch means the caller's connection does not own the session.
	ErrSessionMismatch = errors.New("recording session owned by another connection")

	// ErrNoAudioRecorded means stop was called before any part was uploaded.
	ErrNoAudioRecorded = errors.New("no audio recorded")

	// ErrRecordingInProgress means the connection already has an active session.
	ErrRecordingInProgress = errors.New("recording already in progress for connection")

	// ErrUploadFailed wraps part-upload and completion failures. A lost audio
	// part is never silently skipped.
	ErrUploadFailed = errors.New("upload failed")
)
