package transcription

import "errors"

var (
	// ErrSessionNotFound means the transcription session has no durable row.
	ErrSessionNotFound = errors.New("transcription session not found")

	// ErrProviderUnavailable means the ASR call failed even after the
	// degraded-model retry. Batch-path callers swallow it after logging.
	ErrProviderUnavailable = errors.New("transcription provider unavailable")

	// ErrLinkFailed means the best-effort recording-metadata linkage at stop
	// time failed. It is logged, never returned from Stop.
	ErrLinkFailed = errors.New("recording metadata link failed")
)
