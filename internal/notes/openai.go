package notes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/northwind-health/scribe/internal/storage"
	"github.com/northwind-health/scribe/internal/transcribe"
)

// Store is the slice of storage the note writer needs: segments in, note
// and idempotency claims out.
type Store interface {
	ListSegments(encounterID string, limit int) ([]transcribe.Segment, error)
	UpsertNote(encounterID, body, status string) error
	ClaimNoteRequest(encounterID, promptHash string) (bool, error)
}

const systemPrompt = "You are a clinical scribe. Summarize the following " +
	"visit transcript into a concise clinical note in markdown: chief " +
	"complaint, relevant history, medications discussed, vitals mentioned, " +
	"assessment and plan. Do not invent findings that are not in the transcript."

// Writer generates visit notes from an encounter's final transcript
// segments. Generation is best-effort and idempotent per transcript: the
// same transcript is never summarized twice.
type Writer struct {
	client *openai.Client
	model  string
	store  Store
	sleep  func(time.Duration)
}

func NewWriter(apiKey, model string, store Store) *Writer {
	config := openai.DefaultConfig(apiKey)
	return NewWriterWithConfig(config, model, store)
}

func NewWriterWithConfig(config openai.ClientConfig, model string, store Store) *Writer {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}

	return &Writer{
		client: openai.NewClientWithConfig(config),
		model:  model,
		store:  store,
		sleep:  time.Sleep,
	}
}

// Generate builds the visit note for an encounter. Transcripts with fewer
// than 20 words are skipped: there is nothing clinically useful to write.
func (w *Writer) Generate(ctx context.Context, encounterID string) error {
	segments, err := w.store.ListSegments(encounterID, 0)
	if err != nil {
		return fmt.Errorf("load segments: %w", err)
	}

	transcript := formatTranscript(segments)
	if len(strings.Fields(transcript)) < 20 {
		return nil
	}

	hash := sha256.Sum256([]byte(transcript))
	promptHash := hex.EncodeToString(hash[:])

	claimed, err := w.store.ClaimNoteRequest(encounterID, promptHash)
	if err != nil {
		return fmt.Errorf("claim note request: %w", err)
	}
	if !claimed {
		return nil
	}

	if err := w.store.UpsertNote(encounterID, "", storage.NoteRunning); err != nil {
		return fmt.Errorf("mark note running: %w", err)
	}

	body, err := w.complete(ctx, transcript)
	if err != nil {
		_ = w.store.UpsertNote(encounterID, "", storage.NoteFailed)
		return err
	}

	if err := w.store.UpsertNote(encounterID, body, storage.NoteCompleted); err != nil {
		return fmt.Errorf("store note: %w", err)
	}
	return nil
}

func (w *Writer) complete(ctx context.Context, transcript string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: w.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := w.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if attempt < len(backoff)-1 {
			w.sleep(backoff[attempt])
		}
	}

	return "", fmt.Errorf("visit note generation failed after retries: %w", lastErr)
}

func formatTranscript(segments []transcribe.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Speaker != "" {
			b.WriteString(seg.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
