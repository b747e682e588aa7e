package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	restapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	wsapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/transcribe"
)

// DeepgramOptions configures both the live and the batch Deepgram paths.
type DeepgramOptions struct {
	APIKey       string
	MedicalModel string
	SampleRate   int
}

// wsHandle is the subset of the Deepgram websocket client the bridge uses.
type wsHandle interface {
	io.Writer
	Connect() bool
	Stop()
}

type deepgramLiveHandle struct {
	ws wsHandle
}

func (h *deepgramLiveHandle) Write(p []byte) (int, error) { return h.ws.Write(p) }

func (h *deepgramLiveHandle) Stop() { h.ws.Stop() }

// NewDeepgramDialer returns a LiveDialer that opens a Deepgram streaming
// connection with diarization, punctuation and interim results enabled,
// using the domain-tuned model.
func NewDeepgramDialer(opts DeepgramOptions, log *zap.SugaredLogger) LiveDialer {
	return func(ctx context.Context, sessionID, encounterID string, sink LiveEventSink) (LiveHandle, error) {
		cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
		tOptions := &interfaces.LiveTranscriptionOptions{
			Model:          opts.MedicalModel,
			Language:       "en-US",
			Diarize:        true,
			Punctuate:      true,
			SmartFormat:    true,
			InterimResults: true,
			Encoding:       "linear16",
			SampleRate:     opts.SampleRate,
			Channels:       1,
		}

		callback := &liveCallback{
			sessionID:   sessionID,
			encounterID: encounterID,
			sink:        sink,
			log:         log,
		}

		dgClient, err := client.NewWSUsingCallback(ctx, opts.APIKey, cOptions, tOptions, callback)
		if err != nil {
			return nil, fmt.Errorf("create deepgram client: %w", err)
		}

		var ws wsHandle = dgClient
		if ok := ws.Connect(); !ok {
			return nil, errors.New("deepgram connect failed")
		}

		return &deepgramLiveHandle{ws: ws}, nil
	}
}

// liveCallback adapts Deepgram's event callbacks onto the bridge's sink.
type liveCallback struct {
	sessionID   string
	encounterID string
	sink        LiveEventSink
	log         *zap.SugaredLogger
}

func (c *liveCallback) Message(mr *wsapi.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	alt := mr.Channel.Alternatives[0]
	transcript := strings.TrimSpace(alt.Transcript)
	if transcript == "" {
		return nil
	}

	words := make([]transcribe.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, transcribe.Word{
			Channel:        w.Speaker,
			PunctuatedWord: w.PunctuatedWord,
			Start:          w.Start,
			End:            w.End,
			Confidence:     w.Confidence,
		})
	}

	c.sink.HandleLiveResult(c.sessionID, c.encounterID, words, transcript, alt.Confidence, !mr.IsFinal)
	return nil
}

func (c *liveCallback) Open(*wsapi.OpenResponse) error {
	c.log.Infow("deepgram live connection open", "session_id", c.sessionID)
	return nil
}

func (c *liveCallback) Metadata(*wsapi.MetadataResponse) error { return nil }

func (c *liveCallback) SpeechStarted(*wsapi.SpeechStartedResponse) error { return nil }

func (c *liveCallback) UtteranceEnd(*wsapi.UtteranceEndResponse) error { return nil }

func (c *liveCallback) Close(*wsapi.CloseResponse) error {
	c.log.Infow("deepgram live connection closed", "session_id", c.sessionID)
	return nil
}

func (c *liveCallback) Error(er *wsapi.ErrorResponse) error {
	c.log.Warnw("deepgram live error",
		"session_id", c.sessionID,
		"code", er.ErrCode,
		"description", er.Description,
	)
	return nil
}

func (c *liveCallback) UnhandledEvent([]byte) error { return nil }

// DeepgramBatch performs one-shot transcription through the Deepgram REST
// API with a selectable model.
type DeepgramBatch struct {
	api        *restapi.Client
	sampleRate int
}

func NewDeepgramBatch(opts DeepgramOptions) *DeepgramBatch {
	c := client.NewREST(opts.APIKey, &interfaces.ClientOptions{})
	return &DeepgramBatch{
		api:        restapi.New(c),
		sampleRate: opts.SampleRate,
	}
}

func (d *DeepgramBatch) Transcribe(ctx context.Context, audio []byte, model string) (BatchResult, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       model,
		Language:    "en-US",
		Diarize:     true,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  d.sampleRate,
	}

	res, err := d.api.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		return BatchResult{}, fmt.Errorf("deepgram batch transcription: %w", err)
	}

	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return BatchResult{}, nil
	}

	alt := res.Results.Channels[0].Alternatives[0]
	return BatchResult{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
	}, nil
}
