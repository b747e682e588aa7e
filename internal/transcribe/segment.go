package transcribe

import (
	"time"

	"github.com/northwind-health/scribe/internal/annotate"
)

// Word is a single recognized word with its diarization channel. Channel is
// nil when the provider did not attribute the word to a speaker.
type Word struct {
	Channel        *int
	PunctuatedWord string
	Start          float64
	End            float64
	Confidence     float64
}

// Segment is one span of transcript attributed to a single speaker. Final
// segments are immutable once persisted; partial segments exist only for
// live display and are never written to storage.
type Segment struct {
	EncounterID string            `json:"encounter_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Text        string            `json:"text"`
	Speaker     string            `json:"speaker"`
	Channel     int               `json:"channel"`
	Confidence  float64           `json:"confidence"`
	Entities    []annotate.Entity `json:"entities,omitempty"`
	StartTime   float64           `json:"start_time"`
	EndTime     float64           `json:"end_time"`
	Partial     bool              `json:"partial"`
}

// GroupWordsByChannel folds a word sequence into contiguous same-channel
// runs, concatenating the punctuated words of each run. Words without a
// channel are grouped under channel -1. Confidence is averaged per run.
func GroupWordsByChannel(words []Word) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segments []Segment
	var current Segment
	var confidenceSum float64
	var count int
	started := false

	flush := func() {
		if count > 0 {
			current.Confidence = confidenceSum / float64(count)
		}
		segments = append(segments, current)
	}

	for _, w := range words {
		channel := -1
		if w.Channel != nil {
			channel = *w.Channel
		}

		if started && channel == current.Channel {
			current.Text += " " + w.PunctuatedWord
			current.EndTime = w.End
			confidenceSum += w.Confidence
			count++
			continue
		}

		if started {
			flush()
		}

		current = Segment{
			Channel:   channel,
			Text:      w.PunctuatedWord,
			StartTime: w.Start,
			EndTime:   w.End,
		}
		confidenceSum = w.Confidence
		count = 1
		started = true
	}

	flush()
	return segments
}
