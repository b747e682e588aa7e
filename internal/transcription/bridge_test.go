package transcription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/storage"
	"github.com/northwind-health/scribe/internal/transcribe"
)

type fakeStore struct {
	sessions   map[string]storage.TranscriptionSession
	segments   []transcribe.Segment
	expiries   []time.Time
	recordings []storage.Recording
	patches    []storage.TranscriptionSessionPatch

	appendRecordingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]storage.TranscriptionSession)}
}

func (f *fakeStore) CreateTranscriptionSession(ts storage.TranscriptionSession) error {
	f.sessions[ts.ID] = ts
	return nil
}

func (f *fakeStore) GetTranscriptionSession(id string) (storage.TranscriptionSession, error) {
	ts, ok := f.sessions[id]
	if !ok {
		return storage.TranscriptionSession{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return ts, nil
}

func (f *fakeStore) UpdateTranscriptionSession(id string, patch storage.TranscriptionSessionPatch) error {
	ts, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if patch.Status != nil {
		ts.Status = *patch.Status
	}
	if patch.LastFlushAt != nil {
		ts.LastFlushAt = *patch.LastFlushAt
	}
	f.sessions[id] = ts
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeStore) DeleteTranscriptionSession(id string) error {
	if _, ok := f.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) AppendSegment(seg transcribe.Segment, expiresAt time.Time) error {
	if seg.Partial {
		return errors.New("partial segments are not persisted")
	}
	f.segments = append(f.segments, seg)
	f.expiries = append(f.expiries, expiresAt)
	return nil
}

func (f *fakeStore) CountSegments(encounterID string) (int, error) {
	count := 0
	for _, seg := range f.segments {
		if seg.EncounterID == encounterID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) AppendRecording(rec storage.Recording) error {
	if f.appendRecordingErr != nil {
		return f.appendRecordingErr
	}
	f.recordings = append(f.recordings, rec)
	return nil
}

type batchCall struct {
	bytes int
	model string
}

type fakeBatch struct {
	calls  []batchCall
	text   string
	errFor map[string]error
}

func (f *fakeBatch) Transcribe(ctx context.Context, audio []byte, model string) (BatchResult, error) {
	f.calls = append(f.calls, batchCall{bytes: len(audio), model: model})
	if err := f.errFor[model]; err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Text: f.text, Confidence: 0.9}, nil
}

type fakeHandle struct {
	written  []byte
	writeErr error
	stopped  bool
}

func (f *fakeHandle) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeHandle) Stop() { f.stopped = true }

type fakeObserver struct {
	segments []transcribe.Segment
}

func (f *fakeObserver) SegmentReady(seg transcribe.Segment) {
	f.segments = append(f.segments, seg)
}

func testOptions() Options {
	return Options{
		FlushBytes:    10,
		FlushInterval: time.Hour,
		Retention:     24 * time.Hour,
		MedicalModel:  "nova-2-medical",
		GeneralModel:  "nova-2",
	}
}

func newTestBridge(store Store, batch BatchTranscriber, dial LiveDialer, observer Observer, opts Options) *Bridge {
	b := NewBridge(store, batch, dial, observer, opts, zap.NewNop().Sugar())
	seq := 0
	b.newID = func() string {
		seq++
		return fmt.Sprintf("ts-%d", seq)
	}
	return b
}

func TestBatchPathFlushOnByteThreshold(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{text: "my heart rate is 102"}
	observer := &fakeObserver{}
	b := newTestBridge(store, batch, nil, observer, testOptions())

	sessionID, err := b.StartTranscription(context.Background(), "conn-1", "enc-1")
	if err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}

	// Two 4-byte chunks stay under the 10-byte threshold.
	for i := 0; i < 2; i++ {
		seg, err := b.ProcessAudioChunk(context.Background(), sessionID, []byte("abcd"))
		if err != nil {
			t.Fatalf("ProcessAudioChunk %d: %v", i, err)
		}
		if seg != nil {
			t.Fatalf("chunk %d flushed early: %+v", i, seg)
		}
	}
	if len(batch.calls) != 0 {
		t.Fatalf("batch called before threshold: %+v", batch.calls)
	}

	// The third chunk crosses the threshold and flushes the whole window.
	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, []byte("abcd"))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if seg == nil {
		t.Fatal("threshold crossing did not produce a segment")
	}
	if seg.Text != "my heart rate is 102" {
		t.Errorf("segment text = %q", seg.Text)
	}
	if len(seg.Entities) != 1 || seg.Entities[0].Value != "102" {
		t.Errorf("segment entities = %+v", seg.Entities)
	}

	if len(batch.calls) != 1 {
		t.Fatalf("batch calls = %d, want 1", len(batch.calls))
	}
	if batch.calls[0].bytes != 12 {
		t.Errorf("flushed window = %d bytes, want 12", batch.calls[0].bytes)
	}
	if batch.calls[0].model != "nova-2-medical" {
		t.Errorf("model = %q, want the medical model first", batch.calls[0].model)
	}

	if len(store.segments) != 1 {
		t.Errorf("persisted segments = %d, want 1", len(store.segments))
	}
	if len(observer.segments) != 1 {
		t.Errorf("observed segments = %d, want 1", len(observer.segments))
	}

	// The flush emptied the backlog: the next chunk starts a fresh window.
	seg, err = b.ProcessAudioChunk(context.Background(), sessionID, []byte("abcd"))
	if err != nil {
		t.Fatalf("ProcessAudioChunk after flush: %v", err)
	}
	if seg != nil {
		t.Error("backlog not emptied by flush")
	}
	if len(batch.calls) != 1 {
		t.Errorf("batch called again without a full window: %d calls", len(batch.calls))
	}
}

func TestBatchPathFlushOnTimeThreshold(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{text: "hello"}
	opts := testOptions()
	opts.FlushBytes = 1 << 20
	opts.FlushInterval = 5 * time.Second
	b := newTestBridge(store, batch, nil, nil, opts)

	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, []byte("aa"))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if seg != nil {
		t.Fatal("flushed before interval elapsed")
	}

	clock = clock.Add(6 * time.Second)
	seg, err = b.ProcessAudioChunk(context.Background(), sessionID, []byte("bb"))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if seg == nil {
		t.Fatal("interval elapsed but no flush")
	}
	if len(batch.calls) != 1 || batch.calls[0].bytes != 4 {
		t.Errorf("batch calls = %+v, want one 4-byte window", batch.calls)
	}
}

func TestBatchRetryWithGeneralModel(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{
		text:   "transcript",
		errFor: map[string]error{"nova-2-medical": errors.New("model overloaded")},
	}
	b := newTestBridge(store, batch, nil, nil, testOptions())

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, make([]byte, 10))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if seg == nil {
		t.Fatal("retry with general model did not produce a segment")
	}

	if len(batch.calls) != 2 {
		t.Fatalf("batch calls = %d, want 2", len(batch.calls))
	}
	if batch.calls[0].model != "nova-2-medical" || batch.calls[1].model != "nova-2" {
		t.Errorf("model order = %q, %q", batch.calls[0].model, batch.calls[1].model)
	}
}

func TestBatchBothModelsFailWindowSkipped(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{
		errFor: map[string]error{
			"nova-2-medical": errors.New("down"),
			"nova-2":         errors.New("down"),
		},
	}
	b := newTestBridge(store, batch, nil, nil, testOptions())

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	// Provider failure is swallowed; the session stays usable.
	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, make([]byte, 10))
	if err != nil {
		t.Fatalf("ProcessAudioChunk = %v, want nil", err)
	}
	if seg != nil {
		t.Errorf("segment produced from failed window: %+v", seg)
	}
	if len(store.segments) != 0 {
		t.Error("segment persisted from failed window")
	}
}

func TestBatchEmptyTranscriptNotPersisted(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{text: ""}
	b := newTestBridge(store, batch, nil, nil, testOptions())

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, make([]byte, 10))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if seg != nil || len(store.segments) != 0 {
		t.Error("empty transcript produced a segment")
	}
}

func TestLivePathForwardsAudio(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{text: "unused"}
	handle := &fakeHandle{}
	dial := func(ctx context.Context, sessionID, encounterID string, sink LiveEventSink) (LiveHandle, error) {
		return handle, nil
	}
	b := newTestBridge(store, batch, dial, nil, testOptions())

	sessionID, err := b.StartTranscription(context.Background(), "conn-1", "enc-1")
	if err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}

	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, []byte("pcm-bytes-over-threshold"))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if seg != nil {
		t.Errorf("live path returned a segment: %+v", seg)
	}
	if string(handle.written) != "pcm-bytes-over-threshold" {
		t.Errorf("handle received %q", handle.written)
	}
	if len(batch.calls) != 0 {
		t.Error("batch invoked while live handle open")
	}
}

func TestLiveWriteFailureDegradesToBatch(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{text: "recovered"}
	handle := &fakeHandle{writeErr: errors.New("connection reset")}
	dial := func(ctx context.Context, sessionID, encounterID string, sink LiveEventSink) (LiveHandle, error) {
		return handle, nil
	}
	b := newTestBridge(store, batch, dial, nil, testOptions())

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, make([]byte, 10))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if !handle.stopped {
		t.Error("failed handle not stopped")
	}
	// The failed chunk joined the backlog and crossed the byte threshold.
	if seg == nil {
		t.Fatal("degraded chunk did not flush through batch path")
	}
	if len(batch.calls) != 1 {
		t.Errorf("batch calls = %d, want 1", len(batch.calls))
	}
}

func TestDialFailureFallsBackToBatch(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{text: "fallback"}
	dial := func(ctx context.Context, sessionID, encounterID string, sink LiveEventSink) (LiveHandle, error) {
		return nil, errors.New("dial refused")
	}
	b := newTestBridge(store, batch, dial, nil, testOptions())

	sessionID, err := b.StartTranscription(context.Background(), "conn-1", "enc-1")
	if err != nil {
		t.Fatalf("StartTranscription = %v, want nil on dial failure", err)
	}

	seg, err := b.ProcessAudioChunk(context.Background(), sessionID, make([]byte, 10))
	if err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if seg == nil {
		t.Fatal("batch fallback inactive after dial failure")
	}
}

func TestHandleLiveResult(t *testing.T) {
	store := newFakeStore()
	observer := &fakeObserver{}
	b := newTestBridge(store, nil, nil, observer, testOptions())

	channel := 1
	words := []transcribe.Word{
		{Channel: &channel, PunctuatedWord: "I've", Start: 0, End: 0.2, Confidence: 0.9},
		{Channel: &channel, PunctuatedWord: "been", Start: 0.2, End: 0.4, Confidence: 0.9},
		{Channel: &channel, PunctuatedWord: "having", Start: 0.4, End: 0.6, Confidence: 0.9},
		{Channel: &channel, PunctuatedWord: "headache.", Start: 0.6, End: 0.9, Confidence: 0.9},
	}

	// A partial result reaches the observer but never storage.
	b.HandleLiveResult("t1", "enc-1", words, "", 0.9, true)
	if len(store.segments) != 0 {
		t.Error("partial segment persisted")
	}
	if len(observer.segments) != 1 || !observer.segments[0].Partial {
		t.Fatalf("observer segments = %+v", observer.segments)
	}

	// The final result is annotated and persisted.
	b.HandleLiveResult("t1", "enc-1", words, "", 0.9, false)
	if len(store.segments) != 1 {
		t.Fatalf("persisted segments = %d, want 1", len(store.segments))
	}
	seg := store.segments[0]
	if seg.Speaker != "Patient" {
		t.Errorf("Speaker = %q, want Patient", seg.Speaker)
	}
	if len(seg.Entities) != 1 || seg.Entities[0].Text != "headache" {
		t.Errorf("Entities = %+v", seg.Entities)
	}
	if seg.EncounterID != "enc-1" || seg.Partial {
		t.Errorf("segment = %+v", seg)
	}
}

func TestHandleLiveResultTranscriptOnly(t *testing.T) {
	store := newFakeStore()
	b := newTestBridge(store, nil, nil, nil, testOptions())

	b.HandleLiveResult("t1", "enc-1", nil, "plain transcript", 0.7, false)
	if len(store.segments) != 1 {
		t.Fatalf("persisted segments = %d, want 1", len(store.segments))
	}
	if store.segments[0].Channel != -1 || store.segments[0].Confidence != 0.7 {
		t.Errorf("segment = %+v", store.segments[0])
	}

	// Nothing at all produces nothing.
	b.HandleLiveResult("t1", "enc-1", nil, "", 0, false)
	if len(store.segments) != 1 {
		t.Error("empty live result persisted a segment")
	}
}

func TestStopTranscription(t *testing.T) {
	store := newFakeStore()
	batch := &fakeBatch{text: "residual words"}
	handle := &fakeHandle{}
	dial := func(ctx context.Context, sessionID, encounterID string, sink LiveEventSink) (LiveHandle, error) {
		return handle, nil
	}
	b := newTestBridge(store, batch, dial, nil, testOptions())

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := start
	b.now = func() time.Time { return clock }

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	// Simulate a degraded session holding residual backlog.
	b.mu.Lock()
	state := b.sessions[sessionID]
	state.handle = handle
	state.backlog = [][]byte{[]byte("tail")}
	state.backlogBytes = 4
	b.mu.Unlock()

	clock = start.Add(30 * time.Second)
	res, err := b.StopTranscription(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("StopTranscription: %v", err)
	}

	if !handle.stopped {
		t.Error("live handle not stopped")
	}
	if len(batch.calls) != 1 || batch.calls[0].bytes != 4 {
		t.Errorf("residual flush calls = %+v", batch.calls)
	}
	if res.SegmentCount != 1 {
		t.Errorf("SegmentCount = %d, want 1", res.SegmentCount)
	}

	if len(store.recordings) != 1 {
		t.Fatalf("recordings = %d, want 1", len(store.recordings))
	}
	rec := store.recordings[0]
	if rec.TranscriptionSessionID != sessionID {
		t.Errorf("TranscriptionSessionID = %q", rec.TranscriptionSessionID)
	}
	if rec.DurationSeconds != 30 {
		t.Errorf("DurationSeconds = %d, want 30", rec.DurationSeconds)
	}
	if res.RecordingID != rec.ID {
		t.Errorf("RecordingID = %q, want %q", res.RecordingID, rec.ID)
	}

	if _, ok := store.sessions[sessionID]; ok {
		t.Error("session row not deleted")
	}
	if _, err := b.StopTranscription(context.Background(), sessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second stop = %v, want ErrSessionNotFound", err)
	}
}

func TestStopTranscriptionLinkFailureBestEffort(t *testing.T) {
	store := newFakeStore()
	store.appendRecordingErr = errors.New("constraint violation")
	b := newTestBridge(store, nil, nil, nil, testOptions())

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	res, err := b.StopTranscription(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("StopTranscription = %v, want nil despite link failure", err)
	}
	if res.RecordingID != "" {
		t.Errorf("RecordingID = %q, want empty on link failure", res.RecordingID)
	}
}

func TestDiscard(t *testing.T) {
	store := newFakeStore()
	handle := &fakeHandle{}
	dial := func(ctx context.Context, sessionID, encounterID string, sink LiveEventSink) (LiveHandle, error) {
		return handle, nil
	}
	b := newTestBridge(store, nil, dial, nil, testOptions())

	sessionID, _ := b.StartTranscription(context.Background(), "conn-1", "enc-1")

	b.Discard(sessionID)
	if !handle.stopped {
		t.Error("Discard did not stop the live handle")
	}

	// The durable row is untouched; only process-local state is gone.
	if _, ok := store.sessions[sessionID]; !ok {
		t.Error("Discard deleted the durable row")
	}
}

func TestProcessAudioChunkUnknownSession(t *testing.T) {
	b := newTestBridge(newFakeStore(), nil, nil, nil, testOptions())
	if _, err := b.ProcessAudioChunk(context.Background(), "ghost", []byte("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ProcessAudioChunk = %v, want ErrSessionNotFound", err)
	}
}
