package objectstore

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return store
}

func TestUploadLifecycle(t *testing.T) {
	store := newTestStore(t)
	key := "encounters/enc-1/audio/sess-1.pcm"

	uploadID, err := store.CreateUpload(key)
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}

	var parts []Part
	for i, chunk := range []string{"first-", "second-", "third"} {
		etag, err := store.UploadPart(uploadID, i+1, []byte(chunk))
		if err != nil {
			t.Fatalf("UploadPart %d: %v", i+1, err)
		}
		parts = append(parts, Part{Number: i + 1, ETag: etag})
	}

	if err := store.CompleteUpload(uploadID, key, parts); err != nil {
		t.Fatalf("CompleteUpload: %v", err)
	}

	r, err := store.Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got := string(data); got != "first-second-third" {
		t.Errorf("object content = %q, want parts concatenated in order", got)
	}

	size, err := store.Size(key)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len("first-second-third")) {
		t.Errorf("Size = %d, want %d", size, len("first-second-third"))
	}

	// The transaction is gone after completion.
	if _, err := store.UploadPart(uploadID, 4, []byte("late")); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("UploadPart after complete = %v, want ErrUploadNotFound", err)
	}
}

func TestCompleteUploadCallerOrder(t *testing.T) {
	store := newTestStore(t)
	key := "encounters/enc-2/audio/sess-2.pcm"

	uploadID, err := store.CreateUpload(key)
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}

	etag1, _ := store.UploadPart(uploadID, 1, []byte("AAA"))
	etag2, _ := store.UploadPart(uploadID, 2, []byte("BBB"))

	// Parts assemble in the order supplied, not by part number.
	err = store.CompleteUpload(uploadID, key, []Part{
		{Number: 2, ETag: etag2},
		{Number: 1, ETag: etag1},
	})
	if err != nil {
		t.Fatalf("CompleteUpload: %v", err)
	}

	r, err := store.Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	data, _ := io.ReadAll(r)
	if got := string(data); got != "BBBAAA" {
		t.Errorf("object content = %q, want %q", got, "BBBAAA")
	}
}

func TestCompleteUploadETagMismatch(t *testing.T) {
	store := newTestStore(t)
	key := "encounters/enc-3/audio/sess-3.pcm"

	uploadID, err := store.CreateUpload(key)
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	if _, err := store.UploadPart(uploadID, 1, []byte("payload")); err != nil {
		t.Fatalf("UploadPart: %v", err)
	}

	err = store.CompleteUpload(uploadID, key, []Part{{Number: 1, ETag: "bogus"}})
	if err == nil || !strings.Contains(err.Error(), "etag mismatch") {
		t.Fatalf("CompleteUpload with wrong etag = %v, want etag mismatch", err)
	}

	if _, err := store.Open(key); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Open after failed complete = %v, want ErrObjectNotFound", err)
	}
}

func TestAbortUpload(t *testing.T) {
	store := newTestStore(t)

	uploadID, err := store.CreateUpload("encounters/enc-4/audio/sess-4.pcm")
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	if _, err := store.UploadPart(uploadID, 1, []byte("chunk")); err != nil {
		t.Fatalf("UploadPart: %v", err)
	}

	if err := store.AbortUpload(uploadID); err != nil {
		t.Fatalf("AbortUpload: %v", err)
	}
	if _, err := store.UploadPart(uploadID, 2, []byte("chunk")); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("UploadPart after abort = %v, want ErrUploadNotFound", err)
	}

	// Aborting twice is a no-op.
	if err := store.AbortUpload(uploadID); err != nil {
		t.Errorf("second AbortUpload = %v, want nil", err)
	}
}

func TestUploadPartUnknownUpload(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.UploadPart("no-such-upload", 1, []byte("x")); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("UploadPart = %v, want ErrUploadNotFound", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"", "  ", "../outside", "/abs/path", "a/../../b"} {
		if _, err := store.CreateUpload(key); err == nil {
			t.Errorf("CreateUpload(%q) accepted invalid key", key)
		}
		if _, err := store.Open(key); err == nil {
			t.Errorf("Open(%q) accepted invalid key", key)
		}
	}
}
