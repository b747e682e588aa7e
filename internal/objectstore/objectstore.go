package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUploadNotFound is returned for operations against an unknown or already
// completed/aborted upload transaction.
var ErrUploadNotFound = errors.New("upload not found")

// ErrObjectNotFound is returned by Open for a key with no completed object.
var ErrObjectNotFound = errors.New("object not found")

// Part identifies one completed upload part by its number and integrity tag.
type Part struct {
	Number int    `json:"number"`
	ETag   string `json:"etag"`
}

// Store is a durable object store with multi-part upload support. An upload
// is opened against a key, parts are uploaded individually, and the object
// becomes readable only after CompleteUpload assembles the parts in the
// order the caller supplies them.
type Store interface {
	CreateUpload(key string) (string, error)
	UploadPart(uploadID string, partNumber int, data []byte) (string, error)
	CompleteUpload(uploadID, key string, parts []Part) error
	AbortUpload(uploadID string) error
	Open(key string) (io.ReadSeekCloser, error)
	Size(key string) (int64, error)
}

// FSStore implements Store on the local filesystem. Parts land under
// uploads/<uploadID>/ and completed objects under objects/<key>.
type FSStore struct {
	root string
}

// NewFSStore creates the store rooted at dir, creating it if necessary.
func NewFSStore(dir string) (*FSStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join("data", "objects")
	}
	for _, sub := range []string{"uploads", "objects"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create object store directory: %w", err)
		}
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) CreateUpload(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}

	uploadID := uuid.NewString()
	dir := s.uploadDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	return uploadID, nil
}

func (s *FSStore) UploadPart(uploadID string, partNumber int, data []byte) (string, error) {
	dir := s.uploadDir(uploadID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("upload %s: %w", uploadID, ErrUploadNotFound)
		}
		return "", fmt.Errorf("stat upload directory: %w", err)
	}

	if err := os.WriteFile(s.partPath(uploadID, partNumber), data, 0o644); err != nil {
		return "", fmt.Errorf("write part %d: %w", partNumber, err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CompleteUpload concatenates the named parts, in the supplied order, into
// the object at key and discards the upload transaction.
func (s *FSStore) CompleteUpload(uploadID, key string, parts []Part) error {
	if err := validKey(key); err != nil {
		return err
	}

	dir := s.uploadDir(uploadID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("upload %s: %w", uploadID, ErrUploadNotFound)
		}
		return fmt.Errorf("stat upload directory: %w", err)
	}

	objectPath := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(objectPath), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	out, err := os.OpenFile(objectPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open object %s: %w", key, err)
	}

	for _, part := range parts {
		data, err := os.ReadFile(s.partPath(uploadID, part.Number))
		if err != nil {
			_ = out.Close()
			_ = os.Remove(objectPath)
			return fmt.Errorf("read part %d: %w", part.Number, err)
		}

		sum := sha256.Sum256(data)
		if etag := hex.EncodeToString(sum[:]); part.ETag != "" && part.ETag != etag {
			_ = out.Close()
			_ = os.Remove(objectPath)
			return fmt.Errorf("part %d etag mismatch", part.Number)
		}

		if _, err := out.Write(data); err != nil {
			_ = out.Close()
			_ = os.Remove(objectPath)
			return fmt.Errorf("write part %d to object: %w", part.Number, err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", key, err)
	}

	return os.RemoveAll(dir)
}

// AbortUpload discards the upload transaction and all of its parts. Aborting
// an unknown upload is a no-op.
func (s *FSStore) AbortUpload(uploadID string) error {
	return os.RemoveAll(s.uploadDir(uploadID))
}

func (s *FSStore) Open(key string) (io.ReadSeekCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	f, err := os.Open(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

func (s *FSStore) Size(key string) (int64, error) {
	if err := validKey(key); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
		}
		return 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return info.Size(), nil
}

func (s *FSStore) uploadDir(uploadID string) string {
	return filepath.Join(s.root, "uploads", uploadID)
}

func (s *FSStore) partPath(uploadID string, partNumber int) string {
	return filepath.Join(s.uploadDir(uploadID), fmt.Sprintf("%05d.part", partNumber))
}

func (s *FSStore) objectPath(key string) string {
	return filepath.Join(s.root, "objects", filepath.FromSlash(key))
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("object key is required")
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(key)))
	if strings.HasPrefix(clean, "../") || clean == ".." || strings.HasPrefix(clean, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
