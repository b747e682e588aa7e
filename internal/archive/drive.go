package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Archiver copies finalized audio artifacts into a Google Drive folder for
// offsite retention. Uploads are best-effort and idempotent per object name
// within one process.
type Archiver struct {
	service  *drive.Service
	folderID string
	mu       sync.Mutex
	fileIDs  map[string]string
}

func NewArchiver(ctx context.Context, credPath, folderID string) (*Archiver, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Archiver{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// Archive uploads one audio object under the given name. A name already
// uploaded by this process is skipped; the audio artifact is immutable.
func (a *Archiver) Archive(name string, r io.Reader) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.fileIDs[name]; ok {
		return nil
	}

	f, err := a.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: "application/octet-stream",
		Parents:  []string{a.folderID},
	}).Media(r).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	a.fileIDs[name] = f.Id
	return nil
}
