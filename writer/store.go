package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	appconfig "coinpulse/config"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one stored snapshot body.
type Document struct {
	ID        string
	Content   []byte
	UpdatedAt time.Time
}

// defaultDocumentID is used when persistence.document_id is empty and the
// store can write a document that does not exist yet.
const defaultDocumentID = "default"

// fixedIDStore is implemented by stores whose Update creates missing
// documents, so one stable id carries the snapshot across restarts.
type fixedIDStore interface {
	DefaultDocumentID() string
}

// DocumentStore keeps a single JSON document per id.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, id string, content []byte) error
	// Create stores content under a new id and returns it.
	Create(ctx context.Context, content []byte) (string, error)
	Backend() string
}

// NewDocumentStore builds the store selected by persistence.backend.
func NewDocumentStore(ctx context.Context, cfg *appconfig.Config) (DocumentStore, error) {
	p := cfg.Persistence
	switch p.Backend {
	case "gist":
		return NewGistStore(p.Gist, p.FileName), nil
	case "s3":
		client, err := newS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix, p.FileName), nil
	case "file", "":
		return NewFileStore(nil, p.File.Dir, p.FileName), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", p.Backend)
	}
}
