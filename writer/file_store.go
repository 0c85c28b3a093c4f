package writer

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FileStore keeps documents on a filesystem as <dir>/<id>/<fileName>.
type FileStore struct {
	fs       afero.Fs
	dir      string
	fileName string
}

var _ DocumentStore = (*FileStore)(nil)

// NewFileStore uses the OS filesystem when fs is nil.
func NewFileStore(fs afero.Fs, dir, fileName string) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, dir: dir, fileName: fileName}
}

func (s *FileStore) Backend() string { return "file" }

func (s *FileStore) DefaultDocumentID() string { return defaultDocumentID }

func (s *FileStore) docPath(id string) string {
	return path.Join(s.dir, id, s.fileName)
}

func (s *FileStore) Get(_ context.Context, id string) (*Document, error) {
	p := s.docPath(id)
	info, err := s.fs.Stat(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return &Document{ID: id, Content: data, UpdatedAt: info.ModTime()}, nil
}

// Update replaces the document. The new body is written beside the old one
// and renamed over it so readers never see a half-written file.
func (s *FileStore) Update(_ context.Context, id string, content []byte) error {
	p := s.docPath(id)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(p), err)
	}
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (s *FileStore) Create(ctx context.Context, content []byte) (string, error) {
	id := uuid.NewString()
	if err := s.Update(ctx, id, content); err != nil {
		return "", err
	}
	return id, nil
}
