// Package covers persists re-encoded cover images on disk and maps them
// to the public URL path they are served under.
package covers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// URLPrefix is the public path covers are served under.
const URLPrefix = "/covers/"

// FileStore writes one JPEG per book into a flat directory; the file
// name is the book id, so re-ingestion overwrites in place.
type FileStore struct {
	basePath string
}

// NewFileStore creates the cover directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("covers base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create covers dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes the cover JPEG for a book and returns its public URL path.
func (f *FileStore) Save(bookID string, jpeg []byte) (string, error) {
	id := safeBookID(bookID)
	if id == "" {
		return "", fmt.Errorf("covers: invalid book id %q", bookID)
	}
	target := filepath.Join(f.basePath, id+".jpg")
	if err := os.WriteFile(target, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	return URLPrefix + id + ".jpg", nil
}

// Path returns the on-disk location of a book's cover, whether or not
// it exists yet.
func (f *FileStore) Path(bookID string) string {
	return filepath.Join(f.basePath, safeBookID(bookID)+".jpg")
}

// Dir returns the directory covers are stored in.
func (f *FileStore) Dir() string {
	return f.basePath
}

// Delete removes a book's cover. Missing files are not an error.
func (f *FileStore) Delete(bookID string) error {
	id := safeBookID(bookID)
	if id == "" {
		return nil
	}
	err := os.Remove(filepath.Join(f.basePath, id+".jpg"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// safeBookID strips anything that could escape the covers directory.
func safeBookID(id string) string {
	id = filepath.Base(strings.TrimSpace(id))
	if id == "." || id == string(os.PathSeparator) {
		return ""
	}
	return id
}
