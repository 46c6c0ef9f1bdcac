package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps raw uploads on local disk under dir/<company>/<document>.pdf
// so a document can be re-ingested later.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "./uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(companyID, documentID string) string {
	return filepath.Join(f.dir, filepath.Base(companyID), filepath.Base(documentID)+".pdf")
}

// Save writes content and returns its path.
func (f *FileStore) Save(companyID, documentID string, content []byte) (string, error) {
	p := f.path(companyID, documentID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return p, nil
}

func (f *FileStore) Read(path string) ([]byte, error) {
	if !f.owns(path) {
		return nil, fmt.Errorf("path outside upload dir: %s", path)
	}
	return os.ReadFile(path)
}

// Copy duplicates a retained upload for a new document version.
func (f *FileStore) Copy(src, companyID, documentID string) (string, error) {
	content, err := f.Read(src)
	if err != nil {
		return "", err
	}
	return f.Save(companyID, documentID, content)
}

// Remove deletes one upload. A missing file is not an error.
func (f *FileStore) Remove(path string) error {
	if path == "" || !f.owns(path) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveCompany deletes every upload of a company.
func (f *FileStore) RemoveCompany(companyID string) error {
	return os.RemoveAll(filepath.Join(f.dir, filepath.Base(companyID)))
}

func (f *FileStore) owns(path string) bool {
	rel, err := filepath.Rel(f.dir, path)
	return err == nil && !strings.HasPrefix(rel, "..")
}
