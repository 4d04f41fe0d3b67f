// Package blobstore keeps uploaded spreadsheets on disk where the data
// source backend looks for them: one directory per source configuration
// under a common root.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("only .xlsx spreadsheets are accepted")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the maximum accepted upload in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// AllowedExtensions lists the file types the data source backend can read.
var AllowedExtensions = map[string]bool{
	".xlsx": true,
}

// Blob describes a stored file. Name is relative to its directory and is
// what a job's filename prompt refers to.
type Blob struct {
	Name      string    `json:"name"`
	FileName  string    `json:"fileName"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// DiskStore writes blobs under root.
type DiskStore struct {
	root string
	now  func() time.Time
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root, now: time.Now}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// cleanName keeps the base name of an uploaded file and replaces anything
// that could escape the directory.
func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	return unsafeChars.ReplaceAllString(name, "_")
}

// Save stores content as a new file in dir. The stored name is prefixed
// with a random id so repeated uploads of the same file do not collide.
func (s *DiskStore) Save(_ context.Context, dir, fileName string, content io.Reader) (*Blob, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, ErrMissingFileName
	}
	if !AllowedExtensions[strings.ToLower(filepath.Ext(fileName))] {
		return nil, ErrInvalidContentType
	}
	target := filepath.Join(s.root, cleanName(dir))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	name := uuid.New().String() + "-" + cleanName(fileName)
	tmp, err := os.CreateTemp(target, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(content, MaxFileSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if err := os.Rename(tmp.Name(), filepath.Join(target, name)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return &Blob{
		Name:      name,
		FileName:  fileName,
		Size:      n,
		Hash:      fmt.Sprintf("%x", h.Sum(nil)),
		CreatedAt: s.now().UTC(),
	}, nil
}

// Delete removes a stored file.
func (s *DiskStore) Delete(_ context.Context, dir, name string) error {
	err := os.Remove(filepath.Join(s.root, cleanName(dir), cleanName(name)))
	if errors.Is(err, os.ErrNotExist) {
		return ErrBlobNotFound
	}
	return err
}
