// Package storage keeps uploaded source files on local disk until the
// import worker streams them.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
)

// SavedFile describes a stored upload.
type SavedFile struct {
	// Ref is the path relative to the store root; it is what batches persist.
	Ref      string
	Size     int64
	Checksum string
}

// LocalStore writes uploads below a root directory. Files are immutable once
// saved.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// Save streams r into <tenant>/<batchID><ext>. The data goes to a temp file
// first and is renamed into place after fsync.
func (s *LocalStore) Save(ctx context.Context, tenantID, batchID, filename string, r io.Reader) (SavedFile, error) {
	if err := ctx.Err(); err != nil {
		return SavedFile{}, err
	}

	tenant := sanitize(tenantID)
	id := sanitize(batchID)
	if tenant == "" || id == "" {
		return SavedFile{}, fmt.Errorf("%w: tenant and batch id are required", domain.ErrValidation)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || sanitize(ext[1:]) != ext[1:] {
		ext = ".csv"
	}

	ref := tenant + "/" + id + ext
	fullPath, err := s.resolve(ref)
	if err != nil {
		return SavedFile{}, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return SavedFile{}, fmt.Errorf("failed to create tenant directory: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return SavedFile{}, fmt.Errorf("failed to create temp file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return SavedFile{}, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return SavedFile{}, fmt.Errorf("failed to sync upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return SavedFile{}, fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return SavedFile{}, fmt.Errorf("failed to move upload into place: %w", err)
	}

	return SavedFile{
		Ref:      ref,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open returns a stream of the stored file. Missing or unreadable files are
// reported as domain.ErrSourceUnavailable.
func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %s does not exist", domain.ErrSourceUnavailable, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", domain.ErrSourceUnavailable, ref, err)
	}
	return f, nil
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	fullPath, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return nil
}

func (s *LocalStore) resolve(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(ref)))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid file reference %q", domain.ErrSourceUnavailable, ref)
	}
	return filepath.Join(s.root, clean), nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
