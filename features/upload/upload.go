package upload

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"sibyl/internal/domain"
	"sibyl/internal/extract"
)

// Store keeps raw uploads on disk under one root. An upload id is the
// file's path relative to that root ("uploads/<id>/<name>"), so the id
// round-trips through Resolve without a database.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Save writes one upload and returns its id. The filename must be a plain
// base name with a supported extension; anything that smells like path
// traversal is rejected before touching the disk.
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	if filename == "" {
		filename = "upload.bin"
	}
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) || strings.HasPrefix(filename, ".") {
		return "", domain.Validationf("file", "invalid filename: path traversal detected")
	}
	filename = filepath.Base(filename)

	if _, err := extract.ForFile(filename); err != nil {
		return "", err
	}

	u := uuid.New()
	id := hex.EncodeToString(u[:4])
	dir := filepath.Join(s.root, "uploads", id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	dst, err := os.Create(filepath.Join(dir, filename)) // #nosec G304 -- dir is uuid-based, filename is a validated base name
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path.Join("uploads", id, filename), nil
}

// Resolve maps an upload id back to its absolute path, confirming the result
// stays inside the store root.
func (s *Store) Resolve(uploadID string) (string, error) {
	if uploadID == "" || strings.Contains(uploadID, "..") || strings.HasPrefix(uploadID, "/") || strings.Contains(uploadID, `\`) {
		return "", domain.Validationf("upload_id", "invalid upload_id: path traversal detected")
	}

	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(uploadID)))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return "", domain.Validationf("upload_id", "invalid upload_id: path traversal detected")
	}
	return resolved, nil
}
