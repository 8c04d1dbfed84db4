// Package archive stores fetched raw content on disk, addressed by content
// fingerprint so identical content is written at most once.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"alexandria/internal/core"
)

// Archive writes raw fetched bodies under a configurable root directory.
// Files are named by content fingerprint, so concurrent builds of the same
// content converge on a single archive file.
type Archive struct {
	root string
}

// New creates the archive root if it does not exist.
func New(root string) (*Archive, error) {
	if root == "" {
		return nil, core.Validationf("archive root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{root: root}, nil
}

// Store writes the body for the given fingerprint and returns the relative
// archive path. If a file for the fingerprint already exists it is left
// untouched and its path returned.
func (a *Archive) Store(fingerprint string, contentType string, body []byte) (string, error) {
	if fingerprint == "" {
		return "", core.Validationf("fingerprint is required")
	}
	rel := filepath.Join(fingerprint[:2], fingerprint+extensionFor(contentType))
	full := filepath.Join(a.root, rel)

	if _, err := os.Stat(full); err == nil {
		return rel, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive subdirectory: %w", err)
	}

	// Write to a temp file and rename so readers never observe partial
	// content and concurrent writers converge on the same final file.
	tmp, err := os.CreateTemp(filepath.Dir(full), "."+fingerprint+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create archive temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize archive file: %w", err)
	}
	return rel, nil
}

// Read returns the archived body for a previously returned relative path.
func (a *Archive) Read(relPath string) ([]byte, error) {
	body, err := os.ReadFile(filepath.Join(a.root, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read archive file: %w", err)
	}
	return body, nil
}

// Remove deletes an archived file. Missing files are not an error.
func (a *Archive) Remove(relPath string) error {
	err := os.Remove(filepath.Join(a.root, relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove archive file: %w", err)
	}
	return nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "text/html", "application/xhtml+xml":
		return ".html"
	case "text/markdown":
		return ".md"
	default:
		return ".txt"
	}
}
