// Package security confines extraction output to a destination directory.
//
// Stored file names come from vault metadata, which is plain text on disk
// and may have been edited. All writes go through os.Root so a name such
// as "../../.bashrc" or a planted symlink cannot escape the destination.
package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	ErrPathEscapes  = errors.New("path escapes destination")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// Root performs file operations confined to one directory
type Root struct {
	root *os.Root
	dir  string
}

// Open opens dir as a confinement root. The directory must exist.
func Open(dir string) (*Root, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", absPath, err)
	}

	return &Root{root: root, dir: absPath}, nil
}

// Close releases the directory handle
func (r *Root) Close() error {
	if r.root != nil {
		return r.root.Close()
	}
	return nil
}

// Dir returns the absolute path of the root
func (r *Root) Dir() string {
	return r.dir
}

// Normalize validates name and returns it cleaned, with forward slashes.
// It rejects empty, absolute and escaping names as well as names that are
// not local on this platform (e.g. reserved device names on Windows).
func (r *Root) Normalize(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyPath
	}

	platform := filepath.FromSlash(name)
	if !filepath.IsLocal(platform) {
		if filepath.IsAbs(platform) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, name)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	return filepath.ToSlash(filepath.Clean(platform)), nil
}

// WriteFile writes data to name inside the root, creating parent
// directories as needed
func (r *Root) WriteFile(name string, data []byte, perm fs.FileMode) error {
	clean, err := r.Normalize(name)
	if err != nil {
		return err
	}
	platform := filepath.FromSlash(clean)

	if parent := filepath.Dir(platform); parent != "." {
		if err := r.root.MkdirAll(parent, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", parent, err)
		}
	}
	return r.root.WriteFile(platform, data, perm)
}

// ReadFile reads name inside the root
func (r *Root) ReadFile(name string) ([]byte, error) {
	clean, err := r.Normalize(name)
	if err != nil {
		return nil, err
	}
	return r.root.ReadFile(filepath.FromSlash(clean))
}

// Exists reports whether name exists inside the root
func (r *Root) Exists(name string) (bool, error) {
	clean, err := r.Normalize(name)
	if err != nil {
		return false, err
	}
	_, err = r.root.Lstat(filepath.FromSlash(clean))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
