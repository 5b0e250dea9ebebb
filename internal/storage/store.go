package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Vault file names
const (
	SaltFile     = "vault.salt"
	HashFile     = "vault.hash"
	MetadataFile = "vault.meta"
	LockFile     = "vault.lock"

	ArtifactSuffix = ".enc"

	DirPerm  = 0700 // Directory: owner rwx only
	FilePerm = 0600 // File: owner rw only
)

var (
	ErrCorruptMetadata = errors.New("corrupt vault metadata")
	ErrArtifactIO      = errors.New("artifact unavailable")
	ErrMissingSecret   = errors.New("vault salt or hash missing")

	errMissingArtifactID   = errors.New("entry without artifact id")
	errDuplicateArtifactID = errors.New("duplicate artifact id")
)

// Store provides file based storage for one vault directory
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is not created.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the vault directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path of a file inside the vault directory
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Initialized reports whether any vault file already exists
func (s *Store) Initialized() (bool, error) {
	for _, name := range []string{SaltFile, HashFile, MetadataFile} {
		_, err := os.Stat(s.Path(name))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

// EnsureDir creates the vault directory if needed
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, DirPerm); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	return nil
}

// WriteSecrets stores the KDF salt and the verification hash
func (s *Store) WriteSecrets(salt, hash []byte) error {
	if err := s.writeAtomic(SaltFile, salt); err != nil {
		return fmt.Errorf("failed to store salt: %w", err)
	}
	if err := s.writeAtomic(HashFile, hash); err != nil {
		return fmt.Errorf("failed to store hash: %w", err)
	}
	return nil
}

// ReadSalt retrieves the KDF salt
func (s *Store) ReadSalt(size int) ([]byte, error) {
	return s.readSecret(SaltFile, size)
}

// ReadHash retrieves the verification hash
func (s *Store) ReadHash(size int) ([]byte, error) {
	return s.readSecret(HashFile, size)
}

func (s *Store) readSecret(name string, size int) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrMissingSecret, name)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrMissingSecret, name, len(data), size)
	}
	return data, nil
}

// LoadMetadata reads the vault index. A missing file yields empty
// metadata; anything unreadable yields ErrCorruptMetadata.
func (s *Store) LoadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(s.Path(MetadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Metadata{Files: make([]FileEntry, 0)}, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrCorruptMetadata)
	}

	var metadata *Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: null document", ErrCorruptMetadata)
	}
	if metadata.Files == nil {
		metadata.Files = make([]FileEntry, 0)
	}
	if err := metadata.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}

	return metadata, nil
}

// SaveMetadata atomically replaces the vault index
func (s *Store) SaveMetadata(metadata *Metadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := s.writeAtomic(MetadataFile, data); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}
	return nil
}

// NewArtifactID returns a fresh artifact file name
func NewArtifactID() string {
	return uuid.NewString() + ArtifactSuffix
}

// ValidArtifactID reports whether id is a plain artifact file name
func ValidArtifactID(id string) bool {
	if !strings.HasSuffix(id, ArtifactSuffix) || filepath.Base(id) != id {
		return false
	}
	_, err := uuid.Parse(strings.TrimSuffix(id, ArtifactSuffix))
	return err == nil
}

// WriteArtifact stores an encrypted artifact
func (s *Store) WriteArtifact(id string, data []byte) error {
	if !ValidArtifactID(id) {
		return fmt.Errorf("%w: invalid artifact id %q", ErrArtifactIO, id)
	}
	if err := s.writeAtomic(id, data); err != nil {
		return fmt.Errorf("%w: %w", ErrArtifactIO, err)
	}
	return nil
}

// ReadArtifact retrieves an encrypted artifact
func (s *Store) ReadArtifact(id string) ([]byte, error) {
	if !ValidArtifactID(id) {
		return nil, fmt.Errorf("%w: invalid artifact id %q", ErrArtifactIO, id)
	}
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactIO, err)
	}
	return data, nil
}

// RemoveArtifact deletes an artifact. A missing artifact is not an error.
func (s *Store) RemoveArtifact(id string) error {
	if !ValidArtifactID(id) {
		return fmt.Errorf("%w: invalid artifact id %q", ErrArtifactIO, id)
	}
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrArtifactIO, err)
	}
	return nil
}

// ListArtifacts returns the ids of all artifacts present on disk
func (s *Store) ListArtifacts() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list vault directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.Type().IsRegular() && ValidArtifactID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// writeAtomic writes data to a temp file in the vault directory, syncs it
// and renames it over name.
func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	// os.CreateTemp already uses FilePerm
	if err := os.Rename(tmpPath, s.Path(name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	syncDir(s.dir)
	return nil
}

// syncDir flushes a directory entry after rename. Not all platforms
// support it, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
