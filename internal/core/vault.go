package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/storage"
)

const (
	DefaultLockTimeout = 10 * time.Second
	MaxVaultCopies     = 100 // Max numbered .from-vault.N copies
)

// Replaced in tests to simulate filesystem failures
var (
	removeFile   = os.Remove
	saveMetadata = (*storage.Store).SaveMetadata
)

// Vault manages encrypted file storage in one directory
type Vault struct {
	store       *storage.Store
	kdf         crypto.KDF
	logger      *slog.Logger
	workers     int
	lockTimeout time.Duration
}

// Option configures a Vault
type Option func(*Vault)

// WithLogger sets the logger used for operation events
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithKDF overrides the Argon2id parameters. A vault must always be opened
// with the parameters it was created with.
func WithKDF(kdf crypto.KDF) Option {
	return func(v *Vault) {
		v.kdf = kdf
	}
}

// WithWorkers bounds parallel extraction
func WithWorkers(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithLockTimeout bounds how long an operation waits for the vault lock
func WithLockTimeout(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.lockTimeout = d
		}
	}
}

// New creates a Vault bound to dir
func New(dir string, opts ...Option) *Vault {
	v := &Vault{
		store:       storage.New(dir),
		kdf:         crypto.DefaultKDF,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:     runtime.NumCPU(),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("vault", dir)
	return v
}

// Dir returns the vault's storage directory
func (v *Vault) Dir() string {
	return v.store.Dir()
}

// Create initializes a new vault protected by password
func (v *Vault) Create(ctx context.Context, password []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if initialized, err := v.store.Initialized(); err != nil {
		return err
	} else if initialized {
		return ErrAlreadyInitialized
	}

	if err := v.store.EnsureDir(); err != nil {
		return err
	}

	unlock, err := v.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	// Re-check under the lock in case another process won the race
	if initialized, err := v.store.Initialized(); err != nil {
		return err
	} else if initialized {
		return ErrAlreadyInitialized
	}

	salt, err := crypto.GenerateSalt(crypto.SaltSize)
	if err != nil {
		return err
	}

	key, hash, err := v.kdf.Derive(password, salt)
	if err != nil {
		return err
	}
	crypto.ClearBytes(key)

	if err := v.store.WriteSecrets(salt, hash); err != nil {
		return err
	}
	if err := v.store.SaveMetadata(storage.NewMetadata()); err != nil {
		return err
	}

	v.logger.Info("vault created")
	return nil
}

// VerifyPassword reports whether password opens the vault. A wrong
// password is not an error.
func (v *Vault) VerifyPassword(ctx context.Context, password []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock, err := v.begin(ctx, false)
	if err != nil {
		return false, err
	}
	defer unlock()

	key, err := v.deriveKey(password)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	crypto.ClearBytes(key)
	return true, nil
}

// AddFile encrypts data into a new artifact and records it under name
func (v *Vault) AddFile(ctx context.Context, password []byte, name string, data []byte) (*storage.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	unlock, err := v.begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	key, err := v.deriveKey(password)
	if err != nil {
		return nil, err
	}
	enc := crypto.NewEncryptor(key)
	defer enc.Destroy()

	// Load before writing anything so a corrupt index fails without leaving an orphan
	metadata, err := v.store.LoadMetadata()
	if err != nil {
		return nil, err
	}

	artifact, err := enc.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt %s: %w", name, err)
	}

	id := storage.NewArtifactID()
	for metadata.FindFile(id) != nil {
		id = storage.NewArtifactID()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.store.WriteArtifact(id, artifact); err != nil {
		return nil, err
	}

	entry := storage.FileEntry{
		OriginalName: name,
		ArtifactID:   id,
		AddedAt:      time.Now().UTC(),
		Size:         int64(len(data)),
	}
	metadata.AddFile(entry)

	if err := saveMetadata(v.store, metadata); err != nil {
		if rmErr := v.store.RemoveArtifact(id); rmErr != nil {
			v.logger.Warn("failed to remove artifact after metadata error", "artifact", id, "error", rmErr)
		}
		return nil, err
	}

	v.logger.Info("file added", "name", name, "artifact", id, "size", entry.Size)
	return &entry, nil
}

// AddResult reports the outcome of AddPath
type AddResult struct {
	Entry storage.FileEntry
	// RemoveErr is set when the original could not be removed. The file
	// is still stored in the vault.
	RemoveErr error
}

// AddPath reads src and stores it under its base name. When
// removeOriginal is set, src is removed after the vault was updated.
func (v *Vault) AddPath(ctx context.Context, password []byte, src string, removeOriginal bool) (*AddResult, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", src, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidName, src)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", src, err)
	}
	defer crypto.ClearBytes(data)

	entry, err := v.AddFile(ctx, password, filepath.Base(src), data)
	if err != nil {
		return nil, err
	}

	result := &AddResult{Entry: *entry}
	if removeOriginal {
		if err := removeFile(src); err != nil {
			result.RemoveErr = err
			v.logger.Warn("failed to remove original", "path", src, "error", err)
		}
	}
	return result, nil
}

// RemoveFile drops the entry with artifactID and deletes its artifact. It
// reports false without error when no such entry exists.
func (v *Vault) RemoveFile(ctx context.Context, password []byte, artifactID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock, err := v.begin(ctx, true)
	if err != nil {
		return false, err
	}
	defer unlock()

	if err := v.verify(password); err != nil {
		return false, err
	}

	metadata, err := v.store.LoadMetadata()
	if err != nil {
		return false, err
	}

	entry, ok := metadata.RemoveFile(artifactID)
	if !ok {
		return false, nil
	}

	// Index first: a crash afterwards leaves an orphan, never a dangling entry
	if err := saveMetadata(v.store, metadata); err != nil {
		return false, err
	}

	v.logger.Info("file removed", "name", entry.OriginalName, "artifact", artifactID)

	if err := v.store.RemoveArtifact(artifactID); err != nil {
		return true, fmt.Errorf("entry removed but artifact remains: %w", err)
	}
	return true, nil
}

// ReadMetadata returns a snapshot of the vault index
func (v *Vault) ReadMetadata(ctx context.Context, password []byte) (*storage.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := v.begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := v.verify(password); err != nil {
		return nil, err
	}

	return v.store.LoadMetadata()
}

// Orphans lists artifacts on disk that no entry refers to. They are left
// behind when a process dies between writing an artifact and saving the
// index.
func (v *Vault) Orphans(ctx context.Context, password []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := v.begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := v.verify(password); err != nil {
		return nil, err
	}
	return v.findOrphans()
}

// PruneOrphans deletes orphaned artifacts and returns their ids
func (v *Vault) PruneOrphans(ctx context.Context, password []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := v.begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := v.verify(password); err != nil {
		return nil, err
	}

	orphans, err := v.findOrphans()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, id := range orphans {
		if err := v.store.RemoveArtifact(id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
		v.logger.Info("orphan removed", "artifact", id)
	}
	return removed, nil
}

func (v *Vault) findOrphans() ([]string, error) {
	metadata, err := v.store.LoadMetadata()
	if err != nil {
		return nil, err
	}
	ids, err := v.store.ListArtifacts()
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, id := range ids {
		if metadata.FindFile(id) == nil {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	return orphans, nil
}

// deriveKey checks password against the stored hash and returns the
// working key. The caller must clear it.
func (v *Vault) deriveKey(password []byte) ([]byte, error) {
	salt, err := v.store.ReadSalt(crypto.SaltSize)
	if err != nil {
		return nil, notInitialized(err)
	}
	stored, err := v.store.ReadHash(crypto.HashSize)
	if err != nil {
		return nil, notInitialized(err)
	}

	key, candidate, err := v.kdf.Derive(password, salt)
	if err != nil {
		return nil, err
	}

	if !crypto.ConstantTimeCompare(stored, candidate) {
		crypto.ClearBytes(key)
		v.logger.Warn("password verification failed")
		return nil, ErrUnauthorized
	}
	return key, nil
}

// verify checks password without keeping the key
func (v *Vault) verify(password []byte) error {
	key, err := v.deriveKey(password)
	if err != nil {
		return err
	}
	crypto.ClearBytes(key)
	return nil
}

func notInitialized(err error) error {
	if errors.Is(err, storage.ErrMissingSecret) {
		return fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}
	return err
}

// cleanName reduces name to a plain file name
func cleanName(name string) (string, error) {
	base := filepath.Base(filepath.Clean(name))
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}
