package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	DefaultFile = "registry.db"
	VaultsDir   = "vaults"

	openTimeout = 5 * time.Second
)

// Bucket names
var (
	ConfigBucket = []byte("config") // Registry version, creation time
	VaultsBucket = []byte("vaults") // Lower-cased name -> VaultInfo
)

// Config keys
var (
	ConfigVersion = []byte("version")
	ConfigCreated = []byte("created")
)

var (
	ErrVaultExists   = errors.New("vault already exists")
	ErrVaultNotFound = errors.New("vault not found")
	ErrInvalidName   = errors.New("invalid vault name")
)

// VaultInfo describes one registered vault
type VaultInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Registry is a bbolt backed name -> directory index
type Registry struct {
	db   *bolt.DB
	root string
}

// Open opens or creates the registry database at path
func Open(path string) (*Registry, error) {
	root := filepath.Dir(path)
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	r := &Registry{db: db, root: root}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the database
func (r *Registry) Close() error {
	return r.db.Close()
}

// Root returns the directory holding the database and the vaults
func (r *Registry) Root() string {
	return r.root
}

func (r *Registry) initialize() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, VaultsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}
		created, _ := time.Now().UTC().MarshalBinary()
		return config.Put(ConfigCreated, created)
	})
}

// Create registers a vault under name. A fresh directory is allocated
// and handed to init; when init fails the directory is removed and
// nothing is recorded.
func (r *Registry) Create(ctx context.Context, name string, init func(dir string) error) (*VaultInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, key, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	exists, err := r.Exists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrVaultExists, name)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	info := &VaultInfo{
		ID:           id,
		Name:         name,
		Path:         filepath.Join(r.root, VaultsDir, id),
		CreatedAt:    now,
		LastAccessed: now,
	}

	if err := init(info.Path); err != nil {
		os.RemoveAll(info.Path)
		return nil, err
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		// Another writer may have taken the name while init ran
		if vaults.Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrVaultExists, name)
		}
		return putInfo(vaults, key, info)
	})
	if err != nil {
		os.RemoveAll(info.Path)
		return nil, err
	}

	return info, nil
}

// Get looks a vault up by name, ignoring case
func (r *Registry) Get(name string) (*VaultInfo, error) {
	name, key, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	var info *VaultInfo
	err = r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(VaultsBucket).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, name)
		}
		info = &VaultInfo{}
		if err := json.Unmarshal(data, info); err != nil {
			return fmt.Errorf("failed to decode vault %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Exists reports whether a vault with name is registered
func (r *Registry) Exists(name string) (bool, error) {
	_, key, err := normalizeName(name)
	if err != nil {
		return false, err
	}

	var exists bool
	err = r.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(VaultsBucket).Get(key) != nil
		return nil
	})
	return exists, err
}

// Touch updates the last accessed time of a vault
func (r *Registry) Touch(name string) error {
	name, key, err := normalizeName(name)
	if err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		data := vaults.Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, name)
		}

		var info VaultInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("failed to decode vault %s: %w", name, err)
		}
		info.LastAccessed = time.Now().UTC()
		return putInfo(vaults, key, &info)
	})
}

// List returns all registered vaults sorted by name
func (r *Registry) List() ([]VaultInfo, error) {
	var vaults []VaultInfo
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(VaultsBucket).ForEach(func(k, v []byte) error {
			var info VaultInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("failed to decode vault %s: %w", k, err)
			}
			vaults = append(vaults, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(vaults, func(a, b VaultInfo) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return vaults, nil
}

// Delete removes the vault directory and then its registry entry
func (r *Registry) Delete(name string) error {
	info, err := r.Get(name)
	if err != nil {
		return err
	}

	// Only remove directories the registry allocated itself
	vaultsRoot := filepath.Join(r.root, VaultsDir)
	if rel, err := filepath.Rel(vaultsRoot, info.Path); err != nil || !filepath.IsLocal(rel) {
		return fmt.Errorf("refusing to remove %s: outside %s", info.Path, vaultsRoot)
	}
	if err := os.RemoveAll(info.Path); err != nil {
		return fmt.Errorf("failed to remove vault directory: %w", err)
	}

	_, key, _ := normalizeName(info.Name)
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(VaultsBucket).Delete(key)
	})
}

// Compact creates a compacted copy of the database, removing unused space
func (r *Registry) Compact() error {
	srcPath := r.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	err = r.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})
	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := r.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		os.Remove(tmpPath)
		return r.reopen(srcPath, fmt.Errorf("failed to backup original: %w", err))
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath)
		return r.reopen(srcPath, fmt.Errorf("failed to replace database: %w", err))
	}
	os.Remove(backupPath)

	return r.reopen(srcPath, nil)
}

// reopen opens the database again after Compact closed it and returns
// cause, or the reopen error when there is no cause
func (r *Registry) reopen(path string, cause error) error {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return errors.Join(cause, fmt.Errorf("failed to reopen database: %w", err))
	}
	r.db = db
	return cause
}

// Size returns the size of the database file in bytes
func (r *Registry) Size() (int64, error) {
	info, err := os.Stat(r.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func putInfo(b *bolt.Bucket, key []byte, info *VaultInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// normalizeName trims name and returns it with its lookup key
func normalizeName(name string) (string, []byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, "\x00\n\r") {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, []byte(strings.ToLower(name)), nil
}
