package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/illarion/filevault/internal/storage"
)

const lockRetryDelay = 50 * time.Millisecond

// begin checks that dir holds a vault and takes the vault lock
func (v *Vault) begin(ctx context.Context, exclusive bool) (func(), error) {
	info, err := os.Stat(v.store.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotInitialized, v.store.Dir())
	}
	// Leave foreign directories untouched, the lock file is created on demand
	initialized, err := v.store.Initialized()
	if err != nil {
		return nil, err
	}
	if !initialized {
		return nil, ErrNotInitialized
	}
	return v.lock(ctx, exclusive)
}

// lock acquires an advisory lock on the vault's lock file, waiting at most
// lockTimeout. The returned function releases it.
func (v *Vault) lock(ctx context.Context, exclusive bool) (func(), error) {
	path := v.store.Path(storage.LockFile)
	fl := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, v.lockTimeout)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(lockCtx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(lockCtx, lockRetryDelay)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to lock vault: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			v.logger.Warn("failed to release vault lock", "path", path, "error", err)
		}
	}, nil
}
