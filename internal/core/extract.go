package core

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/security"
	"github.com/illarion/filevault/internal/storage"
)

const fromVaultSuffix = ".from-vault"

// ConflictStrategy defines what happens when an extracted file already exists
type ConflictStrategy int

const (
	ConflictOverwrite ConflictStrategy = iota // Replace the existing file
	ConflictSkip                              // Leave the existing file alone
	ConflictKeepBoth                          // Save the vault version as .from-vault
)

var conflictNames = map[ConflictStrategy]string{
	ConflictOverwrite: "overwrite",
	ConflictSkip:      "skip",
	ConflictKeepBoth:  "keep-both",
}

func (s ConflictStrategy) String() string {
	if name, ok := conflictNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConflictStrategy(%d)", int(s))
}

// ParseConflictStrategy parses "overwrite", "skip" or "keep-both"
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	for strategy, name := range conflictNames {
		if strings.EqualFold(s, name) {
			return strategy, nil
		}
	}
	return ConflictOverwrite, fmt.Errorf("unknown conflict strategy %q", s)
}

// EntryStatus is the outcome of extracting one entry
type EntryStatus int

const (
	StatusExtracted EntryStatus = iota
	StatusSkipped
	StatusFailed
)

func (s EntryStatus) String() string {
	switch s {
	case StatusExtracted:
		return "extracted"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("EntryStatus(%d)", int(s))
}

// EntryResult describes what happened to one entry
type EntryResult struct {
	Entry  storage.FileEntry
	Path   string // Name written relative to the destination
	Status EntryStatus
	Err    error
}

// ExtractResult holds one EntryResult per metadata entry, in index order
type ExtractResult struct {
	Entries []EntryResult
}

// Extracted returns the successfully written entries
func (r *ExtractResult) Extracted() []EntryResult { return r.filter(StatusExtracted) }

// Skipped returns entries left alone because of a conflict
func (r *ExtractResult) Skipped() []EntryResult { return r.filter(StatusSkipped) }

// Failed returns entries that could not be extracted
func (r *ExtractResult) Failed() []EntryResult { return r.filter(StatusFailed) }

func (r *ExtractResult) filter(status EntryStatus) []EntryResult {
	var out []EntryResult
	for _, e := range r.Entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// ExtractAll decrypts every stored file into dest. A failure on one entry
// does not stop the others; each outcome is reported in the result. The
// returned error is reserved for failures that prevent extraction as a
// whole (wrong password, corrupt metadata, unusable destination,
// cancellation).
func (v *Vault) ExtractAll(ctx context.Context, password []byte, dest string, strategy ConflictStrategy) (*ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := v.begin(ctx, false)
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

	metadata, err := v.store.LoadMetadata()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dest, storage.DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	root, err := security.Open(dest)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	entries, groups := v.planExtraction(root, metadata.Files, strategy)
	result := &ExtractResult{Entries: entries}
	claims := &nameClaims{claimed: make(map[string]bool, len(groups))}
	for _, grp := range groups {
		claims.claimed[grp.name] = true
	}

	// Entries sharing a name run in one worker, in index order
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for _, grp := range groups {
		g.Go(func() error {
			v.extractNamed(gctx, enc, root, claims, result.Entries, grp)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	v.logger.Info("extraction finished",
		"extracted", len(result.Extracted()),
		"skipped", len(result.Skipped()),
		"failed", len(result.Failed()))
	return result, nil
}

// extractGroup holds the entries that normalize to the same name
type extractGroup struct {
	name    string
	indices []int
	// copyOnly is set when name exists and must be kept
	copyOnly bool
}

// planExtraction normalizes every entry name and groups pending entries by
// target. Entries left StatusExtracted are pending work.
func (v *Vault) planExtraction(root *security.Root, entries []storage.FileEntry, strategy ConflictStrategy) ([]EntryResult, []*extractGroup) {
	results := make([]EntryResult, len(entries))
	byName := make(map[string]*extractGroup)
	var groups []*extractGroup

	for i, entry := range entries {
		results[i] = EntryResult{Entry: entry, Status: StatusExtracted}
		res := &results[i]

		name, err := root.Normalize(entry.OriginalName)
		if err != nil {
			res.Status, res.Err = StatusFailed, fmt.Errorf("%w: %w", ErrInvalidName, err)
			continue
		}
		res.Path = name

		if grp, ok := byName[name]; ok {
			if grp.skip() {
				res.Status = StatusSkipped
				continue
			}
			grp.indices = append(grp.indices, i)
			continue
		}

		exists, err := root.Exists(name)
		if err != nil {
			res.Status, res.Err = StatusFailed, err
			continue
		}

		grp := &extractGroup{name: name}
		byName[name] = grp
		switch {
		case exists && strategy == ConflictSkip:
			// Empty indices mark the whole group as skipped
			res.Status = StatusSkipped
			continue
		case exists && strategy == ConflictKeepBoth:
			grp.copyOnly = true
		}
		grp.indices = append(grp.indices, i)
		groups = append(groups, grp)
	}
	return results, groups
}

func (g *extractGroup) skip() bool {
	return len(g.indices) == 0
}

// nameClaims tracks destination names taken during one extraction
type nameClaims struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (c *nameClaims) copyName(root *security.Root, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate, err := freeCopyName(root, name, c.claimed)
	if err != nil {
		return "", err
	}
	c.claimed[candidate] = true
	return candidate, nil
}

// freeCopyName returns name.from-vault, or name.from-vault.N when taken
func freeCopyName(root *security.Root, name string, claimed map[string]bool) (string, error) {
	candidate := name + fromVaultSuffix
	for n := 1; n <= MaxVaultCopies; n++ {
		exists, err := root.Exists(candidate)
		if err != nil {
			return "", err
		}
		if !exists && !claimed[candidate] {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%s.%d", name, fromVaultSuffix, n)
	}
	return "", fmt.Errorf("too many copies of %s", path.Base(name))
}

// extractNamed writes the first entry that decrypts under the group name
// and every later one under a .from-vault name. A failed entry does not
// take a name.
func (v *Vault) extractNamed(ctx context.Context, enc *crypto.Encryptor, root *security.Root, claims *nameClaims, results []EntryResult, grp *extractGroup) {
	primaryFree := !grp.copyOnly
	for _, i := range grp.indices {
		res := &results[i]
		if err := ctx.Err(); err != nil {
			res.Status, res.Err = StatusFailed, err
			continue
		}

		plaintext, err := v.openEntry(enc, res.Entry)
		if err != nil {
			v.failEntry(res, err)
			continue
		}

		if !primaryFree {
			res.Path, err = claims.copyName(root, grp.name)
		}
		if err == nil {
			err = root.WriteFile(res.Path, plaintext, storage.FilePerm)
			if err != nil {
				err = fmt.Errorf("failed to write %s: %w", res.Path, err)
			}
		}
		crypto.ClearBytes(plaintext)

		if err != nil {
			v.failEntry(res, err)
			continue
		}
		if res.Path == grp.name {
			primaryFree = false
		}
		v.logger.Debug("file extracted", "name", res.Entry.OriginalName, "path", res.Path)
	}
}

// openEntry reads and decrypts the artifact of entry
func (v *Vault) openEntry(enc *crypto.Encryptor, entry storage.FileEntry) ([]byte, error) {
	artifact, err := v.store.ReadArtifact(entry.ArtifactID)
	if err != nil {
		return nil, err
	}

	plaintext, err := enc.Open(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", entry.OriginalName, err)
	}

	if int64(len(plaintext)) != entry.Size {
		v.logger.Warn("size differs from index", "name", entry.OriginalName,
			"indexed", entry.Size, "actual", len(plaintext))
	}
	return plaintext, nil
}

func (v *Vault) failEntry(res *EntryResult, err error) {
	res.Status, res.Err = StatusFailed, err
	v.logger.Warn("extraction failed", "name", res.Entry.OriginalName, "artifact", res.Entry.ArtifactID, "error", err)
}
