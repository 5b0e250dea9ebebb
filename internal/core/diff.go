package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/security"
)

const (
	BinarySampleSize   = 8192 // Bytes to sample for text/binary detection
	BinaryThresholdPct = 10   // Max % non-printable chars for text files
)

// DiffStatus classifies a stored file against a local copy
type DiffStatus int

const (
	DiffUnchanged DiffStatus = iota
	DiffModified
	DiffMissing
	DiffError
)

func (s DiffStatus) String() string {
	switch s {
	case DiffUnchanged:
		return "unchanged"
	case DiffModified:
		return "modified"
	case DiffMissing:
		return "missing"
	case DiffError:
		return "error"
	}
	return fmt.Sprintf("DiffStatus(%d)", int(s))
}

// FileDiff is the comparison result for one entry
type FileDiff struct {
	Name       string
	ArtifactID string
	Status     DiffStatus
	Patch      string // Unified patch for modified text files
	Err        error
}

// Diff compares every stored file with the file of the same name in dir
func (v *Vault) Diff(ctx context.Context, password []byte, dir string) ([]FileDiff, error) {
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

	root, err := security.Open(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	diffs := make([]FileDiff, 0, len(metadata.Files))
	for _, entry := range metadata.Files {
		if err := ctx.Err(); err != nil {
			return diffs, err
		}

		d := FileDiff{Name: entry.OriginalName, ArtifactID: entry.ArtifactID}

		localData, err := root.ReadFile(entry.OriginalName)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				d.Status = DiffMissing
			} else {
				d.Status, d.Err = DiffError, err
			}
			diffs = append(diffs, d)
			continue
		}

		artifact, err := v.store.ReadArtifact(entry.ArtifactID)
		if err != nil {
			crypto.ClearBytes(localData)
			d.Status, d.Err = DiffError, err
			diffs = append(diffs, d)
			continue
		}

		vaultData, err := enc.Open(artifact)
		if err != nil {
			crypto.ClearBytes(localData)
			d.Status, d.Err = DiffError, err
			diffs = append(diffs, d)
			continue
		}

		d.Patch = GenerateUnifiedDiff(entry.OriginalName, vaultData, localData)
		if d.Patch == "" {
			d.Status = DiffUnchanged
		} else {
			d.Status = DiffModified
		}

		crypto.ClearBytes(vaultData)
		crypto.ClearBytes(localData)
		diffs = append(diffs, d)
	}

	return diffs, nil
}

// CompareFiles reports whether the decrypted vault copy and the local file
// hold the same bytes
func CompareFiles(vaultData, localData []byte) bool {
	return bytes.Equal(vaultData, localData)
}

// GenerateUnifiedDiff describes how the local file departs from the vault
// copy: a line patch from vault/name to local/name for text, a notice when
// either side is binary, or "" when nothing changed.
func GenerateUnifiedDiff(name string, vaultData, localData []byte) string {
	if CompareFiles(vaultData, localData) {
		return ""
	}
	if !DetectFileType(vaultData) || !DetectFileType(localData) {
		return fmt.Sprintf("Binary files vault/%s and local/%s differ\n", name, name)
	}

	dmp := diffmatchpatch.New()
	stored := string(vaultData)

	// Diff whole lines, then expand them back to text
	vaultLines, localLines, lines := dmp.DiffLinesToChars(stored, string(localData))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(vaultLines, localLines, false), lines)

	patches := dmp.PatchMake(stored, diffs)
	if len(patches) == 0 {
		return ""
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- vault/%s\n+++ local/%s\n", name, name)
	out.WriteString(dmp.PatchToText(patches))
	return out.String()
}

// DetectFileType reports whether a vault or local file looks like text.
// Content with a NUL byte is binary. Otherwise only the leading
// BinarySampleSize bytes are inspected: they must be valid UTF-8 with at
// most BinaryThresholdPct percent control characters.
func DetectFileType(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}

	sample := textSample(data)
	if !utf8.Valid(sample) {
		return false
	}

	var control int
	for _, b := range sample {
		if isControl(b) {
			control++
		}
	}
	return control*100 <= len(sample)*BinaryThresholdPct
}

// textSample cuts data to BinarySampleSize without splitting a rune
func textSample(data []byte) []byte {
	if len(data) <= BinarySampleSize {
		return data
	}
	end := BinarySampleSize
	for back := 0; back < utf8.UTFMax-1 && end > 0 && !utf8.RuneStart(data[end]); back++ {
		end--
	}
	return data[:end]
}

// isControl reports ASCII control bytes other than tab, newline and CR
func isControl(b byte) bool {
	switch b {
	case '\t', '\n', '\r':
		return false
	}
	return b < 0x20 || b == 0x7f
}
