package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/filevault/internal/storage"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestExtractAllEmptyVault(t *testing.T) {
	v, _ := createTestVault(t, "pw")
	dest := filepath.Join(t.TempDir(), "nested", "out")

	result, err := v.ExtractAll(context.Background(), []byte("pw"), dest, ConflictOverwrite)
	require.NoError(t, err)
	assert.Empty(t, result.Entries)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractAllConflictStrategies(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, _ := createTestVault(t, "pw")

	_, err := v.AddFile(ctx, password, "config.yaml", []byte("from vault"))
	require.NoError(t, err)

	t.Run("overwrite", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dest, "config.yaml"), []byte("local"), 0644))

		result, err := v.ExtractAll(ctx, password, dest, ConflictOverwrite)
		require.NoError(t, err)
		require.Len(t, result.Extracted(), 1)
		assert.Equal(t, "config.yaml", result.Entries[0].Path)
		assert.Equal(t, "from vault", readFile(t, filepath.Join(dest, "config.yaml")))
	})

	t.Run("skip", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dest, "config.yaml"), []byte("local"), 0644))

		result, err := v.ExtractAll(ctx, password, dest, ConflictSkip)
		require.NoError(t, err)
		assert.Empty(t, result.Extracted())
		require.Len(t, result.Skipped(), 1)
		assert.Equal(t, "local", readFile(t, filepath.Join(dest, "config.yaml")))
	})

	t.Run("keep both", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dest, "config.yaml"), []byte("local"), 0644))

		result, err := v.ExtractAll(ctx, password, dest, ConflictKeepBoth)
		require.NoError(t, err)
		require.Len(t, result.Extracted(), 1)
		assert.Equal(t, "config.yaml.from-vault", result.Entries[0].Path)
		assert.Equal(t, "local", readFile(t, filepath.Join(dest, "config.yaml")))
		assert.Equal(t, "from vault", readFile(t, filepath.Join(dest, "config.yaml.from-vault")))

		// A second run picks the next free numbered name
		result, err = v.ExtractAll(ctx, password, dest, ConflictKeepBoth)
		require.NoError(t, err)
		require.Len(t, result.Extracted(), 1)
		assert.Equal(t, "config.yaml.from-vault.1", result.Entries[0].Path)
	})
}

func TestExtractAllDuplicateNames(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, _ := createTestVault(t, "pw")

	_, err := v.AddFile(ctx, password, "notes.txt", []byte("first"))
	require.NoError(t, err)
	_, err = v.AddFile(ctx, password, "notes.txt", []byte("second"))
	require.NoError(t, err)

	dest := t.TempDir()
	result, err := v.ExtractAll(ctx, password, dest, ConflictOverwrite)
	require.NoError(t, err)
	require.Len(t, result.Extracted(), 2)

	assert.Equal(t, "notes.txt", result.Entries[0].Path)
	assert.Equal(t, "notes.txt.from-vault", result.Entries[1].Path)
	assert.Equal(t, "first", readFile(t, filepath.Join(dest, "notes.txt")))
	assert.Equal(t, "second", readFile(t, filepath.Join(dest, "notes.txt.from-vault")))
}

func TestExtractAllDuplicateNameFirstFails(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, dir := createTestVault(t, "pw")

	gone, err := v.AddFile(ctx, password, "a.txt", []byte("first"))
	require.NoError(t, err)
	_, err = v.AddFile(ctx, password, "a.txt", []byte("second"))
	require.NoError(t, err)
	_, err = v.AddFile(ctx, password, "a.txt", []byte("third"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, gone.ArtifactID)))

	dest := t.TempDir()
	result, err := v.ExtractAll(ctx, password, dest, ConflictOverwrite)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Entries[0].Status)
	assert.ErrorIs(t, result.Entries[0].Err, ErrArtifactIO)
	assert.Equal(t, "a.txt", result.Entries[1].Path)
	assert.Equal(t, "a.txt.from-vault", result.Entries[2].Path)
	assert.Equal(t, "second", readFile(t, filepath.Join(dest, "a.txt")))
	assert.Equal(t, "third", readFile(t, filepath.Join(dest, "a.txt.from-vault")))
}

func TestExtractAllDuplicateNamesSkipExisting(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, _ := createTestVault(t, "pw")

	for _, content := range []string{"first", "second"} {
		_, err := v.AddFile(ctx, password, "a.txt", []byte(content))
		require.NoError(t, err)
	}

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("local"), 0600))

	result, err := v.ExtractAll(ctx, password, dest, ConflictSkip)
	require.NoError(t, err)
	assert.Len(t, result.Skipped(), 2)
	assert.Equal(t, "local", readFile(t, filepath.Join(dest, "a.txt")))
}

func TestExtractAllMissingArtifact(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, dir := createTestVault(t, "pw")

	gone, err := v.AddFile(ctx, password, "gone.txt", []byte("gone"))
	require.NoError(t, err)
	_, err = v.AddFile(ctx, password, "kept.txt", []byte("kept"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, gone.ArtifactID)))

	dest := t.TempDir()
	result, err := v.ExtractAll(ctx, password, dest, ConflictOverwrite)
	require.NoError(t, err)

	require.Len(t, result.Extracted(), 1)
	assert.Equal(t, "kept.txt", result.Extracted()[0].Entry.OriginalName)
	assert.Equal(t, "kept", readFile(t, filepath.Join(dest, "kept.txt")))

	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, gone.ArtifactID, failed[0].Entry.ArtifactID)
	assert.ErrorIs(t, failed[0].Err, ErrArtifactIO)

	_, err = os.Stat(filepath.Join(dest, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractAllDamagedArtifact(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, dir := createTestVault(t, "pw")

	entry, err := v.AddFile(ctx, password, "damaged.bin", []byte("some content"))
	require.NoError(t, err)

	path := filepath.Join(dir, entry.ArtifactID)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))

	result, err := v.ExtractAll(ctx, password, t.TempDir(), ConflictOverwrite)
	require.NoError(t, err)
	require.Len(t, result.Failed(), 1)
	assert.ErrorIs(t, result.Failed()[0].Err, ErrCipher)
}

func TestExtractAllConfinesNames(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, dir := createTestVault(t, "pw")

	entry, err := v.AddFile(ctx, password, "innocent.txt", []byte("payload"))
	require.NoError(t, err)

	// Point several hand-edited entries at the same artifact
	store := storage.New(dir)
	metadata, err := store.LoadMetadata()
	require.NoError(t, err)

	now := time.Now().UTC()
	for _, name := range []string{"../escape.txt", "/etc/escape.txt", "sub/inner.txt"} {
		id := storage.NewArtifactID()
		artifact, err := store.ReadArtifact(entry.ArtifactID)
		require.NoError(t, err)
		require.NoError(t, store.WriteArtifact(id, artifact))
		metadata.AddFile(storage.FileEntry{OriginalName: name, ArtifactID: id, AddedAt: now, Size: 7})
	}
	require.NoError(t, store.SaveMetadata(metadata))

	parent := t.TempDir()
	dest := filepath.Join(parent, "out")

	result, err := v.ExtractAll(ctx, password, dest, ConflictOverwrite)
	require.NoError(t, err)
	assert.Len(t, result.Extracted(), 2)
	require.Len(t, result.Failed(), 2)
	for _, res := range result.Failed() {
		assert.ErrorIs(t, res.Err, ErrInvalidName)
	}

	_, err = os.Stat(filepath.Join(parent, "escape.txt"))
	assert.True(t, os.IsNotExist(err), "nothing written outside destination")
	assert.Equal(t, "payload", readFile(t, filepath.Join(dest, "sub", "inner.txt")))
}

func TestExtractAllWorkers(t *testing.T) {
	ctx := context.Background()
	password := []byte("pw")
	v, dir := createTestVault(t, "pw")

	names := []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt", "f.txt"}
	for _, name := range names {
		_, err := v.AddFile(ctx, password, name, []byte("content of "+name))
		require.NoError(t, err)
	}

	for _, workers := range []int{1, 3, 16} {
		dest := t.TempDir()
		result, err := New(dir, WithKDF(testKDF), WithWorkers(workers)).ExtractAll(ctx, password, dest, ConflictOverwrite)
		require.NoError(t, err)
		require.Len(t, result.Extracted(), len(names))

		for i, name := range names {
			assert.Equal(t, name, result.Entries[i].Entry.OriginalName, "results keep index order")
			assert.Equal(t, "content of "+name, readFile(t, filepath.Join(dest, name)))
		}
	}
}

func TestParseConflictStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    ConflictStrategy
		wantErr bool
	}{
		{"overwrite", ConflictOverwrite, false},
		{"skip", ConflictSkip, false},
		{"keep-both", ConflictKeepBoth, false},
		{"KEEP-BOTH", ConflictKeepBoth, false},
		{"merge", ConflictOverwrite, true},
		{"", ConflictOverwrite, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConflictStrategy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) ConflictStrategy {
	t.Helper()
	strategy, err := ParseConflictStrategy(s)
	require.NoError(t, err)
	return strategy
}
