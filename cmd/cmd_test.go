package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	zkeyring "github.com/zalando/go-keyring"

	"github.com/illarion/filevault/internal/core"
	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/keyring"
	"github.com/illarion/filevault/internal/registry"
	"github.com/illarion/filevault/internal/storage"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	zkeyring.MockInit()
	os.Exit(m.Run())
}

type result struct {
	stdout string
	stderr string
	err    error
}

// setupEnv points the CLI at a fresh home and sets the vault password
func setupEnv(t *testing.T, password string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("FILEVAULT_HOME", home)
	t.Setenv("FILEVAULT_PASSWORD", password)
	t.Setenv("FILEVAULT_LOG_LEVEL", "error")
	return home
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	app := &App{
		vaultOptions: []core.Option{core.WithKDF(crypto.KDF{Time: 1, Memory: 1024, Threads: 1})},
	}
	defer app.close()

	root := newRootCmd(app)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCreateAddExtract(t *testing.T) {
	setupEnv(t, "hunter2")
	src := t.TempDir()
	report := writeFile(t, src, "report.pdf", strings.Repeat("x", 1024))

	res := run(t, "", "create", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Created vault Docs")

	res = run(t, "", "vaults")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Docs")

	res = run(t, "", "add", "docs", report)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "added: report.pdf (1.0 KB)")

	res = run(t, "", "ls", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "report.pdf (1.0 KB)")
	assert.Contains(t, res.stdout, "1 files")

	dest := filepath.Join(t.TempDir(), "restored")
	res = run(t, "", "extract", "Docs", dest)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "extracted: 1 files")

	data, err := os.ReadFile(filepath.Join(dest, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 1024), string(data))

	res = run(t, "", "verify", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Password OK")
}

func TestWrongPassword(t *testing.T) {
	setupEnv(t, "hunter2")
	require.NoError(t, run(t, "", "create", "Docs").err)

	t.Setenv("FILEVAULT_PASSWORD", "hunter3")
	res := run(t, "", "verify", "Docs")
	assert.ErrorIs(t, res.err, core.ErrUnauthorized)

	res = run(t, "", "add", "Docs", writeFile(t, t.TempDir(), "a.txt", "a"))
	assert.ErrorIs(t, res.err, core.ErrUnauthorized)

	var buf bytes.Buffer
	HandleError(&buf, res.err)
	assert.Equal(t, "Error: wrong password\n", buf.String())
}

func TestCreateDuplicate(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	res := run(t, "", "create", "DOCS")
	assert.ErrorIs(t, res.err, registry.ErrVaultExists)
}

func TestUnknownVault(t *testing.T) {
	setupEnv(t, "pw")

	res := run(t, "", "ls", "nope")
	require.ErrorIs(t, res.err, registry.ErrVaultNotFound)

	var buf bytes.Buffer
	HandleError(&buf, res.err)
	assert.Contains(t, buf.String(), "Run 'filevault vaults'")
}

func TestAddRemoveOriginal(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	path := writeFile(t, t.TempDir(), "notes.txt", "milk")
	res := run(t, "", "add", "-r", "Docs", path)
	require.NoError(t, res.err)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAddPartialFailure(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	good := writeFile(t, t.TempDir(), "good.txt", "ok")
	res := run(t, "", "add", "Docs", good, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "1 of 2 files")
	assert.Contains(t, res.stdout, "added: good.txt")
}

func TestRm(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	dir := t.TempDir()
	require.NoError(t, run(t, "", "add", "Docs", writeFile(t, dir, "a.txt", "a"), writeFile(t, dir, "b.txt", "b")).err)

	res := run(t, "", "rm", "Docs", "a.txt")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "removed: a.txt")

	res = run(t, "", "rm", "Docs", "a.txt")
	assert.Error(t, res.err)
	assert.Contains(t, res.stderr, "not in vault")

	res = run(t, "", "ls", "Docs")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stdout, "a.txt")
	assert.Contains(t, res.stdout, "b.txt")
}

func TestRmAmbiguousName(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	require.NoError(t, run(t, "", "add", "Docs", writeFile(t, t.TempDir(), "dup.txt", "1")).err)
	require.NoError(t, run(t, "", "add", "Docs", writeFile(t, t.TempDir(), "dup.txt", "2")).err)

	res := run(t, "", "rm", "Docs", "dup.txt")
	assert.Error(t, res.err)
	assert.Contains(t, res.stderr, "2 files have this name")
}

type failingRemover struct {
	removed bool
	err     error
}

func (f failingRemover) RemoveFile(context.Context, []byte, string) (bool, error) {
	return f.removed, f.err
}

func TestRemoveArtifactsReportsFailures(t *testing.T) {
	id := storage.NewArtifactID()
	metadata := &storage.Metadata{Files: []storage.FileEntry{{OriginalName: "a.txt", ArtifactID: id}}}

	tests := []struct {
		name       string
		remover    failingRemover
		wantErr    string
		wantStdout string
	}{
		{
			name:    "index not saved",
			remover: failingRemover{err: errors.New("failed to store metadata: disk full")},
			wantErr: "1 of 1 files could not be removed",
		},
		{
			name:       "artifact left behind",
			remover:    failingRemover{removed: true, err: errors.New("entry removed but artifact remains")},
			wantStdout: "removed: a.txt",
		},
		{
			name:    "wrong password",
			remover: failingRemover{err: core.ErrUnauthorized},
			wantErr: core.ErrUnauthorized.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			cmd := &cobra.Command{}
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)

			err := removeArtifacts(context.Background(), cmd, tt.remover, []byte("pw"), metadata, []string{"a.txt"})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, stdout.String(), tt.wantStdout)
			if tt.remover.err != nil && !errors.Is(tt.remover.err, core.ErrUnauthorized) {
				assert.Contains(t, stderr.String(), tt.remover.err.Error())
			}
		})
	}
}

func TestExtractConflictFlags(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)
	require.NoError(t, run(t, "", "add", "Docs", writeFile(t, t.TempDir(), "cfg.yaml", "vault")).err)

	dest := t.TempDir()
	writeFile(t, dest, "cfg.yaml", "local")

	res := run(t, "", "extract", "Docs", dest, "--force", "--keep-both")
	assert.Error(t, res.err)

	res = run(t, "", "extract", "Docs", dest, "--skip-existing")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "skipped: cfg.yaml")

	res = run(t, "", "extract", "Docs", dest, "--keep-both")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "cfg.yaml -> cfg.yaml.from-vault")

	local, err := os.ReadFile(filepath.Join(dest, "cfg.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", string(local))
}

func TestDiff(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "one\ntwo\n")
	require.NoError(t, run(t, "", "add", "Docs", path).err)

	res := run(t, "", "diff", "Docs", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No differences")

	writeFile(t, dir, "notes.txt", "one\nthree\n")
	res = run(t, "", "diff", "Docs", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "modified: notes.txt")
	assert.Contains(t, res.stdout, "--- vault/notes.txt")
}

func TestDeleteVault(t *testing.T) {
	home := setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	res := run(t, "n\n", "delete", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Cancelled")

	res = run(t, "y\n", "delete", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Deleted vault Docs")

	entries, err := os.ReadDir(filepath.Join(home, registry.VaultsDir))
	require.NoError(t, err)
	assert.Empty(t, entries)

	res = run(t, "", "vaults")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No vaults")
}

func TestKeyring(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	res := run(t, "", "keyring", "status", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "not stored")

	res = run(t, "", "keyring", "save", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Password saved to keyring")

	res = run(t, "", "keyring", "status", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "stored in keyring")

	// With no env password the keyring entry is used
	t.Setenv("FILEVAULT_PASSWORD", "")
	res = run(t, "", "verify", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Password OK")

	t.Setenv("FILEVAULT_PASSWORD", "pw")
	res = run(t, "", "keyring", "delete", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Password removed from keyring")
}

func TestKeyringStalePasswordRemoved(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	reg, err := registry.Open(filepath.Join(os.Getenv("FILEVAULT_HOME"), registry.DefaultFile))
	require.NoError(t, err)
	info, err := reg.Get("Docs")
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	require.NoError(t, keyring.SavePassword(info.ID, []byte("stale")))

	// The stale entry is dropped and the prompt fails without a terminal
	t.Setenv("FILEVAULT_PASSWORD", "")
	res := run(t, "", "verify", "Docs")
	assert.Error(t, res.err)
	assert.Contains(t, res.stderr, "stale")
	assert.False(t, keyring.HasPassword(info.ID))
}

func TestPrune(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	res := run(t, "", "prune", "--dry-run", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "0 orphaned files")

	res = run(t, "", "prune", "Docs")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Pruned 0 orphaned files")
}

func TestCompact(t *testing.T) {
	setupEnv(t, "pw")
	require.NoError(t, run(t, "", "create", "Docs").err)

	res := run(t, "", "compact")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Compacted:")
}

func TestHomeFlag(t *testing.T) {
	setupEnv(t, "pw")
	other := t.TempDir()

	require.NoError(t, run(t, "", "--home", other, "create", "Docs").err)

	_, err := os.Stat(filepath.Join(other, registry.DefaultFile))
	assert.NoError(t, err)

	res := run(t, "", "ls", "Docs")
	assert.ErrorIs(t, res.err, registry.ErrVaultNotFound)
}

func TestHomeFlagReadsConfig(t *testing.T) {
	setupEnv(t, "pw")
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "config.yaml"), []byte("log:\n  format: xml\n"), 0600))

	res := run(t, "", "--home", other, "vaults")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "invalid log format")
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.size))
	}
}
