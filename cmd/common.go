package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/illarion/filevault/internal/core"
	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/keyring"
	"github.com/illarion/filevault/internal/registry"
)

// PasswordSource tells where a password came from
type PasswordSource int

const (
	SourceEnv PasswordSource = iota
	SourceKeyring
	SourcePrompt
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.Bold)
)

func printSuccess(w io.Writer, format string, args ...any) {
	successColor.Fprintf(w, format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	warnColor.Fprintf(w, "Warning: "+format+"\n", args...)
}

func printHeader(w io.Writer, format string, args ...any) {
	headerColor.Fprintf(w, format+"\n", args...)
}

// GetPassword returns the password for an existing vault. It tries
// FILEVAULT_PASSWORD, then the keyring, then a terminal prompt. A keyring
// password that no longer opens the vault is removed and the user is
// prompted instead. The caller must clear the returned password.
func (a *App) GetPassword(ctx context.Context, cmd *cobra.Command, info *registry.VaultInfo, v *core.Vault) ([]byte, PasswordSource, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, SourceEnv, nil
	}

	if a.cfg.Keyring.Enabled {
		if password, err := keyring.GetPassword(info.ID); err == nil {
			ok, err := v.VerifyPassword(ctx, password)
			if err != nil {
				crypto.ClearBytes(password)
				return nil, SourceKeyring, err
			}
			if ok {
				return password, SourceKeyring, nil
			}
			crypto.ClearBytes(password)
			printWarning(cmd.ErrOrStderr(), "password stored in keyring is stale, removing it")
			if err := keyring.DeletePassword(info.ID); err != nil {
				a.logger.Warn("failed to remove stale keyring entry", "vault", info.Name, "error", err)
			}
		}
	}

	password, err := core.ReadPassword(fmt.Sprintf("Password for %s: ", info.Name))
	if err != nil {
		return nil, SourcePrompt, err
	}
	return password, SourcePrompt, nil
}

// GetPasswordForCreate returns FILEVAULT_PASSWORD or a confirmed prompt
func GetPasswordForCreate() ([]byte, PasswordSource, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, SourceEnv, nil
	}
	password, err := core.ReadPasswordConfirm()
	if err != nil {
		return nil, SourcePrompt, err
	}
	return password, SourcePrompt, nil
}

// OfferToSavePassword asks to cache a typed password in the keyring
func (a *App) OfferToSavePassword(cmd *cobra.Command, info *registry.VaultInfo, password []byte, source PasswordSource) {
	if source != SourcePrompt || !a.cfg.Keyring.Enabled || !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	if keyring.HasPassword(info.ID) {
		return
	}

	if !confirm(cmd, "Save password to keyring?", false) {
		return
	}
	if err := keyring.SavePassword(info.ID, password); err != nil {
		printWarning(cmd.ErrOrStderr(), "failed to save to keyring: %s", err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Password saved to keyring")
}

// confirm asks a yes/no question on the command's input
func confirm(cmd *cobra.Command, question string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ", question, hint)

	response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))

	switch response {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return defaultYes
}

// HandleError prints err with a hint for the well known failures
func HandleError(w io.Writer, err error) {
	var hint string
	msg := err.Error()

	switch {
	case errors.Is(err, registry.ErrVaultNotFound):
		hint = "Run 'filevault vaults' to list vaults"
	case errors.Is(err, registry.ErrVaultExists):
		hint = "Choose another name or run 'filevault delete' first"
	case errors.Is(err, core.ErrUnauthorized):
		msg = "wrong password"
	case errors.Is(err, core.ErrNotInitialized):
		msg = "vault is not initialized"
		hint = "The vault directory is incomplete; recreate it with 'filevault create'"
	case errors.Is(err, core.ErrAlreadyInitialized):
		msg = "vault already initialized"
	case errors.Is(err, core.ErrLocked):
		msg = "vault is busy"
		hint = "Another filevault process holds the vault lock; try again"
	case errors.Is(err, core.ErrCorruptMetadata):
		hint = "The vault index could not be read; encrypted files were left untouched"
	case errors.Is(err, core.ErrPasswordMismatch):
		msg = "passwords do not match"
	}

	errorColor.Fprintf(w, "Error: %s\n", msg)
	if hint != "" {
		fmt.Fprintln(w, hint)
	}
}

// isFatal reports errors that would fail every remaining file the same way
func isFatal(err error) bool {
	return errors.Is(err, core.ErrUnauthorized) ||
		errors.Is(err, core.ErrLocked) ||
		errors.Is(err, core.ErrNotInitialized) ||
		errors.Is(err, core.ErrCorruptMetadata) ||
		errors.Is(err, context.Canceled)
}

// formatSize formats bytes as human-readable size
func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
