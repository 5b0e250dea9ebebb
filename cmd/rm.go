package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/storage"
)

func newRmCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <vault> <artifact-id|name>...",
		Short: "Remove files from a vault",
		Long: `Rm removes stored files and their encrypted data. Each argument is an
artifact id as shown by 'filevault ls -l', or a file name when exactly one
stored file has that name.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			info, v, err := a.openVault(args[0])
			if err != nil {
				return err
			}

			password, _, err := a.GetPassword(ctx, cmd, info, v)
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			metadata, err := v.ReadMetadata(ctx, password)
			if err != nil {
				return err
			}

			return removeArtifacts(ctx, cmd, v, password, metadata, args[1:])
		},
	}
}

// artifactRemover is the part of core.Vault used by rm
type artifactRemover interface {
	RemoveFile(ctx context.Context, password []byte, artifactID string) (bool, error)
}

// removeArtifacts removes each argument and fails if any could not be removed
func removeArtifacts(ctx context.Context, cmd *cobra.Command, v artifactRemover, password []byte, metadata *storage.Metadata, args []string) error {
	out := cmd.OutOrStdout()
	var failed int
	for _, arg := range args {
		id, err := resolveArtifact(metadata, arg)
		if err != nil {
			failed++
			printWarning(cmd.ErrOrStderr(), "%s", err)
			continue
		}

		removed, err := v.RemoveFile(ctx, password, id)
		switch {
		case err != nil && isFatal(err):
			return err
		case err != nil && !removed:
			failed++
			printWarning(cmd.ErrOrStderr(), "%s: %s", arg, err)
		case err != nil:
			// Entry is gone, only the artifact stayed behind
			fmt.Fprintf(out, "removed: %s\n", arg)
			printWarning(cmd.ErrOrStderr(), "%s: %s", arg, err)
		case removed:
			fmt.Fprintf(out, "removed: %s\n", arg)
		default:
			failed++
			printWarning(cmd.ErrOrStderr(), "%s: not in vault", arg)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be removed", failed, len(args))
	}
	return nil
}

// resolveArtifact maps an artifact id or a unique file name to an artifact id
func resolveArtifact(metadata *storage.Metadata, arg string) (string, error) {
	if storage.ValidArtifactID(arg) {
		return arg, nil
	}

	var matches []string
	for _, f := range metadata.Files {
		if f.OriginalName == arg {
			matches = append(matches, f.ArtifactID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%s: not in vault", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%s: %d files have this name, use the artifact id (filevault ls -l)", arg, len(matches))
	}
}
