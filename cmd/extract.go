package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/core"
	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/git"
)

func newExtractCmd(a *App) *cobra.Command {
	var force, skipExisting, keepBoth bool

	cmd := &cobra.Command{
		Use:   "extract <vault> <dest>",
		Short: "Decrypt all files of a vault into a directory",
		Long: `Extract decrypts every file stored in the vault into dest, which is
created if needed. Existing files are handled according to
extract.conflict in the config unless a flag overrides it:

  --force          overwrite existing files
  --skip-existing  keep existing files untouched
  --keep-both      write the vault copy as <name>.from-vault

A file that cannot be extracted does not stop the others.`,
		Example: `  filevault extract Docs ./restored
  filevault extract Docs . --keep-both`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			strategy, err := core.ParseConflictStrategy(a.cfg.Extract.Conflict)
			if err != nil {
				return err
			}
			switch {
			case force:
				strategy = core.ConflictOverwrite
			case skipExisting:
				strategy = core.ConflictSkip
			case keepBoth:
				strategy = core.ConflictKeepBoth
			}

			info, v, err := a.openVault(args[0])
			if err != nil {
				return err
			}

			password, source, err := a.GetPassword(ctx, cmd, info, v)
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			result, err := v.ExtractAll(ctx, password, args[1], strategy)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, res := range result.Entries {
				switch res.Status {
				case core.StatusExtracted:
					if res.Path != res.Entry.OriginalName {
						fmt.Fprintf(out, "extracted: %s -> %s\n", res.Entry.OriginalName, res.Path)
					} else {
						fmt.Fprintf(out, "extracted: %s\n", res.Path)
					}
				case core.StatusSkipped:
					fmt.Fprintf(out, "skipped: %s (exists)\n", res.Path)
				case core.StatusFailed:
					printWarning(cmd.ErrOrStderr(), "%s: %s", res.Entry.OriginalName, describeEntryError(res.Err))
				}
			}

			var written []string
			for _, res := range result.Extracted() {
				written = append(written, res.Path)
			}
			if report := git.FormatExposure(git.CheckExposure(ctx, args[1], written)); report != "" {
				warnColor.Fprint(cmd.ErrOrStderr(), report)
			}

			fmt.Fprintln(out)
			printSuccess(out, "extracted: %d files", len(result.Extracted()))
			if n := len(result.Skipped()); n > 0 {
				fmt.Fprintf(out, "skipped: %d files\n", n)
			}

			if n := len(result.Failed()); n > 0 {
				return fmt.Errorf("%d files could not be extracted", n)
			}
			a.OfferToSavePassword(cmd, info, password, source)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "keep existing files")
	cmd.Flags().BoolVar(&keepBoth, "keep-both", false, "keep existing files and write vault copies as .from-vault")
	cmd.MarkFlagsMutuallyExclusive("force", "skip-existing", "keep-both")
	return cmd
}

func describeEntryError(err error) string {
	switch {
	case errors.Is(err, core.ErrArtifactIO):
		return fmt.Sprintf("encrypted file missing or unreadable (%s)", err)
	case errors.Is(err, core.ErrCipher):
		return fmt.Sprintf("encrypted file is damaged (%s)", err)
	case errors.Is(err, core.ErrInvalidName):
		return fmt.Sprintf("refusing unsafe file name (%s)", err)
	}
	return err.Error()
}
