package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/git"
)

func newAddCmd(a *App) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "add <vault> <file>...",
		Short: "Encrypt files into a vault",
		Long: `Add encrypts each file and stores it in the vault under its base
name. With --remove the original is deleted once it is safely stored.`,
		Example: `  filevault add Docs report.pdf
  filevault add Docs -r notes.txt draft.md`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			info, v, err := a.openVault(args[0])
			if err != nil {
				return err
			}

			password, source, err := a.GetPassword(ctx, cmd, info, v)
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args[1:] {
				result, err := v.AddPath(ctx, password, path, remove)
				if err != nil {
					// Wrong password or a busy vault fails every file the same way
					if isFatal(err) {
						return err
					}
					failed++
					printWarning(cmd.ErrOrStderr(), "%s: %s", path, err)
					continue
				}

				fmt.Fprintf(out, "added: %s (%s) -> %s\n", result.Entry.OriginalName,
					formatSize(result.Entry.Size), result.Entry.ArtifactID)
				if exposure := git.CheckPath(ctx, path); len(exposure.Tracked) > 0 {
					printWarning(cmd.ErrOrStderr(), "%s is tracked by git; its plaintext stays in the history", path)
				}
				if result.RemoveErr != nil {
					printWarning(cmd.ErrOrStderr(), "stored %s but could not remove original: %s", path, result.RemoveErr)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be added", failed, len(args)-1)
			}
			a.OfferToSavePassword(cmd, info, password, source)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&remove, "remove", "r", false, "remove original files after adding")
	return cmd
}
