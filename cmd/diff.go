package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/core"
	"github.com/illarion/filevault/internal/crypto"
)

func newDiffCmd(a *App) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "diff <vault> <dir>",
		Short: "Compare stored files with files in a directory",
		Long: `Diff decrypts each stored file in memory and compares it with the file
of the same name in dir. Text files show a unified patch from the vault
version to the local one.`,
		Args: cobra.ExactArgs(2),
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

			diffs, err := v.Diff(ctx, password, args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var changed int
			for _, d := range diffs {
				switch d.Status {
				case core.DiffUnchanged:
					if !quiet {
						fmt.Fprintf(out, "unchanged: %s\n", d.Name)
					}
				case core.DiffMissing:
					changed++
					fmt.Fprintf(out, "missing: %s\n", d.Name)
				case core.DiffModified:
					changed++
					fmt.Fprintf(out, "modified: %s\n", d.Name)
					if !quiet {
						fmt.Fprint(out, d.Patch)
					}
				case core.DiffError:
					printWarning(cmd.ErrOrStderr(), "%s: %s", d.Name, describeEntryError(d.Err))
				}
			}

			if len(diffs) > 0 && changed == 0 {
				fmt.Fprintln(out, "No differences")
			}
			a.OfferToSavePassword(cmd, info, password, source)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only list changed files")
	return cmd
}
