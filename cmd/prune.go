package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/crypto"
)

func newPruneCmd(a *App) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune <vault>",
		Short: "Delete encrypted files no vault entry refers to",
		Long: `Prune removes orphaned encrypted files. They are left behind when
filevault is interrupted between storing a file and updating the vault
index.`,
		Args: cobra.ExactArgs(1),
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

			out := cmd.OutOrStdout()
			if dryRun {
				orphans, err := v.Orphans(ctx, password)
				if err != nil {
					return err
				}
				for _, id := range orphans {
					fmt.Fprintf(out, "orphan: %s\n", id)
				}
				fmt.Fprintf(out, "%d orphaned files\n", len(orphans))
				return nil
			}

			removed, err := v.PruneOrphans(ctx, password)
			for _, id := range removed {
				fmt.Fprintf(out, "removed: %s\n", id)
			}
			if err != nil {
				return err
			}
			printSuccess(out, "Pruned %d orphaned files", len(removed))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only list orphaned files")
	return cmd
}
