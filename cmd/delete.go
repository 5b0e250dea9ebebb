package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/keyring"
)

func newDeleteCmd(a *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <vault>",
		Short: "Delete a vault and all files stored in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			info, err := reg.Get(args[0])
			if err != nil {
				return err
			}

			if !yes && !confirm(cmd, fmt.Sprintf("Delete vault %s and all its files?", info.Name), false) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			if err := reg.Delete(info.Name); err != nil {
				return err
			}
			if a.cfg.Keyring.Enabled {
				if err := keyring.DeletePassword(info.ID); err != nil {
					a.logger.Warn("failed to remove keyring entry", "vault", info.Name, "error", err)
				}
			}

			printSuccess(cmd.OutOrStdout(), "Deleted vault %s", info.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
