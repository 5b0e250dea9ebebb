package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/core"
	"github.com/illarion/filevault/internal/crypto"
	"github.com/illarion/filevault/internal/keyring"
)

func newKeyringCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage vault passwords cached in the OS keyring",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "save <vault>",
			Short: "Save a vault password to the keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()

				info, v, err := a.openVault(args[0])
				if err != nil {
					return err
				}

				password := core.GetPasswordFromEnv()
				if password == nil {
					password, err = core.ReadPassword(fmt.Sprintf("Password for %s: ", info.Name))
					if err != nil {
						return err
					}
				}
				defer crypto.ClearBytes(password)

				ok, err := v.VerifyPassword(ctx, password)
				if err != nil {
					return err
				}
				if !ok {
					return core.ErrUnauthorized
				}

				if err := keyring.SavePassword(info.ID, password); err != nil {
					return fmt.Errorf("failed to save to keyring: %w", err)
				}
				printSuccess(cmd.OutOrStdout(), "Password saved to keyring")
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <vault>",
			Short: "Remove a vault password from the keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				info, _, err := a.openVault(args[0])
				if err != nil {
					return err
				}

				if !keyring.HasPassword(info.ID) {
					fmt.Fprintln(cmd.OutOrStdout(), "No password stored in keyring")
					return nil
				}
				if err := keyring.DeletePassword(info.ID); err != nil {
					return fmt.Errorf("failed to remove from keyring: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Password removed from keyring")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <vault>",
			Short: "Show whether a vault password is stored",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				info, _, err := a.openVault(args[0])
				if err != nil {
					return err
				}

				if keyring.HasPassword(info.ID) {
					fmt.Fprintln(cmd.OutOrStdout(), "Password: stored in keyring")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Password: not stored")
				}
				if !a.cfg.Keyring.Enabled {
					fmt.Fprintln(cmd.OutOrStdout(), "Keyring lookups are disabled (keyring.enabled = false)")
				}
				return nil
			},
		},
	)
	return cmd
}
