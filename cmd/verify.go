package cmd

import (
	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/core"
	"github.com/illarion/filevault/internal/crypto"
)

func newVerifyCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <vault>",
		Short: "Check a vault password",
		Args:  cobra.ExactArgs(1),
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

			ok, err := v.VerifyPassword(ctx, password)
			if err != nil {
				return err
			}
			if !ok {
				return core.ErrUnauthorized
			}

			printSuccess(cmd.OutOrStdout(), "Password OK")
			a.OfferToSavePassword(cmd, info, password, source)
			return nil
		},
	}
}
