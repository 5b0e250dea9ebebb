package cmd

import (
	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/crypto"
)

func newCreateCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "create <vault>",
		Short: "Create a new vault",
		Long: `Create registers a new vault under the given name and protects it
with a password. Names are unique ignoring case.`,
		Example: `  filevault create Docs
  FILEVAULT_PASSWORD=hunter2 filevault create Docs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			password, source, err := GetPasswordForCreate()
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			info, err := reg.Create(ctx, args[0], func(dir string) error {
				return a.newVault(dir).Create(ctx, password)
			})
			if err != nil {
				return err
			}

			printSuccess(cmd.OutOrStdout(), "Created vault %s", info.Name)
			a.OfferToSavePassword(cmd, info, password, source)
			return nil
		},
	}
}
