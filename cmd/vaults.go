package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newVaultsCmd(a *App) *cobra.Command {
	var showPaths bool

	cmd := &cobra.Command{
		Use:     "vaults",
		Aliases: []string{"list"},
		Short:   "List registered vaults",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			vaults, err := reg.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(vaults) == 0 {
				fmt.Fprintln(out, "No vaults")
				fmt.Fprintln(out, "Run 'filevault create <vault>' to create one")
				return nil
			}

			printHeader(out, "%-24s %-20s %-20s", "NAME", "CREATED", "LAST ACCESSED")
			for _, v := range vaults {
				fmt.Fprintf(out, "%-24s %-20s %-20s\n", v.Name,
					v.CreatedAt.Local().Format(time.DateTime),
					v.LastAccessed.Local().Format(time.DateTime))
				if showPaths {
					fmt.Fprintf(out, "  %s\n", v.Path)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showPaths, "paths", "p", false, "show storage directories")
	return cmd
}
