package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompactCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the vault registry to reclaim unused space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			sizeBefore, err := reg.Size()
			if err != nil {
				return err
			}

			if err := reg.Compact(); err != nil {
				return err
			}

			sizeAfter, err := reg.Size()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
			return nil
		},
	}
}
