package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/crypto"
)

func newLsCmd(a *App) *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls <vault>",
		Short: "List files stored in a vault",
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

			metadata, err := v.ReadMetadata(ctx, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if metadata.FileCount() == 0 {
				fmt.Fprintf(out, "No files in %s\n", info.Name)
				return nil
			}

			printHeader(out, "Files in %s:", info.Name)
			for _, f := range metadata.Files {
				if long {
					fmt.Fprintf(out, "  %s (%s)  %s  %s\n", f.OriginalName, formatSize(f.Size),
						f.AddedAt.Local().Format(time.DateTime), f.ArtifactID)
				} else {
					fmt.Fprintf(out, "  %s (%s)\n", f.OriginalName, formatSize(f.Size))
				}
			}
			fmt.Fprintf(out, "\n%d files, %s\n", metadata.FileCount(), formatSize(metadata.TotalSize()))

			a.OfferToSavePassword(cmd, info, password, source)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "show added time and artifact id")
	return cmd
}
