package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed images in index order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := openLibrary(cmd.Context())
		if err != nil {
			return err
		}
		defer lib.Close()

		out := cmd.OutOrStdout()
		for _, path := range lib.IndexedImages() {
			fmt.Fprintln(out, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
