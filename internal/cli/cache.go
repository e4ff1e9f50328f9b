package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the embedding cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show where the cache lives and what it holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := openLibrary(cmd.Context())
		if err != nil {
			return err
		}
		defer lib.Close()

		folder := lib.Folder()
		if folder == "" {
			folder = "(none)"
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backend:    %s\n", cfg.Cache.Backend)
		fmt.Fprintf(out, "Location:   %s\n", lib.CacheLocation())
		fmt.Fprintf(out, "Folder:     %s\n", folder)
		fmt.Fprintf(out, "Images:     %d\n", lib.Len())
		fmt.Fprintf(out, "Dimension:  %d\n", lib.Dimension())
		fmt.Fprintf(out, "Encoder:    %s\n", lib.Encoder().ModelName())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cache file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := openLibrary(cmd.Context())
		if err != nil {
			return err
		}
		defer lib.Close()

		if err := lib.ClearCache(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", lib.CacheLocation())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
