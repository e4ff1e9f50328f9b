package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imgsearch/internal/usecase"
)

var (
	mapDims   int
	mapMax    int
	mapOutput string
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Project indexed images to 2D or 3D coordinates",
	Long: `Project up to --max indexed embeddings onto their principal components and
write the points as JSON, each axis scaled to [0,1], for plotting elsewhere.

Examples:
  imgsearch map
  imgsearch map --dims 3 --max 500 -o map.json`,
	Args: cobra.NoArgs,
	RunE: runMap,
}

func init() {
	rootCmd.AddCommand(mapCmd)
	mapCmd.Flags().IntVar(&mapDims, "dims", 2, "number of dimensions (2 or 3)")
	mapCmd.Flags().IntVar(&mapMax, "max", usecase.DefaultMapPoints, "maximum number of images")
	mapCmd.Flags().StringVarP(&mapOutput, "output", "o", "", "write JSON to file instead of stdout")
}

func runMap(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary(cmd.Context())
	if err != nil {
		return err
	}
	defer lib.Close()

	if lib.Len() == 0 {
		return fmt.Errorf("nothing to map: run 'imgsearch index <folder>' first")
	}

	points, err := usecase.Project(lib.Records(), mapDims, mapMax)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(points, "", "  ")
	if err != nil {
		return err
	}

	if mapOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if err := os.WriteFile(mapOutput, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write map: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d points to %s\n", len(points), mapOutput)
	return nil
}
