package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"imgsearch/internal/usecase"
)

var (
	describeTopK int
	describeJSON bool
)

var describeCmd = &cobra.Command{
	Use:   "describe <image>",
	Short: "Label an image with the most likely of the configured captions",
	Long: `Score an image against the caption list of the describe.labels setting and
print the most probable ones.

Examples:
  imgsearch describe photo.jpg
  imgsearch describe photo.jpg -k 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().IntVarP(&describeTopK, "top-k", "k", 0, "number of labels (default from config)")
	describeCmd.Flags().BoolVar(&describeJSON, "json", false, "output as JSON")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	ctx := cmd.Context()
	lib, err := openLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	topK := cfg.Describe.TopK
	if describeTopK > 0 {
		topK = describeTopK
	}

	d := usecase.NewDescriber(lib.Encoder(), lib.Decoder(), cfg.Describe.Labels, topK,
		usecase.WithDescriberLogger(logger))
	labels, err := d.Describe(ctx, path)
	if err != nil {
		return fmt.Errorf("describe failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if describeJSON {
		data, err := json.MarshalIndent(labels, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	for _, l := range labels {
		fmt.Fprintf(out, "%5.1f%%  %s\n", l.Probability*100, l.Text)
	}
	return nil
}
