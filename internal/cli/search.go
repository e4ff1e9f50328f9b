package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
	"imgsearch/internal/usecase"
)

var (
	searchMode      string
	searchImage     string
	searchText      string
	searchThreshold float64
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search indexed images by text, image or both",
	Long: `Rank the indexed images against a query. Results below the threshold are
dropped; when nothing passes, the five best matches are returned and the
threshold is lowered to just below the fifth.

Examples:
  imgsearch search -t "sunset over the sea"
  imgsearch search -m image -i ./query.png --threshold 0.8
  imgsearch search -m hybrid -i ./query.png -t "in winter" --json`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "text", "search mode: text, image or hybrid")
	searchCmd.Flags().StringVarP(&searchImage, "image", "i", "", "query image (image and hybrid modes)")
	searchCmd.Flags().StringVarP(&searchText, "text", "t", "", "query text (text and hybrid modes)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", -1, "similarity threshold (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	kind, ok := domain.ParseQueryKind(searchMode)
	if !ok {
		return fmt.Errorf("unknown search mode %q (want text, image or hybrid)", searchMode)
	}

	imagePath := searchImage
	if imagePath != "" {
		var err error
		if imagePath, err = filepath.Abs(imagePath); err != nil {
			return fmt.Errorf("invalid image path: %w", err)
		}
	}
	q := domain.Query{Kind: kind, ImagePath: imagePath, Text: searchText}
	if err := usecase.ValidateQuery(q); err != nil {
		return err
	}

	ctx := cmd.Context()
	lib, err := openLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	if cmd.Flags().Changed("threshold") {
		lib.SetThreshold(searchThreshold)
	}

	worker := startWorker(ctx)
	defer worker.Close()

	res, err := worker.RunSync(func(ctx context.Context, _ usecase.ProgressFunc) (any, error) {
		return lib.Search(ctx, q)
	}, nil)
	if err != nil {
		if errors.Is(err, port.ErrEmptyIndex) {
			return fmt.Errorf("%w: run 'imgsearch index <folder>' first", err)
		}
		return fmt.Errorf("search failed: %w", err)
	}
	outcome := res.(domain.SearchOutcome)

	out := cmd.OutOrStdout()
	if searchJSON {
		data, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(outcome.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d images (%s search, threshold %.3f", len(outcome.Results), kind, outcome.Threshold)
	if outcome.Adjusted {
		fmt.Fprint(out, ", adjusted")
	}
	fmt.Fprintln(out, ")")
	fmt.Fprintln(out)
	for i, r := range outcome.Results {
		fmt.Fprintf(out, "[%d] %.4f  %s\n", i+1, r.Score, r.Path)
	}
	return nil
}
