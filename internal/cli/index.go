package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"imgsearch/internal/domain"
	"imgsearch/internal/usecase"
)

const progressSteps = 100

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index the images of a folder",
	Long: `Walk a folder recursively, embed every supported image (png, jpg, jpeg, gif)
and add it to the cached index. Images already in the cache are kept; an image
indexed again gets its vector refreshed. The folder becomes the current one for
later searches.

Examples:
  imgsearch index .               # Index current directory
  imgsearch index ~/Pictures      # Index a specific folder`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	ctx := cmd.Context()
	lib, err := openLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanning %s...\n", path)

	worker := startWorker(ctx)
	defer worker.Close()

	bar := newProgressBar("[cyan]Indexing[reset]")
	startTime := time.Now()
	var barMu sync.Mutex
	var done int

	onProgress := func(fraction float64) {
		barMu.Lock()
		defer barMu.Unlock()

		done = int(fraction * progressSteps)
		bar.Set(done)
		if done > 0 && done < progressSteps {
			elapsed := time.Since(startTime)
			eta := time.Duration(float64(elapsed) * float64(progressSteps-done) / float64(done))
			bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
		}
	}

	res, err := worker.RunSync(func(ctx context.Context, report usecase.ProgressFunc) (any, error) {
		return lib.IndexFolder(ctx, path, report)
	}, onProgress)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	result := res.(*domain.IndexResult)
	// progress reports may have been dropped
	if done < progressSteps {
		bar.Set(progressSteps)
	}

	if err := lib.SaveCache(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nIndexing complete:\n")
	fmt.Fprintf(out, "  Images found:    %d\n", result.Candidates)
	fmt.Fprintf(out, "  Images indexed:  %d\n", result.Indexed)
	fmt.Fprintf(out, "  Images skipped:  %d\n", result.Skipped)
	fmt.Fprintf(out, "  Encoder:         %s (%d dims)\n", lib.Encoder().ModelName(), lib.Dimension())

	if len(result.Warnings) > 0 {
		fmt.Fprintf(out, "\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	fmt.Fprintf(out, "\nCache stored at: %s\n", lib.CacheLocation())
	return nil
}

func newProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
