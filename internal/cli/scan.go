package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"imgsearch/internal/usecase"
)

var (
	scanOutput         string
	scanExcludeFolders string
	scanExcludeExts    string
	scanExcludeFiles   string
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Dump a project's tree and source files into one text document",
	Long: `Write the folder structure and the contents of every file under path into a
single document, skipping excluded folders, extensions and files as well as
anything the root .gitignore ignores.

Examples:
  imgsearch scan .
  imgsearch scan ./project -o project.txt --exclude-ext .png,.jpg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "write the document to a file instead of stdout")
	scanCmd.Flags().StringVar(&scanExcludeFolders, "exclude-folders", "", "comma separated folder names to skip (default from config)")
	scanCmd.Flags().StringVar(&scanExcludeExts, "exclude-ext", "", "comma separated extensions to skip (default from config)")
	scanCmd.Flags().StringVar(&scanExcludeFiles, "exclude-files", "", "comma separated file names to skip (default from config)")
}

func runScan(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		path = args[0]
	}

	opts := usecase.ScanOptions{
		ExcludeFolders:    cfg.Scan.ExcludeFolders,
		ExcludeExtensions: cfg.Scan.ExcludeExtensions,
		ExcludeFiles:      cfg.Scan.ExcludeFiles,
	}
	if cmd.Flags().Changed("exclude-folders") {
		opts.ExcludeFolders = usecase.SplitList(scanExcludeFolders)
	}
	if cmd.Flags().Changed("exclude-ext") {
		opts.ExcludeExtensions = normalizeExts(usecase.SplitList(scanExcludeExts))
	}
	if cmd.Flags().Changed("exclude-files") {
		opts.ExcludeFiles = usecase.SplitList(scanExcludeFiles)
	}

	// never include the output document in itself
	if scanOutput != "" {
		opts.ExcludeFiles = append(append([]string(nil), opts.ExcludeFiles...), filepath.Base(scanOutput))
	}

	result, err := usecase.NewScanner(opts, logger).Scan(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanOutput == "" {
		fmt.Fprint(out, result.Output)
		return nil
	}

	if err := os.WriteFile(scanOutput, []byte(result.Output), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", scanOutput, err)
	}
	fmt.Fprintf(out, "Scanned %d files (%d lines) into %s\n", result.TotalFiles, result.TotalLines, scanOutput)
	return nil
}

func normalizeExts(exts []string) []string {
	for i, e := range exts {
		if !strings.HasPrefix(e, ".") {
			exts[i] = "." + e
		}
	}
	return exts
}
