package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"imgsearch/internal/adapter/fs"
	"imgsearch/internal/domain"
	"imgsearch/internal/usecase"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index new and changed images as they appear",
	Long: `Watch a folder (default: the folder of the last index run) and add every
created or modified image to the index, saving the cache after each batch of
changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "debounce window for batching changes")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lib, err := openLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	root := lib.Folder()
	if len(args) > 0 {
		if root, err = filepath.Abs(args[0]); err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}
	if root == "" {
		return fmt.Errorf("no folder to watch: pass a path or run 'imgsearch index <folder>' first")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, root); err != nil {
		return fmt.Errorf("add watch dirs: %w", err)
	}

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)
	worker := startWorker(ctx)
	defer worker.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s for new images...\n", root)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatchDirs(watcher, event.Name); err != nil {
						logger.WithError(err).WithField("path", event.Name).Warn("failed to watch new folder")
					}
					continue
				}
			}
			if !shouldIndexEvent(event, walker, root) {
				continue
			}
			if len(pending) == 0 {
				timer.Reset(watchDebounce)
			}
			pending[event.Name] = struct{}{}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watch error")
		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)

			indexed := indexChanged(ctx, worker, lib, paths)
			if indexed == 0 {
				continue
			}
			if err := lib.SaveCache(ctx); err != nil {
				logger.WithError(err).Warn("failed to save cache")
				continue
			}
			fmt.Fprintf(out, "[%s] indexed %d image(s), %d total\n", time.Now().Format("15:04:05"), indexed, lib.Len())
		}
	}
}

// indexChanged adds each path to the index on the worker and returns how
// many succeeded.
func indexChanged(ctx context.Context, worker *usecase.Worker, lib *usecase.Library, paths []string) int {
	indexed := 0
	for _, path := range paths {
		_, err := worker.RunSync(func(ctx context.Context, _ usecase.ProgressFunc) (any, error) {
			return nil, lib.IndexSingleImage(ctx, path)
		}, nil)
		if err != nil {
			logger.WithFields(logrus.Fields{"path": path}).WithError(err).Warn("failed to index image")
			continue
		}
		indexed++
	}
	return indexed
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func shouldIndexEvent(event fsnotify.Event, walker *fs.Walker, root string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	if !domain.IsSupportedImage(event.Name) {
		return false
	}
	return walker.Matches(root, event.Name)
}
