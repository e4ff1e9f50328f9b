package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"imgsearch/config"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/usecase"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	logger  = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "imgsearch",
	Short: "Image search - index a folder of images and find them by text, image or both",
	Long: `imgsearch embeds every image of a folder with a multimodal encoder, keeps the
vectors in a local cache and ranks them by cosine similarity against a text
description, an example image, or both.

Example usage:
  imgsearch index ~/Pictures                          # Index a folder
  imgsearch search -t "a red car"                     # Search by text
  imgsearch search -m image -i query.jpg              # Search by example image
  imgsearch search -m hybrid -i query.jpg -t "beach"  # Combine both`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		// API keys may live in .env
		_ = godotenv.Load()

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return configureLogger(cfg.Logging)
	},
}

// Execute runs the root command with fang's help and error styling.
func Execute(ctx context.Context, version string) error {
	rootCmd.Version = version
	return fang.Execute(ctx, rootCmd)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./imgsearch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "working directory holding the cache (default is current directory)")
}

func configureLogger(lc config.LoggingConfig) error {
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}
	logger.SetLevel(level)

	switch lc.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", lc.Format)
	}
	return nil
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// openLibrary builds the encoder and snapshot store from config and loads
// the persisted index. A damaged cache is logged and starts empty.
func openLibrary(ctx context.Context) (*usecase.Library, error) {
	encoder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	st, err := store.Open(cfg, rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	lib := usecase.NewLibrary(cfg, encoder, st, usecase.WithLogger(logger))
	n, err := lib.LoadCache(ctx)
	if err != nil {
		lib.Close()
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"cache":   lib.CacheLocation(),
		"records": n,
		"encoder": encoder.ModelName(),
	}).Debug("cache loaded")
	return lib, nil
}

// startWorker launches the background worker that serializes index
// mutations and searches for one command.
func startWorker(ctx context.Context) *usecase.Worker {
	w := usecase.NewWorker(64)
	w.Start(ctx)
	return w
}
