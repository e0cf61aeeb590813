package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "thumbcache",
	Short: "Thumbnail get-or-create cache",
	Long: `thumbcache renders thumbnails of source images on first request and
serves the stored result afterwards.

Example usage:
  thumbcache serve                        # Consume requests from RabbitMQ
  thumbcache get albums/a.jpg 200x100     # Get or create one thumbnail
  thumbcache delete albums/a.jpg          # Delete a source and its thumbnails
  thumbcache cleanup                      # Drop entries whose files are gone
  thumbcache clear                        # Drop every key-value entry`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnv(envFile)
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(
		newServeCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newCleanupCmd(),
		newClearCmd(),
	)
}

func setupLogging() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG", "debug":
		logLevel = slog.LevelDebug
	case "WARN", "warn":
		logLevel = slog.LevelWarn
	case "ERROR", "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: false,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {

			// Format time to show only the time (HH:MM:SS)
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format("15:04:05"))
			}

			return a
		},
	}

	// Stdout carries command output, logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	slog.SetDefault(logger)
}

func loadEnv(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("No .env file found, using environment variables directly.", "path", path)
		return
	}

	if err := godotenv.Load(path); err != nil {
		slog.Error("Error loading .env file", "path", path, "error", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
