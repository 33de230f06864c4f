package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/server"
	"github.com/ifuryst/syndicate/internal/service"
	"github.com/ifuryst/syndicate/internal/service/publisher"
	"github.com/ifuryst/syndicate/pkg/logger"
)

var (
	configPath string
	envFile    string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "syndicate",
	Short: "Syndicate - multi-platform content distribution service",
	Long:  `Syndicate publishes a post to many third-party platforms at once, tracks per-platform results, retries failures and runs scheduled distributions.`,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return loadEnv()
	},
	RunE: runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, scheduler and dispatch workers",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Syndicate %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List the platforms enabled by the configuration",
	RunE:  listPlatforms,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config when present")
	rootCmd.AddCommand(serveCmd, versionCmd, platformsCmd)
}

// loadEnv loads the dotenv file so ${VAR} references in the config resolve.
// Variables already set in the environment win.
func loadEnv() error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

func runServer(*cobra.Command, []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Syndicate server",
		zap.String("version", version),
		zap.String("store", cfg.Store.Driver),
		zap.String("posts", cfg.Posts.Source),
		zap.String("events", cfg.Events.Driver))

	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func listPlatforms(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	registry, err := service.NewPlatformRegistry(cfg, appLogger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDISPLAY NAME\tCATEGORY\tMAX LENGTH\tFEATURES")
	for _, info := range publisher.Describe(registry.All()) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.Name, info.DisplayName, info.Category,
			maxLength(info.Capabilities.MaxContentLength),
			strings.Join(features(info.Capabilities), ","))
	}
	return w.Flush()
}

func maxLength(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func features(c publisher.Capabilities) []string {
	var names []string
	for _, feature := range []string{
		publisher.FeatureScheduling,
		publisher.FeatureImages,
		publisher.FeatureVideos,
		publisher.FeatureHashtags,
		publisher.FeatureMentions,
	} {
		if publisher.HasFeature(c, feature) {
			names = append(names, feature)
		}
	}
	return names
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
