package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/guiyumin/tubefetch/internal/core/cache"
	"github.com/guiyumin/tubefetch/internal/core/config"
	"github.com/guiyumin/tubefetch/internal/core/metrics"
	"github.com/guiyumin/tubefetch/internal/core/store"
	"github.com/guiyumin/tubefetch/internal/core/version"
	"github.com/guiyumin/tubefetch/internal/core/ytdlp"
	"github.com/guiyumin/tubefetch/internal/server"
)

var (
	servePort int
	serveDir  string
	serveYTDL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP download API",
	Long: `Start an HTTP server that downloads videos on request.

Examples:
  tubefetch serve                 # Start server on $PORT or 5000
  tubefetch serve -p 9000         # Start server on port 9000
  tubefetch serve -d /srv/tmp     # Keep temporary files in /srv/tmp

API Endpoints:
  GET  /health                    # Health check
  GET  /info?url=                 # Video metadata
  POST /download                  # {"url": "...", "format": "mp3|mp4"}
  GET  /download?url=&format=     # Same, browser friendly
  POST /cleanup                   # Remove stale temporary files
  GET  /status                    # Temporary file usage`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cmd.Flags().Changed("dir") {
			cfg.Store.Dir = serveDir
		}
		if cmd.Flags().Changed("yt-dlp") {
			cfg.Engine.Binary = serveYTDL
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "HTTP listen port")
	serveCmd.Flags().StringVarP(&serveDir, "dir", "d", "", "directory for temporary downloads")
	serveCmd.Flags().StringVar(&serveYTDL, "yt-dlp", "", "path to the yt-dlp binary")
	_ = serveCmd.RegisterFlagCompletionFunc("dir", completeDirs)

	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	log, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	fsys := afero.NewOsFs()
	st, err := store.New(fsys, cfg.StoreConfig(), log)
	if err != nil {
		return err
	}

	runner := ytdlp.NewExecRunner(cfg.Engine.Binary)
	if !runner.Available() {
		log.Warn("yt-dlp not found, downloads will fail until it is installed", slog.String("binary", runner.Binary))
	}
	gw := ytdlp.New(runner, fsys, cfg.EngineConfig(st.Dir()), log.With(slog.String("component", "ytdlp")))

	mc, err := cache.New(cfg.Cache.RedisURL, cfg.Cache.TTL)
	if err != nil {
		log.Warn("Redis cache unavailable, using in-process cache", slog.Any("error", err))
		mc = cache.NewMemory(cfg.Cache.TTL)
	}

	srv := server.NewServer(cfg.Server, server.Deps{
		Store:   st,
		Engine:  gw,
		Cache:   mc,
		Metrics: metrics.NewProm(metrics.Namespace),
		Logger:  log,
	})

	printBanner(cfg, st.Dir())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		st.Stop()
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func printBanner(cfg *config.Config, dir string) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	bold.Fprintf(os.Stderr, "tubefetch %s\n", version.Version)
	fmt.Fprintf(os.Stderr, "  Listening on   %s\n", cyan.Sprintf(":%d", cfg.Server.Port))
	fmt.Fprintf(os.Stderr, "  Temporary dir  %s\n", cyan.Sprint(dir))
	fmt.Fprintf(os.Stderr, "  Max age        %s, delete after %s\n", cfg.Store.MaxAge, cfg.Store.DeleteDelay)
	if cfg.Cache.RedisURL != "" {
		fmt.Fprintf(os.Stderr, "  Metadata cache %s\n", cyan.Sprint("redis"))
	}
}
