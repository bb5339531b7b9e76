package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/guiyumin/tubefetch/internal/core/cache"
	"github.com/guiyumin/tubefetch/internal/core/config"
	"github.com/guiyumin/tubefetch/internal/core/extractor"
	"github.com/guiyumin/tubefetch/internal/core/metrics"
	"github.com/guiyumin/tubefetch/internal/core/store"
	"github.com/guiyumin/tubefetch/internal/core/ytdlp"
)

// formatsShown caps the format list returned by /test.
const formatsShown = 10

// Engine resolves and downloads media. *ytdlp.Gateway implements it.
type Engine interface {
	Fetch(ctx context.Context, url string, format extractor.Format) (string, error)
	FetchMetadata(ctx context.Context, url string) (*extractor.VideoMetadata, error)
	ListFormats(ctx context.Context, url string, limit int) (*ytdlp.FormatListing, error)
	Explain(ctx context.Context, url string, format extractor.Format) (*ytdlp.Explanation, error)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DownloadRequest is the request body for POST /download. A nil Format
// selects mp4.
type DownloadRequest struct {
	URL    string  `json:"url"`
	Format *string `json:"format,omitempty"`
}

// InfoResponse is the body of a successful GET /info
type InfoResponse struct {
	extractor.VideoMetadata
	Formats []extractor.SourceFormat `json:"formats"`
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Store   *store.Store
	Engine  Engine
	Cache   cache.Cache
	Metrics metrics.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP server for tubefetch
type Server struct {
	cfg     config.ServerConfig
	store   *store.Store
	engine  Engine
	cache   cache.Cache
	metrics metrics.Metrics
	log     *slog.Logger
	limiter *rate.Limiter

	router *gin.Engine
	server *http.Server
}

// NewServer wires the routes. The store must already exist.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory(cache.DefaultTTL)
	}

	s := &Server{
		cfg:     cfg,
		store:   deps.Store,
		engine:  deps.Engine,
		cache:   deps.Cache,
		metrics: deps.Metrics,
		log:     deps.Logger.With(slog.String("component", "http")),
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	s.store.SetObserver(func(src store.Source, res store.Result) {
		s.metrics.IncDeletion(string(src), res.Outcome.String())
		s.metrics.SetPendingDeletions(s.store.PendingCount())
	})

	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestIDMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.corsMiddleware())

	r.GET("/", s.handleHome)
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.POST("/cleanup", s.handleCleanup)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Routes below invoke yt-dlp.
	engine := r.Group("/", s.rateLimitMiddleware())
	engine.GET("/info", s.handleInfo)
	engine.POST("/download", s.handleDownloadJSON)
	engine.GET("/download", s.handleDownloadQuery)
	engine.GET("/test", s.handleTest)
	engine.GET("/debug", s.handleDebug)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	})

	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the background sweep and blocks serving HTTP until Stop.
func (s *Server) Start() error {
	s.store.Start(context.Background())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      0, // No timeout for downloads
		IdleTimeout:       120 * time.Second,
	}

	s.log.Info("Starting tubefetch server",
		slog.Int("port", s.cfg.Port),
		slog.String("dir", s.store.Dir()),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server, then flushes pending deletions.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.store.Stop()
	if cerr := s.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
