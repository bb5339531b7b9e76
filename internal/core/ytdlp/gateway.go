package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/guiyumin/tubefetch/internal/core/apperr"
	"github.com/guiyumin/tubefetch/internal/core/extractor"
)

const (
	DefaultTimeout         = 10 * time.Minute
	DefaultMetadataTimeout = time.Minute
	DefaultRetries         = 3
	DefaultMaxConcurrent   = 3
	DefaultAudioQuality    = "192K"
)

// Config controls how the engine is invoked.
type Config struct {
	OutputDir       string
	Timeout         time.Duration
	MetadataTimeout time.Duration
	Retries         int
	FragmentRetries int
	AudioQuality    string

	// MaxConcurrent bounds simultaneous downloads. Zero means unbounded.
	MaxConcurrent int
}

// DefaultConfig returns the engine settings used when nothing is configured.
func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:       outputDir,
		Timeout:         DefaultTimeout,
		MetadataTimeout: DefaultMetadataTimeout,
		Retries:         DefaultRetries,
		FragmentRetries: DefaultRetries,
		AudioQuality:    DefaultAudioQuality,
		MaxConcurrent:   DefaultMaxConcurrent,
	}
}

// Gateway turns a media URL into either metadata or a file on disk using yt-dlp.
type Gateway struct {
	runner Runner
	fs     afero.Fs
	cfg    Config
	log    *slog.Logger
	slots  *semaphore.Weighted
}

// New creates a gateway. fsys must be the filesystem yt-dlp writes into.
func New(runner Runner, fsys afero.Fs, cfg Config, log *slog.Logger) *Gateway {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = DefaultAudioQuality
	}
	g := &Gateway{
		runner: runner,
		fs:     fsys,
		cfg:    cfg,
		log:    log,
	}
	if cfg.MaxConcurrent > 0 {
		g.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return g
}

// Fetch downloads url in the requested format and returns the path of the
// final artifact. Every engine failure surfaces as apperr.ErrDownloadFailed,
// and an expired deadline as apperr.ErrTimeout.
func (g *Gateway) Fetch(ctx context.Context, url string, format extractor.Format) (string, error) {
	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	// Waiting for a slot counts against the timeout.
	if g.slots != nil {
		if err := g.slots.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("no download slot within %s: %w", g.cfg.Timeout, apperr.ErrTimeout)
		}
		defer g.slots.Release(1)
	}

	args := g.Options(format).Args()
	args = append(args, "--no-simulate", "--print", "after_move:filepath", "--", url)

	g.log.Debug("Starting download", slog.String("url", url), slog.String("format", string(format)))

	stdout, stderr, err := g.runner.Run(ctx, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("yt-dlp did not finish within %s: %w", g.cfg.Timeout, apperr.ErrTimeout)
		}
		g.log.Error("Download failed", slog.String("url", url), slog.String("error", engineMessage(stderr, err)))
		return "", fmt.Errorf("%w: %s", apperr.ErrDownloadFailed, engineMessage(stderr, err))
	}

	path := lastLine(stdout)
	if path == "" {
		return "", fmt.Errorf("%w: yt-dlp reported no output file", apperr.ErrDownloadFailed)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.cfg.OutputDir, path)
	}

	// Audio extraction renames the file after the post-processor runs.
	if format.MediaType() == extractor.MediaTypeAudio {
		if ext := filepath.Ext(path); ext != "."+string(extractor.FormatMP3) {
			path = strings.TrimSuffix(path, ext) + "." + string(extractor.FormatMP3)
		}
	}

	info, err := g.fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: file was not created: %s", apperr.ErrDownloadFailed, filepath.Base(path))
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: downloaded file is empty: %s", apperr.ErrDownloadFailed, filepath.Base(path))
	}

	if renamed := renameByContainer(g.fs, path); renamed != path {
		g.log.Warn("Artifact container differs from its extension",
			slog.String("path", path),
			slog.String("renamed", renamed),
		)
		path = renamed
	}

	g.log.Info("Download complete",
		slog.String("url", url),
		slog.String("path", path),
		slog.Int64("size", info.Size()),
	)
	return path, nil
}

// FetchMetadata resolves title, duration and thumbnail without downloading.
// When the engine cannot resolve the URL it returns (nil, nil).
func (g *Gateway) FetchMetadata(ctx context.Context, url string) (*extractor.VideoMetadata, error) {
	ctx, cancel := withTimeout(ctx, g.cfg.MetadataTimeout)
	defer cancel()

	stdout, stderr, err := g.runner.Run(ctx, metadataArgs(url)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("metadata lookup did not finish within %s: %w", g.cfg.MetadataTimeout, apperr.ErrTimeout)
		}
		g.log.Warn("Cannot resolve metadata", slog.String("url", url), slog.String("error", engineMessage(stderr, err)))
		return nil, nil
	}

	info, err := parseInfo(stdout)
	if err != nil {
		g.log.Warn("Cannot parse metadata", slog.String("url", url), slog.String("error", err.Error()))
		return nil, nil
	}
	if info == nil {
		return nil, nil
	}

	return info.metadata(), nil
}

// FormatListing is the probe result served by the diagnostic test endpoint.
type FormatListing struct {
	Title        string                   `json:"title"`
	Duration     int                      `json:"duration"`
	FormatsCount int                      `json:"formats_count"`
	Formats      []extractor.SourceFormat `json:"formats"`
}

// ListFormats probes url and returns at most limit of the formats the host offers.
func (g *Gateway) ListFormats(ctx context.Context, url string, limit int) (*FormatListing, error) {
	ctx, cancel := withTimeout(ctx, g.cfg.MetadataTimeout)
	defer cancel()

	info, err := g.probe(ctx, url, "")
	if err != nil {
		return nil, err
	}

	formats := info.sourceFormats()
	listing := &FormatListing{
		Title:        info.title(),
		Duration:     info.duration(),
		FormatsCount: len(formats),
		Formats:      formats,
	}
	if limit > 0 && len(listing.Formats) > limit {
		listing.Formats = listing.Formats[:limit]
	}
	return listing, nil
}

// SelectedFormat is the stream yt-dlp picks for a selector.
type SelectedFormat struct {
	FormatID string `json:"format_id"`
	Format   string `json:"format"`
	Ext      string `json:"ext"`
}

// Explanation describes how a download would be carried out.
type Explanation struct {
	URL            string          `json:"url"`
	FormatType     string          `json:"format_type"`
	Options        Options         `json:"ydl_opts"`
	Args           []string        `json:"args"`
	SelectedFormat *SelectedFormat `json:"selected_format"`
	InfoKeys       []string        `json:"info_keys"`
}

// Explain resolves the format yt-dlp would select for url without downloading it.
func (g *Gateway) Explain(ctx context.Context, url string, format extractor.Format) (*Explanation, error) {
	ctx, cancel := withTimeout(ctx, g.cfg.MetadataTimeout)
	defer cancel()

	opts := g.Options(format)
	info, err := g.probe(ctx, url, opts.Format)
	if err != nil {
		return nil, err
	}

	return &Explanation{
		URL:        url,
		FormatType: string(format),
		Options:    opts,
		Args:       opts.Args(),
		SelectedFormat: &SelectedFormat{
			FormatID: info.FormatID,
			Format:   info.Format,
			Ext:      info.Ext,
		},
		InfoKeys: info.keys,
	}, nil
}

func (g *Gateway) probe(ctx context.Context, url, selector string) (*infoJSON, error) {
	stdout, stderr, err := g.runner.Run(ctx, probeArgs(url, selector)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe did not finish within %s: %w", g.cfg.MetadataTimeout, apperr.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %s", apperr.ErrMetadataUnavailable, engineMessage(stderr, err))
	}

	info, err := parseInfo(stdout)
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: no information returned", apperr.ErrMetadataUnavailable)
	}
	return info, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// engineMessage picks the most useful line from yt-dlp's stderr.
func engineMessage(stderr []byte, err error) string {
	var last string
	for _, line := range strings.Split(string(bytes.TrimSpace(stderr)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return line
		}
		last = line
	}
	if last != "" {
		return last
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
