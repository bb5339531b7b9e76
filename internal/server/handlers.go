package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guiyumin/tubefetch/internal/core/apperr"
	"github.com/guiyumin/tubefetch/internal/core/extractor"
	"github.com/guiyumin/tubefetch/internal/core/version"
)

func (s *Server) handleHome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "tubefetch video download API",
		"status":  "running",
		"version": version.Version,
		"endpoints": gin.H{
			"GET /":          "Service descriptor",
			"GET /health":    "Liveness probe",
			"GET /info":      "Video metadata: /info?url=VIDEO_URL",
			"POST /download": `Download a video: {"url": "...", "format": "mp3|mp4"}`,
			"GET /download":  "Download a video: /download?url=VIDEO_URL&format=mp3",
			"POST /cleanup":  "Remove stale temporary files",
			"GET /status":    "Temporary file usage",
			"GET /test":      "List available source formats: /test?url=VIDEO_URL",
			"GET /debug":     "Show the engine configuration: /debug?url=VIDEO_URL&format=mp4",
			"GET /metrics":   "Prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleInfo(c *gin.Context) {
	raw, ok := requireURL(c)
	if !ok {
		return
	}
	url := extractor.Normalize(raw)
	ctx := c.Request.Context()

	meta, hit, err := s.cache.Get(ctx, url)
	if err != nil {
		s.log.Warn("Metadata cache lookup failed", slog.Any("error", err))
	}
	if hit {
		s.metrics.IncCacheLookup("hit")
	} else {
		s.metrics.IncCacheLookup("miss")

		meta, err = s.engine.FetchMetadata(context.WithoutCancel(ctx), url)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if meta == nil {
			s.respondError(c, fmt.Errorf("cannot resolve video information: %w", apperr.ErrMetadataUnavailable))
			return
		}
		if err := s.cache.Set(ctx, url, meta); err != nil {
			s.log.Warn("Metadata cache store failed", slog.Any("error", err))
		}
	}

	c.JSON(http.StatusOK, InfoResponse{
		VideoMetadata: *meta,
		Formats:       []extractor.SourceFormat{},
	})
}

func (s *Server) handleDownloadJSON(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "JSON body is required"
		}
		s.respondError(c, fmt.Errorf("%s: %w", msg, apperr.ErrMissingParameter))
		return
	}
	var format string
	if req.Format != nil {
		format = *req.Format
	}
	s.download(c, req.URL, format, req.Format != nil)
}

func (s *Server) handleDownloadQuery(c *gin.Context) {
	format, present := c.GetQuery("format")
	s.download(c, c.Query("url"), format, present)
}

// download validates, sweeps, runs the engine, and streams the artifact. The
// file is opened before its deletion is scheduled, so the stream stays valid
// even if the timer fires mid-transfer.
func (s *Server) download(c *gin.Context, rawURL, rawFormat string, formatSent bool) {
	if strings.TrimSpace(rawURL) == "" {
		s.respondError(c, fmt.Errorf("url is required, e.g. /download?url=VIDEO_URL&format=mp3: %w", apperr.ErrMissingParameter))
		return
	}
	format, err := extractor.ParseOptionalFormat(rawFormat, formatSent)
	if err != nil {
		s.respondError(c, err)
		return
	}

	url := extractor.Normalize(rawURL)
	// A client disconnect does not abort the engine.
	ctx := context.WithoutCancel(c.Request.Context())

	if _, err := s.store.Sweep(ctx); err != nil {
		s.log.Warn("Sweep before download failed", slog.Any("error", err))
	}

	start := time.Now()
	path, err := s.engine.Fetch(ctx, url, format)
	s.metrics.ObserveDownloadDuration(string(format), time.Since(start).Seconds())
	if err != nil {
		s.metrics.IncDownload(string(format), outcomeLabel(err))
		s.respondError(c, err)
		return
	}

	// Same title, same path: an earlier request's timer must not remove the
	// file this request is about to stream.
	if n := s.store.CancelPath(path); n > 0 {
		s.log.Debug("Re-arming deletion for shared artifact", slog.String("path", path), slog.Int("cancelled", n))
	}

	f, art, err := s.store.Open(path)
	if err != nil {
		s.metrics.IncDownload(string(format), "error")
		s.respondError(c, fmt.Errorf("%w: %v", apperr.ErrDownloadFailed, err))
		return
	}
	defer f.Close()

	s.store.ScheduleDelete(art.Path)
	s.metrics.SetPendingDeletions(s.store.PendingCount())
	s.metrics.IncDownload(string(format), "ok")

	s.log.Info("Streaming artifact",
		slog.String("url", url),
		slog.String("name", art.Name),
		slog.Int64("size", art.Size),
		slog.String("request_id", c.GetString(requestIDKey)),
	)

	contentType, ok := extractor.ContentTypeByExt(filepath.Ext(art.Name))
	if !ok {
		contentType = format.ContentType()
	}

	c.DataFromReader(http.StatusOK, art.Size, contentType, f, map[string]string{
		"Content-Disposition": contentDisposition(art.Name),
	})
}

func (s *Server) handleCleanup(c *gin.Context) {
	report, err := s.store.Sweep(c.Request.Context())
	if err != nil {
		s.respondError(c, fmt.Errorf("cleanup failed: %w: %v", apperr.ErrInternal, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Cleanup done: %d files removed", report.Deleted()),
		"status":  "success",
		"deleted": report.Deleted(),
		"failed":  report.Failed(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.store.Snapshot()
	if err != nil {
		s.respondError(c, fmt.Errorf("cannot read temporary files: %w: %v", apperr.ErrInternal, err))
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleTest(c *gin.Context) {
	raw, ok := requireURL(c)
	if !ok {
		return
	}
	url := extractor.Normalize(raw)

	listing, err := s.engine.ListFormats(context.WithoutCancel(c.Request.Context()), url, formatsShown)
	if err != nil {
		s.log.Warn("Format probe failed", slog.String("url", url), slog.Any("error", err))
		c.JSON(apperr.Status(err), gin.H{
			"error":        err.Error(),
			"original_url": raw,
			"cleaned_url":  url,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"title":         listing.Title,
		"duration":      listing.Duration,
		"formats_count": listing.FormatsCount,
		"formats":       listing.Formats,
		"original_url":  raw,
		"cleaned_url":   url,
	})
}

func (s *Server) handleDebug(c *gin.Context) {
	raw, ok := requireURL(c)
	if !ok {
		return
	}
	rawFormat, present := c.GetQuery("format")
	format, err := extractor.ParseOptionalFormat(rawFormat, present)
	if err != nil {
		s.respondError(c, err)
		return
	}
	url := extractor.Normalize(raw)

	exp, err := s.engine.Explain(context.WithoutCancel(c.Request.Context()), url, format)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// requireURL reads the url query parameter and writes a 400 when it is missing.
func requireURL(c *gin.Context) (string, bool) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "url is required"})
		return "", false
	}
	return raw, true
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
			slog.String("request_id", c.GetString(requestIDKey)),
		)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func outcomeLabel(err error) string {
	if errors.Is(err, apperr.ErrTimeout) {
		return "timeout"
	}
	return "error"
}

// contentDisposition names the attachment. Names outside printable ASCII get
// a plain filename for old clients followed by an RFC 5987 filename*.
func contentDisposition(name string) string {
	if isPrintableASCII(name) {
		return mime.FormatMediaType("attachment", map[string]string{"filename": name})
	}

	plain := mime.FormatMediaType("attachment", map[string]string{"filename": asciiFilename(name)})
	encoded := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	return plain + strings.TrimPrefix(encoded, "attachment")
}

// asciiFilename reduces name to a printable ASCII filename, keeping the extension.
func asciiFilename(name string) string {
	ext := toASCII(filepath.Ext(name))
	stem := extractor.SanitizeFilename(toASCII(strings.TrimSuffix(name, filepath.Ext(name))))
	if stem == "" {
		stem = "download"
	}
	return stem + ext
}

func toASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r < ' ' || r > '~' {
			return -1
		}
		return r
	}, s)
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}
