package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiyumin/tubefetch/internal/core/cache"
	"github.com/guiyumin/tubefetch/internal/core/config"
	"github.com/guiyumin/tubefetch/internal/core/metrics"
	"github.com/guiyumin/tubefetch/internal/core/store"
	"github.com/guiyumin/tubefetch/internal/core/ytdlp"
)

const (
	testDir     = "/srv/downloads"
	videoID     = "dQw4w9WgXcQ"
	canonical   = "https://www.youtube.com/watch?v=" + videoID
	infoJSON    = `{"id":"dQw4w9WgXcQ","title":"Never Gonna Give You Up","duration":212,"thumbnail":"https://i.ytimg.com/vi/dQw4w9WgXcQ/hq.jpg","format_id":"18","format":"18 - 640x360","ext":"mp4","formats":[{"format_id":"18","ext":"mp4","resolution":"640x360","filesize":1000,"acodec":"mp4a.40.2","vcodec":"avc1"}]}`
	fileContent = "not really a video"
)

// engineStub stands in for the yt-dlp binary.
type engineStub struct {
	fs afero.Fs

	mu       sync.Mutex
	calls    [][]string
	fail     error
	stderr   string
	metadata string
	block    bool
}

func (e *engineStub) Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, args)
	fail, stderr, metadata, block := e.fail, e.stderr, e.metadata, e.block
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	if fail != nil {
		return nil, []byte(stderr), fail
	}

	if slices.Contains(args, "--print") {
		name := "Never Gonna Give You Up.mp4"
		if slices.Contains(args, "-x") {
			name = "Never Gonna Give You Up.mp3"
		}
		path := filepath.Join(testDir, name)
		if err := afero.WriteFile(e.fs, path, []byte(fileContent), 0o644); err != nil {
			return nil, nil, err
		}
		return []byte(path + "\n"), nil, nil
	}
	return []byte(metadata), nil, nil
}

func (e *engineStub) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type testEnv struct {
	srv     *Server
	store   *store.Store
	engine  *engineStub
	fs      afero.Fs
	metrics *metrics.Prom
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Store.Dir = testDir
	cfg.Store.SweepInterval = 0
	cfg.Server.RateLimit.RPS = 0
	if mutate != nil {
		mutate(cfg)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	fsys := afero.NewMemMapFs()

	st, err := store.New(fsys, cfg.StoreConfig(), log)
	require.NoError(t, err)

	stub := &engineStub{fs: fsys, metadata: infoJSON}
	gw := ytdlp.New(stub, fsys, cfg.EngineConfig(st.Dir()), log)
	prom := metrics.NewProm("tubefetch")

	srv := NewServer(cfg.Server, Deps{
		Store:   st,
		Engine:  gw,
		Cache:   cache.NewMemory(time.Minute),
		Metrics: prom,
		Logger:  log,
	})
	t.Cleanup(st.Stop)

	return &testEnv{srv: srv, store: st, engine: stub, fs: fsys, metrics: prom}
}

func (e *testEnv) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHome(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.NotEmpty(t, body["message"])
	endpoints, ok := body["endpoints"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, endpoints, "POST /download")
	assert.Contains(t, endpoints, "GET /info")
}

func TestStatusEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"files_count":0,"total_size_bytes":0,"files":[]}`, rec.Body.String())
}

func TestDownloadRejectsUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/download?url="+canonical+"&format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "mp3 or mp4")

	rec = env.do(http.MethodPost, "/download", strings.NewReader(`{"url":"`+canonical+`","format":"xml"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// only the exact values are accepted; the default applies when format is absent
	for _, target := range []string{
		"/download?url=" + canonical + "&format=",
		"/download?url=" + canonical + "&format=MP3",
	} {
		rec = env.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	rec = env.do(http.MethodPost, "/download", strings.NewReader(`{"url":"`+canonical+`","format":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, env.engine.callCount(), "engine must not be invoked")
}

func TestDownloadKeepsSharedArtifactAlive(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Store.DeleteDelay = time.Hour
	})
	path := filepath.Join(testDir, "Never Gonna Give You Up.mp4")

	// an earlier request for the same title armed a short timer
	earlier := env.store.ScheduleDeleteAfter(path, 50*time.Millisecond)

	rec := env.do(http.MethodGet, "/download?url="+canonical, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, fileContent, rec.Body.String())

	select {
	case <-earlier.Done():
	case <-time.After(time.Second):
		t.Fatal("earlier deletion was neither cancelled nor run")
	}
	assert.Equal(t, store.OutcomeAbsent, earlier.Result().Outcome)

	time.Sleep(100 * time.Millisecond)
	exists, err := afero.Exists(env.fs, path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, env.store.PendingCount())
}

func TestDownloadMissingInput(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		target string
		body   io.Reader
	}{
		{"query without url", http.MethodGet, "/download?format=mp3", nil},
		{"blank url", http.MethodGet, "/download?url=%20", nil},
		{"empty body", http.MethodPost, "/download", strings.NewReader("")},
		{"invalid json", http.MethodPost, "/download", strings.NewReader("{url")},
		{"body without url", http.MethodPost, "/download", strings.NewReader(`{"format":"mp3"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
	assert.Zero(t, env.engine.callCount())
}

func TestDownloadStreamsFileAndSchedulesDeletion(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Store.DeleteDelay = time.Hour
	})

	rec := env.do(http.MethodGet, "/download?url=https://youtu.be/"+videoID+"?t=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, fileContent, rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Never Gonna Give You Up.mp4"`, rec.Header().Get("Content-Disposition"))

	// the engine saw the canonical URL
	args := env.engine.calls[0]
	assert.Equal(t, canonical, args[len(args)-1])

	// still present and readable right after the response
	path := filepath.Join(testDir, "Never Gonna Give You Up.mp4")
	data, err := afero.ReadFile(env.fs, path)
	require.NoError(t, err)
	assert.Equal(t, fileContent, string(data))
	assert.Equal(t, 1, env.store.PendingCount())

	env.store.Stop()
	exists, err := afero.Exists(env.fs, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadDeletedAfterDelay(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Store.DeleteDelay = 50 * time.Millisecond
	})

	rec := env.do(http.MethodPost, "/download", strings.NewReader(`{"url":"`+canonical+`","format":"mp3"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Never Gonna Give You Up.mp3")

	path := filepath.Join(testDir, "Never Gonna Give You Up.mp3")
	assert.Eventually(t, func() bool {
		exists, _ := afero.Exists(env.fs, path)
		return !exists
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDownloadSweepsStaleFilesFirst(t *testing.T) {
	env := newTestEnv(t, nil)

	stale := filepath.Join(testDir, "old.mp4")
	require.NoError(t, afero.WriteFile(env.fs, stale, []byte("old"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, env.fs.Chtimes(stale, old, old))

	rec := env.do(http.MethodGet, "/download?url="+canonical, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	exists, err := afero.Exists(env.fs, stale)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadEngineFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.fail = errors.New("exit status 1")
	env.engine.stderr = "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable"

	rec := env.do(http.MethodGet, "/download?url="+canonical, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "Video unavailable")
	assert.Zero(t, env.store.PendingCount())
}

func TestDownloadTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Engine.Timeout = 20 * time.Millisecond
	})
	env.engine.block = true

	rec := env.do(http.MethodGet, "/download?url="+canonical, nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/info?url=https://www.youtube.com/embed/"+videoID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"title": "Never Gonna Give You Up",
		"duration": 212,
		"thumbnail": "https://i.ytimg.com/vi/dQw4w9WgXcQ/hq.jpg",
		"formats": []
	}`, rec.Body.String())

	// served from cache
	rec = env.do(http.MethodGet, "/info?url="+canonical, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.engine.callCount())
}

func TestInfoUnresolvable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.fail = errors.New("exit status 1")
	env.engine.stderr = "ERROR: Unsupported URL: https://example.com/video"

	rec := env.do(http.MethodGet, "/info?url=https://example.com/video", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])

	env.engine.fail = nil
	env.engine.metadata = "null"
	rec = env.do(http.MethodGet, "/info?url=https://example.com/other", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInfoMissingURL(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/info", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"url is required"}`, rec.Body.String())
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t, nil)

	stale := filepath.Join(testDir, "old.mp3")
	fresh := filepath.Join(testDir, "new.mp3")
	require.NoError(t, afero.WriteFile(env.fs, stale, []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(env.fs, fresh, []byte("new"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, env.fs.Chtimes(stale, old, old))

	rec := env.do(http.MethodPost, "/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["deleted"])
	assert.NotEmpty(t, body["message"])

	rec = env.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, float64(1), status["files_count"])
	assert.Equal(t, float64(3), status["total_size_bytes"])
}

func TestTestEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/test?url=https://youtu.be/"+videoID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "Never Gonna Give You Up", body["title"])
	assert.Equal(t, float64(1), body["formats_count"])
	assert.Equal(t, "https://youtu.be/"+videoID, body["original_url"])
	assert.Equal(t, canonical, body["cleaned_url"])

	formats, ok := body["formats"].([]any)
	require.True(t, ok)
	require.Len(t, formats, 1)
	assert.Equal(t, "640x360", formats[0].(map[string]any)["resolution"])
}

func TestTestEndpointUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.fail = errors.New("exit status 1")
	env.engine.stderr = "ERROR: Private video"

	rec := env.do(http.MethodGet, "/test?url="+canonical, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["error"], "Private video")
	assert.Equal(t, canonical, body["cleaned_url"])
}

func TestDebugEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/debug?url="+canonical+"&format=mp3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, canonical, body["url"])
	assert.Equal(t, "mp3", body["format_type"])
	opts, ok := body["ydl_opts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bestaudio/best", opts["format"])
	selected, ok := body["selected_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "18", selected["format_id"])
	assert.Contains(t, body["info_keys"], "formats")

	rec = env.do(http.MethodGet, "/debug?url="+canonical+"&format=flac", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodOptions, "/download", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Zero(t, env.engine.callCount())
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	})

	rec := env.do(http.MethodGet, "/info?url="+canonical, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/info?url="+canonical, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())

	// routes that do not invoke the engine are not limited
	rec = env.do(http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(http.MethodGet, "/download?url="+canonical, nil)
	rec := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `tubefetch_downloads_total{format="mp4",status="ok"} 1`)
	assert.Contains(t, body, `tubefetch_http_requests_total{method="GET",route="/download",status="200"} 1`)
	assert.Contains(t, body, "tubefetch_pending_deletions 1")
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, "attachment; filename=clip.mp4", contentDisposition("clip.mp4"))
	assert.Equal(t, `attachment; filename="my clip (1).mp4"`, contentDisposition("my clip (1).mp4"))
	assert.Equal(t, "attachment; filename=msica.mp3; filename*=utf-8''m%C3%BAsica.mp3", contentDisposition("música.mp3"))

	tests := []struct {
		name  string
		input string
		plain string
	}{
		{"cyrillic", "клип.mp4", "filename=download.mp4;"},
		{"invalid utf-8", "a\xff\xfe.mp4", "filename=a.mp4;"},
		{"control byte", "a\x00b.mp4", "filename=ab.mp4;"},
		{"url in title", "see https://ex.com/x clip\u00e9.mp4", `filename="see clip.mp4";`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cd := contentDisposition(tt.input)
			assert.True(t, strings.HasPrefix(cd, "attachment; "+tt.plain), cd)
			assert.Contains(t, cd, "filename*=utf-8''")
		})
	}
}
