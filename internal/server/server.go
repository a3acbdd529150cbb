package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/go-avatarcast/internal/combine"
	"github.com/example/go-avatarcast/internal/config"
	"github.com/example/go-avatarcast/internal/pipeline"
	"github.com/example/go-avatarcast/internal/render"
	"github.com/example/go-avatarcast/internal/synthesis"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// JobRunner processes a single avatar video request end to end.
type JobRunner interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Artifact, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	artifactsDir   string
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		workers:        2,
		requestTimeout: 300 * time.Second,
		artifactsDir:   "artifacts",
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes for POST /render.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent jobs.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-job deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithArtifactsDir sets the directory GET /videos/{id} serves from.
func WithArtifactsDir(dir string) Option {
	return func(o *options) { o.artifactsDir = dir }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	runner JobRunner
	opts   options
	sem    chan struct{} // semaphore for job pool
	log    *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, POST /render, and
// GET /videos/{id}.
func NewHandler(runner JobRunner, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		runner: runner,
		opts:   opts,
		log:    opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/render", h.handleRender)
	mux.HandleFunc("/videos/", h.handleVideo)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type renderRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	AvatarPath string `json:"avatar_path"`
}

type renderResponse struct {
	ID          string  `json:"id"`
	VideoURL    string  `json:"video_url"`
	Duration    float64 `json:"duration_sec"`
	Segments    int     `json:"segments"`
	Strategy    string  `json:"strategy"`
	CacheHit    bool    `json:"cache_hit"`
	SynthesisMS int64   `json:"synthesis_ms"`
	RenderMS    int64   `json:"render_ms"`
	RecombineMS int64   `json:"recombine_ms"`
}

func (h *handler) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	if req.AvatarPath == "" {
		writeError(w, http.StatusBadRequest, "avatar_path field is required")
		return
	}

	avatar, err := avatarFromPath(req.AvatarPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Acquire a job slot, honouring context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
			// slot acquired
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	art, err := h.runner.Process(ctx, pipeline.Request{
		Text:   req.Text,
		Voice:  req.Voice,
		Avatar: avatar,
	})
	elapsedMS := time.Since(start).Milliseconds()

	if err != nil {
		h.writeJobError(w, r, req, err, elapsedMS)
		return
	}

	h.log.InfoContext(r.Context(), "render complete",
		slog.String("id", art.ID),
		slog.Int("text_len", len(req.Text)),
		slog.String("strategy", string(art.Report.Strategy)),
		slog.Bool("cache_hit", art.Report.CacheHit),
		slog.Int64("duration_ms", elapsedMS),
	)

	writeJSON(w, http.StatusOK, renderResponse{
		ID:          art.ID,
		VideoURL:    "/videos/" + art.ID,
		Duration:    art.Duration,
		Segments:    art.Report.SegmentCount,
		Strategy:    string(art.Report.Strategy),
		CacheHit:    art.Report.CacheHit,
		SynthesisMS: art.Report.SynthesisTime.Milliseconds(),
		RenderMS:    art.Report.RenderTime.Milliseconds(),
		RecombineMS: art.Report.CombineTime.Milliseconds(),
	})
}

func (h *handler) writeJobError(w http.ResponseWriter, r *http.Request, req renderRequest, err error, elapsedMS int64) {
	log := h.log.With(
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", elapsedMS),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		log.WarnContext(r.Context(), "render timed out")
		writeError(w, http.StatusGatewayTimeout, "render timed out")
	case errors.Is(err, synthesis.ErrExhausted):
		log.ErrorContext(r.Context(), "all synthesis providers failed")
		writeError(w, http.StatusBadGateway, "speech synthesis unavailable")
	case errors.Is(err, render.ErrInsufficientSegments) || errors.Is(err, combine.ErrDurationMismatch):
		log.ErrorContext(r.Context(), "render pipeline failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		log.ErrorContext(r.Context(), "render failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleVideo serves a published artifact by id. Ids are hex fingerprints,
// so anything outside that alphabet is rejected before touching the disk.
func (h *handler) handleVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/videos/")
	if id == "" || !validArtifactID(id) {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	path := filepath.Join(h.opts.artifactsDir, "video-"+id+".mp4")
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func validArtifactID(id string) bool {
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// avatarFromPath decides whether a path names a still image or a base clip.
func avatarFromPath(path string) (render.AvatarSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return render.AvatarSource{ImagePath: path}, nil
	case ".mp4", ".mov", ".mkv":
		return render.AvatarSource{BaseClipPath: path}, nil
	default:
		return render.AvatarSource{}, fmt.Errorf("unsupported avatar file %q", filepath.Base(path))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	runner          JobRunner
	shutdownTimeout time.Duration
}

func New(cfg config.Config, runner JobRunner) *Server {
	return &Server{
		cfg:             cfg,
		runner:          runner,
		shutdownTimeout: 30 * time.Second,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if s.runner == nil {
		return errors.New("server requires a job runner")
	}

	h := NewHandler(s.runner,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithArtifactsDir(s.cfg.Paths.ArtifactsDir),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
