// Package runtime wires configuration, telemetry, the synthesis stack, and
// the HTTP surface into one daemon lifecycle.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ttsmate/ttsmate-core/internal/bus"
	"github.com/ttsmate/ttsmate-core/internal/cache"
	"github.com/ttsmate/ttsmate-core/internal/config"
	"github.com/ttsmate/ttsmate-core/internal/gradio"
	"github.com/ttsmate/ttsmate-core/internal/history"
	"github.com/ttsmate/ttsmate-core/internal/natsserver"
	"github.com/ttsmate/ttsmate-core/internal/service"
	"github.com/ttsmate/ttsmate-core/internal/synth"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	remote  *gradio.Client
	client  *synth.Client
	journal *history.Store
	busConn *bus.Client
	svc     *service.Service

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	journal, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history journal: %w", err)
	}
	r.journal = journal
	defer r.journal.Close()

	r.remote = gradio.New(r.cfg.Server.BaseURL,
		time.Duration(r.cfg.Server.TimeoutSeconds)*time.Second, r.logger)

	pipeline := synth.NewPipeline(r.remote, synth.PipelineConfig{
		RefineText: r.cfg.Server.RefineText,
		Sampling: synth.Sampling{
			Temperature: r.cfg.Server.Temperature,
			TopP:        r.cfg.Server.TopP,
			TopK:        r.cfg.Server.TopK,
		},
		BatchSize: r.cfg.Server.BatchSize,
	}, r.logger)

	var store *cache.Store[synth.AudioBuffer]
	if r.cfg.Cache.Enabled {
		store = cache.New(r.cfg.Cache.Capacity,
			time.Duration(r.cfg.Cache.TTLSeconds)*time.Second,
			func(buf synth.AudioBuffer) int { return len(buf.Bytes) })
	}

	r.client = synth.NewClient(pipeline, store, synth.ClientConfig{
		DefaultVoice: r.cfg.Server.DefaultVoice,
		RetryCount:   r.cfg.Server.RetryCount,
	}, r.logger)

	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
		}
		r.busConn, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer r.busConn.Close()

		r.svc = service.NewService(ctx, r.busConn, r.client, r.journal, r.logger)
		if err := r.svc.Start(); err != nil {
			return fmt.Errorf("failed to start synthesize service: %w", err)
		}
		defer r.svc.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	mux.HandleFunc("POST /v1/synthesize", r.handleSynthesize)
	mux.HandleFunc("GET /v1/voices", r.handleVoices)
	mux.HandleFunc("GET /v1/cache/stats", r.handleCacheStats)
	mux.HandleFunc("GET /v1/cache/hottest", r.handleCacheHottest)
	mux.HandleFunc("GET /v1/cache/recent", r.handleCacheRecent)
	mux.HandleFunc("DELETE /v1/cache", r.handleCacheClear)
	mux.HandleFunc("GET /v1/history", r.handleHistory)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("server", r.cfg.Server.BaseURL))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if !r.ready.Load() || (r.svc != nil && !r.svc.Healthy()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if err := r.remote.Ping(req.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("synthesis server unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type synthesizeRequest struct {
	Text   string   `json:"text"`
	Voice  string   `json:"voice,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Pitch  *float64 `json:"pitch,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Format string   `json:"format,omitempty"`
}

func (r *Runtime) handleSynthesize(w http.ResponseWriter, req *http.Request) {
	var body synthesizeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Text == "" {
		httpError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	start := time.Now()
	buf, cacheHit, err := r.client.Synthesize(req.Context(), synth.Request{
		Text:   body.Text,
		Voice:  body.Voice,
		Speed:  body.Speed,
		Pitch:  body.Pitch,
		Volume: body.Volume,
		Format: synth.Format(body.Format),
	})
	if err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}

	r.recordRequest(req.Context(), body, buf, cacheHit, time.Since(start))

	w.Header().Set("Content-Type", contentTypeFor(buf.Format))
	w.Header().Set("X-Sample-Rate", fmt.Sprintf("%d", buf.SampleRate))
	w.Header().Set("X-Duration-Ms", fmt.Sprintf("%d", buf.Duration.Milliseconds()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes)
}

func (r *Runtime) recordRequest(ctx context.Context, body synthesizeRequest, buf synth.AudioBuffer, cacheHit bool, elapsed time.Duration) {
	rec := history.Record{
		ID: uuid.NewString(),
		Fingerprint: synth.Fingerprint(synth.Request{
			Text: body.Text, Voice: body.Voice,
			Speed: body.Speed, Pitch: body.Pitch, Volume: body.Volume,
		}),
		Voice:     body.Voice,
		TextChars: len(body.Text),
		CacheHit:  cacheHit,
		Duration:  elapsed,
		SizeBytes: len(buf.Bytes),
	}
	if err := r.journal.Append(ctx, rec); err != nil {
		r.logger.Warn("failed to record synthesis", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"voices":  r.cfg.Server.Voices,
		"default": r.cfg.Server.DefaultVoice,
	})
}

func (r *Runtime) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	stats, enabled := r.client.CacheStats()
	if !enabled {
		writeJSON(w, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, map[string]any{
		"enabled":          true,
		"entries":          stats.Entries,
		"capacity":         stats.Capacity,
		"total_accesses":   stats.TotalAccesses,
		"hit_rate":         stats.HitRate,
		"total_size_bytes": stats.TotalSizeBytes,
		"average_age_ms":   stats.AverageAge.Milliseconds(),
	})
}

func (r *Runtime) handleCacheHottest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"entries": r.client.CacheHottest(20)})
}

func (r *Runtime) handleCacheRecent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"entries": r.client.CacheRecent(20)})
}

func (r *Runtime) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	r.client.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	recs, err := r.journal.Recent(req.Context(), 50)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	type entry struct {
		ID          string    `json:"id"`
		Fingerprint string    `json:"fingerprint"`
		Voice       string    `json:"voice"`
		TextChars   int       `json:"text_chars"`
		CacheHit    bool      `json:"cache_hit"`
		DurationMS  int64     `json:"duration_ms"`
		SizeBytes   int       `json:"size_bytes"`
		CreatedAt   time.Time `json:"created_at"`
	}
	out := make([]entry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, entry{
			ID:          rec.ID,
			Fingerprint: rec.Fingerprint,
			Voice:       rec.Voice,
			TextChars:   rec.TextChars,
			CacheHit:    rec.CacheHit,
			DurationMS:  rec.Duration.Milliseconds(),
			SizeBytes:   rec.SizeBytes,
			CreatedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, map[string]any{"records": out})
}

// statusFor maps synthesis errors onto HTTP status codes. Upstream failures
// surface as bad gateway so callers can tell them from local faults.
func statusFor(err error) int {
	var formatErr *synth.AudioFormatError
	var serverErr *gradio.ServerError
	var netErr *gradio.NetworkError
	switch {
	case errors.Is(err, gradio.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	case errors.As(err, &formatErr), errors.As(err, &serverErr), errors.As(err, &netErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func contentTypeFor(format synth.Format) string {
	switch format {
	case synth.FormatMP3:
		return "audio/mpeg"
	case synth.FormatOGG:
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
