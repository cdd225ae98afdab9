package synth

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ttsmate/ttsmate-core/internal/cache"
	"github.com/ttsmate/ttsmate-core/internal/gradio"
)

const instrumentationName = "github.com/ttsmate/ttsmate-core/synth"

// ClientConfig tunes the facade in front of the pipeline.
type ClientConfig struct {
	DefaultVoice string
	// RetryCount is the number of additional attempts made for retryable
	// failures (network, timeout, 5xx). Zero disables retries.
	RetryCount int
}

// Client is the synthesis entry point: it fingerprints the request, consults
// the cache, and on a miss drives the pipeline, collapsing concurrent
// identical requests into one protocol exchange.
type Client struct {
	synth  Synthesizer
	cache  *cache.Store[AudioBuffer] // nil when caching is disabled
	cfg    ClientConfig
	flight singleflight.Group
	log    *slog.Logger

	tracer       trace.Tracer
	requests     metric.Int64Counter
	cacheLookups metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewClient wires the facade. store may be nil to disable caching.
func NewClient(synth Synthesizer, store *cache.Store[AudioBuffer], cfg ClientConfig, log *slog.Logger) *Client {
	c := &Client{
		synth:  synth,
		cache:  store,
		cfg:    cfg,
		log:    log.With(slog.String("component", "synth-client")),
		tracer: otel.Tracer(instrumentationName),
	}
	c.initMetrics()
	return c
}

func (c *Client) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	if c.requests, err = meter.Int64Counter("tts_synthesize_total",
		metric.WithDescription("Synthesis requests by result")); err != nil {
		c.log.Warn("failed to create request counter", slog.String("error", err.Error()))
	}
	if c.cacheLookups, err = meter.Int64Counter("tts_cache_lookups_total",
		metric.WithDescription("Cache lookups by outcome")); err != nil {
		c.log.Warn("failed to create cache counter", slog.String("error", err.Error()))
	}
	if c.duration, err = meter.Float64Histogram("tts_synthesize_duration_seconds",
		metric.WithDescription("End-to-end synthesis latency")); err != nil {
		c.log.Warn("failed to create duration histogram", slog.String("error", err.Error()))
	}
}

// Synthesize resolves req to an audio buffer, from cache when possible. The
// bool reports whether the cache answered. Pipeline errors are returned to
// the caller unwrapped; nothing is cached on failure.
func (c *Client) Synthesize(ctx context.Context, req Request) (AudioBuffer, bool, error) {
	start := time.Now()
	key := Fingerprint(req)

	ctx, span := c.tracer.Start(ctx, "synth.synthesize", trace.WithAttributes(
		attribute.String("tts.voice", c.voiceFor(req)),
		attribute.Int("tts.text_chars", len(req.Text)),
	))
	defer span.End()

	if c.cache != nil {
		if buf, ok := c.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool("tts.cache_hit", true))
			c.count(ctx, c.cacheLookups, attribute.String("outcome", "hit"))
			c.count(ctx, c.requests, attribute.String("result", "cached"))
			c.log.Debug("serving cached audio", slog.String("fingerprint", key))
			return buf, true, nil
		}
		c.count(ctx, c.cacheLookups, attribute.String("outcome", "miss"))
	}
	span.SetAttributes(attribute.Bool("tts.cache_hit", false))

	// The exchange runs detached from any single caller: a caller that
	// cancels only stops waiting, so one cancellation cannot fail collapsed
	// requests that are still alive. The chain stays bounded by the per-step
	// timeouts, and a completed orphan still seeds the cache.
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.synthesizeOnce(context.WithoutCancel(ctx), key, req)
	})

	select {
	case <-ctx.Done():
		c.count(ctx, c.requests, attribute.String("result", "cancelled"))
		return AudioBuffer{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.count(ctx, c.requests, attribute.String("result", "error"))
			return AudioBuffer{}, false, res.Err
		}
		if res.Shared {
			c.log.Debug("joined in-flight synthesis", slog.String("fingerprint", key))
		}
		c.count(ctx, c.requests, attribute.String("result", "ok"))
		if c.duration != nil {
			c.duration.Record(ctx, time.Since(start).Seconds())
		}
		return res.Val.(AudioBuffer), false, nil
	}
}

func (c *Client) synthesizeOnce(ctx context.Context, key string, req Request) (AudioBuffer, error) {
	voice := c.voiceFor(req)

	var buf AudioBuffer
	var err error
	for attempt := 0; ; attempt++ {
		buf, err = c.synth.Synthesize(ctx, req.Text, voice)
		if err == nil {
			break
		}
		if !gradio.Retryable(err) || attempt >= c.cfg.RetryCount {
			return AudioBuffer{}, err
		}
		c.log.Warn("retrying synthesis",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	if req.Format != "" {
		buf.Format = req.Format
	}
	if c.cache != nil {
		c.cache.Insert(key, buf)
	}
	return buf, nil
}

func (c *Client) voiceFor(req Request) string {
	if req.Voice != "" {
		return req.Voice
	}
	return c.cfg.DefaultVoice
}

// CacheStats reports cache statistics, or false when caching is disabled.
func (c *Client) CacheStats() (cache.Stats, bool) {
	if c.cache == nil {
		return cache.Stats{}, false
	}
	return c.cache.Stats(), true
}

// ClearCache drops every cached buffer. A no-op when caching is disabled.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// CacheHottest lists the most frequently read cache keys.
func (c *Client) CacheHottest(limit int) []cache.KeyCount {
	if c.cache == nil {
		return nil
	}
	return c.cache.Hottest(limit)
}

// CacheRecent lists the most recently read cache keys.
func (c *Client) CacheRecent(limit int) []cache.KeyCount {
	if c.cache == nil {
		return nil
	}
	return c.cache.Recent(limit)
}

func (c *Client) count(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
