// Command memoryd wires the tiered memory store's components together
// and serves the JSON-RPC transport from §6: config -> logger -> cache
// -> cost tracker -> metrics -> embedding providers -> router ->
// pipeline -> repository (mirrored into the ring-buffer hot cache) ->
// classifier -> migration scheduler -> RPC server, with graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/engramhq/engram/breaker"
	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/costtracker"
	"github.com/engramhq/engram/embedcache"
	"github.com/engramhq/engram/embedmetrics"
	"github.com/engramhq/engram/embedpipeline"
	"github.com/engramhq/engram/embedprovider"
	"github.com/engramhq/engram/embedrouter"
	"github.com/engramhq/engram/migration"
	"github.com/engramhq/engram/repository"
	"github.com/engramhq/engram/ringbuffer"
	"github.com/engramhq/engram/rpc"
	"github.com/engramhq/engram/tiering"
	"github.com/engramhq/engram/triggers"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("failed to load config", "error", err)
	}
	sugar.Infow("loaded config", "port", cfg.Port, "embedding_provider", cfg.Embedding.Provider)

	pipeline := buildPipeline(*cfg, sugar)
	repo := buildRepository(*cfg, sugar)
	classifier := tiering.New(repo)

	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.Migration.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Migration.Breaker.SuccessThreshold,
		Timeout:          time.Duration(cfg.Migration.Breaker.TimeoutSeconds) * time.Second,
		HalfOpenMaxCalls: cfg.Migration.Breaker.HalfOpenMaxCalls,
	})
	engine := migration.NewEngine(repo, brk, migration.Config{
		PoolSize: cfg.Migration.MaxWorkers,
		RetryConfig: breaker.RetryConfig{
			MaxAttempts: cfg.Migration.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Migration.Retry.BaseMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Migration.Retry.MaxMs) * time.Millisecond,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TierManager.Enabled {
		go runClassifierLoop(ctx, classifier, sugar)
	}

	scheduler := migration.NewScheduler(engine, []migration.TriggerSource{
		migration.NewDecayClock(repo),
		migration.NewAccessPatternTracker(repo, 3),
		migration.NewMemoryPressureMonitor(repo, cfg.TierManager.MaxWorkingItems*10, 0.8),
		migration.NewEventTriggerSource(repo),
	}, migration.SchedulerConfig{}, sugar)
	go scheduler.Run(ctx)

	dispatcher := rpc.NewDispatcher()
	rpc.RegisterMemoryMethods(dispatcher, rpc.Services{Repo: repo, Pipeline: pipeline, Engine: engine, Triggers: triggers.New()})

	server := rpc.NewServer(dispatcher, rpc.ServerConfig{MasterAPIKey: cfg.MemoryAPIKey}, sugar)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugar.Fatalw("server forced to shutdown", "error", err)
		}
	}()

	sugar.Infow("starting server", "address", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("failed to start server", "error", err)
	}
	sugar.Infow("server exited gracefully")
}

// buildRepository constructs the MemStore, mirroring every create/
// update/migrate into the Working-Memory Ring Buffer (§4.L) when
// cfg.RingBuffer is enabled. A buffer that fails to open is non-fatal:
// the store falls back to running without the hot cache.
func buildRepository(cfg config.Config, logger *zap.SugaredLogger) *repository.MemStore {
	if !cfg.RingBuffer.Enabled {
		return repository.New()
	}
	buf, err := ringbuffer.New(cfg.RingBuffer.Path, cfg.RingBuffer.SizeBytes)
	if err != nil {
		logger.Warnw("failed to open working-memory ring buffer, running without hot cache", "error", err)
		return repository.New()
	}
	return repository.NewWithHotCache(clock.New(), buf)
}

// buildPipeline wires the three embedding providers, the router, cache,
// cost tracker, and metrics collector into one Pipeline, per §4.G/§6.
func buildPipeline(cfg config.Config, logger *zap.SugaredLogger) *embedpipeline.Pipeline {
	providers := map[string]embedprovider.Provider{}

	var limiter *embedprovider.RateLimiter
	if cfg.ValkeyEndpoint != "" {
		client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.ValkeyEndpoint}})
		if err != nil {
			logger.Warnw("failed to create valkey client, remote provider will run unrated", "error", err)
		} else {
			limiter = embedprovider.NewRateLimiter(client, cfg.Embedding.RateLimitRPM, time.Minute)
		}
	}

	remoteConfig := embedprovider.DefaultRemoteConfig()
	remoteConfig.Endpoint = cfg.Embedding.BaseURL
	remoteConfig.APIKey = cfg.Embedding.APIKey
	remoteConfig.ModelName = cfg.Embedding.Model
	remoteConfig.RateLimit = cfg.Embedding.RateLimitRPM
	providers["remote"] = embedprovider.NewRemoteProvider(remoteConfig, limiter, httpEmbedCall(remoteConfig))

	gpuConfig := embedprovider.DefaultGPUConfig()
	gpuConfig.BatchSize = cfg.Embedding.GPUBatchSize
	providers["gpu"] = embedprovider.NewGPUProvider(gpuConfig, deterministicEmbed(gpuConfig.Dimension))

	localConfig := embedprovider.DefaultLocalConfig()
	providers["local"] = embedprovider.NewLocalProvider(localConfig, deterministicEmbed(localConfig.Dimension), 4)

	router := embedrouter.New(providers)

	cache := embedcache.New(embedcache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})

	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
	}
	metrics := embedmetrics.NewCollector(registry)

	cost := costtracker.New()

	return embedpipeline.New(cache, router, metrics, cost)
}

// deterministicEmbed builds a Compute/infer function for the GPU and
// Local providers that hashes each text into a dim-length vector (not
// normalized here; the providers L2-normalize what it returns).
// There is no trained model in this deployment (§4 Non-goals excludes
// model training/serving); this stands in for whatever on-device or
// in-process inference a real deployment would plug in at this seam.
func deterministicEmbed(dim int) func(texts []string) ([][]float32, error) {
	return func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = hashEmbed(text, dim)
		}
		return out, nil
	}
}

func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	sum := sha256.Sum256([]byte(text))
	for i := range vec {
		chunk := sum[(i*4)%28 : (i*4)%28+4]
		bits := binary.BigEndian.Uint32(chunk)
		vec[i] = float32(math.Sin(float64(bits)))
	}
	return vec
}

// httpEmbedCall implements the Remote-API provider's wire contract from
// §6: POST {model, input} to Endpoint, expecting {embedding: float32[]}
// for each input.
func httpEmbedCall(cfg embedprovider.RemoteConfig) func(ctx context.Context, texts []string) ([][]float32, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	return func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			body, err := marshalEmbedRequest(cfg.ModelName, text)
			if err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			if cfg.APIKey != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
			}
			vec, err := decodeEmbedResponse(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			vectors[i] = vec
		}
		return vectors, nil
	}
}

type embedRequestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponseBody struct {
	Embedding []float32 `json:"embedding"`
}

func marshalEmbedRequest(model, input string) ([]byte, error) {
	return json.Marshal(embedRequestBody{Model: model, Input: input})
}

func decodeEmbedResponse(body io.Reader) ([]float32, error) {
	var decoded embedResponseBody
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded.Embedding, nil
}

func runClassifierLoop(ctx context.Context, classifier *tiering.Classifier, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := classifier.Apply(ctx)
			if err != nil {
				logger.Warnw("auto-tiering pass failed", "error", err)
				continue
			}
			if report.MovedToWarm > 0 || report.MovedToCold > 0 || report.DemotedForCapacity > 0 {
				logger.Infow("auto-tiering pass completed",
					"moved_to_warm", report.MovedToWarm,
					"moved_to_cold", report.MovedToCold,
					"demoted_for_capacity", report.DemotedForCapacity,
					"working_memory_count", report.WorkingMemoryCount)
			}
		}
	}
}
