// Package server wires the process: configuration, logging, tracing, the
// shared clients, and the HTTP listener.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"codescout/internal/config"
	"codescout/internal/embed"
	"codescout/internal/llm"
	"codescout/internal/observability"
	"codescout/internal/search"
	"codescout/internal/services"
	"codescout/internal/suggest"
	"codescout/internal/taskgraph"
	"codescout/internal/vecstore"
)

// app holds the process-wide dependencies. All members are immutable
// after startup and safe for concurrent requests; the session store is
// the only cross-request mutable state.
type app struct {
	cfg        config.Config
	gateway    *llm.Client
	taskGate   *llm.Client
	encoder    *embed.Encoder
	vectors    *vecstore.Store
	sessions   *taskgraph.Store
	ingestion  *services.Ingestion
	understand *services.Understand
	semantic   *search.Semantic
	controller *suggest.Controller
}

// Run initialises the service and blocks on the HTTP listener.
func Run() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	if cfg.Obs.Enabled {
		shutdown, err := observability.InitTracing(context.Background(), cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}
	defer a.close()

	root := otelhttp.NewHandler(a.routes(), "codescout")

	log.Info().Str("addr", cfg.Server.Addr).Msg("codescout listening")
	if err := http.ListenAndServe(cfg.Server.Addr, root); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func newApp(cfg config.Config) (*app, error) {
	httpClient := observability.NewHTTPClient(&http.Client{
		Timeout: time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
	})

	gateway := llm.NewClient(cfg.OpenAI.BaseURL, httpClient).
		WithBearer(cfg.OpenAI.APIKey).
		WithModel(cfg.OpenAI.Model).
		WithTemperature(cfg.OpenAI.Temperature)

	// Task generation always runs the answer model at temperature 0.
	taskGate := gateway.WithModel(cfg.OpenAI.AnswerModel).WithTemperature(0)

	encoder := embed.NewEncoder(cfg.Embeddings, observability.NewHTTPClient(&http.Client{
		Timeout: 30 * time.Second,
	}))

	vectors, err := vecstore.NewStore(cfg.Qdrant)
	if err != nil {
		return nil, err
	}

	sessions, err := taskgraph.NewStore(cfg.Redis)
	if err != nil {
		return nil, err
	}

	svcClient := observability.NewHTTPClient(nil)
	ingestion := services.NewIngestion(cfg.Services, svcClient)
	understand := services.NewUnderstand(cfg.Services, svcClient)

	semantic := &search.Semantic{
		Encoder:    encoder,
		Store:      vectors,
		Gateway:    gateway,
		ResultSize: cfg.Agent.ResultSize,
	}

	controller := &suggest.Controller{
		Gateway:    taskGate,
		Store:      sessions,
		Understand: understand,
		FanOut:     cfg.Agent.FanOut,
	}

	return &app{
		cfg:        cfg,
		gateway:    gateway,
		taskGate:   taskGate,
		encoder:    encoder,
		vectors:    vectors,
		sessions:   sessions,
		ingestion:  ingestion,
		understand: understand,
		semantic:   semantic,
		controller: controller,
	}, nil
}

func (a *app) close() {
	if err := a.vectors.Close(); err != nil {
		log.Warn().Err(err).Msg("vector store close failed")
	}
	if err := a.sessions.Close(); err != nil {
		log.Warn().Err(err).Msg("session store close failed")
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /retrieve", a.handleRetrieve)
	mux.HandleFunc("POST /suggest", a.handleSuggest)
	return mux
}
