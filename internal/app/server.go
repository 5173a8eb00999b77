package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	cascade "github.com/jordanhubbard/cascade"
	"github.com/jordanhubbard/cascade/admission"
	"github.com/jordanhubbard/cascade/embedding"
	"github.com/jordanhubbard/cascade/events"
	"github.com/jordanhubbard/cascade/guardrails"
	"github.com/jordanhubbard/cascade/internal/apikey"
	"github.com/jordanhubbard/cascade/internal/httpapi"
	"github.com/jordanhubbard/cascade/internal/logging"
	"github.com/jordanhubbard/cascade/internal/metrics"
	"github.com/jordanhubbard/cascade/internal/providers/openaicompat"
	"github.com/jordanhubbard/cascade/internal/ratelimit"
	"github.com/jordanhubbard/cascade/internal/stats"
	"github.com/jordanhubbard/cascade/internal/store"
	"github.com/jordanhubbard/cascade/internal/tracing"
	"github.com/jordanhubbard/cascade/models"
	"github.com/jordanhubbard/cascade/provider"
	"github.com/jordanhubbard/cascade/quality"
)

// Server assembles the engine and its HTTP surface.
type Server struct {
	cfg Config

	r *chi.Mux

	agent        *cascade.Agent
	store        store.Store
	logger       *slog.Logger
	rateLimiter  *ratelimit.Limiter
	otelShutdown func(context.Context) error

	httpServer *http.Server
}

// NewServer builds the full service from config.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	metricsReg := metrics.New()
	bus := events.NewBus()
	collector := stats.NewCollector()

	httpClient := &http.Client{
		Transport: tracing.HTTPTransport(nil),
		Timeout:   time.Duration(cfg.PerModelTimeoutSecs) * time.Second,
	}

	descriptors := []models.Descriptor{
		buildDescriptor(cfg.Drafter, httpClient),
		buildDescriptor(cfg.Verifier, httpClient),
	}
	registry, err := models.New(descriptors, models.WithUnknownPricingFunc(func(providerName, model string) {
		metricsReg.UnknownPricingTotal.WithLabelValues(providerName, model).Inc()
		bus.Publish(events.Event{
			Type:      events.TypePricingUnknown,
			Component: "registry",
			Model:     providerName + "/" + model,
		})
	}))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var embedder embedding.Embedder
	if cfg.EmbeddingBaseURL != "" {
		embedder = openaicompat.NewEmbedding(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel,
			openaicompat.WithHTTPClient(httpClient))
	}

	qualityPolicy := quality.DefaultPolicy()
	qualityPolicy.FloorThreshold = cfg.QualityFloor
	qualityPolicy.SemanticThreshold = cfg.SemanticThreshold
	qualityPolicy.StrictMode = cfg.StrictQuality
	qualityPolicy.UseSemanticValidation = embedder != nil

	agent, err := cascade.New(cascade.Config{
		Models:   descriptors,
		Registry: registry,
		Quality:  qualityPolicy,
		PreRouter: cascade.PreRouterPolicy{
			SkipDrafterForHard:     cfg.SkipDrafterForHard,
			SkipVerifierForTrivial: cfg.SkipVerifierForTrivial,
		},
		SpeculativeVerifier:  cfg.SpeculativeVerifier,
		CachingEnabled:       cfg.CachingEnabled,
		MaxCostPerRequestUSD: cfg.MaxCostPerRequestUSD,
		Guardrails:           guardrails.New(guardrails.Settings{}),
		GuardrailSettings: guardrails.Settings{
			ContentModeration: cfg.ContentModeration,
			PIIDetection:      cfg.PIIDetection,
		},
		Embedder:         embedder,
		Bus:              bus,
		PerModelTimeout:  time.Duration(cfg.PerModelTimeoutSecs) * time.Second,
		RequestTimeout:   time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		LoadAdmission:    loadAdmissionHook(db, logger),
		PersistAdmission: persistAdmissionHook(db, logger),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rateLimiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(metricsReg.RateLimitedTotal))

	var keyMgr *apikey.Manager
	if cfg.AuthRequired {
		keyMgr = apikey.NewManager(db)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())

	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		MaxAge:         300,
	}))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Agent:       agent,
		Metrics:     metricsReg,
		Store:       db,
		EventBus:    bus,
		Stats:       collector,
		APIKeyMgr:   keyMgr,
		RateLimiter: rateLimiter,
	})

	return &Server{
		cfg:          cfg,
		r:            r,
		agent:        agent,
		store:        db,
		logger:       logger,
		rateLimiter:  rateLimiter,
		otelShutdown: otelShutdown,
	}, nil
}

func buildDescriptor(mc ModelConfig, httpClient *http.Client) models.Descriptor {
	features := provider.NewFeatureSet(
		provider.FeatureTools,
		provider.FeatureStreaming,
		provider.FeatureSystemMessage,
	)
	return models.Descriptor{
		Provider: mc.Provider,
		Name:     mc.Model,
		Pricing: models.Pricing{
			InputPerMTok:  mc.InputPerMTok,
			OutputPerMTok: mc.OutputPerMTok,
		},
		Features: features,
		Client: openaicompat.New(mc.BaseURL, mc.APIKey, mc.Model, features,
			openaicompat.WithHTTPClient(httpClient)),
	}
}

// loadAdmissionHook restores per-identity admission state from the store.
func loadAdmissionHook(db store.Store, logger *slog.Logger) admission.LoadFunc {
	return func(identity string) (admission.Snapshot, bool) {
		data, found, err := db.LoadAdmission(context.Background(), identity)
		if err != nil {
			logger.Warn("load admission snapshot failed",
				slog.String("identity", identity), slog.String("error", err.Error()))
			return admission.Snapshot{}, false
		}
		if !found {
			return admission.Snapshot{}, false
		}
		var snap admission.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			logger.Warn("corrupt admission snapshot",
				slog.String("identity", identity), slog.String("error", err.Error()))
			return admission.Snapshot{}, false
		}
		return snap, true
	}
}

// persistAdmissionHook checkpoints per-identity admission state.
func persistAdmissionHook(db store.Store, logger *slog.Logger) admission.PersistFunc {
	return func(identity string, snap admission.Snapshot) {
		data, err := json.Marshal(snap)
		if err != nil {
			return
		}
		if err := db.SaveAdmission(context.Background(), identity, data); err != nil {
			logger.Warn("persist admission snapshot failed",
				slog.String("identity", identity), slog.String("error", err.Error()))
		}
	}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	s.rateLimiter.Stop()
	if s.otelShutdown != nil {
		if err := s.otelShutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
