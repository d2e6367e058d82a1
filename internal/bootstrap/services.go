package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/data"
	"github.com/marketfeed/catalogd/internal/embedding"
	"github.com/marketfeed/catalogd/internal/hydrator"
	"github.com/marketfeed/catalogd/internal/moderation"
	"github.com/marketfeed/catalogd/internal/observability/statsd"
	"github.com/marketfeed/catalogd/internal/scout"
	"github.com/marketfeed/catalogd/internal/service"
	"github.com/marketfeed/catalogd/internal/vectorindex"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs     *service.JobService
	Sync     *service.SyncService
	Pipeline *service.PipelineService

	// Repositories and capabilities shared with background runners.
	Listings      core.ListingRepository
	SyncJobs      core.SyncJobRepository
	Hydrator      core.Hydrator
	Index         core.VectorIndex
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB          *sql.DB
	JobRepo     *data.JobRepo
	ListingRepo *data.ListingRepo
	SyncJobRepo *data.SyncJobRepo
	SeenCache   core.SeenListingCache
}

// capabilities groups the external-facing pipeline components.
type capabilities struct {
	Discoverer core.Discoverer
	Hydrator   core.Hydrator
	Embedder   core.Embedder
	Reviewer   core.Reviewer
	Index      core.VectorIndex
}

// buildObservability configures the metrics adapter.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "catalogd",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(deps *ServiceDeps) *serviceRepositories {
	repos := &serviceRepositories{
		DB:          deps.DB,
		JobRepo:     data.NewJobRepo(deps.DB, data.RepoConfig{Logger: deps.Logger}),
		ListingRepo: data.NewListingRepo(deps.DB, data.ListingRepoOptions{Logger: deps.Logger}),
		SyncJobRepo: data.NewSyncJobRepo(deps.DB, nil),
	}

	if deps.RedisClient != nil {
		ttl := time.Duration(0)
		if deps.Config != nil {
			ttl = deps.Config.Redis.SeenTTL
		}
		repos.SeenCache = data.NewSeenCacheRepo(deps.RedisClient, ttl)
	}

	return repos
}

// buildCapabilities wires the discovery, hydration, embedding, moderation, and
// index components from configuration.
func buildCapabilities(cfg *config.AppConfig, logger *slog.Logger) (capabilities, error) {
	discoverer := scout.New(scout.Options{Timeout: cfg.Scout.Timeout})

	policy := hydrator.DefaultPolicy()
	if cfg.Hydrator.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Hydrator.MaxAttempts
	}
	hyd := hydrator.New(hydrator.Options{
		BaseURL:           cfg.Hydrator.BaseURL,
		Concurrency:       cfg.Hydrator.Concurrency,
		ItemTimeout:       cfg.Hydrator.ItemTimeout,
		ProbeTimeout:      cfg.Heartbeat.CheckTimeout,
		Policy:            policy,
		RequestsPerSecond: cfg.Hydrator.RequestsPerSecond,
		Logger:            logger,
	})

	embedder := embedding.NewGenerator(embedding.GeneratorOptions{
		Image:  embedding.NewHashImageEncoder(cfg.Embedding.ImageTimeout, nil),
		Logger: logger,
	})

	client, err := moderation.NewClient(moderation.ClientOptions{
		Endpoint: cfg.Moderation.Endpoint,
		Timeout:  cfg.Moderation.Timeout,
		Mapping: moderation.FieldMapping{
			Decision:   cfg.Moderation.DecisionPath,
			Confidence: cfg.Moderation.ConfidencePath,
			Reason:     cfg.Moderation.ReasonPath,
			Flags:      cfg.Moderation.FlagsPath,
		},
	})
	if err != nil {
		return capabilities{}, fmt.Errorf("create moderation client: %w", err)
	}
	reviewer := moderation.NewGate(client, logger)

	var index core.VectorIndex = vectorindex.NewMemory()
	if cfg.VectorIndex.Endpoint != "" {
		remote := vectorindex.NewRemote(vectorindex.RemoteOptions{
			Endpoint: cfg.VectorIndex.Endpoint,
			Timeout:  cfg.VectorIndex.Timeout,
		})
		index = vectorindex.NewFailover(remote, vectorindex.NewMemory(), logger)
	}

	return capabilities{
		Discoverer: discoverer,
		Hydrator:   hyd,
		Embedder:   embedder,
		Reviewer:   reviewer,
		Index:      index,
	}, nil
}

// NewServices wires the full service graph from config and connections.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("config and database are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, deps.Config.Observability)
	repos := buildRepositories(deps)
	caps, err := buildCapabilities(deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	jobService := service.MustNewJobService(service.JobServiceOptions{
		Repo:         repos.JobRepo,
		DefaultLease: deps.Config.Pipeline.JobLease,
		Logger:       logger,
	})

	syncService, err := service.NewSyncService(service.SyncServiceOptions{
		Repo:       repos.SyncJobRepo,
		Jobs:       jobService,
		MaxRetries: deps.Config.Pipeline.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire sync service: %w", err)
	}

	pipelineService, err := service.NewPipelineService(service.PipelineServiceOptions{
		Jobs:       jobService,
		Listings:   repos.ListingRepo,
		SyncJobs:   repos.SyncJobRepo,
		SeenCache:  repos.SeenCache,
		Discoverer: caps.Discoverer,
		Hydrator:   caps.Hydrator,
		Embedder:   caps.Embedder,
		Reviewer:   caps.Reviewer,
		Index:      caps.Index,
		Config:     deps.Config.Pipeline,
		Logger:     logger,
		Metrics:    observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire pipeline service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobService,
		Sync:          syncService,
		Pipeline:      pipelineService,
		Listings:      repos.ListingRepo,
		SyncJobs:      repos.SyncJobRepo,
		Hydrator:      caps.Hydrator,
		Index:         caps.Index,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newPipelineBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModePipeline,
		name: "pipeline workers",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return RunPipeline(ctx, PipelineRunnerConfig{
				Services: deps.cfg.Services,
				Config:   deps.cfg.Config.Pipeline,
				Logger:   deps.logger,
				Metrics:  deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newHeartbeatBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeHeartbeat,
		name: "heartbeat",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return RunHeartbeat(ctx, HeartbeatRunnerConfig{
				Services:   deps.cfg.Services,
				Config:     deps.cfg.Config.Heartbeat,
				MaxRetries: deps.cfg.Config.Pipeline.MaxRetries,
				Logger:     deps.logger,
				Metrics:    deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return RunReaper(ctx, ReaperRunnerConfig{
				DB:      deps.cfg.DB,
				Config:  deps.cfg.Config.Reaper,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newPipelineBackgroundService(deps),
		newHeartbeatBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		jobService:  cfg.Services.Jobs,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	jobService  *service.JobService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context:    shutdownCtx,
			Server:     cfg.httpServer,
			JobService: cfg.jobService,
			Logger:     cfg.logger,
		}); err != nil {
			return err
		}
	} else if cfg.jobService != nil {
		// Without an HTTP server the notifier still holds LISTEN connections.
		cfg.jobService.StopNotifier()
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
