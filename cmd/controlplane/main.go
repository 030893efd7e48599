// Command controlplane is the composition root for the sandbox control
// plane: it wires config, storage, the container backends, the warm pool,
// the scheduler, the background reconcilers, and the HTTP API together and
// serves until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/backend/docker"
	k8sbackend "github.com/kweaver-ai/sandboxctl/internal/backend/kubernetes"
	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/callback"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/config"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/httpapi"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
	"github.com/kweaver-ai/sandboxctl/internal/reconcile"
	"github.com/kweaver-ai/sandboxctl/internal/repository/postgres"
	"github.com/kweaver-ai/sandboxctl/internal/scheduler"
	"github.com/kweaver-ai/sandboxctl/internal/services"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
	"github.com/kweaver-ai/sandboxctl/internal/warmpool"
)

func main() {
	logging.Initialize(getLogLevel(), os.Getenv("LOG_PRETTY") == "true")
	log := logging.Log

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := postgres.Open(postgres.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	sessionRepo := postgres.NewSessionRepository(db)
	executionRepo := postgres.NewExecutionRepository(db)
	templateRepo := postgres.NewTemplateRepository(db)
	nodeRepo := postgres.NewRuntimeNodeRepository(db)

	objects, err := storage.NewS3Store(storage.S3Config{
		Bucket:          cfg.ObjectStoreBucket,
		Region:          cfg.ObjectStoreRegion,
		Endpoint:        cfg.ObjectStoreEndpoint,
		AccessKeyID:     cfg.ObjectStoreAccessKey,
		SecretAccessKey: cfg.ObjectStoreSecretKey,
		UseSSL:          cfg.ObjectStoreUseSSL,
		PathStyle:       true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize object store")
	}

	backends, primaryBackend := buildBackends(cfg)

	schedCfg := scheduler.Config{
		ControlPlaneURL:  cfg.ControlPlaneURL,
		InternalAPIToken: cfg.InternalAPIToken,
		ExecutorPort:     cfg.ExecutorPort,
		DisableBwrap:     cfg.DisableBwrap,
		ManagedByLabel:   "sandbox-control-plane",
	}

	warmCreator := scheduler.NewWarmCreator(schedCfg, templateRepo, primaryBackend)
	poolConfigs, err := warmpool.LoadConfigFile(os.Getenv("WARM_POOL_CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load warm pool config")
	}
	if len(poolConfigs) == 0 {
		poolConfigs = map[string]domain.TemplatePoolConfig{}
	}
	pool := warmpool.New(primaryBackend, warmCreator, poolConfigs, clock.Real())

	sched := scheduler.New(schedCfg, nodeRepo, pool, backends, clock.Real())

	sessionSvc := services.NewSessionService(sessionRepo, templateRepo, sched, objects, clock.Real(), cfg.ObjectStoreBucket)
	executionSvc := services.NewExecutionService(sessionRepo, executionRepo, sched, clock.Real())
	templateSvc := services.NewTemplateService(templateRepo)
	fileSvc := services.NewFileService(sessionRepo, objects, cfg.PresignTTL)

	publisher := events.NewPublisher(events.Config{URL: cfg.NATSURL})
	defer publisher.Close()

	respCache, err := cache.New(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Enabled:  cfg.RedisEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis cache unavailable, continuing without it")
		respCache, _ = cache.New(cache.Config{Enabled: false})
	}
	defer respCache.Close()

	callbackSink := callback.New(sessionRepo, executionRepo, clock.Real())

	router := httpapi.NewRouter(httpapi.Dependencies{
		Sessions:         sessionSvc,
		Executions:       executionSvc,
		Templates:        templateSvc,
		Files:            fileSvc,
		Callbacks:        callbackSink,
		Cache:            respCache,
		InternalAPIToken: cfg.InternalAPIToken,
	})

	ctx, cancelReconcilers := context.WithCancel(context.Background())
	defer cancelReconcilers()

	cleanup := reconcile.NewCleanup(sessionRepo, objects, backends, clock.Real(), cfg.CleanupInterval, cfg.IdleTimeout, cfg.MaxSessionLifetime)
	go cleanup.Start(ctx)

	stateSync := reconcile.NewStateSync(sessionRepo, templateRepo, backends, clock.Real(), cfg.StateSyncInterval, cfg.StateSyncFanOut)
	go stateSync.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	cancelReconcilers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	} else {
		log.Info().Msg("http server stopped gracefully")
	}
}

func buildBackends(cfg *config.Config) (map[string]backend.ContainerBackend, backend.ContainerBackend) {
	log := logging.Log
	backends := map[string]backend.ContainerBackend{}

	var primary backend.ContainerBackend
	switch cfg.Backend {
	case config.BackendKubernetes:
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load in-cluster kubernetes config")
		}
		clientset, err := k8sclient.NewForConfig(restCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build kubernetes clientset")
		}
		b := k8sbackend.New(clientset, cfg.KubernetesNamespace, k8sbackend.VolumeEmptyDirSidecar, "", "")
		backends["kubernetes"] = b
		primary = b
	default:
		b, err := docker.New(context.Background(), cfg.DockerHost, "sandboxctl")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to docker")
		}
		backends["docker"] = b
		primary = b
	}
	return backends, primary
}

func getEnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getLogLevel() string {
	return getEnvOr("LOG_LEVEL", "info")
}
