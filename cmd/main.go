package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adam314315/rossbackend-sub000/internal/db"
	"github.com/adam314315/rossbackend-sub000/internal/handlers"
	"github.com/adam314315/rossbackend-sub000/internal/jobs"
	"github.com/adam314315/rossbackend-sub000/internal/jobs/pipeline"
	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/scheduler"
	"github.com/adam314315/rossbackend-sub000/internal/server"
	"github.com/adam314315/rossbackend-sub000/internal/services"
	"github.com/adam314315/rossbackend-sub000/internal/strategies"
	"github.com/adam314315/rossbackend-sub000/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	httpPort := utils.GetEnv("HTTP_PORT", "8080", log)
	registerBatchSize := utils.GetEnvAsInt("REGISTER_BATCH_SIZE", 100, log)
	assemblyPageSize := utils.GetEnvAsInt("ASSEMBLY_PAGE_SIZE", 100, log)
	schedulerIntervalSec := utils.GetEnvAsInt("SCHEDULER_INTERVAL_SECONDS", 30, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	chainRepo := repos.NewChainRepo(thePG, log)
	fileInfoRepo := repos.NewFileInfoRepo(thePG, log)
	acquisitionFileRepo := repos.NewAcquisitionFileRepo(thePG, log)
	productRepo := repos.NewProductRepo(thePG, log)
	jobRunRepo := repos.NewJobRunRepo(thePG, log)

	// Strategies
	log.Info("Setting up strategy registry from main...")
	registry := strategies.NewRegistry()
	mustRegister := func(err error) {
		if err != nil {
			log.Error("Strategy registration failed", "error", err)
			os.Exit(1)
		}
	}
	mustRegister(registry.RegisterScan("glob", strategies.NewGlobScanStrategy("*")))
	mustRegister(registry.RegisterValidation("always_valid", strategies.AlwaysValidStrategy{}))
	mustRegister(registry.RegisterValidation("non_empty", strategies.NewExtensionValidationStrategy()))
	mustRegister(registry.RegisterNaming("filename", strategies.NewFilenameNamingStrategy("_QL", "_quicklook")))
	mustRegister(registry.RegisterGeneration("json_manifest", strategies.JSONPackageGenerationStrategy{}))
	mustRegister(registry.RegisterPostProcess("noop", strategies.NoopPostProcessStrategy{}))

	// Services
	log.Info("Setting up Services from main...")
	scanService := services.NewScanService(thePG, log, acquisitionFileRepo, fileInfoRepo, chainRepo, registry, registerBatchSize)
	assemblyService := services.NewAssemblyService(thePG, log, acquisitionFileRepo, productRepo, jobRunRepo, registry, assemblyPageSize)
	runService := services.NewRunService(thePG, log, chainRepo, productRepo, jobRunRepo, assemblyPageSize)
	retryService := services.NewRetryService(thePG, log, productRepo, jobRunRepo, assemblyPageSize)
	ingestClient := services.NewLoggingIngestClient(log)
	eventRouter := services.NewEventRouter(thePG, log, productRepo, jobRunRepo, runService, ingestClient)

	// Job runtime
	log.Info("Setting up job runtime from main...")
	jobRegistry := jobs.NewRegistry()
	mustHandle := func(err error) {
		if err != nil {
			log.Error("Job handler registration failed", "error", err)
			os.Exit(1)
		}
	}
	mustHandle(jobRegistry.Register(pipeline.NewProductAcquisitionHandler(log, chainRepo, scanService, assemblyService, runService, retryService)))
	mustHandle(jobRegistry.Register(pipeline.NewSIPGenerationHandler(log, chainRepo, productRepo, acquisitionFileRepo, registry)))
	mustHandle(jobRegistry.Register(pipeline.NewProductDeletionHandler(thePG, log, chainRepo, productRepo, acquisitionFileRepo, jobRunRepo, assemblyPageSize)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker := jobs.NewWorker(thePG, log, jobRunRepo, jobRegistry, eventRouter)
	worker.Start(ctx)

	// Scheduler
	autoScheduler := scheduler.New(log, runService, time.Duration(schedulerIntervalSec)*time.Second)
	autoScheduler.Start(ctx)

	// Router
	log.Info("Setting up router from main...")
	monitorHandler := handlers.NewMonitorHandler(chainRepo, productRepo, acquisitionFileRepo)
	router := server.NewRouter(server.RouterConfig{
		MonitorHandler: monitorHandler,
	})

	log.Info("Starting HTTP server", "port", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatal("HTTP server exited", "error", err)
	}
}
