package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gorax/gorax/internal/api/handlers"
	apiMiddleware "github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/credential"
	"github.com/gorax/gorax/internal/eventbus"
	"github.com/gorax/gorax/internal/executor"
	"github.com/gorax/gorax/internal/metrics"
	"github.com/gorax/gorax/internal/queue"
	"github.com/gorax/gorax/internal/resultcache"
	"github.com/gorax/gorax/internal/schedule"
	"github.com/gorax/gorax/internal/tracing"
	"github.com/gorax/gorax/internal/trigger"
	"github.com/gorax/gorax/internal/webhook"
	"github.com/gorax/gorax/internal/worker"
	"github.com/gorax/gorax/internal/workflow"
)

// devCredentialTenant is the tenant scope webhook and engine credential
// lookups resolve against when no per-request tenant is in play. The
// Trigger Manager and Flow Execution Engine operate on owner-scoped
// workflows with no tenant in their call chain, so a single configured
// tenant stands in for "the credential vault this deployment uses."
const devCredentialTenant = "default"

// App holds application dependencies wired from config.
type App struct {
	config *config.Config
	logger *slog.Logger
	db     *sqlx.DB
	redis  *redis.Client
	router *chi.Mux

	metrics          *metrics.Metrics
	metricsRegistry  *prometheus.Registry
	dbStatsCollector *metrics.DBStatsCollector
	metricsStopCtx   context.Context
	metricsStopFunc  context.CancelFunc

	workflowService   *workflow.Service
	scheduleService   *schedule.Service
	credentialService credential.Service
	webhookRouter     *webhook.Router
	triggerManager    *trigger.Manager
	engine            *executor.Engine
	eventBus          *eventbus.Bus
	resultCache       *resultcache.Cache
	scheduler         *schedule.Scheduler

	healthHandler     *handlers.HealthHandler
	workflowHandler   *handlers.WorkflowHandler
	executionHandler  *handlers.ExecutionHandler
	scheduleHandler   *handlers.ScheduleHandler
	credentialHandler *handlers.CredentialHandler
	webhookHandler    *handlers.WebhookHandler
}

// NewApp wires the database, caches, services, and HTTP handlers that
// make up the API process.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)
	app.db = db

	app.metrics = metrics.NewMetrics()
	app.metricsRegistry = prometheus.NewRegistry()
	if err := app.metrics.Register(app.metricsRegistry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	app.metricsStopCtx, app.metricsStopFunc = context.WithCancel(context.Background())
	app.dbStatsCollector = metrics.NewDBStatsCollector(app.metrics, db.DB, "main", logger)
	go app.dbStatsCollector.Start(app.metricsStopCtx, 15*time.Second)

	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	app.eventBus = eventbus.New(logger)
	app.resultCache = resultcache.New(app.redis, logger)

	workflowRepo := workflow.NewRepository(db)
	scheduleRepo := schedule.NewRepository(db)
	credentialRepo := credential.NewRepositoryWithMetrics(db, app.metrics)

	app.workflowService = workflow.NewService(workflowRepo, logger)
	app.scheduleService = schedule.NewService(scheduleRepo, logger)

	encryptionService, err := buildEncryptionService(cfg.Credential, logger)
	if err != nil {
		return nil, err
	}
	app.credentialService = credential.NewServiceImpl(credentialRepo, encryptionService, logger)
	credentialStore := credential.NewServiceStore(app.credentialService, devCredentialTenant)

	app.webhookRouter = webhook.NewRouter(credentialStore)
	app.workflowService.SetTriggerSync(&compositeTriggerSync{webhook: app.webhookRouter, schedule: app.scheduleService})

	app.engine = executor.NewEngine(workflowRepo, logger)
	app.engine.SetEventBus(app.eventBus)
	app.engine.SetResultCache(app.resultCache)
	app.workflowService.SetExecutor(app.engine)

	triggerCfg := trigger.Config{
		MaxGlobalConcurrent:      cfg.Trigger.MaxGlobalConcurrent,
		MaxPerWorkflowConcurrent: cfg.Trigger.MaxPerWorkflowConcurrent,
		MaxPerUserConcurrent:     cfg.Trigger.MaxPerUserConcurrent,
		ConflictPolicy:           trigger.ConflictPolicy(cfg.Trigger.ConflictPolicy),
		MaxQueueSize:             cfg.Trigger.MaxQueueSize,
		QueueTimeout:             cfg.Trigger.QueueTimeout,
	}

	dispatcher, err := buildDispatcher(cfg, workflowRepo, app.workflowService, logger)
	if err != nil {
		return nil, err
	}
	app.triggerManager = trigger.New(triggerCfg, dispatcher, logger)

	app.scheduler = schedule.NewScheduler(
		app.scheduleService,
		schedule.NewWorkflowServiceAdapter(scheduledExecuteFunc(app.triggerManager)),
		logger,
	)
	app.scheduler.SetTerminator(&triggerTerminatorAdapter{manager: app.triggerManager})
	app.scheduler.SetOverlapHandler(schedule.NewOverlapHandler(scheduleRepo, logger))
	app.scheduler.SetLocker(app.redis)
	if err := app.scheduler.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	app.healthHandler = handlers.NewHealthHandler(db, app.redis)
	app.workflowHandler = handlers.NewWorkflowHandler(app.workflowService, logger)
	app.executionHandler = handlers.NewExecutionHandler(app.workflowService, logger)
	app.scheduleHandler = handlers.NewScheduleHandler(app.scheduleService, logger)
	app.credentialHandler = handlers.NewCredentialHandler(app.credentialService, logger)
	app.webhookHandler = handlers.NewWebhookHandler(app.webhookRouter, app.triggerManager, app.resultCache, logger)

	app.setupRouter()

	return app, nil
}

// buildEncryptionService selects KMS-backed or master-key-backed
// credential encryption per CredentialConfig.UseKMS.
func buildEncryptionService(cfg config.CredentialConfig, logger *slog.Logger) (credential.EncryptionServiceInterface, error) {
	if cfg.UseKMS {
		if cfg.KMSKeyID == "" {
			return nil, fmt.Errorf("CREDENTIAL_KMS_KEY_ID is required when USE_KMS is true")
		}
		awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(), awsConfig.WithRegion(cfg.KMSRegion))
		if err != nil {
			return nil, fmt.Errorf("load AWS config for KMS: %w", err)
		}
		kmsClient := kms.NewFromConfig(awsCfg)
		svc := credential.NewEncryptionService(credential.NewAWSKMSClient(kmsClient, cfg.KMSKeyID))
		logger.Info("credential encryption initialized", "mode", "kms", "key_id", cfg.KMSKeyID, "region", cfg.KMSRegion)
		return credential.NewKMSEncryptionAdapter(svc, cfg.KMSKeyID), nil
	}

	masterKey, err := base64.StdEncoding.DecodeString(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode credential master key: %w", err)
	}
	simple, err := credential.NewSimpleEncryptionService(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create simple encryption service: %w", err)
	}
	logger.Warn("credential encryption initialized", "mode", "simple", "warning", "use KMS in production")
	return credential.NewSimpleEncryptionAdapter(simple), nil
}

// buildDispatcher selects how the Trigger Manager hands an admitted
// request to the Flow Execution Engine. By default it dispatches
// in-process through workflowService. When cfg.Queue.Enabled, it instead
// publishes the admitted execution to SQS so any worker replica running
// cmd/worker can pick it up, trading in-process latency for horizontal
// fan-out.
func buildDispatcher(cfg *config.Config, workflowRepo *workflow.Repository, workflowService *workflow.Service, logger *slog.Logger) (trigger.Dispatcher, error) {
	if !cfg.Queue.Enabled {
		return workflowService, nil
	}
	if cfg.AWS.SQSQueueURL == "" {
		return nil, fmt.Errorf("AWS_SQS_QUEUE_URL is required when queue is enabled")
	}

	sqsClient, err := queue.NewSQSClient(context.Background(), queue.SQSConfig{
		QueueURL:        cfg.AWS.SQSQueueURL,
		DLQueueURL:      cfg.AWS.SQSDLQueueURL,
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create SQS client: %w", err)
	}

	logger.Info("dispatching admitted executions through SQS", "queue_url", cfg.AWS.SQSQueueURL)
	return worker.NewQueueDispatcher(workflowRepo, queue.NewPublisher(sqsClient, logger), logger), nil
}

// scheduledExecuteFunc submits a cron tick's admission request through
// the Trigger Manager, so scheduled runs are subject to the same
// concurrency caps and conflict policy as every other trigger source.
// The firing job already carries the node id its trigger lives on, so
// unlike the teacher's original there is no re-fetch of the workflow
// definition to find it, and a workflow with several schedule triggers
// fires each independently.
func scheduledExecuteFunc(manager *trigger.Manager) func(ctx context.Context, job *schedule.ScheduledJob) (string, error) {
	return func(ctx context.Context, job *schedule.ScheduledJob) (string, error) {
		triggerData := []byte(`{"jobKey":"` + job.JobKey + `"}`)
		execution, err := manager.Submit(ctx, trigger.Request{
			WorkflowID:    job.WorkflowID,
			TriggerNodeID: job.NodeID,
			TriggerData:   triggerData,
			Source:        trigger.SourceSchedule,
		})
		if err != nil {
			return "", err
		}
		return execution.ID, nil
	}
}

// compositeTriggerSync fans workflow.TriggerSync out to the webhook
// router and the schedule service, each of which owns the variant
// subset of TriggerDefinitions it cares about.
type compositeTriggerSync struct {
	webhook  *webhook.Router
	schedule *schedule.Service
}

func (c *compositeTriggerSync) SyncTriggers(ctx context.Context, workflowID string, triggers []workflow.TriggerDefinition) error {
	if err := c.webhook.SyncTriggers(ctx, workflowID, triggers); err != nil {
		return err
	}
	return c.schedule.SyncTriggers(ctx, workflowID, triggers)
}

func (c *compositeTriggerSync) RemoveTriggers(ctx context.Context, workflowID string) error {
	if err := c.webhook.RemoveTriggers(ctx, workflowID); err != nil {
		return err
	}
	return c.schedule.RemoveTriggers(ctx, workflowID)
}

// triggerTerminatorAdapter satisfies schedule.ExecutionTerminator over
// the Trigger Manager's admission-scoped cancel.
type triggerTerminatorAdapter struct {
	manager *trigger.Manager
}

func (t *triggerTerminatorAdapter) TerminateExecution(ctx context.Context, executionID string) error {
	return t.manager.Cancel(executionID)
}

// Router returns the HTTP handler serving the API.
func (a *App) Router() http.Handler {
	return a.router
}

// Close releases background resources and connections.
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.metricsStopFunc != nil {
		a.metricsStopFunc()
	}
	if a.dbStatsCollector != nil {
		a.dbStatsCollector.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	return nil
}

func (a *App) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.StructuredLoggerWithConfig(a.logger, apiMiddleware.HTTPLoggerConfig{
		LogLevel: parseHTTPLogLevel(a.config.Log.HTTPLogLevel),
	}))
	r.Use(apiMiddleware.SecurityHeaders(apiMiddleware.NewSecurityHeadersConfig(a.config.SecurityHeader)))

	if a.config.Observability.TracingEnabled {
		r.Use(tracing.HTTPMiddleware())
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	corsMiddleware, err := apiMiddleware.NewCORSMiddleware(a.config.CORS, a.config.Server.Env)
	if err != nil {
		a.logger.Error("failed to create CORS middleware, refusing to serve cross-origin requests", "error", err)
	} else {
		r.Use(corsMiddleware)
	}

	r.Use(apiMiddleware.RateLimitMiddleware(a.redis, apiMiddleware.DefaultRateLimitConfig(), a.logger))
	r.Use(apiMiddleware.RequestValidation(apiMiddleware.DefaultRequestValidationConfig()))

	r.Get("/health", a.healthHandler.Health)
	r.Get("/ready", a.healthHandler.Ready)

	if a.config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(a.metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if a.config.Server.Env == "development" {
			r.Use(apiMiddleware.DevAuth())
		} else {
			r.Use(apiMiddleware.KratosAuth(a.config.Kratos))
		}

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", a.workflowHandler.List)
			r.Post("/", a.workflowHandler.Create)
			r.Get("/{workflowID}", a.workflowHandler.Get)
			r.Put("/{workflowID}", a.workflowHandler.Update)
			r.Delete("/{workflowID}", a.workflowHandler.Delete)
			r.Post("/{workflowID}/execute", a.workflowHandler.Execute)
			r.Put("/{workflowID}/active", a.workflowHandler.SetActive)

			r.Get("/{workflowID}/schedules", a.scheduleHandler.List)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", a.executionHandler.ListExecutions)
			r.Get("/{executionID}", a.executionHandler.GetExecution)
			r.Get("/{executionID}/nodes", a.executionHandler.GetNodeExecutions)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", a.scheduleHandler.ListAll)
			r.Get("/{jobKey}", a.scheduleHandler.Get)
			r.Post("/parse-cron", a.scheduleHandler.ParseCron)
			r.Post("/preview", a.scheduleHandler.PreviewSchedule)
			r.Get("/{jobKey}/executions", a.scheduleHandler.ListExecutionHistory)
			r.Get("/{jobKey}/executions/{logID}", a.scheduleHandler.GetExecutionLog)
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", a.credentialHandler.List)
			r.Post("/", a.credentialHandler.Create)
			r.Get("/{credentialID}", a.credentialHandler.Get)
			r.Get("/{credentialID}/value", a.credentialHandler.GetValue)
			r.Put("/{credentialID}", a.credentialHandler.Update)
			r.Delete("/{credentialID}", a.credentialHandler.Delete)
			r.Post("/{credentialID}/rotate", a.credentialHandler.Rotate)
			r.Get("/{credentialID}/versions", a.credentialHandler.ListVersions)
			r.Get("/{credentialID}/access-log", a.credentialHandler.GetAccessLog)
			r.Post("/{credentialID}/test", a.credentialHandler.Test)
			r.Get("/types", a.credentialHandler.GetTypes)
			r.Post("/validate-type", a.credentialHandler.ValidateType)
		})
	})

	// Webhook trigger endpoint: public, authenticated per-route via the
	// webhook's own configured auth rather than the session middleware.
	r.HandleFunc("/webhooks/*", a.webhookHandler.Handle)

	a.router = r
}

func parseHTTPLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
