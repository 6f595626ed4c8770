// Package app wires every capability component into one running process,
// following the teacher's Initialize/Start/Shutdown/WaitForShutdown
// lifecycle (internal/app/application.go) generalized from a Gin HTTP API
// plus wallet/funding/investment workers into the audit pipeline's
// ingest/detect/alert/report/gdpr component graph.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auditrail/auditrail/internal/alert"
	"github.com/auditrail/auditrail/internal/compliance"
	"github.com/auditrail/auditrail/internal/config"
	"github.com/auditrail/auditrail/internal/crypto"
	"github.com/auditrail/auditrail/internal/delivery/email"
	delivstorage "github.com/auditrail/auditrail/internal/delivery/storage"
	"github.com/auditrail/auditrail/internal/delivery/webhook"
	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/gdpr"
	"github.com/auditrail/auditrail/internal/health"
	"github.com/auditrail/auditrail/internal/ingest"
	"github.com/auditrail/auditrail/internal/kv"
	"github.com/auditrail/auditrail/internal/logging"
	"github.com/auditrail/auditrail/internal/metrics"
	"github.com/auditrail/auditrail/internal/pattern"
	"github.com/auditrail/auditrail/internal/pkg/util"
	"github.com/auditrail/auditrail/internal/queue"
	"github.com/auditrail/auditrail/internal/scheduler"
	"github.com/auditrail/auditrail/internal/store/postgres"
	"github.com/auditrail/auditrail/internal/tracing"
	"github.com/auditrail/auditrail/internal/validate"
	"github.com/auditrail/auditrail/pkg/circuitbreaker"
)

// Application owns every long-lived component and its lifecycle.
type Application struct {
	cfg *config.Config
	log *logging.Logger

	redis *redis.Client

	Producer  *ingest.Producer
	Store     *postgres.Store
	Alerts    *alert.Engine
	Metrics   *metrics.Collector
	Patterns  *pattern.Engine
	Reports   *compliance.Generator
	GDPR      *gdpr.Controller
	Scheduler *scheduler.Engine
	Health    *health.Checker

	workerPool *queue.WorkerPool
	dlqScanner *queue.DLQScanner
	httpServer *http.Server

	tracingShutdown func(context.Context) error
}

// NewApplication constructs an empty Application; Initialize populates it.
func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration and wires every component, mirroring the
// teacher's Initialize step order: config -> logger -> database -> tracing
// -> dependent services -> workers -> server.
func (a *Application) Initialize() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	a.log = logging.New(cfg.LogLevel, cfg.Environment)

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := postgres.RunMigrations(cfg.Database.URL, cfg.MigrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	shutdown, err := tracing.Init(context.Background(), tracing.Config{
		Enabled:      cfg.Environment != "test",
		CollectorURL: getEnvOrDefault("OTEL_COLLECTOR_URL", "localhost:4317"),
		Environment:  cfg.Environment,
		SampleRate:   tracing.SampleRateFor(cfg.Environment),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracingShutdown = shutdown

	a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})

	pgStore := postgres.New(db)
	dlqRepo := postgres.NewDLQRepository(db)
	alertRepo := postgres.NewAlertRepository(db)
	pseudonymRepo := postgres.NewPseudonymRepository(db)
	schedulerRepo := postgres.NewSchedulerRepository(db)
	a.Store = pgStore

	sealer, encryptor, err := a.buildCrypto()
	if err != nil {
		return fmt.Errorf("failed to initialize crypto: %w", err)
	}

	validator := validate.New(&cfg.Retention)

	kvStore := kv.NewRedisStore(a.redis)
	a.Metrics = metrics.NewCollector(kvStore)

	a.Patterns = pattern.NewEngine(pattern.EngineConfig{
		FailedAuth:         toPatternConfig(cfg.PatternDetection.FailedAuth),
		UnauthorizedAccess: toPatternConfig(cfg.PatternDetection.UnauthorizedAccess),
		DataVelocity:       toPatternConfig(cfg.PatternDetection.DataAccess),
		BulkOperation:      toPatternConfig(cfg.PatternDetection.BulkOperation),
		OffHoursStart:      cfg.PatternDetection.OffHoursStart,
		OffHoursEnd:        cfg.PatternDetection.OffHoursEnd,
	})

	sinks := a.buildAlertSinks(alertRepo)
	cooldown := cfg.Alert.Cooldown
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	a.Alerts = alert.NewEngine(alertRepo, kvStore, sinks, cooldown)

	q := queue.NewRedisStream(a.redis, dlqRepo)
	workerCfg := queue.DefaultWorkerPoolConfig()
	if cfg.Worker.Concurrency > 0 {
		workerCfg.Concurrency = cfg.Worker.Concurrency
	}
	a.workerPool = queue.NewWorkerPool(q, sealer, a.handleMessage(sealer), workerCfg, a.log.Zap())
	a.dlqScanner = queue.NewDLQScanner(dlqRepo, a.Alerts, queue.DLQScannerConfig{
		Interval:         5 * time.Minute,
		ArchiveAfterDays: cfg.DLQ.ArchiveAfterDays,
		MaxRetentionDays: cfg.DLQ.MaxRetentionDays,
		AlertThreshold:   cfg.DLQ.AlertThreshold,
	}, a.log.Zap())

	a.Producer = ingest.New(validator, sealer, q)

	a.Reports = compliance.NewGenerator(pgStore)
	a.GDPR = gdpr.New(pgStore, pseudonymRepo, encryptor, gdprAuditLogger{producer: a.Producer}, cfg.PseudonymSalt)

	deliverers, err := a.buildDeliverers()
	if err != nil {
		return fmt.Errorf("failed to initialize delivery channels: %w", err)
	}
	a.Scheduler = scheduler.NewEngine(schedulerRepo, schedulerRepo, a.Reports, deliverers, scheduler.DefaultEngineConfig(), a.log.Zap())

	a.Health = health.NewChecker(a.Metrics, health.NewAlertCounter(a.Alerts), health.DefaultConfig())

	a.httpServer = a.buildObservabilityServer()

	return nil
}

func toPatternConfig(c config.DetectorConfig) pattern.Config {
	return pattern.Config{Enabled: c.Enabled, Window: c.Window, Threshold: c.Threshold}
}

// buildCrypto selects local or KMS-backed signer/encryptor implementations
// per cfg.KMS.Enabled, the §4.2/§4.9 "KMS disabled" local fallback.
func (a *Application) buildCrypto() (*crypto.Sealer, crypto.Encryptor, error) {
	cfg := a.cfg
	if !cfg.KMS.Enabled {
		signer := crypto.NewLocalHMAC([]byte(cfg.Crypto.EncryptionKey))
		encryptor := crypto.NewLocalEnvelope([]byte(cfg.Crypto.EncryptionKey))
		return crypto.NewSealer(signer), encryptor, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading aws config: %w", err)
	}
	kmsClient := kms.NewFromConfig(awsCfg)
	breaker := circuitbreaker.New(circuitbreaker.Config{
		MaxRequests: 1, Interval: 30 * time.Second, Timeout: 10 * time.Second, FailureThreshold: 5,
	})

	signer := crypto.NewRemoteKMS(kmsClient, cfg.KMS.KeyID, event.SignatureAlgorithm(cfg.KMS.SigningAlgorithm), breaker)
	encryptor := crypto.NewKMSEnvelope(kmsClient, cfg.KMS.KeyID, breaker)
	return crypto.NewSealer(signer), encryptor, nil
}

func (a *Application) buildAlertSinks(repo alert.Repository) []alert.Sink {
	sinks := []alert.Sink{alert.NewDatabaseSink(repo)}

	notif := a.cfg.Monitoring.Notification
	if notif.Enabled && notif.URL != "" {
		client := webhook.New(notif.URL, notif.Credentials["token"])
		sinks = append(sinks, alert.NewWebhookSink(client))
	}
	if a.cfg.Email.APIKey != "" && notif.Credentials["alert_email"] != "" {
		sender := email.New(a.cfg.Email.APIKey, a.cfg.Email.FromEmail, a.cfg.Email.FromName)
		sinks = append(sinks, alert.NewEmailSink(sender, notif.Credentials["alert_email"], alert.SeverityHigh))
	}
	return sinks
}

// buildDeliverers wires the scheduler's three delivery channels, building
// an S3 client only when storage.provider is "s3".
func (a *Application) buildDeliverers() (map[scheduler.DeliveryMethod]scheduler.Deliverer, error) {
	cfg := a.cfg
	deliverers := map[scheduler.DeliveryMethod]scheduler.Deliverer{
		scheduler.DeliveryEmail:   scheduler.NewEmailDeliverer(email.New(cfg.Email.APIKey, cfg.Email.FromEmail, cfg.Email.FromName)),
		scheduler.DeliveryWebhook: scheduler.NewWebhookDeliverer(),
	}

	var s3Client *s3.Client
	if delivstorage.Provider(cfg.Storage.Provider) == delivstorage.ProviderS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config for storage: %w", err)
		}
		s3Client = s3.NewFromConfig(awsCfg)
	}
	channel := delivstorage.NewChannel(s3Client, cfg.Storage.BaseDir)
	storageCfg := delivstorage.Config{
		Provider:     delivstorage.Provider(cfg.Storage.Provider),
		Bucket:       cfg.Storage.Bucket,
		PathTemplate: "{organizationId}/{reportId}.{ext}",
	}
	deliverers[scheduler.DeliveryStorage] = scheduler.NewStorageDeliverer(channel, storageCfg)
	return deliverers, nil
}

// buildObservabilityServer exposes /metrics and /healthz, the ambient
// observability surface spec.md carves out of scope as an HTTP/API edge
// concern but that every component still needs a way to be scraped and
// probed through.
func (a *Application) buildObservabilityServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := a.Health.Check(r.Context(), r.URL.Query().Get("organizationId"))
		w.Header().Set("Content-Type", "application/json")
		if report.Status == health.StatusCritical {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, `{"status":%q}`, report.Status)
	})
	return &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
}

// handleMessage adapts the queue's Handler contract: verify integrity,
// persist, feed pattern detection, and raise alerts for any pattern that
// trips, all per message consumed by the worker pool.
func (a *Application) handleMessage(sealer *crypto.Sealer) queue.Handler {
	return func(ctx context.Context, msg *queue.Message) error {
		result, err := sealer.Verify(ctx, msg.Event)
		if err != nil {
			return aerrors.Wrap(aerrors.KindCrypto, "app", err)
		}
		if !result.HashMatches {
			a.log.Warn("integrity verification failed",
				zap.String("eventId", msg.Event.ID.String()),
				zap.String("principalHash", util.Redact(msg.Event.PrincipalID)),
				zap.String("recomputedHash", result.RecomputedHash),
			)
			return aerrors.New(aerrors.KindIntegrity, "app", "recomputed hash does not match stored hash")
		}

		if err := a.Store.Insert(ctx, msg.Event); err != nil {
			return err
		}

		for _, p := range a.Patterns.Observe(msg.Event) {
			_, err := a.Alerts.Raise(ctx, &alert.Alert{
				OrganizationID: p.OrganizationID,
				Source:         "pattern_detector",
				Type:           string(p.Type),
				Title:          fmt.Sprintf("%s pattern detected", p.Type),
				Description:    fmt.Sprintf("%d events matched group %q within the detection window", p.EventCount, p.GroupKey),
				Severity:       alert.Severity(p.Severity),
				Metadata:       p.Metadata,
			})
			if err != nil {
				a.log.Warn("failed to raise pattern alert", zap.String("type", string(p.Type)), zap.Error(err))
			}
		}
		return nil
	}
}

// Start launches every background loop: the worker pool, the DLQ scanner,
// the scheduler engine, and the observability HTTP server.
func (a *Application) Start() error {
	ctx := context.Background()
	a.workerPool.Start(ctx)
	go a.dlqScanner.Run(ctx)

	if a.cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		a.log.Info("starting observability server", zap.String("addr", a.cfg.MetricsAddr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("observability server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown stops every component in reverse start order, then flushes
// tracing, the teacher's Shutdown/stopWorkers split generalized to this
// component graph.
func (a *Application) Shutdown() error {
	a.log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Warn("observability server forced to shutdown", zap.Error(err))
	}

	if a.cfg.Scheduler.Enabled {
		a.Scheduler.Stop()
	}
	a.workerPool.Stop()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("error closing redis client", zap.Error(err))
		}
	}

	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(context.Background()); err != nil {
			a.log.Warn("error shutting down tracing", zap.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return a.log.Sync()
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *Application) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// gdprAuditLogger adapts ingest.Producer into gdpr.AuditLogger, submitting
// GDPR operation events through the same C1->C3 pipeline as any other
// audit event rather than writing directly to the store.
type gdprAuditLogger struct {
	producer *ingest.Producer
}

func (g gdprAuditLogger) LogEvent(ctx context.Context, e *event.Event) error {
	_, err := g.producer.Submit(ctx, e, ingest.Options{GenerateHash: true, GenerateSignature: true, Sync: true})
	return err
}
