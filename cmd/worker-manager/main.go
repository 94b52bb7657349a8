// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	"notification-workers/internal/api"
	"notification-workers/internal/common/aws"
	"notification-workers/internal/common/camunda"
	"notification-workers/internal/common/config"
	"notification-workers/internal/common/database"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/observability"
	"notification-workers/internal/delivery"
	"notification-workers/internal/delivery/eventsink"
	"notification-workers/internal/dispatch"
	"notification-workers/internal/localization"
	"notification-workers/internal/models"
	"notification-workers/internal/rendering"
	"notification-workers/internal/templates"
	"notification-workers/internal/transport"
	"notification-workers/internal/transport/email"
	"notification-workers/internal/transport/sms"
	"notification-workers/internal/transport/socket"
	dn "notification-workers/internal/workers/notification/deliver-notification"
	rt "notification-workers/internal/workers/notification/resolve-template"
	"notification-workers/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	zapLog.Info("Starting notification worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("observability init failed, using no-op instruments", zap.Error(err))
		obs = observability.NewNoop()
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.ReadinessCheck{}

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: cfg.Camunda.UsePlaintext,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()
	checks["zeebe"] = zeebe.HealthCheck
	zapLog.Info("Zeebe client connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(ctx, cfg.Database.Redis)
			return err
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		checks["redis"] = rdb.Ping
		zapLog.Info("Redis connected successfully")
	}

	// --- Template store ---
	store, closeStore := openTemplateStore(ctx, cfg, checks, zapLog)
	defer closeStore()

	var history templates.HistoryStore
	if cfg.Templates.HistoryBackend == "redis" && rdb != nil {
		history = templates.NewRedisHistory(rdb.Client, cfg.Templates.HistoryLimit)
	}

	templateService := templates.NewService(templates.Config{
		HistoryLimit:    cfg.Templates.HistoryLimit,
		DefaultLanguage: cfg.Templates.DefaultLanguage,
	}, store, history, log,
		templates.WithObserver(obs),
		templates.WithTracer(obs.Tracer()),
	)
	defer templateService.Wait()

	if cfg.Templates.SeedFile != "" {
		seedTemplates(ctx, templateService, cfg.Templates.SeedFile, zapLog)
	}

	// --- Localization ---
	var translator localization.Translator
	if cfg.Localization.Translator.URL != "" {
		translator = localization.NewHTTPTranslator(localization.TranslatorConfig{
			URL:     cfg.Localization.Translator.URL,
			APIKey:  cfg.Localization.Translator.APIKey,
			Timeout: config.GetDuration(cfg.Localization.Translator.Timeout),
		})
	}
	localizationService := localization.NewService(localization.Config{
		DefaultLanguage:    cfg.Localization.DefaultLanguage,
		SupportedLanguages: cfg.Localization.SupportedLanguages,
		FallbackChain:      cfg.Localization.FallbackChain,
		CacheTTL:           config.GetDuration(cfg.Localization.TranslationCache.TTL),
		CacheMaxEntries:    cfg.Localization.TranslationCache.MaxEntries,
	}, store, translator, templateService, log)
	templateService.SetResolver(localizationService)

	// --- Channel manager ---
	strategies := buildStrategies(ctx, cfg, rdb, log, zapLog)
	if len(strategies) == 0 {
		zapLog.Fatal("no delivery channel enabled")
	}

	var retries delivery.RetryStore
	if rdb != nil {
		retries = delivery.NewRedisRetryStore(rdb.Client, cfg.Delivery.RetryKey)
	}

	manager := delivery.NewManager(delivery.Config{
		Retry: delivery.RetryPolicy{
			BaseDelay:  config.GetDuration(cfg.Delivery.Retry.BaseDelay),
			Multiplier: cfg.Delivery.Retry.Multiplier,
			MaxDelay:   config.GetDuration(cfg.Delivery.Retry.MaxDelay),
			MaxRetries: cfg.Delivery.Retry.MaxRetries,
		},
		Health: delivery.HealthConfig{
			SoftFailures: cfg.Delivery.Health.SoftFailures,
			HardFailures: cfg.Delivery.Health.HardFailures,
			Cooldown:     config.GetDuration(cfg.Delivery.Health.Cooldown),
		},
		EventBuffer:    cfg.Delivery.Events.Buffer,
		AttemptTimeout: config.GetDuration(cfg.Delivery.AttemptTimeout),
	}, strategies, retries, log, delivery.WithTracer(obs.Tracer()))

	// --- Event sinks ---
	var sinks []eventsink.Sink
	if cfg.Delivery.Events.RedisChannel != "" && rdb != nil {
		sinks = append(sinks, eventsink.NewRedisPublisher(rdb.Client, cfg.Delivery.Events.RedisChannel))
	}
	var audit *eventsink.ElasticsearchAudit
	if cfg.Delivery.Events.Audit && cfg.Database.Elasticsearch.Enabled() {
		audit = openAudit(ctx, cfg, checks, zapLog)
		sinks = append(sinks, audit)
	}
	sinkDone := make(chan struct{})
	if len(sinks) > 0 {
		events, _ := manager.Subscribe()
		go func() {
			defer close(sinkDone)
			eventsink.Run(ctx, events, log, sinks...)
		}()
	} else {
		close(sinkDone)
	}

	if n, err := manager.Recover(ctx); err != nil {
		zapLog.Error("retry recovery failed", zap.Error(err))
	} else if n > 0 {
		zapLog.Info("pending retries resumed", zap.Int("count", n))
	}

	emailOpts := rendering.DefaultEmailOptions()
	if cfg.Notifications.Email.BrandName != "" {
		emailOpts.BrandName = cfg.Notifications.Email.BrandName
	}
	if cfg.Notifications.Email.FooterText != "" {
		emailOpts.FooterText = cfg.Notifications.Email.FooterText
	}
	dispatcher := dispatch.NewDispatcher(
		templateService, manager, emailOpts, cfg.Notifications.SMS.MaxLength, log,
	)

	// --- Register Workers ---
	var workers []*camunda.Worker

	if wcfg := config.GetWorkerConfig(cfg, dn.TaskType); wcfg.Enabled {
		handler := dn.NewHandler(&dn.Config{
			Timeout:         config.GetDuration(wcfg.Timeout),
			DefaultPriority: string(models.PriorityMedium),
			Completer:       zeebe.Completer(),
		}, dispatcher, log)
		workers = append(workers, startWorker(zeebe.GetClient(), dn.TaskType, wcfg, handler.Handle, obs, log))
	}

	if wcfg := config.GetWorkerConfig(cfg, rt.TaskType); wcfg.Enabled {
		handler := rt.NewHandler(&rt.Config{
			Timeout:   config.GetDuration(wcfg.Timeout),
			Completer: zeebe.Completer(),
		}, localizationService, log)
		workers = append(workers, startWorker(zeebe.GetClient(), rt.TaskType, wcfg, handler.Handle, obs, log))
	}
	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- HTTP: health, metrics, webhooks, admin ---
	deps := api.Dependencies{
		Channels:   manager,
		Templates:  templateService,
		Dispatcher: dispatcher,
		Checks:     checks,
	}
	if audit != nil {
		deps.Audit = audit
	}
	server := api.NewServer(api.Config{
		Port:            cfg.Server.Port,
		ReadTimeout:     config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout:    config.GetDuration(cfg.Server.WriteTimeout),
		ShutdownTimeout: config.GetDuration(cfg.Server.ShutdownTimeout),
		TrackingBuffer:  cfg.Server.TrackingBuffer,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, deps, log)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx); err != nil {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	for _, w := range workers {
		w.Stop()
	}
	<-serverDone
	manager.Close()
	<-sinkDone

	zapLog.Info("Worker manager stopped gracefully")
}

func startWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handlerFunc worker.JobHandler, obs camunda.JobObserver, log logger.Logger) *camunda.Worker {
	return camunda.NewWorker(client, camunda.WorkerOptions{
		TaskType:      taskType,
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       config.GetDuration(wcfg.Timeout),
		Observer:      obs,
	}, handlerFunc, log)
}

// openTemplateStore connects the configured backend and registers its
// readiness check. The returned func closes the connection.
func openTemplateStore(ctx context.Context, cfg *config.Config, checks map[string]api.ReadinessCheck, zapLog *zap.Logger) (templates.Store, func()) {
	switch cfg.Templates.Store {
	case "postgres":
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(ctx, cfg.Database.Postgres)
			return err
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		store := templates.NewPostgresStore(pg.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("template schema setup failed", zap.Error(err))
		}
		checks["postgres"] = pg.Ping
		zapLog.Info("PostgreSQL connected successfully")
		return store, func() { _ = pg.Close() }

	case "mongo":
		var mc *database.MongoClient
		err := retryWithBackoff(func() error {
			var err error
			mc, err = database.NewMongo(ctx, cfg.Database.Mongo)
			return err
		}, 15, 2*time.Second, zapLog, "MongoDB connection")
		if err != nil {
			zapLog.Fatal("mongo failed after retries", zap.Error(err))
		}
		store := templates.NewMongoStore(mc.Templates())
		if err := store.EnsureIndexes(ctx); err != nil {
			zapLog.Fatal("template index setup failed", zap.Error(err))
		}
		checks["mongo"] = mc.Ping
		zapLog.Info("MongoDB connected successfully")
		return store, func() { _ = mc.Close(context.Background()) }

	default:
		zapLog.Warn("using in-memory template store; templates are lost on restart")
		return templates.NewMemoryStore(), func() {}
	}
}

func seedTemplates(ctx context.Context, svc *templates.Service, path string, zapLog *zap.Logger) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		zapLog.Error("template seed file unreadable", zap.String("path", path), zap.Error(err))
		return
	}
	res, err := registry.Seed(ctx, svc, reg, "worker-manager", false)
	if err != nil {
		zapLog.Error("template seeding failed", zap.Error(err))
		return
	}
	zapLog.Info("templates seeded",
		zap.Strings("created", res.Created),
		zap.Int("skipped", len(res.Skipped)),
		zap.Strings("failed", res.Failed),
	)
}

func openAudit(ctx context.Context, cfg *config.Config, checks map[string]api.ReadinessCheck, zapLog *zap.Logger) *eventsink.ElasticsearchAudit {
	var es *database.ElasticsearchClient
	err := retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}

	audit := eventsink.NewElasticsearchAudit(es.Client, es.Index)
	if err := audit.EnsureIndex(ctx); err != nil {
		zapLog.Warn("audit index setup failed", zap.Error(err))
	}
	checks["elasticsearch"] = es.Ping
	zapLog.Info("Elasticsearch connected successfully")
	return audit
}

// buildStrategies creates one strategy per enabled channel with its
// provider and rate limiter.
func buildStrategies(ctx context.Context, cfg *config.Config, rdb *database.RedisClient, log logger.Logger, zapLog *zap.Logger) []delivery.Strategy {
	limiter := func(ch models.Channel) delivery.RateLimit {
		rl := cfg.Delivery.RateLimits[string(ch)]
		return delivery.RateLimit{PerSecond: rl.PerSecond, Burst: rl.Burst}
	}
	var strategies []delivery.Strategy
	awsClients := aws.NewClients(cfg.AWS.Region)

	if cfg.Notifications.Socket.Enabled {
		if rdb == nil {
			zapLog.Fatal("socket channel requires redis")
		}
		gateway := socket.NewRedisGateway(rdb.Client, cfg.Notifications.Socket.Prefix)
		strategies = append(strategies, delivery.NewSocketStrategy(
			gateway, cfg.Notifications.Socket.BroadcastThreshold,
			delivery.NewLimiter(limiter(models.ChannelWebsocket)),
		))
	}

	if ec := cfg.Notifications.Email; ec.Enabled {
		var sender transport.EmailSender
		switch ec.Provider {
		case "ses":
			client, err := awsClients.SES(ctx)
			if err != nil {
				zapLog.Fatal("ses client init failed", zap.Error(err))
			}
			sender = email.NewSESSender(client, ec.FromEmail, ec.ConfigurationSet)
		case "smtp":
			sender = email.NewSMTPSender(email.SMTPConfig{
				Host:     ec.SMTP.Host,
				Port:     ec.SMTP.Port,
				Username: ec.SMTP.Username,
				Password: ec.SMTP.Password,
				From:     ec.FromEmail,
				UseTLS:   ec.SMTP.UseTLS,
			})
		case "mailgun":
			sender = email.NewMailgunSender(email.MailgunConfig{
				Domain:  ec.Mailgun.Domain,
				APIKey:  ec.Mailgun.APIKey,
				APIBase: ec.Mailgun.APIBase,
				From:    ec.FromEmail,
			})
		default:
			sender = transport.NewLogSender(log)
		}
		strategies = append(strategies, delivery.NewEmailStrategy(sender, delivery.NewLimiter(limiter(models.ChannelEmail))))
		zapLog.Info("email channel enabled", zap.String("provider", ec.Provider))
	}

	if sc := cfg.Notifications.SMS; sc.Enabled {
		var sender transport.SMSSender
		switch sc.Provider {
		case "sns":
			client, err := awsClients.SNS(ctx)
			if err != nil {
				zapLog.Fatal("sns client init failed", zap.Error(err))
			}
			sender = sms.NewSNSSender(client, sc.SenderID)
		case "twilio":
			sender = sms.NewTwilioSender(sms.TwilioConfig{
				AccountSID: sc.Twilio.AccountSID,
				AuthToken:  sc.Twilio.AuthToken,
				From:       sc.Twilio.From,
			})
		default:
			sender = transport.NewLogSender(log)
		}
		strategies = append(strategies, delivery.NewSMSStrategy(sender, delivery.NewLimiter(limiter(models.ChannelSMS))))
		zapLog.Info("sms channel enabled", zap.String("provider", sc.Provider))
	}

	return strategies
}
