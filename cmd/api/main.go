package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/karimtraders/grocery/internal/di"
	"github.com/karimtraders/grocery/internal/handlers"
	"github.com/karimtraders/grocery/internal/payments"
	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/platform/config"
	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
	"github.com/karimtraders/grocery/internal/platform/idempotency"
	"github.com/karimtraders/grocery/internal/platform/jobs"
	"github.com/karimtraders/grocery/internal/platform/metrics"
	"github.com/karimtraders/grocery/internal/platform/observability"
	"github.com/karimtraders/grocery/internal/platform/ratelimit"
	"github.com/karimtraders/grocery/internal/platform/secrets"
	platformstorage "github.com/karimtraders/grocery/internal/platform/storage"
	"github.com/karimtraders/grocery/internal/repositories"
	firestoreRepo "github.com/karimtraders/grocery/internal/repositories/firestore"
	"github.com/karimtraders/grocery/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["GROCERY_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("grocery")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var firestoreOpts []pfirestore.ProviderOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" && cfg.Firestore.EmulatorHost == "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, di.PricingRules(cfg))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	probes := []repositories.Probe{{Name: "firestore", Check: registry.Ping}}

	var (
		rdb                  redis.UniversalClient
		idempotencyStore     idempotency.Store
		firestoreIdempotency *idempotency.FirestoreStore
	)
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		rdb = client
		redisStore := idempotency.NewRedisStore(client)
		idempotencyStore = redisStore
		probes = append(probes, repositories.Probe{Name: "redis", Optional: true, Check: redisStore.Ping})
	} else {
		firestoreIdempotency = idempotency.NewFirestoreStore(firestoreClient)
		idempotencyStore = firestoreIdempotency
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if firestoreIdempotency != nil {
		startIdempotencyCleanup(cleanupCtx, &cleanupWG, firestoreIdempotency, cfg.Idempotency, logger.Named("idempotency"))
	}

	infra := di.Infra{
		Registry: registry,
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	}

	pubsubProject := strings.TrimSpace(cfg.PubSub.ProjectID)
	if pubsubProject == "" {
		pubsubProject = traceProjectID(cfg)
	}
	if cfg.PubSub.OrderEventsTopic != "" || cfg.PubSub.EmailTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, pubsubProject)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		if name := cfg.PubSub.OrderEventsTopic; name != "" {
			topic := pubsubClient.Topic(name)
			defer topic.Stop()
			publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
			if err != nil {
				logger.Fatal("failed to initialise order event publisher", zap.Error(err))
			}
			infra.Events = publisher
			probes = append(probes, topicProbe("pubsub_order_events", topic))
		}
		if name := cfg.PubSub.EmailTopic; name != "" {
			topic := pubsubClient.Topic(name)
			defer topic.Stop()
			sender, err := jobs.NewPubSubEmailSender(topic)
			if err != nil {
				logger.Fatal("failed to initialise email sender", zap.Error(err))
			}
			infra.Emails = sender
			probes = append(probes, topicProbe("pubsub_email", topic))
		}
	}

	if bucket := strings.TrimSpace(cfg.Storage.WebhookArchiveBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		sink, err := platformstorage.NewBucketSink(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise archive bucket", zap.Error(err))
		}
		archive, err := platformstorage.NewWebhookArchive(sink)
		if err != nil {
			logger.Fatal("failed to initialise webhook archive", zap.Error(err))
		}
		infra.Archive = archive
		probes = append(probes, repositories.Probe{Name: "webhook_archive", Optional: true, Check: sink.Ping})
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	infra.Users = firebaseVerifier

	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: key,
			Logger: observability.EventLogger(logger.Named("payments.stripe")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		manager, err := payments.NewManager(
			map[string]payments.Provider{payments.ProviderStripe: stripeProvider},
			payments.WithDefaultProvider(payments.ProviderStripe),
		)
		if err != nil {
			logger.Fatal("failed to initialise payment manager", zap.Error(err))
		}
		infra.Checkout = manager
	} else {
		logger.Warn("stripe api key not configured; online checkout disabled")
	}
	if secret := cfg.PSP.StripeWebhookSecret; secret != "" {
		infra.Verifiers = append(infra.Verifiers, payments.NewStripeWebhookVerifier(secret))
	}
	if secret := cfg.PSP.RazorpayWebhookSecret; secret != "" {
		infra.Verifiers = append(infra.Verifiers, payments.NewRazorpayWebhookVerifier(secret))
	}

	recorder := metrics.NewRecorder()
	infra.Metrics = recorder

	health, err := repositories.NewProbeHealthRepository(probes)
	if err != nil {
		logger.Warn("health: probe repository init failed", zap.Error(err))
	} else {
		infra.Health = health
	}

	container, err := di.NewContainer(ctx, cfg, infra)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	svc := container.Services

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		recorder.Middleware,
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart, svc.Coupons)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Checkout,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithOrderRateLimiter(ratelimit.New(rdb, cfg.RateLimits.OrdersPerMinute, time.Minute, time.Now)),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders)
	accountHandlers := handlers.NewAccountHandlers(authenticator, svc.Wallets, svc.Notifications)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(recorder.Handler()),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAccountRoutes(accountHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	}
	if svc.Payments != nil {
		webhookHandlers := handlers.NewWebhookHandlers(svc.Payments,
			handlers.WithWebhookRateLimiter(ratelimit.New(rdb, cfg.RateLimits.WebhooksPerMinute, time.Minute, time.Now)),
			handlers.WithWebhookBodyLimit(cfg.Server.WebhookBodyLimit),
		)
		opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))

		if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
			internalHandlers := handlers.NewInternalHandlers(svc.Payments)
			opts = append(opts,
				handlers.WithInternalRoutes(internalHandlers.Routes),
				handlers.WithInternalMiddlewares(oidcMiddleware),
			)
		}
	} else {
		logger.Warn("no webhook secrets configured; payment webhooks disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("grocery api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	// drains queued notifications before the registry and pubsub clients go away
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func startIdempotencyCleanup(ctx context.Context, wg *sync.WaitGroup, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, time.Minute)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				cancel()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func topicProbe(name string, topic *pubsub.Topic) repositories.Probe {
	return repositories.Probe{
		Name:     name,
		Optional: true,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["GROCERY_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["GROCERY_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("GROCERY_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("GROCERY_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("GROCERY_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if ttl, err := time.ParseDuration(lookup("GROCERY_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithTTL(ttl))
	}
	if credentialsFile := lookup("GROCERY_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets startup must resolve. The Stripe API key is only required
// once a success URL signals that online checkout is meant to be live.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"PSP.StripeWebhookSecret"}
	if strings.TrimSpace(env["GROCERY_PSP_CHECKOUT_SUCCESS_URL"]) != "" {
		required = append(required, "PSP.StripeAPIKey")
	}
	if strings.TrimSpace(env["GROCERY_PSP_RAZORPAY_WEBHOOK_SECRET"]) != "" {
		required = append(required, "PSP.RazorpayWebhookSecret")
	}
	if strings.TrimSpace(env["GROCERY_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}
