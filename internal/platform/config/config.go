package config

import (
	"context"
	"sort"
	"strings"
	"time"
)

const (
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultWebhookBodyLimit     = 1 << 20
	defaultLogLevel             = "info"
	defaultCurrency             = "INR"
	defaultDeliveryFee          = 2900
	defaultFreeDeliveryMin      = 49900
	defaultLowStockThreshold    = 10
	defaultOrderEventsTopic     = "order-events"
	defaultEmailTopic           = "email-jobs"
	defaultEmailFrom            = "orders@karimtraders.in"
	defaultEmailTimeout         = 5 * time.Second
	defaultRateLimitOrders      = 30
	defaultRateLimitWebhooks    = 600
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	PSP         PSPConfig
	Pricing     PricingConfig
	Email       EmailConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	WebhookBodyLimit int64
}

// LogConfig selects the zap level.
type LogConfig struct {
	Level string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the bucket receiving raw webhook payloads. Empty disables archiving.
type StorageConfig struct {
	WebhookArchiveBucket string
}

// PubSubConfig names the topics used after an order commits.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmailTopic       string
}

// RedisConfig points at the idempotency cache. Empty Addr falls back to Firestore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PSPConfig collects payment provider credentials.
type PSPConfig struct {
	StripeAPIKey          string
	StripeWebhookSecret   string
	RazorpayWebhookSecret string
	CheckoutSuccessURL    string
	CheckoutCancelURL     string
}

// PricingConfig holds the delivery fee schedule and stock labelling threshold, in minor units.
type PricingConfig struct {
	Currency              string
	DeliveryFee           int64
	FreeDeliveryThreshold int64
	LowStockThreshold     int
}

// EmailConfig configures transactional e-mail.
type EmailConfig struct {
	From        string
	SendTimeout time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	OrdersPerMinute   int
	WebhooksPerMinute int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}


// Load builds the configuration from defaults, the dotenv file, the process environment and
// explicit overrides, then resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := options.environment()
	if err != nil {
		return Config{}, err
	}
	env := source(values)

	cfg := Config{
		Server: ServerConfig{
			Port:             env.str("GROCERY_SERVER_PORT", defaultPort),
			ReadTimeout:      env.duration("GROCERY_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:     env.duration("GROCERY_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:      env.duration("GROCERY_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout:  env.duration("GROCERY_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			WebhookBodyLimit: int64(env.integer("GROCERY_SERVER_WEBHOOK_BODY_LIMIT", defaultWebhookBodyLimit)),
		},
		Log: LogConfig{
			Level: strings.ToLower(env.str("GROCERY_LOG_LEVEL", defaultLogLevel)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("GROCERY_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("GROCERY_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("GROCERY_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("GROCERY_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			WebhookArchiveBucket: env.str("GROCERY_STORAGE_WEBHOOK_ARCHIVE_BUCKET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        env.str("GROCERY_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: env.str("GROCERY_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmailTopic:       env.str("GROCERY_PUBSUB_EMAIL_TOPIC", defaultEmailTopic),
		},
		Redis: RedisConfig{
			Addr:     env.str("GROCERY_REDIS_ADDR", ""),
			Password: env.str("GROCERY_REDIS_PASSWORD", ""),
			DB:       env.integer("GROCERY_REDIS_DB", 0),
		},
		PSP: PSPConfig{
			StripeAPIKey:          env.str("GROCERY_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret:   env.str("GROCERY_PSP_STRIPE_WEBHOOK_SECRET", ""),
			RazorpayWebhookSecret: env.str("GROCERY_PSP_RAZORPAY_WEBHOOK_SECRET", ""),
			CheckoutSuccessURL:    env.str("GROCERY_PSP_CHECKOUT_SUCCESS_URL", ""),
			CheckoutCancelURL:     env.str("GROCERY_PSP_CHECKOUT_CANCEL_URL", ""),
		},
		Pricing: PricingConfig{
			Currency:              strings.ToUpper(env.str("GROCERY_PRICING_CURRENCY", defaultCurrency)),
			DeliveryFee:           int64(env.integer("GROCERY_PRICING_DELIVERY_FEE", defaultDeliveryFee)),
			FreeDeliveryThreshold: int64(env.integer("GROCERY_PRICING_FREE_DELIVERY_THRESHOLD", defaultFreeDeliveryMin)),
			LowStockThreshold:     env.integer("GROCERY_PRICING_LOW_STOCK_THRESHOLD", defaultLowStockThreshold),
		},
		Email: EmailConfig{
			From:        env.str("GROCERY_EMAIL_FROM", defaultEmailFrom),
			SendTimeout: env.duration("GROCERY_EMAIL_SEND_TIMEOUT", defaultEmailTimeout),
		},
		RateLimits: RateLimitConfig{
			OrdersPerMinute:   env.integer("GROCERY_RATELIMIT_ORDERS_PER_MIN", defaultRateLimitOrders),
			WebhooksPerMinute: env.integer("GROCERY_RATELIMIT_WEBHOOKS_PER_MIN", defaultRateLimitWebhooks),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("GROCERY_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("GROCERY_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("GROCERY_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("GROCERY_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("GROCERY_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("GROCERY_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("GROCERY_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("GROCERY_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("GROCERY_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
	cfg.inheritProjects()

	resolved, err := cfg.resolveSecrets(ctx, options.secret)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// inheritProjects fills project ids and OIDC settings that default from other fields.
func (c *Config) inheritProjects() {
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = c.Firebase.ProjectID
	}
	if c.PubSub.ProjectID == "" {
		c.PubSub.ProjectID = c.Firebase.ProjectID
	}
	oidc := &c.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[c.Security.Environment]
	}
}

// secretFields lists every field that may hold a secret:// reference, keyed by the name
// callers pass to WithRequiredSecrets.
func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"PSP.StripeAPIKey":          &c.PSP.StripeAPIKey,
		"PSP.StripeWebhookSecret":   &c.PSP.StripeWebhookSecret,
		"PSP.RazorpayWebhookSecret": &c.PSP.RazorpayWebhookSecret,
		"Redis.Password":            &c.Redis.Password,
	}
}

func (c *Config) resolveSecrets(ctx context.Context, resolver SecretResolver) (map[string]string, error) {
	fields := c.secretFields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]string, len(fields))
	for _, name := range names {
		value, err := resolveSecret(ctx, *fields[name], resolver)
		if err != nil {
			return nil, err
		}
		*fields[name] = value
		resolved[name] = strings.TrimSpace(value)
	}
	return resolved, nil
}

func (c Config) validate() error {
	checks := []struct {
		field string
		ok    bool
	}{
		{"Server.Port", c.Server.Port != ""},
		{"Server.WebhookBodyLimit", c.Server.WebhookBodyLimit > 0},
		{"Firebase.ProjectID", c.Firebase.ProjectID != ""},
		{"Firestore.ProjectID", c.Firestore.ProjectID != ""},
		{"Pricing.Currency", len(c.Pricing.Currency) == 3},
		{"Pricing.DeliveryFee", c.Pricing.DeliveryFee >= 0},
		{"Pricing.FreeDeliveryThreshold", c.Pricing.FreeDeliveryThreshold >= 0},
		{"Pricing.LowStockThreshold", c.Pricing.LowStockThreshold >= 0},
		{"Idempotency.Header", strings.TrimSpace(c.Idempotency.Header) != ""},
		{"Idempotency.TTL", c.Idempotency.TTL > 0},
		{"Idempotency.CleanupInterval", c.Idempotency.CleanupInterval > 0},
		{"Idempotency.CleanupBatchSize", c.Idempotency.CleanupBatchSize > 0},
	}
	var invalid []string
	for _, check := range checks {
		if !check.ok {
			invalid = append(invalid, check.field)
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
