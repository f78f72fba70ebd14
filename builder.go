package refreshguard

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyfold/refreshguard/internal/rate"
	"github.com/keyfold/refreshguard/jwt"
	"github.com/keyfold/refreshguard/token"
)

// Builder assembles an [Engine]. Construction is allocation-only; no I/O
// happens until the first Engine method call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identity  IdentityProvider
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a [Builder] preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the token store and throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the identity lookup used during rotation.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identity = p
	return b
}

// WithAuditSink sets the sink receiving audit events. Ignored unless
// auditing is enabled in the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. All expiry math, stored
// timestamps, and JWT iat/exp claims derive from it. Defaults to time.Now.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled toggles the in-process metrics registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A builder can
// be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.identity == nil {
		return nil, errors.New("identity provider required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	store := token.NewStore(
		b.redis,
		cfg.Token.RedisPrefix,
		cfg.Token.RetentionGrace,
		clock,
	)

	engine := &Engine{
		config:   cloneConfig(cfg),
		store:    store,
		identity: b.identity,
		clock:    clock,
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIssueThrottle:    cfg.Security.EnableIssueThrottle,
		EnableRotateThrottle:   cfg.Security.EnableRotateThrottle,
		MaxIssueAttempts:       cfg.Security.MaxIssueAttempts,
		IssueCooldownDuration:  cfg.Security.IssueCooldownDuration,
		MaxRotateAttempts:      cfg.Security.MaxRotateAttempts,
		RotateCooldownDuration: cfg.Security.RotateCooldownDuration,
	})
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
