package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/shotonme/shotonme-client/internal/apiclient"
	"github.com/shotonme/shotonme-client/internal/auth"
	"github.com/shotonme/shotonme-client/internal/checkout"
	"github.com/shotonme/shotonme-client/internal/config"
	"github.com/shotonme/shotonme-client/internal/elements"
	"github.com/shotonme/shotonme-client/internal/middleware"
	"github.com/shotonme/shotonme-client/internal/mount"
	"github.com/shotonme/shotonme-client/internal/notification"
	"github.com/shotonme/shotonme-client/internal/realtime"
	"github.com/shotonme/shotonme-client/internal/tracing"
)

const serviceName = "shotonme-client"

// app holds the process-wide collaborators every command shares.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	tokens *auth.StaticTokenSource
	api    *apiclient.Client
	sdk    *elements.Loader
	mounts *mount.Coordinator
	redis  *redis.Client
	tracer *tracing.Provider

	registry        *prometheus.Registry
	checkoutMetrics *checkout.Metrics
	notifMetrics    *notification.Metrics
	realtimeMetrics *realtime.Metrics
}

func newApp(cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	a := &app{
		cfg:             cfg,
		logger:          logger,
		out:             out,
		tokens:          auth.NewStaticTokenSource(cfg.AuthToken),
		mounts:          mount.New(),
		tracer:          tracer,
		registry:        prometheus.NewRegistry(),
		checkoutMetrics: checkout.NewMetrics(),
		notifMetrics:    notification.NewMetrics(),
		realtimeMetrics: realtime.NewMetrics(),
	}

	httpMetrics := middleware.NewMetrics()
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, a.checkoutMetrics, a.notifMetrics, a.realtimeMetrics} {
		if err := r.Register(a.registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	a.api, err = apiclient.New(cfg.APIURL, a.tokens,
		apiclient.WithTimeout(cfg.HTTPTimeout()),
		apiclient.WithLogger(logger),
		apiclient.WithMiddleware(
			middleware.RequestID,
			middleware.Logging(logger),
			middleware.Tracing(),
			middleware.HTTPMetrics(httpMetrics),
		),
	)
	if err != nil {
		return nil, err
	}

	vendorHTTP := &http.Client{
		Transport: middleware.Chain(nil, middleware.Tracing()),
		Timeout:   cfg.HTTPTimeout(),
	}
	a.sdk = elements.NewLoader(a.api, func(key string) elements.Confirmer {
		opts := []elements.StripeOption{
			elements.WithStripeLogger(logger),
			elements.WithHTTPClient(vendorHTTP),
		}
		if cfg.StripeAPIURL != "" {
			opts = append(opts, elements.WithBackendURL(cfg.StripeAPIURL))
		}
		return elements.NewStripeConfirmer(key, opts...)
	})

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}

	if sub := a.tokens.Subject(); sub != "" {
		a.logger = logger.With(slog.String("user_id", sub))
	}
	return a, nil
}

// close releases connections and flushes pending spans.
func (a *app) close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to shut down tracing", slog.String("error", err.Error()))
	}
}

// user keys per-user cache entries. Opaque tokens share one local entry.
func (a *app) user() string {
	if sub := a.tokens.Subject(); sub != "" {
		return sub
	}
	return "me"
}

// newCenter builds the notification center, caching the badge in Redis when configured.
func (a *app) newCenter() *notification.Center {
	opts := []notification.Option{
		notification.WithLogger(a.logger),
		notification.WithMetrics(a.notifMetrics),
	}
	if a.redis != nil {
		opts = append(opts, notification.WithCache(notification.NewRedisCountCache(a.redis, notification.DefaultCountTTL)))
	}
	return notification.NewCenter(a.api, a.user(), opts...)
}

// newModal builds a payment modal whose card widget yields paymentMethod.
func (a *app) newModal(cfg checkout.Config, paymentMethod string) *checkout.Modal {
	if cfg.ReturnURL == "" {
		cfg.ReturnURL = a.cfg.ReturnURL
	}
	return checkout.NewModal(checkout.Deps{
		Backend: a.api,
		SDK:     a.sdk,
		Element: elements.NewStaticElement(paymentMethod),
		Mounts:  a.mounts,
		Logger:  a.logger,
		Metrics: a.checkoutMetrics,
	}, cfg)
}
