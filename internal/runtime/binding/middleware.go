package binding

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/cloudmesh/internal/runtime/ids"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/cloudmesh/internal/runtime/metadata"
)

// TracerName names the tracer used for consumed message spans.
const TracerName = "cloudmesh-binding"

// MiddlewareBuilder constructs a handler middleware for a binder.
type MiddlewareBuilder func(*Binder) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware is registered on the
// binder's router. A builder returning a nil middleware is skipped.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 8 * time.Second
	}
	return cfg
}

// UnprocessableMessageError marks a payload that can never be handled, such
// as one that fails to decode. It is not retried and goes to the poison queue.
type UnprocessableMessageError struct {
	Payload string
	Err     error
}

func (e *UnprocessableMessageError) Error() string {
	return "unprocessable message: " + e.Payload + " error: " + e.Err.Error()
}

func (e *UnprocessableMessageError) Unwrap() error { return e.Err }

func isUnprocessable(err error) bool {
	var target *UnprocessableMessageError
	return errors.As(err, &target)
}

// DefaultMiddlewares returns the standard middleware chain, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
		RetryMiddleware(RetryMiddlewareConfig{}),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each consumed message carries a correlation id.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

// LogMessagesMiddleware logs payload and metadata of consumed messages. A nil
// logger falls back to the binder's logger.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(b *Binder) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = b.log
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer(TracerName).Start(msg.Context(), "ConsumeMessage",
			trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("message.channel", msg.Metadata.Get(metadatapkg.KeyChannel)),
			attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
		)
		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}

// MetricsMiddleware adds Watermill's Prometheus router metrics when metrics
// are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(b *Binder) (message.HandlerMiddleware, error) {
			if !b.conf.MetricsEnabled {
				return nil, nil
			}
			metricsBuilder := metrics.NewPrometheusMetricsBuilder(b.registerer, "cloudmesh", b.transportName)
			metricsBuilder.AddPrometheusRouterMetrics(b.router)
			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// RetryMiddleware retries failed handlers with exponential backoff. Zero
// values of cfg fall back to the configured retry settings, then to defaults.
// Unprocessable messages are never retried.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(b *Binder) (message.HandlerMiddleware, error) {
			resolved := cfg
			if resolved.MaxRetries <= 0 {
				resolved.MaxRetries = b.conf.RetryMaxRetries
			}
			if resolved.InitialInterval <= 0 {
				resolved.InitialInterval = b.conf.RetryInitialInterval
			}
			if resolved.MaxInterval <= 0 {
				resolved.MaxInterval = b.conf.RetryMaxInterval
			}
			return retryMiddleware(resolved.withDefaults()), nil
		},
	}
}

func retryMiddleware(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	return middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      2,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if isUnprocessable(params.Err) {
				return false
			}
			if cfg.RetryIf != nil {
				return cfg.RetryIf(params.Err)
			}
			return true
		},
	}.Middleware
}

// PoisonQueueMiddleware publishes messages whose error matches filter to the
// configured poison queue once retries are exhausted. A nil filter selects
// every error.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(b *Binder) (message.HandlerMiddleware, error) {
			if b.conf.PoisonQueue == "" {
				return nil, nil
			}
			f := filter
			if f == nil {
				f = func(error) bool { return true }
			}
			return middleware.PoisonQueueWithFilter(b.publisher, b.conf.PoisonQueue, f)
		},
	}
}

// RecovererMiddleware converts panics into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (b *Binder) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if b.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(b)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	b.router.AddMiddleware(mw)
	return nil
}
