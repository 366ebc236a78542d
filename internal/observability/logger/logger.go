package logger

import (
	"context"
	"strings"

	obscontext "github.com/smallbiznis/netbill/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerContextKey struct{}

// Config controls how the process logger is built.
type Config struct {
	ServiceName         string
	Environment         string
	Version             string
	Level               string
	Format              string
	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the root zap logger with service metadata attached.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		if err := level.Set(raw); err != nil {
			level = zapcore.InfoLevel
		}
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.DisableCaller = !cfg.IncludeCaller
	zapCfg.DisableStacktrace = !cfg.IncludeStackOnError

	log, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("service", cfg.ServiceName),
	}
	if cfg.Environment != "" {
		fields = append(fields, zap.String("environment", cfg.Environment))
	}
	if cfg.Version != "" {
		fields = append(fields, zap.String("version", cfg.Version))
	}
	return log.With(fields...), nil
}

// WithContext stores the logger on the context for request-scoped retrieval.
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	if ctx == nil || log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, log)
}

// FromContext returns the request-scoped logger enriched with trace and
// tenant fields, or a no-op logger when none was stored.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.NewNop()
	}
	log, ok := ctx.Value(loggerContextKey{}).(*zap.Logger)
	if !ok || log == nil {
		return zap.NewNop()
	}
	if fields := contextFields(ctx); len(fields) > 0 {
		log = log.With(fields...)
	}
	return log
}

func contextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		fields = append(fields,
			zap.String("trace_id", span.TraceID().String()),
			zap.String("span_id", span.SpanID().String()),
		)
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if companyID := obscontext.CompanyIDFromContext(ctx); companyID != "" {
		fields = append(fields, zap.String("company_id", companyID))
	}
	if actorID := obscontext.ActorIDFromContext(ctx); actorID != "" {
		fields = append(fields, zap.String("actor_id", actorID))
	}
	return fields
}
