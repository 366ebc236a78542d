package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlpmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config controls the OTLP metric pipeline.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// NewProvider builds the meter provider and registers it globally.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled || cfg.ExporterEndpoint == "" {
		provider := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var exporter sdkmetric.Exporter
	var err error
	switch cfg.ExporterProtocol {
	case "http", "http/protobuf":
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.ExporterEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := provider.Shutdown(ctx); err != nil {
				log.Warn("metric provider shutdown", zap.Error(err))
			}
			return nil
		},
	})

	return provider, nil
}

// Metrics exposes the application counters recorded by the billing services.
type Metrics struct {
	TransactionsRecorded metric.Int64Counter
	TransactionsVoided   metric.Int64Counter
	InvoicesCreated      metric.Int64Counter
	PaymentsRecorded     metric.Int64Counter
	RenewalsProcessed    metric.Int64Counter
	RenewalFailures      metric.Int64Counter
}

func New(provider *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("netbill")

	transactionsRecorded, err := meter.Int64Counter("netbill.ledger.transactions.recorded",
		metric.WithDescription("Ledger transactions appended"))
	if err != nil {
		return nil, err
	}
	transactionsVoided, err := meter.Int64Counter("netbill.ledger.transactions.voided",
		metric.WithDescription("Ledger transactions voided"))
	if err != nil {
		return nil, err
	}
	invoicesCreated, err := meter.Int64Counter("netbill.invoices.created",
		metric.WithDescription("Invoices created"))
	if err != nil {
		return nil, err
	}
	paymentsRecorded, err := meter.Int64Counter("netbill.payments.recorded",
		metric.WithDescription("Payments recorded"))
	if err != nil {
		return nil, err
	}
	renewalsProcessed, err := meter.Int64Counter("netbill.renewals.processed",
		metric.WithDescription("Subscription renewals billed"))
	if err != nil {
		return nil, err
	}
	renewalFailures, err := meter.Int64Counter("netbill.renewals.failures",
		metric.WithDescription("Subscription renewals that failed"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		TransactionsRecorded: transactionsRecorded,
		TransactionsVoided:   transactionsVoided,
		InvoicesCreated:      invoicesCreated,
		PaymentsRecorded:     paymentsRecorded,
		RenewalsProcessed:    renewalsProcessed,
		RenewalFailures:      renewalFailures,
	}, nil
}

var allowedAttributes = map[string]struct{}{
	"company_id":       {},
	"transaction_type": {},
	"direction":        {},
	"invoice_type":     {},
	"payment_method":   {},
	"status":           {},
}

// FilterAttributes drops attributes outside the low-cardinality allowlist.
func FilterAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedAttributes[string(attr.Key)]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
