package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	creditTransactions metric.Int64Counter
	paymentEvents      metric.Int64Counter
	rewardClaims       metric.Int64Counter
	billingRuns        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "credora"
	}
	meter := provider.Meter(name)

	creditTransactions, err := meter.Int64Counter("credora_credit_transactions_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("credora_payment_events_total")
	if err != nil {
		return nil, err
	}
	rewardClaims, err := meter.Int64Counter("credora_reward_claims_total")
	if err != nil {
		return nil, err
	}
	billingRuns, err := meter.Int64Counter("credora_billing_cycle_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditTransactions: creditTransactions,
		paymentEvents:      paymentEvents,
		rewardClaims:       rewardClaims,
		billingRuns:        billingRuns,
	}, nil
}

// RecordCreditTransaction increments ledger posting counts.
func (m *Metrics) RecordCreditTransaction(ctx context.Context, txType, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("type", strings.TrimSpace(txType)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.creditTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments settlement event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, processor, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("processor", strings.TrimSpace(processor)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRewardClaim increments reward claim counts.
func (m *Metrics) RecordRewardClaim(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.rewardClaims.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillingRun increments billing cycle run counts.
func (m *Metrics) RecordBillingRun(ctx context.Context) {
	if m == nil {
		return
	}
	m.billingRuns.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"type":      {},
	"source":    {},
	"processor": {},
	"status":    {},
	"outcome":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
