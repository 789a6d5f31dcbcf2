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

// Metrics exposes application-level instruments for the ledger engines.
type Metrics struct {
	couponValidations metric.Int64Counter
	couponRedemptions metric.Int64Counter
	pointsEarned      metric.Int64Counter
	pointsRedeemed    metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
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
		name = "perks"
	}
	meter := provider.Meter(name)

	couponValidations, err := meter.Int64Counter("perks_coupon_validations_total")
	if err != nil {
		return nil, err
	}
	couponRedemptions, err := meter.Int64Counter("perks_coupon_redemptions_total")
	if err != nil {
		return nil, err
	}
	pointsEarned, err := meter.Int64Counter("perks_loyalty_points_earned_total")
	if err != nil {
		return nil, err
	}
	pointsRedeemed, err := meter.Int64Counter("perks_loyalty_points_redeemed_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("perks_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("perks_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		couponValidations: couponValidations,
		couponRedemptions: couponRedemptions,
		pointsEarned:      pointsEarned,
		pointsRedeemed:    pointsRedeemed,
		rateLimitAllowed:  rateLimitAllowed,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordCouponValidation increments validation counts by outcome.
func (m *Metrics) RecordCouponValidation(ctx context.Context, valid bool, failureCode string) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = strings.TrimSpace(failureCode)
		if outcome == "" {
			outcome = "invalid"
		}
	}
	attrs := FilterAttributes(attribute.String("outcome", outcome))
	m.couponValidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCouponRedemption increments redemption counts by outcome.
func (m *Metrics) RecordCouponRedemption(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.couponRedemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPointsEarned adds earned points to the running counter.
func (m *Metrics) RecordPointsEarned(ctx context.Context, points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.pointsEarned.Add(ctx, points)
}

// RecordPointsRedeemed adds redeemed points to the running counter.
func (m *Metrics) RecordPointsRedeemed(ctx context.Context, points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.pointsRedeemed.Add(ctx, points)
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"endpoint": {},
	"outcome":  {},
	"reason":   {},
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
