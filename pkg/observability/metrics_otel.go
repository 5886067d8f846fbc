package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BillingRecorder receives billing events. Both Metrics and OTelMetrics
// implement it, and it matches billing.Metrics.
type BillingRecorder interface {
	InvoiceCreated(invoiceType string)
	InvoiceTransitioned(from, to string)
	PaymentRecorded(result string)
	TenantProcessed(outcome string)
	RunFinished(result string, duration time.Duration)
}

// OTelMetrics records billing events as OpenTelemetry instruments so they are
// exported over OTLP alongside traces
type OTelMetrics struct {
	invoicesCreated  metric.Int64Counter
	transitions      metric.Int64Counter
	payments         metric.Int64Counter
	tenantsProcessed metric.Int64Counter
	runs             metric.Int64Counter
	runDuration      metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on provider, or on the global
// provider when provider is nil
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/platinummonkey/meterline")

	m := &OTelMetrics{}
	var err error

	if m.invoicesCreated, err = meter.Int64Counter("meterline.invoices.created",
		metric.WithDescription("Invoices created"),
		metric.WithUnit("{invoice}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create invoices counter: %w", err)
	}
	if m.transitions, err = meter.Int64Counter("meterline.invoices.transitions",
		metric.WithDescription("Invoice status transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}
	if m.payments, err = meter.Int64Counter("meterline.payments",
		metric.WithDescription("Payment attempts by result"),
		metric.WithUnit("{payment}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create payments counter: %w", err)
	}
	if m.tenantsProcessed, err = meter.Int64Counter("meterline.billing.tenants",
		metric.WithDescription("Tenants processed by billing runs"),
		metric.WithUnit("{tenant}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tenants counter: %w", err)
	}
	if m.runs, err = meter.Int64Counter("meterline.billing.runs",
		metric.WithDescription("Billing runs by result"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("meterline.billing.run.duration",
		metric.WithDescription("Billing run duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	return m, nil
}

// InvoiceCreated counts a new invoice
func (m *OTelMetrics) InvoiceCreated(invoiceType string) {
	m.invoicesCreated.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("invoice.type", invoiceType)))
}

// InvoiceTransitioned counts a status change
func (m *OTelMetrics) InvoiceTransitioned(from, to string) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("invoice.status.from", from),
		attribute.String("invoice.status.to", to),
	))
}

// PaymentRecorded counts a payment attempt
func (m *OTelMetrics) PaymentRecorded(result string) {
	m.payments.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("payment.result", result)))
}

// TenantProcessed counts a tenant outcome within a run
func (m *OTelMetrics) TenantProcessed(outcome string) {
	m.tenantsProcessed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("billing.outcome", outcome)))
}

// RunFinished counts a run and records its duration
func (m *OTelMetrics) RunFinished(result string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("billing.result", result))
	m.runs.Add(context.Background(), 1, attrs)
	if duration > 0 {
		m.runDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// MultiRecorder fans billing events out to several recorders
type MultiRecorder []BillingRecorder

func (mr MultiRecorder) InvoiceCreated(invoiceType string) {
	for _, r := range mr {
		r.InvoiceCreated(invoiceType)
	}
}

func (mr MultiRecorder) InvoiceTransitioned(from, to string) {
	for _, r := range mr {
		r.InvoiceTransitioned(from, to)
	}
}

func (mr MultiRecorder) PaymentRecorded(result string) {
	for _, r := range mr {
		r.PaymentRecorded(result)
	}
}

func (mr MultiRecorder) TenantProcessed(outcome string) {
	for _, r := range mr {
		r.TenantProcessed(outcome)
	}
}

func (mr MultiRecorder) RunFinished(result string, duration time.Duration) {
	for _, r := range mr {
		r.RunFinished(result, duration)
	}
}
