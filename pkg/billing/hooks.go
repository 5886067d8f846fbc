package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/meterline/pkg/observability"
)

// Metrics receives billing counters. observability.Metrics satisfies it.
type Metrics interface {
	InvoiceCreated(invoiceType string)
	InvoiceTransitioned(from, to string)
	PaymentRecorded(result string)
	TenantProcessed(outcome string)
	RunFinished(result string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) InvoiceCreated(string)              {}
func (noopMetrics) InvoiceTransitioned(string, string) {}
func (noopMetrics) PaymentRecorded(string)             {}
func (noopMetrics) TenantProcessed(string)             {}
func (noopMetrics) RunFinished(string, time.Duration)  {}

// Notifier is told about invoices once they have been issued.
// Failures are logged by the caller and never affect the invoice.
type Notifier interface {
	InvoiceIssued(ctx context.Context, inv *Invoice) error
}

// LogNotifier writes one structured log line per issued invoice
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// InvoiceIssued logs the invoice header
func (n *LogNotifier) InvoiceIssued(ctx context.Context, inv *Invoice) error {
	n.logger.WithFields(map[string]interface{}{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"tenant_id":      inv.TenantID,
		"total_amount":   inv.TotalAmount.String(),
		"currency":       inv.Currency,
		"due_date":       inv.DueDate.Format("2006-01-02"),
	}).Info("invoice issued")
	return nil
}

// MultiNotifier fans out to every notifier and joins their errors
type MultiNotifier []Notifier

// InvoiceIssued calls each notifier in order
func (m MultiNotifier) InvoiceIssued(ctx context.Context, inv *Invoice) error {
	var errs []error
	for _, n := range m {
		if err := n.InvoiceIssued(ctx, inv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunScopedCache is implemented by directories that cache lookups per
// billing run. The scheduler calls ReleaseRun when a run ends.
type RunScopedCache interface {
	ReleaseRun(ctx context.Context, runID string) error
}

// Lease is a held run lock
type Lease interface {
	Release(ctx context.Context) error
}

// RunLock serialises billing runs. Acquire returns ErrRunInProgress when
// another holder owns key.
type RunLock interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// LocalRunLock is a process-local RunLock
type LocalRunLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalRunLock creates an empty LocalRunLock
func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{held: make(map[string]struct{})}
}

// Acquire claims key for this process
func (l *LocalRunLock) Acquire(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}
	l.held[key] = struct{}{}
	return &localLease{lock: l, key: key}, nil
}

type localLease struct {
	lock *LocalRunLock
	key  string
	once sync.Once
}

func (l *localLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.lock.mu.Lock()
		delete(l.lock.held, l.key)
		l.lock.mu.Unlock()
	})
	return nil
}
