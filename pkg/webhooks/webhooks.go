package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/observability"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventInvoiceIssued EventType = "invoice.issued"
)

// Header names set on every delivery
const (
	HeaderEvent     = "X-Meterline-Event"
	HeaderEventID   = "X-Meterline-Event-ID"
	HeaderDelivery  = "X-Meterline-Delivery"
	HeaderSignature = "X-Meterline-Signature"
)

// Event is the JSON body POSTed to every endpoint
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      *billing.Invoice `json:"data"`
}

// Endpoint is a receiver of invoice events. Deliveries are signed when
// Secret is set.
type Endpoint struct {
	URL    string
	Secret string
}

// Config configures a Notifier
type Config struct {
	Endpoints []Endpoint
	// Timeout bounds a single HTTP attempt
	Timeout time.Duration
	Retry   RetryConfig
	MaxLogs int
}

// Notifier POSTs an invoice.issued event to each endpoint, retrying
// transient failures with exponential backoff. It implements billing.Notifier.
type Notifier struct {
	endpoints []Endpoint
	client    *http.Client
	policy    *RetryPolicy
	store     *DeliveryLogStore
	logger    *observability.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

var _ billing.Notifier = (*Notifier)(nil)

// NewNotifier validates the endpoints and creates a Notifier
func NewNotifier(cfg Config, logger *observability.Logger) (*Notifier, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one webhook endpoint is required")
	}
	for _, ep := range cfg.Endpoints {
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid webhook URL %q", ep.URL)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Notifier{
		endpoints: cfg.Endpoints,
		client:    &http.Client{Timeout: cfg.Timeout},
		policy:    NewRetryPolicy(cfg.Retry),
		store:     NewDeliveryLogStore(cfg.MaxLogs),
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// Deliveries returns the retained delivery logs, newest first
func (n *Notifier) Deliveries(limit int) []*DeliveryLog {
	return n.store.List(limit)
}

// Stats summarises the retained deliveries to url
func (n *Notifier) Stats(url string) DeliveryStats {
	return n.store.GetStats(url)
}

// InvoiceIssued delivers the event to every endpoint. One endpoint failing
// does not stop delivery to the others.
func (n *Notifier) InvoiceIssued(ctx context.Context, inv *billing.Invoice) error {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventInvoiceIssued,
		Timestamp: n.now().UTC(),
		Data:      inv,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var errs []error
	for _, ep := range n.endpoints {
		if err := n.deliver(ctx, ep, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, ep Endpoint, event *Event, payload []byte) error {
	log := &DeliveryLog{
		ID:        uuid.New().String(),
		EventID:   event.ID,
		EventType: event.Type,
		InvoiceID: event.Data.ID,
		URL:       ep.URL,
		Status:    DeliveryStatusPending,
		CreatedAt: n.now().UTC(),
	}
	n.store.Add(log)

	start := n.now()
	var err error
	for {
		log.Attempts++
		var status int
		status, err = n.send(ctx, ep, event, payload)
		log.StatusCode = status
		if err == nil || !n.policy.ShouldRetry(log.Attempts, err) {
			break
		}

		log.Status = DeliveryStatusRetrying
		log.ErrorMessage = err.Error()
		n.store.Update(log)
		if sleepErr := n.sleep(ctx, n.policy.NextRetryDelay(log.Attempts)); sleepErr != nil {
			err = fmt.Errorf("%w (retry abandoned: %v)", err, sleepErr)
			break
		}
	}

	completed := n.now().UTC()
	log.CompletedAt = &completed
	log.Duration = n.now().Sub(start)
	if err != nil {
		log.Status = DeliveryStatusFailed
		log.ErrorMessage = err.Error()
		n.store.Update(log)
		n.logger.WithError(err).WithFields(map[string]interface{}{
			"url":        ep.URL,
			"event_id":   event.ID,
			"invoice_id": event.Data.ID,
			"attempts":   log.Attempts,
		}).Warn("webhook delivery failed")
		return fmt.Errorf("failed to deliver %s to %s: %w", event.Type, ep.URL, err)
	}

	log.Status = DeliveryStatusSuccess
	log.ErrorMessage = ""
	n.store.Update(log)
	return nil
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned non-2xx status: %d", e.StatusCode)
}

func (n *Notifier) send(ctx context.Context, ep Endpoint, event *Event, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderDelivery, n.now().UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, generateSignature(payload, ep.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// VerifySignature verifies the webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
