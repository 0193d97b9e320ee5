package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/retry"
	"github.com/mbd888/sentinel/internal/risk"
	"github.com/mbd888/sentinel/internal/security"
	"github.com/mbd888/sentinel/internal/witness"
)

// Delivery headers.
const (
	HeaderEvent     = "X-Sentinel-Event"
	HeaderDelivery  = "X-Sentinel-Delivery"
	HeaderTimestamp = "X-Sentinel-Timestamp"
	HeaderSignature = "X-Sentinel-Signature"
)

const (
	dispatchTimeout = 30 * time.Second
	recordTimeout   = 5 * time.Second
)

// Dispatcher fans events out to matching subscriptions. Deliveries run in
// the background so callers on the scoring path never wait on a remote
// endpoint. It implements risk.Notifier and witness.BlockNotifier.
type Dispatcher struct {
	store     Store
	client    *http.Client
	policy    retry.Policy
	endpoints security.EndpointPolicy
	logger    *slog.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient replaces the delivery client. The default client dials
// through the endpoint policy's guarded transport.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetryPolicy sets how failed deliveries are retried.
func WithRetryPolicy(p retry.Policy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithEndpointPolicy sets which target URLs deliveries may reach. Every
// attempt re-checks the subscription URL.
func WithEndpointPolicy(p security.EndpointPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.endpoints = p }
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		policy: retry.Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: d.endpoints.Transport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return d
}

// NotifyAssessment emits the event matching the record's decision.
func (d *Dispatcher) NotifyAssessment(rec *risk.Record) {
	et, ok := EventForDecision(rec.Decision)
	if !ok {
		return
	}
	d.emit(et, rec.Account, rec)
}

// NotifyBlock emits block.sealed.
func (d *Dispatcher) NotifyBlock(b *witness.Block) {
	d.emit(EventBlockSealed, "", b)
}

func (d *Dispatcher) emit(et EventType, account string, data any) {
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      et,
		Timestamp: d.now().UTC(),
		Data:      data,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := d.Dispatch(ctx, account, event); err != nil {
			d.logger.Warn("webhook dispatch failed", "event", et, "error", err)
		}
	}()
}

// Dispatch delivers event to every active subscription that wants it and
// waits for the deliveries to finish. account scopes assessment events.
func (d *Dispatcher) Dispatch(ctx context.Context, account string, event *Event) error {
	subs, err := d.store.ListByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		if !sub.Wants(event.Type, account) {
			continue
		}
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			d.deliver(ctx, sub, event, payload)
		}(sub)
	}
	wg.Wait()
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) {
	err := d.policy.Do(ctx, func(ctx context.Context) error {
		return d.post(ctx, sub, event, payload)
	})

	result, errMsg := "delivered", ""
	if err != nil {
		result, errMsg = "failed", err.Error()
		d.logger.Warn("webhook delivery failed",
			"subscription", sub.ID, "event", event.Type, "delivery", event.ID, "error", err)
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), result).Inc()

	// The delivery ctx may already be spent by retries or a deadline.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.store.RecordDelivery(recCtx, sub.ID, d.now(), errMsg); err != nil {
		d.logger.Warn("failed to record webhook delivery", "subscription", sub.ID, "error", err)
	}
}

// post makes one delivery attempt. Blocked targets, redirects and 4xx
// responses other than 408 and 429 are not retried.
func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	if err := d.endpoints.Validate(ctx, sub.URL); err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sentinel-webhooks")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the signature header value for payload: "sha256=" followed
// by the hex HMAC-SHA256 under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header produced by Sign in constant
// time.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
