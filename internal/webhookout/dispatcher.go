package webhookout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/casecurrentai/casecurrent/internal/observability/metrics"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// EventHeader names the event type on every delivery request.
const EventHeader = "X-Casecurrent-Event"

const lockTTL = time.Minute

type dispatcherStore interface {
	ListSubscribed(ctx context.Context, orgID uuid.UUID, eventType string) ([]Endpoint, error)
	GetEndpoint(ctx context.Context, orgID, id uuid.UUID) (*Endpoint, error)
	CreateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error)
	ListPendingDeliveryIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, status string, httpStatus *int, response string) error
}

// Dispatcher fans lifecycle events out to subscribed org endpoints. Emit
// returns as soon as the pending deliveries are recorded; attempts run in
// background goroutines with bounded retry (fixed backoff schedule, then
// permanently failed).
type Dispatcher struct {
	store   dispatcherStore
	rdb     redis.Cmdable
	client  *http.Client
	metrics *metrics.IngestionMetrics
	logger  *logging.Logger

	maxAttempts int
	backoff     []time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(store dispatcherStore) *Dispatcher {
	if store == nil {
		panic("webhookout: store required")
	}
	return &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logging.Default(),
		maxAttempts: 3,
		backoff:     []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
	}
}

func (d *Dispatcher) WithRedis(rdb redis.Cmdable) *Dispatcher {
	d.rdb = rdb
	return d
}

func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	if c != nil {
		d.client = c
	}
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithBackoff(schedule []time.Duration) *Dispatcher {
	if len(schedule) > 0 {
		d.backoff = schedule
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.IngestionMetrics) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) WithLogger(l *logging.Logger) *Dispatcher {
	if l != nil {
		d.logger = l
	}
	return d
}

// Emit records one pending delivery per subscribed endpoint and schedules the
// attempts. The payload is marshaled exactly once; those bytes are what gets
// signed and POSTed.
func (d *Dispatcher) Emit(ctx context.Context, orgID uuid.UUID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhookout: marshal payload: %w", err)
	}

	endpoints, err := d.store.ListSubscribed(ctx, orgID, eventType)
	if err != nil {
		return fmt.Errorf("webhookout: emit %s: %w", eventType, err)
	}
	for _, ep := range endpoints {
		delivery := &Delivery{
			ID:         uuid.New(),
			OrgID:      orgID,
			EndpointID: ep.ID,
			EventType:  eventType,
			Payload:    data,
			Status:     StatusPending,
		}
		if err := d.store.CreateDelivery(ctx, delivery); err != nil {
			d.logger.Error("create delivery failed", "endpoint_id", ep.ID, "event", eventType, "error", err)
			continue
		}
		d.schedule(delivery.ID)
	}
	return nil
}

// Schedule re-enqueues attempts for an existing pending delivery (used on
// process restart recovery).
func (d *Dispatcher) Schedule(deliveryID uuid.UUID) {
	d.schedule(deliveryID)
}

// Recover re-schedules deliveries a previous process left pending. Called
// once at startup; the Redis lock and the per-attempt status check keep it
// safe to run while peers are delivering.
func (d *Dispatcher) Recover(ctx context.Context) error {
	ids, err := d.store.ListPendingDeliveryIDs(ctx, 500)
	if err != nil {
		return fmt.Errorf("webhookout: recover: %w", err)
	}
	for _, id := range ids {
		d.schedule(id)
	}
	if len(ids) > 0 {
		d.logger.Info("recovered pending webhook deliveries", "count", len(ids))
	}
	return nil
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) schedule(deliveryID uuid.UUID) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(deliveryID)
	}()
}

// deliver runs the attempt loop for one delivery. The status check at the top
// of each attempt is the cancellation mechanism: a delivery that left pending
// by any other path is skipped. A Redis lock keeps two schedulers off the
// same delivery.
func (d *Dispatcher) deliver(deliveryID uuid.UUID) {
	ctx := context.Background()

	if !d.acquireLock(ctx, deliveryID) {
		return
	}
	defer d.releaseLock(ctx, deliveryID)

	for {
		delivery, err := d.store.GetDelivery(ctx, deliveryID)
		if err != nil {
			d.logger.Error("load delivery failed", "delivery_id", deliveryID, "error", err)
			return
		}
		if delivery.Status != StatusPending || delivery.AttemptCount >= d.maxAttempts {
			return
		}

		endpoint, err := d.store.GetEndpoint(ctx, delivery.OrgID, delivery.EndpointID)
		if errors.Is(err, ErrEndpointNotFound) {
			// Endpoint deleted underneath a pending delivery: park it as
			// failed without retrying.
			code := 0
			_ = d.store.RecordAttempt(ctx, deliveryID, StatusFailed, &code, "endpoint no longer exists")
			return
		}
		if err != nil {
			// Transient store error: leave the delivery pending so Recover
			// or a later schedule picks it up.
			d.logger.Error("load endpoint failed", "delivery_id", deliveryID, "error", err)
			return
		}

		status, httpStatus, body := d.attempt(ctx, endpoint, delivery)
		newCount := delivery.AttemptCount + 1

		final := status
		if status != StatusDelivered && newCount < d.maxAttempts {
			final = StatusPending
		}
		if err := d.store.RecordAttempt(ctx, deliveryID, final, httpStatus, body); err != nil {
			d.logger.Error("record attempt failed", "delivery_id", deliveryID, "error", err)
			return
		}
		d.observe(final)

		switch final {
		case StatusDelivered:
			d.logger.Info("webhook delivered", "delivery_id", deliveryID, "attempts", newCount)
			return
		case StatusFailed:
			d.logger.Warn("webhook permanently failed", "delivery_id", deliveryID, "attempts", newCount)
			return
		}
		time.Sleep(d.backoffFor(newCount))
	}
}

// attempt POSTs the signed payload once. Returns the resulting lifecycle
// status assuming this were the final attempt.
func (d *Dispatcher) attempt(ctx context.Context, endpoint *Endpoint, delivery *Delivery) (string, *int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return StatusFailed, nil, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, delivery.EventType)
	req.Header.Set(SignatureHeader, Sign(endpoint.Secret, delivery.Payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return StatusFailed, nil, err.Error()
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return StatusDelivered, &resp.StatusCode, string(body)
	}
	return StatusFailed, &resp.StatusCode, string(body)
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	return d.backoff[idx]
}

func (d *Dispatcher) acquireLock(ctx context.Context, deliveryID uuid.UUID) bool {
	if d.rdb == nil {
		return true
	}
	ok, err := d.rdb.SetNX(ctx, lockKey(deliveryID), "1", lockTTL).Result()
	if err != nil {
		// Redis down: proceed without the lock, the status check still
		// bounds duplicate attempts.
		d.logger.Warn("delivery lock unavailable", "delivery_id", deliveryID, "error", err)
		return true
	}
	return ok
}

func (d *Dispatcher) releaseLock(ctx context.Context, deliveryID uuid.UUID) {
	if d.rdb == nil {
		return
	}
	d.rdb.Del(ctx, lockKey(deliveryID))
}

func lockKey(deliveryID uuid.UUID) string {
	return "webhookout:lock:" + deliveryID.String()
}

func (d *Dispatcher) observe(status string) {
	switch status {
	case StatusDelivered:
		d.metrics.ObserveDeliveryAttempt("delivered")
	case StatusFailed:
		d.metrics.ObserveDeliveryAttempt("failed")
	default:
		d.metrics.ObserveDeliveryAttempt("retry")
	}
}
