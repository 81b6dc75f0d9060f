// Package httpbus is the Event Bus Adapter implementation: a bounded
// in-process queue drained by a single worker that POSTs events to a
// remote pub/sub broker over HTTP, retrying transient failures with
// exponential backoff before dropping and logging.
package httpbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	coreevents "github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

const queueCapacity = 1024

// Bus is a coreevents.Publisher that queues events in-process and drains
// them with a single background worker.
type Bus struct {
	apiURL string
	apiKey string
	http   *resty.Client
	log    logger.Logger

	queue  chan coreevents.Event
	done   chan struct{}
	ledger storage.Store
}

// New starts a Bus publishing to apiURL with apiKey, and launches its
// drain worker. ledger may be nil; when present, events dropped after
// exhausting retry are mirrored there instead of only being logged.
func New(apiURL, apiKey string, log logger.Logger, ledger storage.Store) *Bus {
	b := &Bus{
		apiURL: apiURL,
		apiKey: apiKey,
		http:   resty.New().SetTimeout(10 * time.Second),
		log:    log,
		queue:  make(chan coreevents.Event, queueCapacity),
		done:   make(chan struct{}),
		ledger: ledger,
	}
	go b.drain()
	return b
}

// Publish enqueues e without blocking. If the queue is full the event is
// dropped immediately and logged, matching the Slot Engine's guarantee
// that it never blocks on event delivery.
func (b *Bus) Publish(ctx context.Context, e coreevents.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.queue <- e:
	default:
		b.log.Warn("event queue full, dropping event",
			logger.Project(e.Project), logger.Environment(e.Environment), "kind", string(e.Kind))
	}
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.queue:
			b.deliver(e)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) deliver(e coreevents.Event) {
	channels := coreevents.ChannelsFor(e)

	operation := func() error {
		resp, err := b.http.R().
			SetHeader("Authorization", "Bearer "+b.apiKey).
			SetBody(map[string]any{
				"event":    e,
				"channels": channels,
			}).
			Post(b.apiURL)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("event bus returned %d", resp.StatusCode())
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(operation, policy); err != nil {
		b.log.Warn("dropping event after exhausted retries",
			logger.Project(e.Project), logger.Environment(e.Environment),
			"kind", string(e.Kind), logger.Err(err))
		b.deadLetter(e, err)
	}
}

func (b *Bus) deadLetter(e coreevents.Event, cause error) {
	if b.ledger == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		b.log.Warn("failed to marshal event for dead-letter", logger.Err(err))
		return
	}
	rec := &storage.EventDeadLetterRecord{
		Kind:        string(e.Kind),
		Project:     e.Project,
		Environment: e.Environment,
		Payload:     string(payload),
		Reason:      cause.Error(),
	}
	if err := b.ledger.EventDeadLetters().Create(context.Background(), rec); err != nil {
		b.log.Warn("failed to write event dead letter", logger.Err(err))
	}
}

// Close stops the drain worker.
func (b *Bus) Close() error {
	close(b.done)
	return nil
}

var _ coreevents.Publisher = (*Bus)(nil)
