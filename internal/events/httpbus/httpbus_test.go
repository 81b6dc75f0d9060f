package httpbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreevents "github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

// fakeDeadLetterRepo records dead-lettered events in memory.
type fakeDeadLetterRepo struct {
	mu   sync.Mutex
	recs []*storage.EventDeadLetterRecord
}

func (r *fakeDeadLetterRepo) Create(ctx context.Context, rec *storage.EventDeadLetterRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeDeadLetterRepo) List(ctx context.Context, limit int) ([]*storage.EventDeadLetterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recs, nil
}

func (r *fakeDeadLetterRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

// fakeStore is a storage.Store exposing only the dead-letter repo; the
// other repositories are unused by the bus and left nil-unsafe on purpose.
type fakeStore struct {
	deadLetters *fakeDeadLetterRepo
}

func newFakeStore() *fakeStore { return &fakeStore{deadLetters: &fakeDeadLetterRepo{}} }

func (s *fakeStore) DeploySteps() storage.DeployStepRepository         { return nil }
func (s *fakeStore) RollbackAudit() storage.RollbackAuditRepository    { return nil }
func (s *fakeStore) EventDeadLetters() storage.EventDeadLetterRepository { return s.deadLetters }
func (s *fakeStore) Close() error                                     { return nil }
func (s *fakeStore) Migrate() error                                   { return nil }

var _ storage.Store = (*fakeStore)(nil)

func TestPublish_DeliversEventToBroker(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := New(srv.URL, "secret", logger.New("error"), nil)
	defer bus.Close()

	bus.Publish(context.Background(), coreevents.Event{
		Kind:        coreevents.KindDeployComplete,
		Project:     "acme",
		Environment: "production",
	})

	select {
	case body := <-received:
		channels, ok := body["channels"].([]any)
		require.True(t, ok)
		assert.NotEmpty(t, channels)
		event, ok := body["event"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "acme", event["project"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered to broker")
	}
}

func TestPublish_SetsTimestampWhenZero(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := New(srv.URL, "secret", logger.New("error"), nil)
	defer bus.Close()

	bus.Publish(context.Background(), coreevents.Event{Kind: coreevents.KindPromote, Project: "acme", Environment: "production"})

	select {
	case body := <-received:
		event := body["event"].(map[string]any)
		assert.NotEmpty(t, event["timestamp"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestPublish_QueueFullDropsWithoutBlocking(t *testing.T) {
	b := &Bus{
		apiURL: "http://unused.invalid",
		log:    logger.New("error"),
		queue:  make(chan coreevents.Event, queueCapacity),
		done:   make(chan struct{}),
	}
	for i := 0; i < queueCapacity; i++ {
		b.queue <- coreevents.Event{Kind: coreevents.KindDeployProgress}
	}

	done := make(chan struct{})
	go func() {
		b.Publish(context.Background(), coreevents.Event{Kind: coreevents.KindDeployProgress})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked on a full queue instead of dropping")
	}
	assert.Len(t, b.queue, queueCapacity)
}

func TestDeliver_ExhaustsRetriesThenDeadLetters(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newFakeStore()
	bus := New(srv.URL, "secret", logger.New("error"), store)
	defer bus.Close()

	bus.deliver(coreevents.Event{Kind: coreevents.KindDeployError, Project: "acme", Environment: "production", Timestamp: time.Now().UTC()})

	require.Eventually(t, func() bool {
		return store.deadLetters.count() == 1
	}, 20*time.Second, 100*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, attempts, 1, "should have retried more than once before giving up")
}

func TestClose_StopsDrainWorker(t *testing.T) {
	bus := New("http://unused.invalid", "secret", logger.New("error"), nil)
	require.NoError(t, bus.Close())
}
