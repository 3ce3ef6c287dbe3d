package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"signalrelay/internal/config"
	"signalrelay/internal/models"
)

type stubStore struct {
	signals    map[uint64]*models.Signal
	deliveries map[uint64]*models.SignalDelivery
}

func newStubStore() *stubStore {
	return &stubStore{
		signals:    map[uint64]*models.Signal{},
		deliveries: map[uint64]*models.SignalDelivery{},
	}
}

func (s *stubStore) ListDueDeliveries(_ context.Context, now time.Time, limit int) ([]models.SignalDelivery, error) {
	var out []models.SignalDelivery
	for _, row := range s.deliveries {
		due := row.Status == models.DeliveryStatusQueued &&
			(row.NextAttemptAt == nil || !row.NextAttemptAt.After(now))
		if due {
			out = append(out, *row)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *stubStore) GetSignalByID(_ context.Context, id uint64) (*models.Signal, error) {
	return s.signals[id], nil
}

func (s *stubStore) MarkDeliveryDelivered(_ context.Context, id uint64, attempts int) error {
	row := s.deliveries[id]
	row.Status = models.DeliveryStatusDelivered
	row.Attempts = attempts
	row.NextAttemptAt = nil
	return nil
}

func (s *stubStore) MarkDeliveryRetry(_ context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error {
	row := s.deliveries[id]
	row.Attempts = attempts
	row.LastError = &lastErr
	row.NextAttemptAt = &nextAttemptAt
	return nil
}

func (s *stubStore) MarkDeliveryFailed(_ context.Context, id uint64, attempts int, lastErr string) error {
	row := s.deliveries[id]
	row.Status = models.DeliveryStatusFailed
	row.Attempts = attempts
	row.LastError = &lastErr
	row.NextAttemptAt = nil
	return nil
}

type fakeSender struct {
	calls   int
	failFor int
	chats   []int64
}

func (f *fakeSender) SendSignal(_ context.Context, chatID int64, signal *models.Signal) error {
	f.calls++
	f.chats = append(f.chats, chatID)
	if f.calls <= f.failFor {
		return errors.New("telegram: 429 Too Many Requests")
	}
	return nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newWorker(store *stubStore, sender *fakeSender) *Worker {
	return &Worker{
		Store:  store,
		Sender: sender,
		Config: config.DeliveryConfig{
			BatchSize:   25,
			MaxAttempts: 5,
			BackoffBase: 5 * time.Second,
		},
		Now: fixedNow,
	}
}

func seedStore() *stubStore {
	s := newStubStore()
	s.signals[1] = &models.Signal{ID: 1, TraderID: 7, Payload: datatypes.JSON(`{"symbol":"BTCUSDT","side":"LONG"}`)}
	s.deliveries[10] = &models.SignalDelivery{ID: 10, SignalID: 1, FollowerID: 42, Status: models.DeliveryStatusQueued}
	return s
}

func TestDeliverMarksDelivered(t *testing.T) {
	store := seedStore()
	sender := &fakeSender{}
	w := newWorker(store, sender)

	w.Tick(context.Background())

	row := store.deliveries[10]
	if row.Status != models.DeliveryStatusDelivered {
		t.Fatalf("status %s", row.Status)
	}
	if len(sender.chats) != 1 || sender.chats[0] != 42 {
		t.Fatalf("sent to %v", sender.chats)
	}
}

func TestDeliverRetriesThenFails(t *testing.T) {
	store := seedStore()
	sender := &fakeSender{failFor: 10}
	w := newWorker(store, sender)

	w.Tick(context.Background())
	row := store.deliveries[10]
	if row.Status != models.DeliveryStatusQueued || row.Attempts != 1 {
		t.Fatalf("after first failure: status %s attempts %d", row.Status, row.Attempts)
	}
	if row.NextAttemptAt == nil || !row.NextAttemptAt.Equal(fixedNow().Add(5*time.Second)) {
		t.Fatalf("unexpected next attempt %v", row.NextAttemptAt)
	}

	row.NextAttemptAt = nil
	w.Tick(context.Background())
	if row.Attempts != 2 {
		t.Fatalf("attempts %d after second failure", row.Attempts)
	}
	// Backoff doubles per failure: 5s, 10s, 20s, ...
	if row.NextAttemptAt == nil || !row.NextAttemptAt.Equal(fixedNow().Add(10*time.Second)) {
		t.Fatalf("unexpected next attempt %v", row.NextAttemptAt)
	}

	for i := 0; i < 3; i++ {
		row.NextAttemptAt = nil
		w.Tick(context.Background())
	}
	if row.Status != models.DeliveryStatusFailed {
		t.Fatalf("status %s after exhausting retries", row.Status)
	}
	if row.Attempts != 5 {
		t.Fatalf("attempts %d", row.Attempts)
	}
}

func TestDeliverFailsMissingSignal(t *testing.T) {
	store := seedStore()
	delete(store.signals, 1)
	sender := &fakeSender{}
	w := newWorker(store, sender)

	w.Tick(context.Background())

	row := store.deliveries[10]
	if row.Status != models.DeliveryStatusFailed {
		t.Fatalf("status %s", row.Status)
	}
	if sender.calls != 0 {
		t.Fatal("missing signal was sent")
	}
}
