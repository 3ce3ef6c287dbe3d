package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"signalrelay/internal/canonical"
	"signalrelay/internal/config"
	"signalrelay/internal/ledger"
	"signalrelay/internal/models"
)

type stubStore struct {
	signals    map[uint64]*models.Signal
	intents    map[uint64]*models.TradeIntent
	anchors    map[uint64]*models.AnchoredSignal // keyed by signal id
	executions map[uint64]*models.ExecutedTrade  // keyed by execution id
	byIntent   map[uint64]uint64                 // intent id -> execution id
	followers  map[int64][]int64
	nextID     uint64
}

func newStubStore() *stubStore {
	return &stubStore{
		signals:    map[uint64]*models.Signal{},
		intents:    map[uint64]*models.TradeIntent{},
		anchors:    map[uint64]*models.AnchoredSignal{},
		executions: map[uint64]*models.ExecutedTrade{},
		byIntent:   map[uint64]uint64{},
		followers:  map[int64][]int64{},
		nextID:     1,
	}
}

func (s *stubStore) ListIntentsAwaitingExecution(_ context.Context, limit int) ([]models.TradeIntent, error) {
	var out []models.TradeIntent
	for _, intent := range s.intents {
		if _, done := s.byIntent[intent.ID]; done {
			continue
		}
		out = append(out, *intent)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) GetTradeIntentByID(_ context.Context, id uint64) (*models.TradeIntent, error) {
	return s.intents[id], nil
}

func (s *stubStore) GetAnchoredSignalBySignalID(_ context.Context, signalID uint64) (*models.AnchoredSignal, error) {
	return s.anchors[signalID], nil
}

func (s *stubStore) GetSignalByID(_ context.Context, id uint64) (*models.Signal, error) {
	return s.signals[id], nil
}

func (s *stubStore) ListFollowerIDs(_ context.Context, traderID int64) ([]int64, error) {
	return s.followers[traderID], nil
}

func (s *stubStore) InsertExecutedTrade(_ context.Context, item *models.ExecutedTrade) (bool, error) {
	if _, exists := s.byIntent[item.TradeIntentID]; exists {
		return false, nil
	}
	cp := *item
	cp.ID = s.nextID
	s.nextID++
	s.executions[cp.ID] = &cp
	s.byIntent[cp.TradeIntentID] = cp.ID
	return true, nil
}

func (s *stubStore) ListDueExecutions(_ context.Context, now time.Time, limit int) ([]models.ExecutedTrade, error) {
	var out []models.ExecutedTrade
	for _, row := range s.executions {
		due := row.Status == models.ExecStatusPending &&
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

func (s *stubStore) ClaimExecution(_ context.Context, id uint64) (bool, error) {
	row, ok := s.executions[id]
	if !ok || row.Status != models.ExecStatusPending {
		return false, nil
	}
	row.Status = models.ExecStatusSubmitting
	return true, nil
}

func (s *stubStore) GetExecutedTradeByID(_ context.Context, id uint64) (*models.ExecutedTrade, error) {
	return s.executions[id], nil
}

func (s *stubStore) MarkExecutionDone(_ context.Context, id uint64, status, txHash string, at time.Time) error {
	row := s.executions[id]
	row.Status = status
	row.TxHash = &txHash
	row.ExecutedAt = &at
	row.NextAttemptAt = nil
	row.Error = nil
	return nil
}

func (s *stubStore) MarkExecutionRetry(_ context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error {
	row := s.executions[id]
	row.Status = models.ExecStatusPending
	row.Attempts = attempts
	row.Error = &lastErr
	row.NextAttemptAt = &nextAttemptAt
	return nil
}

func (s *stubStore) MarkExecutionFailed(_ context.Context, id uint64, attempts int, errCode string) error {
	row := s.executions[id]
	row.Status = models.ExecStatusFailed
	row.Attempts = attempts
	row.Error = &errCode
	row.NextAttemptAt = nil
	return nil
}

type fakeSubmitter struct {
	calls   int
	failFor int
	result  ledger.ExecResult
}

func (f *fakeSubmitter) SubmitExecution(_ context.Context, intentHash, planHash string, followerCount int) (ledger.ExecResult, error) {
	f.calls++
	if f.calls <= f.failFor {
		return ledger.ExecResult{}, errors.New("node unavailable")
	}
	if f.result.TxHash == "" {
		return ledger.ExecResult{TxHash: "0xbeef", Simulated: false}, nil
	}
	return f.result, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newPipeline(store *stubStore, submit *fakeSubmitter) *Pipeline {
	return &Pipeline{
		Store:  store,
		Submit: submit,
		Config: config.ExecutorConfig{
			IntakeBatch: 50,
			BatchSize:   25,
			MaxAttempts: 5,
			BackoffBase: 2 * time.Second,
			BackoffCap:  60 * time.Second,
		},
		Now: fixedNow,
	}
}

func seedStore(t *testing.T, verification string) *stubStore {
	t.Helper()
	s := newStubStore()
	s.signals[1] = &models.Signal{ID: 1, TraderID: 7, Payload: datatypes.JSON(`{"symbol":"BTCUSDT"}`)}
	s.intents[4] = &models.TradeIntent{
		ID:         4,
		SignalID:   1,
		Action:     "open_long",
		Market:     "BTCUSDT",
		SizeMode:   "fixed_quote",
		SizeValue:  decimal.RequireFromString("250.5"),
		IntentHash: "0xabc123",
	}
	s.anchors[1] = &models.AnchoredSignal{SignalID: 1, Status: models.AnchorStatusAnchored, VerificationStatus: verification}
	s.followers[7] = []int64{3, 9, 21}
	return s
}

func TestIntakeCreatesRowWithPlanHash(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	p := newPipeline(store, &fakeSubmitter{})

	p.intake(context.Background())

	id, ok := store.byIntent[4]
	if !ok {
		t.Fatal("no execution row created")
	}
	row := store.executions[id]
	wantHash, err := canonical.Fingerprint(map[string]any{
		"signal_id":  uint64(1),
		"size_value": decimal.RequireFromString("250.5"),
		"followers":  []int64{3, 9, 21},
	})
	if err != nil {
		t.Fatal(err)
	}
	if row.PlanHash != wantHash {
		t.Fatalf("plan hash %s want %s", row.PlanHash, wantHash)
	}
	if row.FollowerCount != 3 {
		t.Fatalf("follower count %d", row.FollowerCount)
	}
	if row.Status != models.ExecStatusPending {
		t.Fatalf("status %s", row.Status)
	}
}

func TestIntakeIsIdempotent(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	p := newPipeline(store, &fakeSubmitter{})

	p.intake(context.Background())
	p.intake(context.Background())

	if len(store.executions) != 1 {
		t.Fatalf("expected 1 execution row, got %d", len(store.executions))
	}
}

func TestIntakeSkipsUnverifiedAnchor(t *testing.T) {
	for _, status := range []string{models.VerificationUnverified, models.VerificationMismatch} {
		store := seedStore(t, status)
		p := newPipeline(store, &fakeSubmitter{})

		p.intake(context.Background())

		if len(store.executions) != 0 {
			t.Fatalf("anchor %s produced an execution row", status)
		}
	}
}

func TestProgressExecutesClaimedRow(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	submit := &fakeSubmitter{}
	p := newPipeline(store, submit)

	p.Tick(context.Background())

	row := store.executions[store.byIntent[4]]
	if row.Status != models.ExecStatusExecuted {
		t.Fatalf("status %s", row.Status)
	}
	if row.TxHash == nil || *row.TxHash != "0xbeef" {
		t.Fatal("tx hash not recorded")
	}
	if submit.calls != 1 {
		t.Fatalf("submit calls %d", submit.calls)
	}
}

func TestProgressMarksSimulatedStatus(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	submit := &fakeSubmitter{result: ledger.ExecResult{TxHash: "0xSIM_abc", Simulated: true}}
	p := newPipeline(store, submit)

	p.Tick(context.Background())

	row := store.executions[store.byIntent[4]]
	if row.Status != models.ExecStatusSimulated {
		t.Fatalf("status %s", row.Status)
	}
}

func TestProgressFailsExpiredDeadlineWithoutSubmit(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	past := fixedNow().Add(-time.Minute)
	store.intents[4].DeadlineTs = &past
	submit := &fakeSubmitter{}
	p := newPipeline(store, submit)

	p.Tick(context.Background())

	row := store.executions[store.byIntent[4]]
	if row.Status != models.ExecStatusFailed {
		t.Fatalf("status %s", row.Status)
	}
	if row.Error == nil || *row.Error != models.ErrCodeDeadlineExpired {
		t.Fatal("missing DEADLINE_EXPIRED code")
	}
	if submit.calls != 0 {
		t.Fatal("expired intent reached the ledger")
	}
}

func TestProgressRetriesWithBackoffThenFails(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	submit := &fakeSubmitter{failFor: 10}
	p := newPipeline(store, submit)

	p.intake(context.Background())
	row := store.executions[store.byIntent[4]]

	p.progress(context.Background())
	if row.Status != models.ExecStatusPending || row.Attempts != 1 {
		t.Fatalf("after first failure: status %s attempts %d", row.Status, row.Attempts)
	}
	if row.NextAttemptAt == nil || !row.NextAttemptAt.Equal(fixedNow().Add(4*time.Second)) {
		t.Fatalf("unexpected next attempt %v", row.NextAttemptAt)
	}

	for i := 0; i < 4; i++ {
		row.NextAttemptAt = nil
		p.progress(context.Background())
	}
	if row.Status != models.ExecStatusFailed {
		t.Fatalf("status %s after exhausting retries", row.Status)
	}
	if row.Attempts != 5 {
		t.Fatalf("attempts %d", row.Attempts)
	}
	if submit.calls != 5 {
		t.Fatalf("submit calls %d", submit.calls)
	}
}

func TestProgressBackoffIsCapped(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	submit := &fakeSubmitter{failFor: 10}
	p := newPipeline(store, submit)
	p.Config.MaxAttempts = 20

	p.intake(context.Background())
	row := store.executions[store.byIntent[4]]

	for i := 0; i < 6; i++ {
		row.NextAttemptAt = nil
		p.progress(context.Background())
	}
	// 2s << 6 = 128s, clamped to the 60s cap.
	if row.NextAttemptAt == nil || !row.NextAttemptAt.Equal(fixedNow().Add(60*time.Second)) {
		t.Fatalf("unexpected next attempt %v", row.NextAttemptAt)
	}
}

func TestProgressSkipsRowClaimedElsewhere(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	submit := &fakeSubmitter{}
	p := newPipeline(store, submit)

	p.intake(context.Background())
	id := store.byIntent[4]
	snapshot := *store.executions[id]
	store.executions[id].Status = models.ExecStatusSubmitting

	p.progressRow(context.Background(), snapshot)

	if submit.calls != 0 {
		t.Fatal("claimed row was submitted twice")
	}
}

func TestProgressFailsMissingIntent(t *testing.T) {
	store := seedStore(t, models.VerificationVerified)
	submit := &fakeSubmitter{}
	p := newPipeline(store, submit)

	p.intake(context.Background())
	delete(store.intents, 4)

	p.progress(context.Background())

	row := store.executions[store.byIntent[4]]
	if row.Status != models.ExecStatusFailed {
		t.Fatalf("status %s", row.Status)
	}
	if row.Error == nil || *row.Error != models.ErrCodeIntentNotFound {
		t.Fatal("missing INTENT_NOT_FOUND code")
	}
	if submit.calls != 0 {
		t.Fatal("missing intent reached the ledger")
	}
}
