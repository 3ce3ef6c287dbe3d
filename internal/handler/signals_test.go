package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"signalrelay/internal/models"
	"signalrelay/internal/repository"
)

// stubRepo overrides only the methods the broadcast path touches; everything
// else panics through the nil embedded interface.
type stubRepo struct {
	repository.Repository

	trader    *models.Trader
	followers []int64

	signals    []*models.Signal
	anchors    []*models.AnchoredSignal
	deliveries []models.SignalDelivery
}

func (s *stubRepo) GetTraderByID(_ context.Context, id int64) (*models.Trader, error) {
	if s.trader != nil && s.trader.ID == id {
		return s.trader, nil
	}
	return nil, nil
}

func (s *stubRepo) InsertSignal(_ context.Context, item *models.Signal) error {
	item.ID = uint64(len(s.signals) + 1)
	s.signals = append(s.signals, item)
	return nil
}

func (s *stubRepo) InsertAnchoredSignal(_ context.Context, item *models.AnchoredSignal) error {
	item.ID = uint64(len(s.anchors) + 1)
	s.anchors = append(s.anchors, item)
	return nil
}

func (s *stubRepo) ListFollowerIDs(_ context.Context, traderID int64) ([]int64, error) {
	return s.followers, nil
}

func (s *stubRepo) EnqueueDeliveries(_ context.Context, items []models.SignalDelivery) error {
	s.deliveries = append(s.deliveries, items...)
	return nil
}

func postBroadcast(t *testing.T, repo *stubRepo, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&SignalHandler{Repo: repo}).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestBroadcastAnchorsLedgerEnabledTrader(t *testing.T) {
	addr := "0xabc123"
	repo := &stubRepo{
		trader:    &models.Trader{ID: 7, Handle: "alpha", LedgerAddress: &addr},
		followers: []int64{3, 9},
	}

	rec := postBroadcast(t, repo, `{"trader_id":7,"payload":{"symbol":"BTCUSDT","side":"LONG"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.anchors) != 1 {
		t.Fatalf("anchors %d", len(repo.anchors))
	}
	anchor := repo.anchors[0]
	if anchor.Status != models.AnchorStatusPending || anchor.PayloadHash == nil {
		t.Fatalf("anchor %+v", anchor)
	}
	if len(repo.deliveries) != 2 {
		t.Fatalf("deliveries %d", len(repo.deliveries))
	}
}

func TestBroadcastSkipsAnchorForWalletlessTrader(t *testing.T) {
	repo := &stubRepo{
		trader:    &models.Trader{ID: 7, Handle: "alpha"},
		followers: []int64{3},
	}

	rec := postBroadcast(t, repo, `{"trader_id":7,"payload":{"symbol":"BTCUSDT","side":"LONG"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.anchors) != 0 {
		t.Fatalf("anchor queued for trader without ledger address: %+v", repo.anchors[0])
	}
	if len(repo.deliveries) != 1 {
		t.Fatalf("deliveries %d", len(repo.deliveries))
	}
}
