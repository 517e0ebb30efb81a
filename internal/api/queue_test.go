package api

import (
	"context"
	"net/http"
	"testing"

	"go.payrelay.dev/internal/queue"
)

func TestGetStats(t *testing.T) {
	r, q := newTestRouter(t, nil)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, queue.EnqueueRequest{Receiver: "alice.near", Amount: "1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{Receiver: "bob.near", Amount: "2"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkItemStalled(ctx, item.ID, "account missing"); err != nil {
		t.Fatalf("MarkItemStalled failed: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, "/api/queue/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats QueueStatsDTO
	decodeBody(t, w, &stats)

	if stats.Total != 2 {
		t.Errorf("Expected total 2, got %d", stats.Total)
	}
	if stats.Pending != 1 {
		t.Errorf("Expected pending 1, got %d", stats.Pending)
	}
	if stats.Stalled != 1 {
		t.Errorf("Expected stalled 1, got %d", stats.Stalled)
	}
	if !stats.HasWork {
		t.Error("Expected hasWork true with a pending item")
	}
}

func TestGetStats_Empty(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := doRequest(t, r, http.MethodGet, "/api/queue/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats QueueStatsDTO
	decodeBody(t, w, &stats)

	if stats.Total != 0 {
		t.Errorf("Expected total 0, got %d", stats.Total)
	}
	if stats.HasWork {
		t.Error("Expected hasWork false on an empty queue")
	}
}
