package alerts

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"storefront-triage/internal/schema"
)

var evalNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Stock rules
// ---------------------------------------------------------------------------

func TestEvaluateStockOutOfStock(t *testing.T) {
	products := []schema.Product{
		{ID: "4", Name: "Widget", Stock: 0, MinStock: 8},
	}

	candidates := Evaluate(products, nil, evalNow)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}

	c := candidates[0]
	if c.Type != schema.NotifyOutOfStock {
		t.Errorf("expected out_of_stock, got %s", c.Type)
	}
	if c.Priority != PriorityHigh {
		t.Errorf("expected high priority, got %s", c.Priority)
	}
	if got := NotificationID(c.Type, c.SourceEntityID); got != "out_of_stock:4" {
		t.Errorf("expected id out_of_stock:4, got %s", got)
	}
}

func TestEvaluateStockLowStockBoundary(t *testing.T) {
	tests := []struct {
		name     string
		stock    int
		minStock int
		wantType schema.NotificationType
		want     bool
	}{
		{"at threshold", 5, 5, schema.NotifyLowStock, true},
		{"below threshold", 3, 5, schema.NotifyLowStock, true},
		{"above threshold", 6, 5, "", false},
		{"zero overrides low", 0, 5, schema.NotifyOutOfStock, true},
		{"zero min stock", 10, 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := []schema.Product{
				{ID: "p1", Name: "Widget", Stock: tt.stock, MinStock: tt.minStock},
			}
			candidates := Evaluate(products, nil, evalNow)

			if !tt.want {
				if len(candidates) != 0 {
					t.Fatalf("expected no candidates, got %d", len(candidates))
				}
				return
			}
			if len(candidates) != 1 {
				t.Fatalf("expected 1 candidate, got %d", len(candidates))
			}
			if candidates[0].Type != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, candidates[0].Type)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Order rules
// ---------------------------------------------------------------------------

func TestEvaluateNewOrder(t *testing.T) {
	orders := []schema.Order{
		{
			ID:           "o1",
			OrderNumber:  "TT-2024-002",
			CustomerName: "Dana",
			Total:        149.99,
			Status:       schema.OrderPending,
			CreatedAt:    evalNow.Add(-time.Minute),
		},
	}

	candidates := Evaluate(nil, orders, evalNow)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}

	c := candidates[0]
	if c.Type != schema.NotifyNewOrder {
		t.Errorf("expected new_order, got %s", c.Type)
	}
	if c.Priority != PriorityHigh {
		t.Errorf("expected high priority, got %s", c.Priority)
	}
	if !strings.Contains(c.Message, "TT-2024-002") {
		t.Errorf("message should carry the order number: %q", c.Message)
	}
}

func TestEvaluateNonPendingOrdersIgnored(t *testing.T) {
	for _, status := range []schema.OrderStatus{
		schema.OrderShipped, schema.OrderDelivered, schema.OrderCancelled,
	} {
		orders := []schema.Order{
			{ID: "o1", OrderNumber: "A-1", Status: status, CreatedAt: evalNow.Add(-time.Hour)},
		}
		if got := Evaluate(nil, orders, evalNow); len(got) != 0 {
			t.Errorf("status %s: expected no candidates, got %d", status, len(got))
		}
	}
}

func TestEvaluateProcessingDelay(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"under threshold", 90 * time.Minute, false},
		{"exactly at threshold", 2 * time.Hour, false},
		{"just over threshold", 2*time.Hour + time.Second, true},
		{"well over threshold", 5 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := []schema.Order{
				{
					ID:          "o1",
					OrderNumber: "A-1",
					Status:      schema.OrderProcessing,
					CreatedAt:   evalNow.Add(-tt.elapsed),
				},
			}
			got := Evaluate(nil, orders, evalNow)
			if tt.want && len(got) != 1 {
				t.Fatalf("expected 1 candidate, got %d", len(got))
			}
			if !tt.want && len(got) != 0 {
				t.Fatalf("expected no candidates, got %d", len(got))
			}
		})
	}
}

func TestProcessingDelayHoursFloored(t *testing.T) {
	orders := []schema.Order{
		{
			ID:          "o1",
			OrderNumber: "A-1",
			Status:      schema.OrderProcessing,
			CreatedAt:   evalNow.Add(-(3*time.Hour + 59*time.Minute)),
		},
	}

	candidates := Evaluate(nil, orders, evalNow)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if !strings.Contains(candidates[0].Message, "3 hours") {
		t.Errorf("elapsed hours should floor to 3: %q", candidates[0].Message)
	}
}

func TestProcessingDelayUsesUpdatedAt(t *testing.T) {
	// Created long ago but the status changed recently: no delay alert.
	orders := []schema.Order{
		{
			ID:          "o1",
			OrderNumber: "A-1",
			Status:      schema.OrderProcessing,
			CreatedAt:   evalNow.Add(-48 * time.Hour),
			UpdatedAt:   evalNow.Add(-30 * time.Minute),
		},
	}
	if got := Evaluate(nil, orders, evalNow); len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}

// ---------------------------------------------------------------------------
// Determinism
// ---------------------------------------------------------------------------

func TestEvaluateDeterministic(t *testing.T) {
	products := []schema.Product{
		{ID: "1", Name: "A", Stock: 0, MinStock: 2},
		{ID: "2", Name: "B", Stock: 1, MinStock: 5},
	}
	orders := []schema.Order{
		{ID: "o1", OrderNumber: "A-1", Status: schema.OrderPending, CreatedAt: evalNow.Add(-time.Minute)},
		{ID: "o2", OrderNumber: "A-2", Status: schema.OrderProcessing, CreatedAt: evalNow.Add(-4 * time.Hour)},
	}

	first := Evaluate(products, orders, evalNow)
	for i := 0; i < 10; i++ {
		again := Evaluate(products, orders, evalNow)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced different candidates", i)
		}
	}
	if len(first) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(first))
	}
}
