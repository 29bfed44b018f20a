package alerts

import (
	"fmt"
	"time"

	"storefront-triage/internal/schema"
)

// ProcessingDelayThreshold is how long an order may sit in processing
// before a delay notification fires.
const ProcessingDelayThreshold = 2 * time.Hour

// Evaluate maps a snapshot of products and orders to the full candidate
// set. It is pure: no I/O, no clock reads (the caller passes now), and the
// same snapshot always yields the same candidates. Rules are independent;
// their relative order here carries no meaning.
func Evaluate(products []schema.Product, orders []schema.Order, now time.Time) []Candidate {
	candidates := make([]Candidate, 0, len(products)+len(orders))

	for i := range products {
		if c, ok := evaluateStock(&products[i]); ok {
			candidates = append(candidates, c)
		}
	}

	for i := range orders {
		if c, ok := evaluateNewOrder(&orders[i]); ok {
			candidates = append(candidates, c)
		}
		if c, ok := evaluateProcessingDelay(&orders[i], now); ok {
			candidates = append(candidates, c)
		}
	}

	return candidates
}

// evaluateStock covers both stock rules. Zero stock is out-of-stock;
// stock at or below the minimum (but above zero) is low-stock. The
// boundary is inclusive: stock == minStock triggers.
func evaluateStock(p *schema.Product) (Candidate, bool) {
	payload := schema.StockPayload{
		ProductID:   p.ID,
		ProductName: p.Name,
		Stock:       p.Stock,
		MinStock:    p.MinStock,
	}

	switch {
	case p.Stock == 0:
		return Candidate{
			ID:               NotificationID(schema.NotifyOutOfStock, p.ID),
			Type:             schema.NotifyOutOfStock,
			Priority:         PriorityHigh,
			Message:          fmt.Sprintf("%s is out of stock", p.Name),
			SourceEntityID:   p.ID,
			SourceEntityType: EntityProduct,
			Payload:          payload,
		}, true
	case p.Stock <= p.MinStock:
		return Candidate{
			ID:               NotificationID(schema.NotifyLowStock, p.ID),
			Type:             schema.NotifyLowStock,
			Priority:         PriorityMedium,
			Message:          fmt.Sprintf("%s is low on stock (%d of minimum %d)", p.Name, p.Stock, p.MinStock),
			SourceEntityID:   p.ID,
			SourceEntityType: EntityProduct,
			Payload:          payload,
		}, true
	}
	return Candidate{}, false
}

func evaluateNewOrder(o *schema.Order) (Candidate, bool) {
	if o.Status != schema.OrderPending {
		return Candidate{}, false
	}
	return Candidate{
		ID:               NotificationID(schema.NotifyNewOrder, o.ID),
		Type:             schema.NotifyNewOrder,
		Priority:         PriorityHigh,
		Message:          fmt.Sprintf("New order %s from %s (%.2f)", o.OrderNumber, o.CustomerName, o.Total),
		SourceEntityID:   o.ID,
		SourceEntityType: EntityOrder,
		Payload: schema.OrderPayload{
			OrderID:      o.ID,
			OrderNumber:  o.OrderNumber,
			CustomerName: o.CustomerName,
			Total:        o.Total,
		},
	}, true
}

func evaluateProcessingDelay(o *schema.Order, now time.Time) (Candidate, bool) {
	if o.Status != schema.OrderProcessing {
		return Candidate{}, false
	}
	elapsed := now.Sub(o.StatusAge())
	if elapsed <= ProcessingDelayThreshold {
		return Candidate{}, false
	}
	hours := int(elapsed.Hours()) // floored whole hours
	return Candidate{
		ID:               NotificationID(schema.NotifyOrderStatusChange, o.ID),
		Type:             schema.NotifyOrderStatusChange,
		Priority:         PriorityMedium,
		Message:          fmt.Sprintf("Order %s has been processing for %d hours", o.OrderNumber, hours),
		SourceEntityID:   o.ID,
		SourceEntityType: EntityOrder,
		Payload: schema.DelayPayload{
			OrderID:      o.ID,
			OrderNumber:  o.OrderNumber,
			HoursElapsed: hours,
		},
	}, true
}
