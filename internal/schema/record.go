// Package schema defines the canonical records consumed by the triage core.
// Product and order snapshots come from the catalog/order store, security
// events from the event log; everything is validated against this structure
// before a rule or classifier ever sees it.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Product is a catalog item snapshot at evaluation time.
type Product struct {
	ID       string `json:"id" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,max=256"`
	Stock    int    `json:"stock" validate:"min=0"`
	MinStock int    `json:"min_stock" validate:"min=0"`
	MaxStock int    `json:"max_stock,omitempty" validate:"omitempty,min=0"`
}

// OrderStatus represents the fulfillment status of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// IsValid checks if the order status is a known value.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Order is an order record snapshot at evaluation time.
type Order struct {
	ID           string      `json:"id" validate:"required,max=128"`
	OrderNumber  string      `json:"order_number" validate:"required,order_number,max=64"`
	CustomerName string      `json:"customer_name" validate:"max=256"`
	Total        float64     `json:"total" validate:"min=0"`
	Status       OrderStatus `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
	CreatedAt    time.Time   `json:"created_at" validate:"required"`
	UpdatedAt    time.Time   `json:"updated_at,omitempty"`
}

// StatusAge returns when the order last changed: UpdatedAt when set,
// otherwise CreatedAt.
func (o *Order) StatusAge() time.Time {
	if !o.UpdatedAt.IsZero() {
		return o.UpdatedAt
	}
	return o.CreatedAt
}

// EventSeverity represents the reported severity of a security event.
type EventSeverity string

const (
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// Rank returns a comparable ordering for severities (higher is worse).
func (s EventSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// IsValid checks if the severity is a known value.
func (s EventSeverity) IsValid() bool {
	return s.Rank() > 0
}

// MaxSeverity returns the worse of two severities.
func MaxSeverity(a, b EventSeverity) EventSeverity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SecurityEvent is a raw event from the security event log. Events are
// immutable once recorded; only the incident back-reference may be assigned,
// and only once.
type SecurityEvent struct {
	ID         uuid.UUID     `json:"id" validate:"required"`
	Type       string        `json:"type" validate:"required,event_type"`
	Severity   EventSeverity `json:"severity" validate:"required,oneof=low medium high critical"`
	IPAddress  string        `json:"ip_address,omitempty" validate:"omitempty,ip"`
	Actor      string        `json:"actor,omitempty" validate:"max=256"`
	CreatedAt  time.Time     `json:"created_at" validate:"required"`
	IncidentID string        `json:"incident_id,omitempty"`
}
