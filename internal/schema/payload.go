package schema

// NotificationType identifies the rule family that produced a notification.
type NotificationType string

const (
	NotifyNewOrder          NotificationType = "new_order"
	NotifyLowStock          NotificationType = "low_stock"
	NotifyOutOfStock        NotificationType = "out_of_stock"
	NotifyOrderStatusChange NotificationType = "order_status_change"
	NotifySystem            NotificationType = "system"
)

// IsValid checks if the notification type is a known value.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotifyNewOrder, NotifyLowStock, NotifyOutOfStock, NotifyOrderStatusChange, NotifySystem:
		return true
	}
	return false
}

// Payload is the typed data attached to a notification. Each notification
// type carries exactly one payload variant; there is no open map.
type Payload interface {
	NotificationType() NotificationType
}

// StockPayload accompanies low_stock and out_of_stock notifications.
type StockPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Stock       int    `json:"stock"`
	MinStock    int    `json:"min_stock"`
}

// NotificationType reports the variant's type; zero stock is the out-of-stock case.
func (p StockPayload) NotificationType() NotificationType {
	if p.Stock == 0 {
		return NotifyOutOfStock
	}
	return NotifyLowStock
}

// OrderPayload accompanies new_order notifications.
type OrderPayload struct {
	OrderID      string  `json:"order_id"`
	OrderNumber  string  `json:"order_number"`
	CustomerName string  `json:"customer_name"`
	Total        float64 `json:"total"`
}

func (p OrderPayload) NotificationType() NotificationType { return NotifyNewOrder }

// DelayPayload accompanies order_status_change notifications for orders
// stuck in processing.
type DelayPayload struct {
	OrderID      string `json:"order_id"`
	OrderNumber  string `json:"order_number"`
	HoursElapsed int    `json:"hours_elapsed"`
}

func (p DelayPayload) NotificationType() NotificationType { return NotifyOrderStatusChange }

// SystemPayload accompanies system notifications (analysis failures,
// executor failures, degraded evaluation).
type SystemPayload struct {
	Component string `json:"component"`
	Reference string `json:"reference,omitempty"`
	Detail    string `json:"detail"`
}

func (p SystemPayload) NotificationType() NotificationType { return NotifySystem }
