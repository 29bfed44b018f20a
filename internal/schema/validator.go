package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// eventTypePattern defines the valid format for security event types.
// Types are lowercase with underscore separators.
// Examples: "failed_login", "brute_force", "sql_injection_attempt"
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// orderNumberPattern matches storefront order numbers such as "TT-2024-002".
var orderNumberPattern = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)*$`)

// Validator validates inbound records against the canonical schema.
// Malformed records are rejected one at a time so a single bad record
// never poisons a whole snapshot.
type Validator struct {
	validate  *validator.Validate
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return eventTypePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("order_number", func(fl validator.FieldLevel) bool {
		return orderNumberPattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxFuture: cfg.MaxFuture,
	}
}

// ValidateProduct validates a product snapshot record.
func (v *Validator) ValidateProduct(p *Product) error {
	if err := v.validate.Struct(p); err != nil {
		return fmt.Errorf("product %q: %w", p.ID, err)
	}
	return nil
}

// ValidateOrder validates an order snapshot record.
func (v *Validator) ValidateOrder(o *Order) error {
	if err := v.validate.Struct(o); err != nil {
		return fmt.Errorf("order %q: %w", o.ID, err)
	}
	if o.CreatedAt.After(time.Now().Add(v.maxFuture)) {
		return fmt.Errorf("order %q: created_at in future: %v", o.ID, o.CreatedAt)
	}
	return nil
}

// ValidateEvent validates a security event record.
func (v *Validator) ValidateEvent(e *SecurityEvent) error {
	if err := v.validate.Struct(e); err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	if e.CreatedAt.After(time.Now().Add(v.maxFuture)) {
		return fmt.Errorf("event %s: created_at in future: %v", e.ID, e.CreatedAt)
	}
	return nil
}

// ValidEventType checks if an event type string matches the required format.
func ValidEventType(t string) bool {
	return eventTypePattern.MatchString(t)
}
