// Package catalog fetches product and order snapshots from the storefront
// catalog/order service.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"storefront-triage/internal/schema"
)

// Store provides point-in-time product and order snapshots.
type Store interface {
	ListProducts(ctx context.Context) ([]schema.Product, error)
	ListOrders(ctx context.Context) ([]schema.Order, error)
}

// Client is an HTTP Store backed by the catalog service API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type productsResponse struct {
	Products []schema.Product `json:"products"`
}

type ordersResponse struct {
	Orders []schema.Order `json:"orders"`
}

// ListProducts fetches the current product snapshot.
func (c *Client) ListProducts(ctx context.Context) ([]schema.Product, error) {
	var resp productsResponse
	if err := c.get(ctx, "/v1/products", &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// ListOrders fetches the current order snapshot.
func (c *Client) ListOrders(ctx context.Context) ([]schema.Order, error) {
	var resp ordersResponse
	if err := c.get(ctx, "/v1/orders", &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	products []schema.Product
	orders   []schema.Order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetProducts replaces the product snapshot.
func (m *MemoryStore) SetProducts(products []schema.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append([]schema.Product(nil), products...)
}

// SetOrders replaces the order snapshot.
func (m *MemoryStore) SetOrders(orders []schema.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append([]schema.Order(nil), orders...)
}

// ListProducts returns the current product snapshot.
func (m *MemoryStore) ListProducts(_ context.Context) ([]schema.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schema.Product(nil), m.products...), nil
}

// ListOrders returns the current order snapshot.
func (m *MemoryStore) ListOrders(_ context.Context) ([]schema.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schema.Order(nil), m.orders...), nil
}
