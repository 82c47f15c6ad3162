// Package directory contains read-only clients for the collaborating
// services: the table service, the identity service and the restaurant
// service. The core never mutates these resources; it only reads them to
// resolve availability and to enrich reservation listings. Each client is
// defined as a small interface so handlers can be tested with fakes, and
// every HTTP implementation carries a short timeout so a slow collaborator
// cannot stall the request path.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Table mirrors the payload of the table service. JSON field names follow
// the collaborator's contract, not this service's conventions.
type Table struct {
	ID           string `json:"id"`
	RestaurantID string `json:"restaurantId"`
	TableNumber  string `json:"tableNumber"`
	Capacity     int    `json:"capacity"`
	IsActive     bool   `json:"isActive"`
}

// TableDirectory lists the physical tables of a restaurant.
type TableDirectory interface {
	List(ctx context.Context, restaurantID string) ([]Table, error)
}

// HTTPTableDirectory calls GET /tables?restaurantId= on the table service.
type HTTPTableDirectory struct {
	BaseURL string
	Client  *http.Client
}

// NewTableDirectory builds an HTTPTableDirectory with a 5 second timeout.
func NewTableDirectory(baseURL string) *HTTPTableDirectory {
	return &HTTPTableDirectory{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// List fetches the tables of a restaurant.
func (d *HTTPTableDirectory) List(ctx context.Context, restaurantID string) ([]Table, error) {
	u := fmt.Sprintf("%s/tables?restaurantId=%s", d.BaseURL, url.QueryEscape(restaurantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("table service returned %d", resp.StatusCode)
	}
	var tables []Table
	if err := json.NewDecoder(resp.Body).Decode(&tables); err != nil {
		return nil, err
	}
	return tables, nil
}
