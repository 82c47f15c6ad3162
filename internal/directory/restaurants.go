package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Restaurant mirrors the restaurant service's payload. Only the fields
// used for enrichment are decoded.
type Restaurant struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Address  *string `json:"address"`
	Phone    *string `json:"phone"`
	IsActive bool    `json:"isActive"`
}

// RestaurantDirectory lists the known restaurants.
type RestaurantDirectory interface {
	List(ctx context.Context) ([]Restaurant, error)
}

// HTTPRestaurantDirectory calls GET /restaurants on the restaurant service.
type HTTPRestaurantDirectory struct {
	BaseURL string
	Client  *http.Client
}

// NewRestaurantDirectory builds an HTTPRestaurantDirectory with a 5 second
// timeout.
func NewRestaurantDirectory(baseURL string) *HTTPRestaurantDirectory {
	return &HTTPRestaurantDirectory{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// List fetches every restaurant.
func (d *HTTPRestaurantDirectory) List(ctx context.Context) ([]Restaurant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"/restaurants", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("restaurant service returned %d", resp.StatusCode)
	}
	var restaurants []Restaurant
	if err := json.NewDecoder(resp.Body).Decode(&restaurants); err != nil {
		return nil, err
	}
	return restaurants, nil
}
