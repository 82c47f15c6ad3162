package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PublicUser mirrors the identity service's public user payload.
type PublicUser struct {
	ID          string  `json:"id"`
	FullName    *string `json:"fullName"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

// UserDirectory resolves public customer details in bulk. The caller's
// bearer token is forwarded so the identity service can authorize the
// lookup.
type UserDirectory interface {
	Lookup(ctx context.Context, ids []string, authHeader string) ([]PublicUser, error)
}

// HTTPUserDirectory calls POST /users/public-by-ids on the identity service.
type HTTPUserDirectory struct {
	BaseURL string
	Client  *http.Client
}

// NewUserDirectory builds an HTTPUserDirectory with a 5 second timeout.
func NewUserDirectory(baseURL string) *HTTPUserDirectory {
	return &HTTPUserDirectory{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Lookup fetches public details for the given user IDs.
func (d *HTTPUserDirectory) Lookup(ctx context.Context, ids []string, authHeader string) ([]PublicUser, error) {
	if len(ids) == 0 {
		return []PublicUser{}, nil
	}
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/users/public-by-ids", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}
	var users []PublicUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, err
	}
	return users, nil
}
