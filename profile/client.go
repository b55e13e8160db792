package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"rank-tracker-service/models"

	"github.com/apex/log"
)

// Client is a read-only client for the business-profile service, which owns
// the canonical identity and coordinates of each business.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new business profile client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 6 * time.Second},
	}
}

// GetBusiness fetches a business's identity and location.
func (c *Client) GetBusiness(ctx context.Context, businessID string) (*models.BusinessIdentity, error) {
	reqURL := fmt.Sprintf("%s/api/v3/businesses/%s", c.baseURL, url.PathEscape(businessID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("Failed to call profile service for business %s: %v", businessID, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("business %s not found", businessID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile service returned status %d for business %s", resp.StatusCode, businessID)
	}

	var identity models.BusinessIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	if identity.BusinessID == "" {
		identity.BusinessID = businessID
	}
	return &identity, nil
}
