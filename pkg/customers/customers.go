// Package customers is the client for the customer profile service. It
// backs every interface the engine needs customer data for: snapshots,
// segment membership, event counts, and send-time statistics.
package customers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("module", "customers"),
	}
}

// Snapshot fetches a customer's point-in-time profile.
func (c *Client) Snapshot(ctx context.Context, customerID string) (*models.CustomerSnapshot, error) {
	var snapshot models.CustomerSnapshot

	path := "/customers/" + url.PathEscape(customerID)
	if err := c.get(ctx, path, &snapshot); err != nil {
		return nil, err
	}

	snapshot.CustomerID = customerID

	return &snapshot, nil
}

// IsMember answers segment membership for condition nodes.
func (c *Client) IsMember(ctx context.Context, segmentID, customerID string) (bool, error) {
	var result struct {
		Member bool `json:"member"`
	}

	path := "/segments/" + url.PathEscape(segmentID) + "/members/" + url.PathEscape(customerID)
	if err := c.get(ctx, path, &result); err != nil {
		return false, err
	}

	return result.Member, nil
}

// Members lists a segment's current members for schedule triggers.
func (c *Client) Members(ctx context.Context, segmentID string) ([]string, error) {
	var result struct {
		Members []string `json:"members"`
	}

	path := "/segments/" + url.PathEscape(segmentID) + "/members"
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}

	return result.Members, nil
}

// Count returns how many times a customer performed an event since a
// point in time, for event_count conditions.
func (c *Client) Count(ctx context.Context, customerID, eventName string, since time.Time) (int, error) {
	var result struct {
		Count int `json:"count"`
	}

	path := "/customers/" + url.PathEscape(customerID) + "/events/" + url.PathEscape(eventName) +
		"/count?since=" + strconv.FormatInt(since.Unix(), 10)
	if err := c.get(ctx, path, &result); err != nil {
		return 0, err
	}

	return result.Count, nil
}

// BestSendHour returns the customer's historically best engagement hour.
// The second return is false when no history exists yet.
func (c *Client) BestSendHour(ctx context.Context, customerID string) (int, bool, error) {
	var result struct {
		Hour       *int `json:"hour"`
		HasHistory bool `json:"has_history"`
	}

	path := "/customers/" + url.PathEscape(customerID) + "/send-stats"
	if err := c.get(ctx, path, &result); err != nil {
		return 0, false, err
	}

	if !result.HasHistory || result.Hour == nil {
		return 0, false, nil
	}

	return *result.Hour, true, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("profile service request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("profile service returned status %d for %s", resp.StatusCode, path)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
