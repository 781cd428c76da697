package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// APIResponse represents the structure of the indexer API response
type APIResponse struct {
	Schedules  []models.Schedule `json:"schedules,omitempty"`
	Data       []models.Schedule `json:"data,omitempty"`    // Some APIs use "data" as the key
	Results    []models.Schedule `json:"results,omitempty"` // Some APIs use "results" as the key
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalCount int               `json:"total_count"`
	TotalPages int               `json:"total_pages"`
}

// IndexerClient is an OrderStore backed by an external indexing service
type IndexerClient struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

var _ OrderStore = (*IndexerClient)(nil)

// NewIndexerClient creates a new indexer API client
func NewIndexerClient(endpoint string, log logger.Logger) *IndexerClient {
	return &IndexerClient{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// FindDue gets due schedules from the indexer API
func (c *IndexerClient) FindDue(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	url := fmt.Sprintf("%s/api/v1/schedules?status=due&now=%d", c.endpoint, now.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due schedules: %v", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	return decodeSchedules(bodyBytes, c.logger)
}

// decodeSchedules tolerates the response shapes different indexer versions
// produce: a wrapped page object, a bare array, or an array under an
// arbitrary top-level key.
func decodeSchedules(bodyBytes []byte, log logger.Logger) ([]models.Schedule, error) {
	// Try to unmarshal into our wrapper struct first
	var apiResp APIResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		// If that fails, try directly as an array
		var schedules []models.Schedule
		if err := json.Unmarshal(bodyBytes, &schedules); err != nil {
			return nil, fmt.Errorf("failed to decode schedules: %v, body: %s", err, string(bodyBytes))
		}
		return schedules, nil
	}

	// Get schedules from whatever field is populated
	var schedules []models.Schedule
	if len(apiResp.Schedules) > 0 {
		schedules = apiResp.Schedules
	} else if len(apiResp.Data) > 0 {
		schedules = apiResp.Data
	} else if len(apiResp.Results) > 0 {
		schedules = apiResp.Results
	} else {
		// Maybe it's in a top level array with a different name.
		// Parse as generic map and look for any array field
		var genericResp map[string]interface{}
		if err := json.Unmarshal(bodyBytes, &genericResp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %v", err)
		}

		for key, value := range genericResp {
			if arrayValue, ok := value.([]interface{}); ok && len(arrayValue) > 0 {
				arrayJSON, err := json.Marshal(arrayValue)
				if err != nil {
					continue
				}
				if err := json.Unmarshal(arrayJSON, &schedules); err == nil && len(schedules) > 0 {
					log.Debug("Found schedules in field: %s", key)
					break
				}
			}
		}

		if len(schedules) == 0 {
			// This is a normal case when nothing is due
			log.Debug("No due schedules found in API response")
			return []models.Schedule{}, nil
		}
	}
	return schedules, nil
}

// Get returns a schedule by id
func (c *IndexerClient) Get(ctx context.Context, scheduleID string) (models.Schedule, error) {
	url := fmt.Sprintf("%s/api/v1/schedules/%s", c.endpoint, scheduleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("failed to build request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("failed to fetch schedule %s: %v", scheduleID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.Schedule{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return models.Schedule{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var schedule models.Schedule
	if err := json.NewDecoder(resp.Body).Decode(&schedule); err != nil {
		return models.Schedule{}, fmt.Errorf("failed to decode schedule: %v", err)
	}
	return schedule, nil
}

// Create registers a new schedule with the indexer
func (c *IndexerClient) Create(ctx context.Context, schedule models.Schedule) error {
	return c.post(ctx, fmt.Sprintf("%s/api/v1/schedules", c.endpoint), schedule)
}

// Advance reports a successful execution to the indexer, which moves the
// schedule's next execution time and remaining count forward atomically
func (c *IndexerClient) Advance(ctx context.Context, scheduleID string, result models.ExecutionResult) error {
	return c.post(ctx, fmt.Sprintf("%s/api/v1/schedules/%s/advance", c.endpoint, scheduleID), result)
}

// Deactivate marks a schedule inactive
func (c *IndexerClient) Deactivate(ctx context.Context, scheduleID string) error {
	return c.post(ctx, fmt.Sprintf("%s/api/v1/schedules/%s/deactivate", c.endpoint, scheduleID), nil)
}

func (c *IndexerClient) post(ctx context.Context, url string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
