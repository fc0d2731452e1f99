package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"facilitypm/internal/types"
)

// WorkOrderClientConfig configures a WorkOrderClient.
type WorkOrderClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Version string
}

// WorkOrderClient creates work orders through the work order service API.
// It implements pm.WorkOrderCreator for the remote mode.
type WorkOrderClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
}

// NewWorkOrderClient creates a WorkOrderClient.
func NewWorkOrderClient(cfg WorkOrderClientConfig, opts ...BaseClientOption) *WorkOrderClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WorkOrderClient{
		base: NewBaseClient(
			&http.Client{Timeout: timeout},
			"work-orders",
			DefaultRetryPolicy(),
			"facilitypm/"+cfg.Version,
			opts...,
		),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type createWorkOrderResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// CreateForOccurrence posts the draft with the occurrence id as the
// Idempotency-Key. The service answers 201 for a new order and 200 with the
// existing order when the key was seen before, so a retried materialize
// never creates a duplicate.
func (c *WorkOrderClient) CreateForOccurrence(ctx context.Context, draft types.WorkOrderDraft) (string, bool, error) {
	body, err := json.Marshal(draft)
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode work order draft", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/work-orders", bytes.NewReader(body))
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build work order request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", draft.SourceOccurrenceID)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeUpstreamWorkOrders, "work order service unavailable", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, types.NewAppErrorWithDetails(types.ErrCodeUpstreamWorkOrders,
			fmt.Sprintf("work order service rejected request with %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode, "body": string(snippet)})
	}

	var out createWorkOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Data.ID == "" {
		return "", false, types.NewAppError(types.ErrCodeUpstreamWorkOrders, "work order service returned no id", err)
	}
	return out.Data.ID, resp.StatusCode == http.StatusCreated, nil
}

// Name implements core.HealthProbe.
func (c *WorkOrderClient) Name() string { return "work_orders" }

// Check implements core.HealthProbe.
func (c *WorkOrderClient) Check(ctx context.Context) error {
	u, err := url.JoinPath(c.baseURL, "health")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("work order service health returned %d", resp.StatusCode)
	}
	return nil
}
