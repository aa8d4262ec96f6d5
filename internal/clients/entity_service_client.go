package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	statusApproved = "APPROVED"
	statusRejected = "REJECTED"
)

// EntityServiceClient handles HTTP communication with a service owning an
// approvable entity
type EntityServiceClient struct {
	baseURL    string
	resource   string
	httpClient *http.Client
	logger     *logrus.Entry

	maxRetries      uint64
	initialInterval time.Duration
}

// approvalStatusRequest is the API request format of the internal status endpoint
type approvalStatusRequest struct {
	Status     string `json:"status"`
	ApproverID string `json:"approverId"`
}

// NewEntityServiceClient creates a client that updates {resource} entities at baseURL
func NewEntityServiceClient(baseURL, resource string, timeout time.Duration, logger *logrus.Logger) *EntityServiceClient {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &EntityServiceClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		resource: resource,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:          logger.WithFields(logrus.Fields{"component": "entity-client", "resource": resource}),
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
	}
}

// MarkApproved reports an approved workflow to the owning service
func (c *EntityServiceClient) MarkApproved(ctx context.Context, entityID string, approverID uuid.UUID) error {
	return c.updateStatus(ctx, entityID, statusApproved, approverID)
}

// MarkRejected reports a rejected workflow to the owning service
func (c *EntityServiceClient) MarkRejected(ctx context.Context, entityID string, approverID uuid.UUID) error {
	return c.updateStatus(ctx, entityID, statusRejected, approverID)
}

func (c *EntityServiceClient) statusURL(entityID string) string {
	return fmt.Sprintf("%s/internal/%s/%s/approval-status", c.baseURL, c.resource, url.PathEscape(entityID))
}

// updateStatus retries transport errors and 5xx responses. 4xx responses
// are final.
func (c *EntityServiceClient) updateStatus(ctx context.Context, entityID, status string, approverID uuid.UUID) error {
	body, err := json.Marshal(&approvalStatusRequest{
		Status:     status,
		ApproverID: approverID.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status request: %w", err)
	}

	target := c.statusURL(entityID)
	attempt := 0
	operation := func() error {
		attempt++
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Internal-Service", "approval-workflow-service")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to update %s %s: %w", c.resource, entityID, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s service returned status %d", c.resource, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%s service returned status %d", c.resource, resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"entity_id": entityID,
		"status":    status,
		"attempts":  attempt,
	}).Info("Entity approval status updated")
	return nil
}
