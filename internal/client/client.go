package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"safe-transcode/internal/config"
	ctxlog "safe-transcode/internal/log"
	"safe-transcode/pkg/models"
)

type OrchestratorClient struct {
	baseURL    string
	workerID   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOrchestratorClient creates a robust HTTP client with retries. It
// returns nil when no orchestrator is configured.
func NewOrchestratorClient(cfg *config.Config) *OrchestratorClient {
	if cfg.OrchestratorURL == "" {
		return nil
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil // Silence default debug logger

	return &OrchestratorClient{
		baseURL:    strings.TrimRight(cfg.OrchestratorURL, "/"),
		workerID:   cfg.WorkerID,
		httpClient: retryClient.StandardClient(),
		logger:     ctxlog.WithComponent("client"),
	}
}

// doRequest is the core HTTP request handler with error interception
func (c *OrchestratorClient) doRequest(ctx context.Context, method, path string, payload any, response any) error {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-ID", c.workerID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 404: the orchestrator lost worker state and needs a re-registration.
	if resp.StatusCode == http.StatusNotFound {
		return &OrchestratorStateError{StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("API returned error status: %d", resp.StatusCode)
	}

	if response != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// OrchestratorStateError indicates the orchestrator lost worker state
type OrchestratorStateError struct {
	StatusCode int
}

func (e *OrchestratorStateError) Error() string {
	return fmt.Sprintf("orchestrator state error: status %d", e.StatusCode)
}

// IsStateError reports whether err asks for a re-registration.
func IsStateError(err error) bool {
	var stateErr *OrchestratorStateError
	return errors.As(err, &stateErr)
}

// ===== Worker Registration =====

// Register declares the worker's capabilities to the orchestrator.
// Called once on startup and again when the orchestrator lost our state.
func (c *OrchestratorClient) Register(ctx context.Context, payload models.RegistrationPayload) error {
	payload.WorkerID = c.workerID

	c.logger.Info().Msg("registering worker with orchestrator")
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/workers/register", payload, nil); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	c.logger.Info().Str("worker_id", c.workerID).Msg("registered worker")
	return nil
}

// ===== Telemetry =====

// Heartbeat sends the periodic telemetry pulse.
func (c *OrchestratorClient) Heartbeat(ctx context.Context, hb models.Heartbeat) error {
	hb.WorkerID = c.workerID
	path := fmt.Sprintf("/api/v1/workers/%s/heartbeats", c.workerID)
	if err := c.doRequest(ctx, http.MethodPost, path, hb, nil); err != nil {
		if IsStateError(err) {
			return err
		}
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	return nil
}

// ===== Job Results =====

// FinalizeJob reports job completion or failure
func (c *OrchestratorClient) FinalizeJob(ctx context.Context, jobID string, payload models.JobResultPayload) error {
	path := fmt.Sprintf("/api/v1/jobs/%s/finalize", jobID)
	return c.doRequest(ctx, http.MethodPost, path, payload, nil)
}
