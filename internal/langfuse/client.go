package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"costtrace/internal/httpclient"
)

// DefaultHost is the Langfuse cloud endpoint.
const DefaultHost = "https://cloud.langfuse.com"

const ingestionPath = "/api/public/ingestion"

// Config holds the credentials for the ingestion API.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// Enabled reports whether both keys are set.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Client posts ingestion batches.
type Client struct {
	host       string
	publicKey  string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a client with the shared HTTP client.
func NewClient(cfg Config) *Client {
	return NewClientWithHTTPClient(cfg, httpclient.NewDefaultHTTPClient())
}

// NewClientWithHTTPClient creates a client with a caller-supplied HTTP client.
func NewClientWithHTTPClient(cfg Config, hc *http.Client) *Client {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	return &Client{
		host:       host,
		publicKey:  cfg.PublicKey,
		secretKey:  cfg.SecretKey,
		httpClient: hc,
	}
}

// EventError is a rejection of one event in a batch.
type EventError struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// IngestionError reports events the server rejected in an otherwise accepted batch.
type IngestionError struct {
	Errors []EventError
}

func (e *IngestionError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("langfuse rejected event %s: %s (status %d)", e.Errors[0].ID, e.Errors[0].Message, e.Errors[0].Status)
	}
	return fmt.Sprintf("langfuse rejected %d events", len(e.Errors))
}

type batchRequest struct {
	Batch []Event `json:"batch"`
}

type batchResponse struct {
	Errors []EventError `json:"errors"`
}

// Ingest sends events in a single batch.
func (c *Client) Ingest(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(batchRequest{Batch: events})
	if err != nil {
		return fmt.Errorf("failed to marshal ingestion batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+ingestionPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create ingestion request: %w", err)
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ingestion request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read ingestion response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusMultiStatus:
		var parsed batchResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return fmt.Errorf("failed to parse ingestion response: %w", err)
		}
		if len(parsed.Errors) == 0 {
			return nil
		}
		for _, e := range parsed.Errors {
			slog.Warn("langfuse rejected event", "event_id", e.ID, "status", e.Status, "message", e.Message)
		}
		return &IngestionError{Errors: parsed.Errors}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("ingestion failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}
