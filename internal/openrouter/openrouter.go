// Package openrouter provides the OpenRouter chat completion provider.
package openrouter

import (
	"context"
	"encoding/json"
	"net/http"

	"costtrace/internal/core"
	"costtrace/internal/llmclient"
)

const (
	// Name identifies the provider in logs, errors and telemetry.
	Name = "openrouter"

	// DefaultBaseURL is the public OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when a request does not name one.
	DefaultModel = "mistralai/ministral-3b"
)

// Config holds connection and attribution settings.
type Config struct {
	APIKey  string
	BaseURL string
	// SiteURL and SiteName are sent as HTTP-Referer and X-Title for app attribution.
	SiteURL      string
	SiteName     string
	DefaultModel string
	Hooks        llmclient.Hooks
}

// Provider implements core.ChatProvider for OpenRouter.
type Provider struct {
	client *llmclient.Client
	cfg    Config
}

// New creates a provider backed by the shared HTTP client.
func New(cfg Config) *Provider {
	return NewWithHTTPClient(cfg, nil)
}

// NewWithHTTPClient creates a provider with a custom HTTP client.
// If httpClient is nil, the shared default client is used.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}

	p := &Provider{cfg: cfg}
	clientCfg := llmclient.DefaultConfig(Name, cfg.BaseURL)
	clientCfg.Hooks = cfg.Hooks
	if httpClient == nil {
		p.client = llmclient.New(clientCfg, p.setHeaders)
	} else {
		p.client = llmclient.NewWithHTTPClient(httpClient, clientCfg, p.setHeaders)
	}
	return p
}

// Name implements core.ChatProvider.
func (p *Provider) Name() string {
	return Name
}

// DefaultModel returns the model used when a request leaves it empty.
func (p *Provider) DefaultModel() string {
	return p.cfg.DefaultModel
}

// setHeaders sets authentication and attribution headers.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.cfg.SiteURL)
	}
	if p.cfg.SiteName != "" {
		req.Header.Set("X-Title", p.cfg.SiteName)
	}
	if requestID := core.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
}

// ChatCompletion sends a chat completion with usage accounting enabled, so the
// response reports cost. A forwarded raw body is sent with only the usage flag
// and a missing model filled in. The raw response body is kept for cost probing.
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var body any
	model := req.Model
	if len(req.Raw) > 0 {
		raw, err := req.RawWithUsageAccounting(p.cfg.DefaultModel)
		if err != nil {
			return nil, core.NewInvalidRequestError("invalid request body: "+err.Error(), err)
		}
		body = raw
	} else {
		typed := req.WithUsageAccounting()
		if typed.Model == "" {
			typed.Model = p.cfg.DefaultModel
		}
		body = typed
	}
	if model == "" {
		model = p.cfg.DefaultModel
	}

	raw, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	var resp core.ChatResponse
	if err := json.Unmarshal(raw.Body, &resp); err != nil {
		return nil, core.NewProviderError(Name, http.StatusBadGateway, "failed to unmarshal response: "+err.Error(), err)
	}
	resp.Raw = raw.Body
	resp.Provider = Name
	if resp.Model == "" {
		resp.Model = model
	}
	return &resp, nil
}
