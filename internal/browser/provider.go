// internal/browser/provider.go
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/config"
)

// SessionProvider abstracts the remote browser provider's session API so the
// manager can be tested against a fake.
type SessionProvider interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*SessionInfo, error)
	GetSession(ctx context.Context, id string) (*SessionInfo, error)
}

// CreateSessionParams describes one remote session to provision.
type CreateSessionParams struct {
	ProjectID string `json:"projectId"`
	Region    string `json:"region,omitempty"`
	Proxies   bool   `json:"proxies,omitempty"`
	KeepAlive bool   `json:"keepAlive,omitempty"`
	// TimeoutSeconds is the provider-side hard ceiling for the session.
	TimeoutSeconds int              `json:"timeout,omitempty"`
	Viewport       Viewport         `json:"viewport"`
	Context        *ContextSettings `json:"context,omitempty"`
}

// Viewport is the remote browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ContextSettings requests reuse of a persisted browser context (cookies and
// storage) so login state survives across runs.
type ContextSettings struct {
	ID      string `json:"id"`
	Persist bool   `json:"persist"`
}

// SessionInfo is the provider's view of one session. ConnectURL is the CDP
// endpoint the manager attaches to.
type SessionInfo struct {
	ID         string `json:"id"`
	Status     string `json:"status,omitempty"`
	ConnectURL string `json:"connectUrl"`
}

// Session statuses reported by the provider.
const (
	SessionStatusRunning   = "RUNNING"
	SessionStatusCompleted = "COMPLETED"
	SessionStatusError     = "ERROR"
)

// Provider is the REST client for the remote browser provider.
type Provider struct {
	baseURL    string
	apiKey     string
	projectID  string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ SessionProvider = (*Provider)(nil)

// NewProvider initializes the provider client.
func NewProvider(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}
	return &Provider{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		projectID:  cfg.ProjectID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("browser_provider"),
	}, nil
}

// CreateSession provisions a new remote browser session.
func (p *Provider) CreateSession(ctx context.Context, params CreateSessionParams) (*SessionInfo, error) {
	if params.ProjectID == "" {
		params.ProjectID = p.projectID
	}
	var info SessionInfo
	if err := p.do(ctx, http.MethodPost, "/v1/sessions", params, &info); err != nil {
		return nil, fmt.Errorf("failed to create remote session: %w", err)
	}
	p.logger.Info("Remote browser session created.", zap.String("session_id", info.ID))
	return &info, nil
}

// GetSession retrieves an existing session by id, used to re-attach after a
// process restart or transport drop.
func (p *Provider) GetSession(ctx context.Context, id string) (*SessionInfo, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	var info SessionInfo
	if err := p.do(ctx, http.MethodGet, "/v1/sessions/"+id, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to retrieve remote session %s: %w", id, err)
	}
	return &info, nil
}

// CreateContext provisions a new persistent browser context and returns its id.
func (p *Provider) CreateContext(ctx context.Context) (string, error) {
	payload := map[string]string{"projectId": p.projectID}
	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/contexts", payload, &out); err != nil {
		return "", fmt.Errorf("failed to create browser context: %w", err)
	}
	p.logger.Info("Persistent browser context created.", zap.String("context_id", out.ID))
	return out.ID, nil
}

// DeleteContext removes a persisted context, used when rotating or expiring
// saved authentication state.
func (p *Provider) DeleteContext(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("context id is required")
	}
	if err := p.do(ctx, http.MethodDelete, "/v1/contexts/"+id, nil, nil); err != nil {
		return fmt.Errorf("failed to delete browser context %s: %w", id, err)
	}
	return nil
}

// do performs one JSON round trip against the provider API.
func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}
