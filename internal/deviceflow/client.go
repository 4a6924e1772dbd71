// Package deviceflow encapsulates HTTP calls to the external control plane
// that brokers user authorization for a requested tunnel: code generation,
// status polling, and advisory tunnel register/unregister.
package deviceflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/registry"
	"github.com/tunnelgate/tunnelgate/internal/tunnelerr"
)

// callTimeout bounds every individual control-plane HTTP call.
const callTimeout = 5 * time.Second

// CodeStatus is the outcome of a Check Code poll.
type CodeStatus string

const (
	StatusPending  CodeStatus = "pending"
	StatusVerified CodeStatus = "verified"
	StatusExpired  CodeStatus = "expired"
	StatusNotFound CodeStatus = "not_found"
)

// CheckCodeResult is the decoded response body of a Check Code call.
type CheckCodeResult struct {
	Status    CodeStatus `json:"status"`
	UserID    string     `json:"user_id,omitempty"`
	UserName  string     `json:"user_name,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// Client talks to the external control plane. It also implements
// registry.ControlPlaneHooks so the registry can fire-and-forget
// register/unregister notifications through it.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func New(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: callTimeout},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, tunnelerr.Wrap(tunnelerr.ControlPlaneUnavailable, err, "%s %s", method, path)
	}
	return resp, nil
}

// GenerateCode registers a freshly minted activation code with the control
// plane.
func (c *Client) GenerateCode(ctx context.Context, code, sessionID string, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, http.MethodPost, "/internal/device/codes", map[string]interface{}{
		"code":       code,
		"session_id": sessionID,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return tunnelerr.New(tunnelerr.ControlPlaneUnavailable, fmt.Sprintf("generate code: HTTP %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}

// CheckCode polls the control plane for the current authorization status of
// an activation code.
func (c *Client) CheckCode(ctx context.Context, code string) (CheckCodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, http.MethodGet, "/internal/device/codes?code="+code, nil)
	if err != nil {
		return CheckCodeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return CheckCodeResult{Status: StatusNotFound}, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return CheckCodeResult{}, tunnelerr.New(tunnelerr.ControlPlaneUnavailable, fmt.Sprintf("check code: HTTP %d: %s", resp.StatusCode, string(body)))
	}

	var result CheckCodeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CheckCodeResult{}, tunnelerr.Wrap(tunnelerr.ControlPlaneUnavailable, err, "decode check code response")
	}
	return result, nil
}

// NotifyRegistered implements registry.ControlPlaneHooks: advisory, upsert
// registration of a newly accepted tunnel. Best-effort: failures are logged
// here, never propagated, since the in-memory registry is the
// authoritative state.
func (c *Client) NotifyRegistered(info registry.RegistrationInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, http.MethodPost, "/internal/tunnels", map[string]interface{}{
		"subdomain":         info.Subdomain,
		"user_id":           info.OwnerUserID,
		"session_id":        info.SessionID,
		"requested_address": info.RequestedAddress,
		"requested_port":    info.RequestedPort,
		"server_port":       info.ServerPort,
		"client_ip":         info.ClientIP,
	})
	if err != nil {
		logRegisterFailure(info.Subdomain, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		logRegisterFailure(info.Subdomain, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	}
}

// NotifyUnregistered implements registry.ControlPlaneHooks: advisory
// removal of a tunnel that is no longer registered.
func (c *Client) NotifyUnregistered(subdomain string) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, http.MethodPost, "/internal/tunnels/unregister", map[string]string{
		"subdomain": subdomain,
	})
	if err != nil {
		logUnregisterFailure(subdomain, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		logUnregisterFailure(subdomain, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	}
}
