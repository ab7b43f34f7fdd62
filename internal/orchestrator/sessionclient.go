package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"rejourney-engine/internal/transport"
)

// SessionEndRequest is the body of /api/ingest/session/end (§6).
type SessionEndRequest struct {
	SessionID             string  `json:"sessionId"`
	EndedAt               int64   `json:"endedAt"`
	TotalBackgroundTimeMs int64   `json:"totalBackgroundTimeMs"`
	Metrics               Metrics `json:"metrics"`
	QueueDepthAtFinalize  int     `json:"queueDepthAtFinalize"`
}

// ReplayEvaluateRequest is the body of /api/ingest/replay/evaluate (§6).
type ReplayEvaluateRequest struct {
	SessionID string  `json:"sessionId"`
	Metrics   Metrics `json:"metrics"`
}

// ReplayEvaluateResponse carries the server's retention decision. What
// Promoted actually means is server-owned and deliberately unspecified
// here (§9 Open Questions).
type ReplayEvaluateResponse struct {
	Promoted bool   `json:"promoted"`
	Reason   string `json:"reason"`
}

// SessionClient performs the non-lane ingest calls the orchestrator makes
// directly: session close and the optional retention evaluation consulted
// immediately before it (§4.1, §4.5, §6).
type SessionClient interface {
	SessionEnd(ctx context.Context, req SessionEndRequest) error
	ReplayEvaluate(ctx context.Context, req ReplayEvaluateRequest) (ReplayEvaluateResponse, error)
}

// HTTPSessionClient is the production SessionClient.
type HTTPSessionClient struct {
	BaseURL    string
	APIToken   string
	Credential func() string
	Client     *http.Client
}

// NewHTTPSessionClient constructs an HTTPSessionClient bound to the ingest
// service's base URL.
func NewHTTPSessionClient(baseURL, apiToken string, credential func() string) *HTTPSessionClient {
	return &HTTPSessionClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIToken:   apiToken,
		Credential: credential,
		Client:     transport.NewClient(transport.Config{}),
	}
}

func (c *HTTPSessionClient) headers(sessionID string) transport.Headers {
	cred := ""
	if c.Credential != nil {
		cred = c.Credential()
	}
	return transport.Headers{APIToken: c.APIToken, Credential: cred, SessionID: sessionID}
}

func (c *HTTPSessionClient) SessionEnd(ctx context.Context, req SessionEndRequest) error {
	status, err := transport.PostJSON(ctx, c.Client, c.BaseURL+"/api/ingest/session/end", c.headers(req.SessionID), req, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("session/end: unexpected status %d", status)
	}
	return nil
}

func (c *HTTPSessionClient) ReplayEvaluate(ctx context.Context, req ReplayEvaluateRequest) (ReplayEvaluateResponse, error) {
	var resp ReplayEvaluateResponse
	_, err := transport.PostJSON(ctx, c.Client, c.BaseURL+"/api/ingest/replay/evaluate", c.headers(req.SessionID), req, &resp)
	return resp, err
}
