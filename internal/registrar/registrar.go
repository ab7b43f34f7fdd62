// Package registrar implements the Device Registrar: the credential
// bootstrap exchange against the ingest service (§4.10).
package registrar

import (
	"context"
	"net/http"

	"rejourney-engine/internal/errs"
	"rejourney-engine/internal/transport"
)

// BootstrapRequest is the credential exchange request body.
type BootstrapRequest struct {
	APIToken          string `json:"apiToken"`
	ProjectID         string `json:"projectId"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	Platform          string `json:"platform"`
	AppID             string `json:"appId"`
}

// BootstrapResponse is the credential exchange success response.
type BootstrapResponse struct {
	Credential string `json:"credential"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// Registrar performs credential bootstrap. deviceFingerprint is supplied
// by the host as a stable per-install identifier; the engine never
// generates hardware identifiers itself (§4.10).
type Registrar struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

// New constructs a Registrar bound to the ingest service's base URL.
func New(baseURL, apiToken string, client *http.Client) *Registrar {
	if client == nil {
		client = transport.NewClient(transport.Config{})
	}
	return &Registrar{baseURL: baseURL, apiToken: apiToken, client: client}
}

// Bootstrap exchanges apiToken/projectId/deviceFingerprint for a short-lived
// upload credential. On 403/404 (bundle mismatch / project not found) it
// returns an errs.KindAuthFatal error; the orchestrator must not start
// recording in that case.
func (r *Registrar) Bootstrap(ctx context.Context, projectID, deviceFingerprint, platform, appID string) (BootstrapResponse, error) {
	req := BootstrapRequest{
		APIToken:          r.apiToken,
		ProjectID:         projectID,
		DeviceFingerprint: deviceFingerprint,
		Platform:          platform,
		AppID:             appID,
	}
	var resp BootstrapResponse
	headers := transport.Headers{APIToken: r.apiToken}
	status, err := transport.PostJSON(ctx, r.client, r.baseURL+"/api/ingest/device/register", headers, req, &resp)
	if err != nil {
		if err == transport.ErrMissingAPIToken {
			return BootstrapResponse{}, errs.New(errs.KindFatalTransport, "registrar bootstrap", err)
		}
		return BootstrapResponse{}, errs.New(errs.KindTransientTransport, "registrar bootstrap", err)
	}
	switch {
	case status >= 200 && status < 300:
		return resp, nil
	case status == 403 || status == 404:
		return BootstrapResponse{}, errs.New(errs.KindAuthFatal, "registrar bootstrap", nil)
	default:
		return BootstrapResponse{}, errs.New(errs.KindTransientTransport, "registrar bootstrap", nil)
	}
}
