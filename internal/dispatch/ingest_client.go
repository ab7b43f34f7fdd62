package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rejourney-engine/internal/errs"
	"rejourney-engine/internal/transport"
)

// IngestClient performs the three HTTP phases against the ingest service
// (§6). It is the capability interface the Dispatcher drives; production
// code implements it over real HTTP (HTTPIngestClient), and any other
// implementation can be supplied through Config.Client.
type IngestClient interface {
	PresignEvents(ctx context.Context, req PresignEventsRequest) (PresignResponse, int, error)
	PresignSegment(ctx context.Context, req PresignSegmentRequest) (PresignResponse, int, error)
	Put(ctx context.Context, url, contentType string, body []byte) (int, error)
	CompleteBatch(ctx context.Context, req CompleteBatchRequest) (int, error)
	CompleteSegment(ctx context.Context, req CompleteSegmentRequest) (int, error)
}

type PresignEventsRequest struct {
	SessionID   string `json:"sessionId"`
	SizeBytes   int    `json:"sizeBytes"`
	ContentType string `json:"contentType"`
	BatchNumber int64  `json:"batchNumber"`
}

type PresignSegmentRequest struct {
	SessionID   string `json:"sessionId"`
	SizeBytes   int    `json:"sizeBytes"`
	Kind        string `json:"kind"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	FrameCount  int    `json:"frameCount"`
	Compression string `json:"compression,omitempty"`
}

type PresignResponse struct {
	PresignedURL string `json:"presignedUrl"`
	BatchID      string `json:"batchId"`
	SegmentID    string `json:"segmentId"`
	S3Key        string `json:"s3Key"`
	SkipUpload   bool   `json:"skipUpload"`
}

type CompleteBatchRequest struct {
	BatchID         string `json:"batchId"`
	ActualSizeBytes int    `json:"actualSizeBytes"`
	EventCount      int    `json:"eventCount"`
	Timestamp       int64  `json:"timestamp"`
}

type CompleteSegmentRequest struct {
	SegmentID       string `json:"segmentId"`
	SessionID       string `json:"sessionId"`
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	FrameCount      int    `json:"frameCount"`
	ActualSizeBytes int    `json:"actualSizeBytes"`
	Timestamp       int64  `json:"timestamp"`
}

// HTTPIngestClient is the production IngestClient, grounded on
// HTTPController's lazily-constructed http.Client and header-injection
// style in the teacher codebase.
type HTTPIngestClient struct {
	BaseURL    string
	APIToken   string
	Credential func() string
	Client     *http.Client
}

func NewHTTPIngestClient(baseURL, apiToken string, credential func() string) *HTTPIngestClient {
	return &HTTPIngestClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIToken:   apiToken,
		Credential: credential,
		Client:     transport.NewClient(transport.Config{}),
	}
}

func (c *HTTPIngestClient) headers(sessionID string) transport.Headers {
	cred := ""
	if c.Credential != nil {
		cred = c.Credential()
	}
	return transport.Headers{APIToken: c.APIToken, Credential: cred, SessionID: sessionID}
}

func (c *HTTPIngestClient) PresignEvents(ctx context.Context, req PresignEventsRequest) (PresignResponse, int, error) {
	var resp PresignResponse
	status, err := transport.PostJSON(ctx, c.Client, c.BaseURL+"/api/ingest/presign", c.headers(req.SessionID), req, &resp)
	return resp, status, wrapTransportErr(err)
}

func (c *HTTPIngestClient) PresignSegment(ctx context.Context, req PresignSegmentRequest) (PresignResponse, int, error) {
	var resp PresignResponse
	status, err := transport.PostJSON(ctx, c.Client, c.BaseURL+"/api/ingest/segment/presign", c.headers(req.SessionID), req, &resp)
	return resp, status, wrapTransportErr(err)
}

func (c *HTTPIngestClient) Put(ctx context.Context, url, contentType string, body []byte) (int, error) {
	status, err := transport.PutBytes(ctx, c.Client, url, contentType, body)
	return status, wrapTransportErr(err)
}

func (c *HTTPIngestClient) CompleteBatch(ctx context.Context, req CompleteBatchRequest) (int, error) {
	status, err := transport.PostJSON(ctx, c.Client, c.BaseURL+"/api/ingest/batch/complete", c.headers(""), req, nil)
	return status, wrapTransportErr(err)
}

func (c *HTTPIngestClient) CompleteSegment(ctx context.Context, req CompleteSegmentRequest) (int, error) {
	status, err := transport.PostJSON(ctx, c.Client, c.BaseURL+"/api/ingest/segment/complete", c.headers(req.SessionID), req, nil)
	return status, wrapTransportErr(err)
}

func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if err == transport.ErrMissingAPIToken {
		return errs.New(errs.KindFatalTransport, "ingest request", err)
	}
	return fmt.Errorf("ingest request: %w", err)
}
