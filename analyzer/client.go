// Package analyzer talks to the blood-smear analysis service.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"mala-sight/models"
)

const (
	// DefaultOrigin is the analysis service used when none is configured.
	DefaultOrigin = "http://localhost:5000"
	// AnalyzePath is the upload endpoint on the analysis service.
	AnalyzePath = "/api/analyze"

	defaultTimeout = 2 * time.Minute
	maxErrorBody   = 4 << 10
)

// ErrNetworkFailure wraps every failure to obtain a decoded response:
// transport errors, non-200 statuses and undecodable bodies.
var ErrNetworkFailure = errors.New("analysis service request failed")

// Client sends images to the analysis service
type Client struct {
	origin string
	client *http.Client
}

// NewClient creates a client for the service at origin. A zero timeout uses
// the default.
func NewClient(origin string, timeout time.Duration) *Client {
	if origin == "" {
		origin = DefaultOrigin
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		origin: strings.TrimRight(origin, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Origin returns the service origin used to resolve asset paths.
func (c *Client) Origin() string {
	return c.origin
}

// Analyze uploads the artifact as multipart field "file" and decodes the
// response. Missing response fields decode to their zero values.
func (c *Client) Analyze(ctx context.Context, artifact models.Artifact) (*models.AnalysisResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreatePart(fileHeader(artifact))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(artifact.Data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+AnalyzePath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrNetworkFailure, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result models.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrNetworkFailure, err)
	}

	return &result, nil
}

// ResolveAsset turns a service-relative asset path into an absolute URL.
// Empty paths stay empty.
func ResolveAsset(origin, rel string) string {
	if rel == "" {
		return ""
	}
	return origin + "/" + rel
}

func fileHeader(artifact models.Artifact) textproto.MIMEHeader {
	name := artifact.Name
	if name == "" {
		name = "upload"
	}
	mime := artifact.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", mime)
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
