package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"pubformatter/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the remote document processing service.
	DefaultEndpoint = "https://publication-api.onrender.com/process"

	// DefaultTimeout bounds a single processing request. The service formats
	// whole documents and is often cold-started.
	DefaultTimeout = 120 * time.Second
)

// Client posts multipart payloads to the processing service and returns the
// generated document.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the request timeout. It is applied to a copy of the HTTP
// client, so a client passed with WithHTTPClient is never modified.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second across every session. A
// value of zero or less disables the limit.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func NewClient(endpoint string, logger *logrus.Logger, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}

	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Process sends one POST with the payload as its body. Any 2xx response body
// is returned as the generated document, whatever its content type. Other
// statuses yield a *types.BackendError; failures before a status is known
// wrap types.ErrTransport.
func (c *Client) Process(ctx context.Context, payload *types.RequestPayload) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", types.ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", types.ErrTransport, err)
	}
	req.Header.Set("Content-Type", payload.ContentType)
	req.Header.Set("Accept", types.DocxContentType+", */*")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	entry := c.logger.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// body is not interpreted, drain it so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		entry.Warn("processing service returned an error status")
		return nil, &types.BackendError{StatusCode: resp.StatusCode}
	}

	document, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", types.ErrTransport, err)
	}

	entry.WithField("bytes", len(document)).Debug("processing service returned document")

	return document, nil
}
