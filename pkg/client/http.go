package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/labring/testreport/pkg/common"
	apierrors "github.com/labring/testreport/pkg/errors"
)

// DefaultTimeout is the per-request timeout when none is configured
const DefaultTimeout = 300 * time.Second

// Config configures the HTTP delivery client
type Config struct {
	BaseURL string
	Project string
	APIKey  string
	Timeout time.Duration
	// CAFile is an optional PEM bundle trusted in addition to the system roots
	CAFile     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPClient talks to the collector REST API
type HTTPClient struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP delivery client
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Project == "" {
		return nil, fmt.Errorf("project name is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	base = base.JoinPath("api", "v1", cfg.Project)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
		if cfg.CAFile != "" {
			transport, err := newTLSTransport(cfg.CAFile)
			if err != nil {
				return nil, err
			}
			httpClient.Transport = transport
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		base:   base,
		apiKey: cfg.APIKey,
		http:   httpClient,
		logger: logger,
	}, nil
}

func newTLSTransport(caFile string) (*http.Transport, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return transport, nil
}

// StartLaunch starts a launch
func (c *HTTPClient) StartLaunch(ctx context.Context, rq *common.StartLaunchRQ) (*common.EntryCreatedRS, error) {
	var rs common.EntryCreatedRS
	if err := c.doJSON(ctx, http.MethodPost, c.base.JoinPath("launch"), rq, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// FinishLaunch finishes a launch
func (c *HTTPClient) FinishLaunch(ctx context.Context, launchID string, rq *common.FinishExecutionRQ) (*common.OperationCompletionRS, error) {
	var rs common.OperationCompletionRS
	if err := c.doJSON(ctx, http.MethodPut, c.base.JoinPath("launch", launchID, "finish"), rq, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// StartTestItem starts a root item, or a child of parentID when it is not empty
func (c *HTTPClient) StartTestItem(ctx context.Context, parentID string, rq *common.StartTestItemRQ) (*common.EntryCreatedRS, error) {
	u := c.base.JoinPath("item")
	if parentID != "" {
		u = u.JoinPath(parentID)
	}

	var rs common.EntryCreatedRS
	if err := c.doJSON(ctx, http.MethodPost, u, rq, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// FinishTestItem finishes an item
func (c *HTTPClient) FinishTestItem(ctx context.Context, itemID string, rq *common.FinishTestItemRQ) (*common.OperationCompletionRS, error) {
	var rs common.OperationCompletionRS
	if err := c.doJSON(ctx, http.MethodPut, c.base.JoinPath("item", itemID), rq, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Log sends one log batch as a multipart request
func (c *HTTPClient) Log(ctx context.Context, payload *LogPayload) (*common.BatchSaveOperatingRS, error) {
	var body bytes.Buffer
	contentType, err := payload.WriteMultipart(&body)
	if err != nil {
		return nil, err
	}

	var rs common.BatchSaveOperatingRS
	if err := c.do(ctx, http.MethodPost, c.base.JoinPath("log"), contentType, &body, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method string, u *url.URL, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, method, u, "application/json", bytes.NewReader(data), out)
}

func (c *HTTPClient) do(ctx context.Context, method string, u *url.URL, contentType string, body io.Reader, out any) error {
	uri := u.String()

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &apierrors.TransportError{Method: method, URI: uri, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("collector request",
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", resp.StatusCode),
		slog.String("duration", time.Since(start).String()),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierrors.Translate(uri, method, resp.StatusCode, statusMessage(resp), resp.Body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apierrors.TransportError{Method: method, URI: uri, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// statusMessage strips the numeric code from resp.Status ("404 Not Found" -> "Not Found")
func statusMessage(resp *http.Response) string {
	if _, msg, ok := strings.Cut(resp.Status, " "); ok {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}
