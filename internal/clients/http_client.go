package clients

import (
	"bytes"
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tally/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 256
)

// HTTPClient performs JSON GET requests and classifies failures into domain errors:
// transport failures, 429 and 5xx become TransientNetworkError, other non-2xx statuses
// and HTML bodies become UpstreamError.
type HTTPClient struct {
	client  *fasthttp.Client
	name    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewHTTPClient creates a client reporting errors under the given provider name.
func NewHTTPClient(name string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		client:  &fasthttp.Client{Name: "tally"},
		name:    name,
		timeout: timeout,
		logger:  logger.Named(name),
	}
}

// Name returns the provider name used in errors.
func (c *HTTPClient) Name() string { return c.name }

// GetJSON fetches url and decodes the JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	c.logger.Debug("requesting", zap.String("url", redact(url)))

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return &domain.TransientNetworkError{Provider: c.name, Err: err}
	}

	status := resp.StatusCode()
	body := resp.Body()

	if status == fasthttp.StatusTooManyRequests || status >= fasthttp.StatusInternalServerError {
		return &domain.TransientNetworkError{
			Provider: c.name,
			Status:   status,
			Err:      errors.New(snippet(body)),
		}
	}
	if isHTML(resp.Header.ContentType(), body) {
		return &domain.UpstreamError{Provider: c.name, Status: status, HTML: true, Body: snippet(body)}
	}
	if status < 200 || status > 299 {
		return &domain.UpstreamError{Provider: c.name, Status: status, Body: snippet(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "%s: decode response", c.name)
	}

	return nil
}

func isHTML(contentType, body []byte) bool {
	if bytes.Contains(bytes.ToLower(contentType), []byte("text/html")) {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// redact hides API keys in logged URLs.
func redact(url string) string {
	i := strings.Index(strings.ToLower(url), "apikey=")
	if i < 0 {
		return url
	}
	end := strings.IndexByte(url[i:], '&')
	if end < 0 {
		return url[:i] + "apikey=***"
	}
	return url[:i] + "apikey=***" + url[i+end:]
}
