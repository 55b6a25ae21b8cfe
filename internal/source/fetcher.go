package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// fetcher.go - the one cancellable-request-with-timeout path every adapter
// uses: per-call deadline, bounded retries inside that deadline, gzip
// decoding, size limit and status check.

// UserAgent is sent with every provider request.
var UserAgent = "ki7mt-dx-aggregator/1.0"

const maxBodyBytes = 8 << 20

// Fetcher performs provider GETs.
type Fetcher struct {
	client *retryablehttp.Client
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*retryablehttp.Client)

// WithRetries sets the retry count and backoff bounds.
func WithRetries(max int, waitMin, waitMax time.Duration) FetcherOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) FetcherOption {
	return func(c *retryablehttp.Client) { c.HTTPClient = hc }
}

// NewFetcher returns a Fetcher logging retries to log at debug level.
func NewFetcher(log logrus.FieldLogger, opts ...FetcherOption) *Fetcher {
	c := retryablehttp.NewClient()
	c.Logger = retryLogger{log: log}
	c.RetryMax = 2
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	for _, opt := range opts {
		opt(c)
	}
	return &Fetcher{client: c}
}

// Get fetches url with its own deadline of timeout, independent of any
// other in-flight request, and returns the decoded body.
func (f *Fetcher) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		body = zr
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// retryLogger adapts logrus to retryablehttp.LeveledLogger. Retry chatter
// is demoted to debug; the adapter boundary logs the final outcome.
type retryLogger struct {
	log logrus.FieldLogger
}

func (l retryLogger) fields(kv []interface{}) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.log.WithFields(fields)
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
