// Package cloud implements the device-credentialed HTTP client for the
// backoffice APIs and the media downloader.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/config"
)

// endpoint is a resolved cloud API endpoint.
type endpoint struct {
	url    string
	apiKey string
}

// Client calls named cloud endpoints with a fixed per-request timeout.
type Client struct {
	endpoints map[string]endpoint
	http      *http.Client
	logger    *slog.Logger
}

// NewClient resolves the endpoint table, substituting the $deviceId and
// $customerId placeholder tokens.
func NewClient(cfg *config.CloudConfig, logger *slog.Logger) *Client {
	endpoints := make(map[string]endpoint, len(cfg.Endpoints))
	for name, ep := range cfg.Endpoints {
		u := strings.ReplaceAll(ep.URL, "$deviceId", cfg.DeviceID)
		u = strings.ReplaceAll(u, "$customerId", cfg.CustomerID)
		endpoints[name] = endpoint{url: u, apiKey: ep.APIKey}
	}
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: cfg.HTTPTimeout},
		logger:    logger.With("component", "cloud"),
	}
}

// SubscribeBus wires the send_to_cloud event: the body's Data object is
// POSTed to the named API. Runs the POST on its own goroutine so the bus
// dispatcher is never blocked on HTTP.
func (c *Client) SubscribeBus(b *bus.Bus) {
	b.Subscribe(bus.EventSendToCloud, func(ev bus.Event) {
		payload, ok := ev.Body.(bus.SendToCloudPayload)
		if !ok {
			c.logger.Error("Malformed send_to_cloud event body")
			return
		}
		go c.postFromBus(payload)
	})
}

func (c *Client) postFromBus(p bus.SendToCloudPayload) {
	err := c.Post(context.Background(), p.API, p.Data)
	if err == nil {
		return
	}
	var serverErr *ServerError
	var connErr *ConnectionError
	var timeoutErr *TimeoutError
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		c.logger.Error("API is not configured", "api", p.API)
	case errors.As(err, &serverErr):
		c.logger.Error("Server returned error status", "api", p.API,
			"status", serverErr.StatusCode, "body", serverErr.Body)
	case errors.As(err, &timeoutErr):
		c.logger.Error("Timeout while calling API", "api", p.API)
	case errors.As(err, &connErr):
		c.logger.Error("Unable to connect to the server", "api", p.API, "error", connErr.Err)
	default:
		c.logger.Error("Cloud call failed", "api", p.API, "error", err)
	}
}

// Get performs a GET on the named endpoint with the params appended to the
// URL query and decodes the JSON response.
func (c *Client) Get(ctx context.Context, name string, params map[string]string) (map[string]any, error) {
	ep, ok := c.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
	}

	u, err := url.Parse(ep.url)
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	return c.do(req, ep, true)
}

// Post sends obj as JSON to the named endpoint, discarding the response body.
func (c *Client) Post(ctx context.Context, name string, obj map[string]any) error {
	_, err := c.post(ctx, name, obj, false)
	return err
}

// PostWithResponse sends obj as JSON and decodes the JSON response.
func (c *Client) PostWithResponse(ctx context.Context, name string, obj map[string]any) (map[string]any, error) {
	return c.post(ctx, name, obj, true)
}

func (c *Client) post(ctx context.Context, name string, obj map[string]any, wantResponse bool) (map[string]any, error) {
	ep, ok := c.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return nil, &FormatError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(body))
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, ep, wantResponse)
}

func (c *Client) do(req *http.Request, ep endpoint, wantResponse bool) (map[string]any, error) {
	if ep.apiKey != "" {
		req.Header.Set("X-Api-Key", ep.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Err: err}
		}
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if !wantResponse || len(data) == 0 {
		return nil, nil
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &FormatError{Err: err}
	}
	return out, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// DownloadImage fetches the image at url into dir and returns the filename,
// derived from the URL path.
func (c *Client) DownloadImage(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ImageDownloadError{URL: rawURL, Err: err}
	}
	filename := filepath.Base(u.Path)
	if filename == "." || filename == "/" || filename == "" {
		return "", &ImageDownloadError{URL: rawURL, Err: errors.New("no filename in url")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &ImageDownloadError{URL: rawURL, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &TimeoutError{Err: err}
		}
		return "", &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ServerError{StatusCode: resp.StatusCode, Body: resp.Status}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &ImageDownloadError{URL: rawURL, Err: err}
	}

	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return "", &ImageDownloadError{URL: rawURL, Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = os.Remove(f.Name())
		return "", &ImageDownloadError{URL: rawURL, Err: err}
	}
	return filename, nil
}
