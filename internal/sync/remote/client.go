// Package remote provides the HTTP client for the landmark REST API.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/geomarkapp/geomark/internal/errors"
	"github.com/geomarkapp/geomark/internal/models"
)

// Config holds remote API connection configuration.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client issues the four REST operations against the landmark endpoint.
// Every failure is classified with an application error code so the
// orchestrator can decide retry eligibility; Client never panics.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// Landmark is the remote representation of a landmark record.
type Landmark struct {
	ID        int64
	Title     string
	Latitude  float64
	Longitude float64
	ImageURL  string
}

// NewClient creates a new Client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// List fetches the full remote landmark list.
func (c *Client) List(ctx context.Context) ([]Landmark, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build list request", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	records, err := decodeList(body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrServerError, "failed to decode list response", err)
	}
	return records, nil
}

// Create uploads a new landmark as a multipart POST, including the image
// file when the payload references one. On success the server-assigned id is
// returned.
func (c *Client) Create(ctx context.Context, p *models.ActionPayload) (int64, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	w.WriteField("title", p.Title)
	w.WriteField("lat", formatFloat(p.Latitude))
	w.WriteField("lon", formatFloat(p.Longitude))

	if p.ImagePath != "" {
		if err := attachImage(w, p.ImagePath); err != nil {
			// A missing local image should not strand the record; create
			// without it and let a later update carry the picture.
			w.WriteField("image", "")
		}
	}

	if err := w.Close(); err != nil {
		return 0, errors.Wrap(errors.ErrInternal, "failed to finalize multipart body", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "", &buf)
	if err != nil {
		return 0, errors.Wrap(errors.ErrInternal, "failed to build create request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return 0, err
	}

	id, err := decodeAssignedID(body)
	if err != nil {
		return 0, errors.Wrap(errors.ErrServerError, "create response carried no id", err)
	}
	return id, nil
}

// Update pushes changed fields for an existing landmark as an
// x-www-form-urlencoded PUT.
func (c *Client) Update(ctx context.Context, id int64, p *models.ActionPayload) error {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(id, 10))
	form.Set("title", p.Title)
	form.Set("lat", formatFloat(p.Latitude))
	form.Set("lon", formatFloat(p.Longitude))

	req, err := c.newRequest(ctx, http.MethodPut, "", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to build update request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = c.do(req)
	return err
}

// Delete removes a landmark by server id, passed as a query parameter.
func (c *Client) Delete(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "?id="+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to build delete request", err)
	}

	_, err = c.do(req)
	return err
}

// Ping issues a cheap reachability check against the endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodHead, "", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrNetworkUnavailable, "endpoint unreachable", err)
	}
	resp.Body.Close()
	return nil
}

// newRequest builds a request against the configured endpoint.
func (c *Client) newRequest(ctx context.Context, method, suffix string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+suffix, body)
	if err != nil {
		return nil, err
	}
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	return req, nil
}

// do executes a request and classifies the outcome. The response body is
// returned for successful (2xx) responses only.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, errors.Wrap(errors.ErrServerError, "failed to read response body", readErr)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, errors.New(errors.ErrServerError,
			fmt.Sprintf("server returned %d: %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode >= 400:
		return nil, errors.New(errors.ErrValidationRejected,
			fmt.Sprintf("request rejected with %d: %s", resp.StatusCode, truncate(body)))
	default:
		return nil, errors.New(errors.ErrServerError,
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

// classifyTransport maps transport-level failures onto the sync taxonomy.
// Timeouts count as transient server errors; everything else means the
// network is unavailable.
func classifyTransport(err error) error {
	if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
		return errors.Wrap(errors.ErrServerError, "request timed out", err)
	}
	return errors.Wrap(errors.ErrNetworkUnavailable, "request failed", err)
}

// attachImage streams a local image file into the multipart body.
func attachImage(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(body []byte) string {
	const max = 256
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
