package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/lessonplan-mailer/pkg/api"
	"github.com/telekom/lessonplan-mailer/pkg/apiresponses"
	"github.com/telekom/lessonplan-mailer/pkg/mail"
	"github.com/telekom/lessonplan-mailer/pkg/version"
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Details    string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("mailer API returned %d: %s", e.StatusCode, msg)
}

// IsNotFound reports whether err is a 404 from the mailer API.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

type Client struct {
	rest *resty.Client
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		rest: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", version.UserAgent()).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.rest.BaseURL == "" {
		return nil, errors.New("server is required")
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid server %q: scheme and host are required", server)
		}
		c.rest.SetBaseURL(parsed.String())
		return nil
	}
}

func WithToken(token string) Option {
	return func(c *Client) error {
		if token != "" {
			c.rest.SetAuthToken(token)
		}
		return nil
	}
}

// WithActor names the operator in the audit trail of administrative calls.
func WithActor(actor string) Option {
	return func(c *Client) error {
		if actor != "" {
			c.rest.SetHeader(api.ActorHeader, actor)
		}
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout > 0 {
			c.rest.SetTimeout(timeout)
		}
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.rest.SetTLSClientConfig(tlsConfig)
		return nil
	}
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var apiErr apiresponses.APIError
	req := c.rest.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	if resp.IsError() {
		return &HTTPError{
			StatusCode: resp.StatusCode(),
			Message:    apiErr.Error,
			Code:       apiErr.Code,
			Details:    apiErr.Details,
		}
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*mail.Status, error) {
	var out mail.Status
	if err := c.do(ctx, http.MethodGet, "/api/mail/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Queue(ctx context.Context) (*mail.QueueSnapshot, error) {
	var out mail.QueueSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/mail/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Purge(ctx context.Context) (int, error) {
	var out api.PurgeResponse
	if err := c.do(ctx, http.MethodDelete, "/api/mail/queue", nil, &out); err != nil {
		return 0, err
	}
	return out.Purged, nil
}

// Drain asks the server for a drain cycle. With wait the call returns after
// the cycle finished.
func (c *Client) Drain(ctx context.Context, force, wait bool) (*api.DrainResponse, error) {
	q := url.Values{}
	q.Set("force", strconv.FormatBool(force))
	q.Set("wait", strconv.FormatBool(wait))
	var out api.DrainResponse
	if err := c.do(ctx, http.MethodPost, "/api/mail/drain?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Quarantine(ctx context.Context) ([]api.QuarantineEntry, error) {
	var out []api.QuarantineEntry
	if err := c.do(ctx, http.MethodGet, "/api/mail/quarantine", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) QuarantinedMessage(ctx context.Context, id string) (*mail.EmailMessage, error) {
	var out mail.EmailMessage
	if err := c.do(ctx, http.MethodGet, "/api/mail/quarantine/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Restore(ctx context.Context, id string) (*mail.EmailMessage, error) {
	var out mail.EmailMessage
	if err := c.do(ctx, http.MethodPost, "/api/mail/quarantine/"+url.PathEscape(id)+"/restore", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Send(ctx context.Context, req api.SendRequest) (*api.SendResponse, error) {
	var out api.SendResponse
	if err := c.do(ctx, http.MethodPost, "/api/mail", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Version(ctx context.Context) (*version.BuildInfo, error) {
	var out version.BuildInfo
	if err := c.do(ctx, http.MethodGet, "/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
