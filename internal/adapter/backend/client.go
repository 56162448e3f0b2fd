package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var backendLog = logrus.WithField("component", "backend_client")

// Client is the HTTP client for the donation backend
type Client struct {
	client *resty.Client
}

// NewClient creates a client for the backend at host
func NewClient(host string, timeout time.Duration) *Client {
	host = strings.TrimSuffix(host, "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Only idempotent reads are retried
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "tracefund-backend")
	return r
}

// do executes the request and decodes a 2xx body into out
func (c *Client) do(r *resty.Request, method, endpoint string, out any) error {
	if out != nil {
		r.SetResult(out).ForceContentType("application/json")
	}

	resp, err := r.Execute(method, endpoint)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	if err := parseHTTPError(resp); err != nil {
		return errors.WithMessagef(err, "%s %s", method, endpoint)
	}
	return nil
}

// StatusError is a non-2xx backend response
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return "http " + http.StatusText(e.Status) + ": " + e.Body
}

func parseHTTPError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	body := string(resp.Body())
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body(), &payload) == nil && payload.Message != "" {
		body = payload.Message
	}
	return &StatusError{Status: resp.StatusCode(), Body: body}
}

// IsStatus reports whether err is a backend response with the given status code
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
