package insurer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

var (
	// ErrUnauthorized matches any 401 answer from the insurer API.
	ErrUnauthorized = errors.New("insurer: authentication required")
	// ErrUnavailable wraps transport failures (connection refused, timeouts, ...).
	ErrUnavailable = errors.New("insurer: service unavailable")
)

// APIError is a non-2xx answer carrying the server's message.
type APIError struct {
	Status    int
	Message   string
	Missing   []string
	KYCStatus string
}

func (e *APIError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("insurer: %d %s (missing: %s)", e.Status, e.Message, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("insurer: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == fasthttp.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// TTSOptions are the fixed voice parameters sent with every speak request.
type TTSOptions struct {
	VoiceID      string
	ModelID      string
	OutputFormat string
}

type Options struct {
	BaseURL string
	// Timeout bounds a call when the context carries no deadline; zero keeps
	// the client defaults.
	Timeout    time.Duration
	TTS        TTSOptions
	HTTPClient *fasthttp.Client
}

// Client talks to the insurer REST API. Tokens are passed per call.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
	tts     TTSOptions
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("insurer base url required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &fasthttp.Client{
			Name:            "quotebot",
			MaxConnsPerHost: 64,
		}
	}
	return &Client{baseURL: base, http: hc, timeout: opts.Timeout, tts: opts.TTS}, nil
}

type errorBody struct {
	Error               string   `json:"error"`
	Message             string   `json:"message"`
	Detail              string   `json:"detail"`
	MissingRequirements []string `json:"missing_requirements"`
	KYCStatus           string   `json:"kyc_status"`
}

// do sends a JSON request and decodes a JSON answer into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	body, err := c.doRaw(ctx, method, path, token, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// doRaw returns the raw response body of a successful call.
func (c *Client) doRaw(ctx context.Context, method, path, token string, in any) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(payload)
	}

	if err := c.send(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}

	status := resp.StatusCode()
	body := append([]byte(nil), resp.Body()...)
	if status >= 400 {
		return nil, decodeAPIError(status, body)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.http.DoDeadline(req, resp, deadline)
	}
	if c.timeout > 0 {
		return c.http.DoTimeout(req, resp, c.timeout)
	}
	return c.http.Do(req, resp)
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Error != "":
			apiErr.Message = eb.Error
		case eb.Message != "":
			apiErr.Message = eb.Message
		default:
			apiErr.Message = eb.Detail
		}
		apiErr.Missing = eb.MissingRequirements
		apiErr.KYCStatus = eb.KYCStatus
	}
	return apiErr
}
