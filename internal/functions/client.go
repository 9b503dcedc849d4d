package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/observability"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
)

const maxResponseBytes = 1 << 20

// CallError is returned when the backend answers with a non-2xx status.
type CallError struct {
	Function string
	Status   int
	Code     string
	Message  string
}

func (e *CallError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Function, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Function, e.Status, e.Message)
}

// Temporary reports whether retrying later may succeed.
func (e *CallError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Client POSTs JSON payloads to <BaseURL>/<function>.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *zap.Logger
	tracer  trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends "Authorization: Bearer <token>" on every call.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("functions base URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Call invokes one function and returns its raw JSON result.
func (c *Client) Call(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "functions.Call", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("function.name", name))

	out, err := c.call(ctx, name, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (c *Client) call(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", name, err)
	}

	c.logger.Debug("function call",
		zap.String("function", name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeCallError(name, resp.StatusCode, body)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s returned invalid JSON", name)
	}
	return body, nil
}

// decodeCallError understands {"error":{"code","message"}} and
// {"message": "..."} bodies; anything else is kept as text.
func decodeCallError(name string, status int, body []byte) error {
	ce := &CallError{Function: name, Status: status}

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		switch {
		case envelope.Error != nil:
			ce.Code, ce.Message = envelope.Error.Code, envelope.Error.Message
		case envelope.Message != "":
			ce.Message = envelope.Message
		}
	}
	if ce.Message == "" {
		ce.Message = strings.TrimSpace(string(body))
	}
	if ce.Message == "" {
		ce.Message = http.StatusText(status)
	}
	return ce
}

// Handlers binds every known function name to this client.
func (c *Client) Handlers() queue.Handlers {
	handlers := make(queue.Handlers, len(Names()))
	for _, name := range Names() {
		handlers[name] = func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return c.Call(ctx, name, payload)
		}
	}
	return handlers
}
