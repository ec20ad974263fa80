package routehost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/metrics"
)

const (
	// DefaultTimeout bounds ordinary Route Host requests.
	DefaultTimeout = 30 * time.Second
	// DefaultImageTimeout bounds view export requests, which render inside Revit.
	DefaultImageTimeout = 60 * time.Second

	// RequestIDHeader carries the per-request correlation id.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 64 << 20
	pngMIMEType      = "image/png"
)

// BaseURL builds the Route Host base URL from its parts.
func BaseURL(host string, port int, basePath string) (baseURL string) {
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	baseURL = fmt.Sprintf("http://%s%s", net.JoinHostPort(host, fmt.Sprint(port)), strings.TrimRight(basePath, "/"))
	return baseURL
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient supplies the http.Client used for every request.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout for ordinary routes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithImageTimeout sets the per-request timeout for image routes.
func WithImageTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.imageTimeout = d
	}
}

// WithCatalog replaces the default endpoint catalog.
func WithCatalog(catalog *Catalog) Option {
	return func(c *Client) {
		c.catalog = catalog
	}
}

// Client relays calls to the Route Host. It is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	imageTimeout time.Duration
	catalog      *Catalog
	logger       *slog.Logger
}

// NewClient creates a Route Host client for baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) (client *Client, err error) {
	if baseURL == "" {
		err = errors.New("route host base URL is required")
		return client, err
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		err = fmt.Errorf("parsing route host base URL: %w", err)
		return client, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		err = fmt.Errorf("route host base URL must be http or https, got %q", baseURL)
		return nil, err
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client = &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{},
		timeout:      DefaultTimeout,
		imageTimeout: DefaultImageTimeout,
		catalog:      DefaultCatalog(),
		logger:       logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, err
}

// BaseURL returns the base URL requests are issued against.
func (c *Client) BaseURL() (baseURL string) {
	baseURL = c.baseURL
	return baseURL
}

// Catalog returns the endpoints this client may call.
func (c *Client) Catalog() (catalog *Catalog) {
	catalog = c.catalog
	return catalog
}

// Get issues a GET to a catalog endpoint.
func (c *Client) Get(ctx context.Context, name, pathParam string, query url.Values) (resp Response) {
	endpoint, path, failed := c.prepare(name, http.MethodGet, pathParam)
	if failed != nil {
		return *failed
	}

	resp = c.do(ctx, endpoint, path, query, nil)
	return resp
}

// Post serializes payload once, validates it against the endpoint schema and
// sends exactly those bytes as the request body.
func (c *Client) Post(ctx context.Context, name, pathParam string, payload any) (resp Response) {
	endpoint, path, failed := c.prepare(name, http.MethodPost, pathParam)
	if failed != nil {
		return *failed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		resp = CallerFailure(name, fmt.Sprintf("encoding %s payload: %v", name, err))
		return resp
	}

	var instance any
	err = json.Unmarshal(body, &instance)
	if err != nil {
		resp = CallerFailure(name, fmt.Sprintf("decoding %s payload: %v", name, err))
		return resp
	}

	err = endpoint.ValidatePayload(instance)
	if err != nil {
		resp = CallerFailure(name, err.Error())
		return resp
	}

	resp = c.do(ctx, endpoint, path, nil, body)
	return resp
}

// Image issues a GET to an image endpoint and decodes the base64 PNG it returns.
// A success without image_data is returned unchanged.
func (c *Client) Image(ctx context.Context, name, pathParam string) (resp Response) {
	endpoint, path, failed := c.prepare(name, http.MethodGet, pathParam)
	if failed != nil {
		return *failed
	}

	resp = c.do(ctx, endpoint, path, nil, nil)
	if !resp.OK() {
		return resp
	}

	encoded, ok := resp.Body["image_data"].(string)
	if !ok {
		return resp
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		resp = Failure(name, ClassApplication, resp.HTTPStatus, fmt.Sprintf("decoding image_data: %v", err), resp.Body)
		return resp
	}

	resp = Success(name, Image{Data: decoded, MIMEType: pngMIMEType}, resp.Body)
	return resp
}

// ExecuteRequest is the body of the code execution route.
type ExecuteRequest struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// Execute sends code to the Route Host to be run inside Revit.
// The code is forwarded verbatim and runs with the full privileges of the
// Revit process; nothing here inspects or restricts it.
func (c *Client) Execute(ctx context.Context, code, description string) (resp Response) {
	resp = c.Post(ctx, EndpointExecuteCode, "", ExecuteRequest{Code: code, Description: description})
	return resp
}

func (c *Client) prepare(name, method, pathParam string) (endpoint *Endpoint, path string, failed *Response) {
	endpoint, err := c.catalog.Lookup(name)
	if err != nil {
		resp := CallerFailure(name, err.Error())
		return nil, path, &resp
	}

	if endpoint.Method != method {
		resp := CallerFailure(name, fmt.Sprintf("endpoint %s expects %s, not %s", name, endpoint.Method, method))
		return nil, path, &resp
	}

	path, err = endpoint.BuildPath(pathParam)
	if err != nil {
		resp := CallerFailure(name, err.Error())
		return nil, path, &resp
	}

	return endpoint, path, nil
}

func (c *Client) do(ctx context.Context, endpoint *Endpoint, path string, query url.Values, body []byte) (resp Response) {
	timeout := c.timeout
	if endpoint.Image {
		timeout = c.imageTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	requestID := uuid.NewString()
	start := time.Now()

	defer func() {
		outcome := metrics.OutcomeLabel(resp.OK())
		metrics.RouteHostRequestsTotal.WithLabelValues(endpoint.Name, endpoint.Method, outcome).Inc()
		metrics.RouteHostRequestDuration.WithLabelValues(endpoint.Name).Observe(time.Since(start).Seconds())

		attrs := []any{
			slog.String("request_id", requestID),
			slog.String("endpoint", endpoint.Name),
			slog.String("method", endpoint.Method),
			slog.Int("http_status", resp.HTTPStatus),
			slog.Duration("duration", time.Since(start)),
		}
		if resp.OK() {
			c.logger.InfoContext(ctx, "route host request completed", attrs...)
			return
		}
		attrs = append(attrs, slog.String("class", string(resp.Class)), slog.String("error", resp.Message))
		c.logger.WarnContext(ctx, "route host request failed", attrs...)
	}()

	req, err := http.NewRequestWithContext(ctx, endpoint.Method, requestURL, reqBody)
	if err != nil {
		resp = CallerFailure(endpoint.Name, fmt.Sprintf("creating request: %v", err))
		return resp
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugContext(ctx, "making route host request",
		slog.String("request_id", requestID),
		slog.String("method", endpoint.Method),
		slog.String("url", requestURL),
	)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		resp = Failure(endpoint.Name, ClassTransport, 0, c.transportMessage(ctx, err, timeout), nil)
		return resp
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		resp = Failure(endpoint.Name, ClassTransport, httpResp.StatusCode, c.transportMessage(ctx, err, timeout), nil)
		return resp
	}

	resp = normalize(endpoint.Name, httpResp.StatusCode, raw)
	return resp
}

func (c *Client) transportMessage(ctx context.Context, err error, timeout time.Duration) (message string) {
	var netErr net.Error

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		message = fmt.Sprintf("connection to Revit at %s was cancelled", c.baseURL)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		message = fmt.Sprintf("connection to Revit at %s timed out after %s", c.baseURL, timeout)
	default:
		message = fmt.Sprintf("connection to Revit at %s failed: %v. Is Revit running with the pyRevit Routes server enabled?", c.baseURL, err)
	}

	return message
}

// normalize turns a raw HTTP answer into a Response.
func normalize(name string, status int, raw []byte) (resp Response) {
	value, decodeErr := decodeJSON(raw)
	body, _ := value.(map[string]any)

	if status < 200 || status > 299 {
		message := strings.TrimSpace(string(raw))
		if text := errorText(body); text != "" {
			message = text
		}
		if message == "" {
			message = http.StatusText(status)
		}
		resp = Failure(name, ClassApplication, status, message, body)
		return resp
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		resp = Success(name, nil, nil)
		resp.HTTPStatus = status
		return resp
	}

	if decodeErr != nil {
		resp = Failure(name, ClassApplication, status, fmt.Sprintf("route host returned invalid JSON: %v", decodeErr), nil)
		return resp
	}

	if body == nil {
		resp = Success(name, value, nil)
		resp.HTTPStatus = status
		return resp
	}

	if isErrorEnvelope(body) {
		message := errorText(body)
		if message == "" {
			message = "Unknown error occurred"
		}
		resp = Failure(name, ClassApplication, status, message, body)
		return resp
	}

	data, ok := body["data"]
	if !ok {
		data = body
	}

	resp = Success(name, data, body)
	resp.HTTPStatus = status
	return resp
}

func decodeJSON(raw []byte) (value any, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	err = dec.Decode(&value)
	if err != nil {
		return nil, err
	}

	if dec.More() {
		err = errors.New("unexpected data after top-level value")
		return nil, err
	}

	return value, err
}

func isErrorEnvelope(body map[string]any) (isError bool) {
	status, _ := body["status"].(string)
	if strings.EqualFold(status, "error") {
		isError = true
		return isError
	}

	_, hasError := body["error"]
	isError = hasError && !strings.EqualFold(status, "success")
	return isError
}

func errorText(body map[string]any) (text string) {
	if body == nil {
		return text
	}

	switch v := body["error"].(type) {
	case nil:
	case string:
		text = v
	default:
		encoded, err := json.Marshal(v)
		if err == nil {
			text = string(encoded)
		}
	}

	if text == "" {
		if message, ok := body["message"].(string); ok && body["status"] == "error" {
			text = message
		}
	}

	return text
}
