package hostfunc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second

	maxRedirects = 5
)

var httpMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// HTTPConfig restricts outbound requests. With no AllowedHosts every
// request fails with ErrHTTPDisabled.
type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// HTTP performs outbound requests on behalf of loaded code. The allowlist
// applies to every redirect hop as well as the first request, and each
// request ends with the calling phase at the latest.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	h := &HTTP{cfg: cfg}
	h.client = &http.Client{CheckRedirect: h.checkRedirect}
	return h
}

// outbound is a request described by host call arguments, already checked
// against the configuration.
type outbound struct {
	method  string
	target  *url.URL
	body    string
	headers map[string]string
	timeout time.Duration
}

// Request performs a request. Arguments: url (required), method, body,
// headers (a dict of strings) and timeout in seconds, capped by the
// configured request timeout. The result carries status, ok, body,
// truncated and headers, plus json when the response declares a JSON body
// that arrived whole.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	out, err := h.parse(args)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, out.timeout)
	defer cancel()

	var body io.Reader
	if out.body != "" {
		body = strings.NewReader(out.body)
	}
	req, err := http.NewRequestWithContext(ctx, out.method, out.target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range out.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", out.method, out.target.Redacted(), err)
	}
	defer resp.Body.Close()

	return h.reply(resp)
}

func (h *HTTP) parse(args map[string]any) (outbound, error) {
	out := outbound{timeout: h.cfg.RequestTimeout}

	out.method = http.MethodGet
	if m := optionalString(args, "method"); m != "" {
		out.method = strings.ToUpper(m)
	}
	if !httpMethods[out.method] {
		return out, fmt.Errorf("%w: unsupported method %s", ErrArgument, out.method)
	}

	rawURL, err := requireString(args, "url")
	if err != nil {
		return out, err
	}
	if len(rawURL) > h.cfg.MaxURLLength {
		return out, fmt.Errorf("%w: url longer than %d bytes", ErrLimit, h.cfg.MaxURLLength)
	}
	out.target, err = url.Parse(rawURL)
	if err != nil {
		return out, fmt.Errorf("%w: invalid url", ErrArgument)
	}
	if err := h.permit(out.target); err != nil {
		return out, err
	}

	if b, ok := args["body"].(string); ok {
		if int64(len(b)) > h.cfg.MaxBodySize {
			return out, fmt.Errorf("%w: request body larger than %d bytes", ErrLimit, h.cfg.MaxBodySize)
		}
		out.body = b
	}

	if raw, ok := args["headers"]; ok && raw != nil {
		headers, ok := raw.(map[string]any)
		if !ok {
			return out, fmt.Errorf("%w: headers must be a dict", ErrArgument)
		}
		out.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			s, ok := v.(string)
			if !ok {
				return out, fmt.Errorf("%w: header %s must be a string", ErrArgument, k)
			}
			out.headers[k] = s
		}
	}

	if raw, ok := args["timeout"]; ok && raw != nil {
		seconds, err := number(raw)
		if err != nil || seconds <= 0 {
			return out, fmt.Errorf("%w: timeout must be a positive number of seconds", ErrArgument)
		}
		if d := time.Duration(seconds * float64(time.Second)); d < out.timeout {
			out.timeout = d
		}
	}

	return out, nil
}

// permit checks the scheme and the host of a request or redirect target.
func (h *HTTP) permit(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrArgument)
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return ErrHTTPDisabled
	}
	host := u.Hostname()
	for _, allowed := range h.cfg.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
}

func (h *HTTP) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: more than %d redirects", ErrLimit, maxRedirects)
	}
	return h.permit(req.URL)
}

func (h *HTTP) reply(resp *http.Response) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	truncated := int64(len(data)) > h.cfg.MaxBodySize
	if truncated {
		data = data[:h.cfg.MaxBodySize]
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}

	result := map[string]any{
		"status":    resp.StatusCode,
		"ok":        resp.StatusCode >= 200 && resp.StatusCode < 300,
		"body":      string(data),
		"truncated": truncated,
		"headers":   headers,
	}

	if !truncated && isJSON(resp.Header.Get("Content-Type")) {
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			result["json"] = v
		}
	}
	return result, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// number reads a numeric argument as converted from any of the languages.
func number(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}

// NewHTTPGet returns a Func that always issues GET.
func NewHTTPGet(cfg HTTPConfig) Func {
	h := NewHTTP(cfg)
	return func(ctx context.Context, args map[string]any) (any, error) {
		get := make(map[string]any, len(args)+1)
		for k, v := range args {
			get[k] = v
		}
		get["method"] = http.MethodGet
		return h.Request(ctx, get)
	}
}
