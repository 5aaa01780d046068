package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/logger"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 1 << 20

// Request is one exchange with the grades server.
type Request struct {
	Method string
	Path   string
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body interface{}
}

// Outcome is a completed 2xx exchange.
type Outcome struct {
	StatusCode int `json:"-"`
	// JSON is set when the response declared a JSON content type; the
	// payload fields below are only meaningful then.
	JSON     bool                `json:"-"`
	Success  bool                `json:"success"`
	Message  string              `json:"message,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
	Reset    bool                `json:"reset,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	// Body is the raw response body.
	Body []byte `json:"-"`
}

// Rejection returns a RejectedError when a JSON payload reports
// success=false, nil otherwise.
func (o *Outcome) Rejection() error {
	if !o.JSON || o.Success {
		return nil
	}
	return &RejectedError{StatusCode: o.StatusCode, Message: o.Message, Fields: o.Errors}
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Tokens      TokenProvider
	TokenHeader string
	// Timeout bounds each Send. Zero means no bound beyond ctx.
	Timeout    time.Duration
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// Client sends JSON requests to the grades server and attaches the
// anti-forgery token to state-changing methods.
type Client struct {
	base        *url.URL
	tokens      TokenProvider
	tokenHeader string
	timeout     time.Duration
	http        *http.Client
	log         zerolog.Logger
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", opts.BaseURL)
	}
	if opts.TokenHeader == "" {
		opts.TokenHeader = "X-CSRFToken"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("")
	}

	return &Client{
		base:        base,
		tokens:      opts.Tokens,
		tokenHeader: opts.TokenHeader,
		timeout:     opts.Timeout,
		http:        opts.HTTPClient,
		log:         logger.Component(opts.Log, "transport"),
	}, nil
}

// Send performs req. Failures are *NetworkError or *RejectedError.
func (c *Client) Send(ctx context.Context, req Request) (*Outcome, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	ref, err := url.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", req.Path, err)
	}
	target := c.base.ResolveReference(ref).String()

	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if stateChanging(req.Method) {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			// The server decides; a missing token usually ends in a 403.
			c.log.Warn().Err(err).Str("url", target).Msg("Sending without anti-forgery token")
		} else {
			httpReq.Header.Set(c.tokenHeader, token)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}

	out := &Outcome{StatusCode: resp.StatusCode, Body: raw, JSON: isJSON(resp.Header.Get("Content-Type"))}
	if out.JSON && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			if resp.StatusCode < 300 {
				return nil, &NetworkError{Method: req.Method, URL: target, Err: fmt.Errorf("decode body: %w", err)}
			}
			out.JSON = false
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rej := &RejectedError{StatusCode: resp.StatusCode}
		if out.JSON {
			rej.Message = out.Message
			rej.Fields = out.Errors
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("url", target).Msg("Request rejected")
		return nil, rej
	}
	return out, nil
}

// IsTimeout reports whether err came from a deadline expiring.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func stateChanging(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
