package goAuthSync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestOptions are the per-call inputs of a [Requester].
type RequestOptions struct {
	// JWT is sent as a bearer token when set.
	JWT     string
	Query   url.Values
	Headers map[string]string
	// Body is encoded as JSON when non-nil.
	Body any
}

// Requester performs one auth API call and decodes the JSON response into
// out (ignored when nil). Failures must be *AuthError values classified as
// KindRetryableFetch (network, 5xx), KindAPI (4xx) or KindUnknown.
type Requester interface {
	Do(ctx context.Context, method, path string, opts RequestOptions, out any) error
}

// RequesterFunc adapts a function to [Requester].
type RequesterFunc func(ctx context.Context, method, path string, opts RequestOptions, out any) error

func (f RequesterFunc) Do(ctx context.Context, method, path string, opts RequestOptions, out any) error {
	return f(ctx, method, path, opts, out)
}

// HTTPRequester is the default [Requester] over net/http.
type HTTPRequester struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewHTTPRequester targets baseURL. A nil client gets a 30s timeout.
func NewHTTPRequester(baseURL string, client *http.Client, headers map[string]string) *HTTPRequester {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRequester{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		headers: headers,
	}
}

// apiErrorBody covers the error shapes returned by the auth server.
type apiErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
}

func (b *apiErrorBody) message() string {
	for _, m := range []string{b.ErrorDescription, b.Msg, b.Message, b.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

func (b *apiErrorBody) code() string {
	if b.ErrorCode != "" {
		return b.ErrorCode
	}
	if s, ok := b.Code.(string); ok {
		return s
	}
	return b.Error
}

// Do implements [Requester].
func (r *HTTPRequester) Do(ctx context.Context, method, path string, opts RequestOptions, out any) error {
	target := r.baseURL + path
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return newAuthError(KindUnknown, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return newAuthError(KindUnknown, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+opts.JWT)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return newAuthError(KindUnknown, ctx.Err())
		}
		return newAuthError(KindRetryableFetch, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return newAuthError(KindRetryableFetch, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		var eb apiErrorBody
		_ = json.Unmarshal(data, &eb)
		kind := KindAPI
		if resp.StatusCode >= 500 {
			kind = KindRetryableFetch
		}
		msg := eb.message()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &AuthError{Kind: kind, Status: resp.StatusCode, Code: eb.code(), Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &AuthError{Kind: KindUnknown, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}
