package cqusdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const userAgent = "Mozilla/5.0 (compatible; cqusso/1.0)"

// maxDrain caps how much of an unread body is discarded before closing, so
// keep-alive connections can be reused without reading huge pages.
const maxDrain = 64 << 10

// Execute sends req through the session's cookie-aware, non-redirecting
// client. Cookies from the jar are appended to any Cookie header already on
// the request and every Set-Cookie on the response is stored.
//
// Network failures are returned as *TransportError.
func (s *Session) Execute(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: req.Method, URL: redact(req.URL), Err: unwrapURLError(err)}
	}

	return resp, nil
}

// get performs a GET request within ctx.
func (s *Session) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return s.Execute(req)
}

// postForm performs a form-encoded POST request within ctx.
func (s *Session) postForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := newFormRequest(ctx, rawURL, form)
	if err != nil {
		return nil, err
	}
	return s.Execute(req)
}

func newFormRequest(ctx context.Context, rawURL string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// follow reads the Location header of resp, closes resp and GETs the target.
// A missing Location is a ProtocolError attributed to step.
func (s *Session) follow(ctx context.Context, resp *http.Response, step string) (*http.Response, error) {
	loc, err := location(resp, step)
	drain(resp)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, loc)
}

// location resolves the Location header of resp against the request URL.
func location(resp *http.Response, step string) (string, error) {
	loc, err := resp.Location()
	if err != nil {
		return "", &ProtocolError{
			Step:       step,
			StatusCode: resp.StatusCode,
			Detail:     "redirect response missing Location header",
			Err:        err,
		}
	}
	return loc.String(), nil
}

// readBody reads and closes the response body.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: redact(resp.Request.URL), Err: err}
	}
	return body, nil
}

// drain discards what is left of the body and closes it.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()
}

// redact keeps scheme, host and path; queries carry tickets and codes.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// unwrapURLError strips the *url.Error added by http.Client, whose message
// repeats the full URL including the query.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
