package cqusdk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/cqusso/pkg/jwtx"
	"github.com/aussiebroadwan/cqusso/pkg/scrape"
	"github.com/aussiebroadwan/cqusso/pkg/slogx"
	"golang.org/x/oauth2"
)

// AccessMyCQU grants the session access to the course service.
//
// After the service ticket step the course service's authorization code
// grant is run by hand: the authorize endpoint's redirect is not followed,
// the code is read from its Location and exchanged for a bearer token with
// the web front-end's fixed client credentials. A token body that is a JSON
// object is read as JSON whatever its Content-Type says.
func (s *Session) AccessMyCQU(ctx context.Context) error {
	ctx = s.flowContext(ctx, "access_mycqu")

	landing, err := s.ObtainServiceTicket(ctx, s.endpoints.MyCQUService)
	if err != nil {
		return err
	}
	drain(landing)

	resp, err := s.get(ctx, s.endpoints.MyCQUAuthorize)
	if err != nil {
		return err
	}
	drain(resp)

	code, err := scrape.AuthorizationCode(resp.Header.Get("Location"))
	if err != nil {
		return &AccessError{Service: ServiceMyCQU, Detail: "authorization code not found", Err: err}
	}

	token, err := s.exchangeMyCQUCode(ctx, code)
	if err != nil {
		return err
	}

	expiresAt := jwtx.PeekExpiry(token.AccessToken)
	if expiresAt.IsZero() {
		expiresAt = token.Expiry
	}

	info := MyCQUAccess{AuthHeader: token.AccessToken, ExpiresAt: expiresAt}
	s.SetAccess(info)

	slogx.FromContext(ctx).Info("mycqu access granted", "access", info)
	return nil
}

func (s *Session) exchangeMyCQUCode(ctx context.Context, code string) (*oauth2.Token, error) {
	cfg := oauth2.Config{
		ClientID:     mycquClientID,
		ClientSecret: mycquClientSecret,
		RedirectURL:  s.endpoints.MyCQUTokenIndex,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.endpoints.MyCQUToken,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// The exchange runs on the session client so it shares cookies, logging
	// and the no-redirect policy.
	client := *s.httpClient
	client.Transport = jsonTokenTransport{base: s.httpClient.Transport}

	token, err := cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, &client), code)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, &TransportError{Op: uerr.Op, URL: s.endpoints.MyCQUToken, Err: uerr.Err}
		}
		return nil, &AccessError{Service: ServiceMyCQU, Detail: "token exchange failed", Err: err}
	}

	if token.AccessToken == "" {
		return nil, &AccessError{Service: ServiceMyCQU, Detail: "access_token missing"}
	}

	return token, nil
}

// maxTokenBody caps how much of a token response is buffered.
const maxTokenBody = 1 << 20

// jsonTokenTransport marks a token response whose body is a JSON object as
// application/json. x/oauth2 picks its parser from Content-Type and would
// read a JSON body served as text/plain as a form.
type jsonTokenTransport struct {
	base http.RoundTripper
}

func (t jsonTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "application/json" {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		resp.Header.Set("Content-Type", "application/json")
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
