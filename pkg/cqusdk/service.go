package cqusdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ObtainServiceTicket asks the gateway for a service ticket for serviceURL
// and follows the resulting redirect once, which hands the ticket to the
// service. The landing response is returned unread; the caller must close it.
//
// ErrNotLogin is returned without any network call when the session has not
// logged in, and when the gateway does not answer with a redirect.
func (s *Session) ObtainServiceTicket(ctx context.Context, serviceURL string) (*http.Response, error) {
	if !s.IsLogin() {
		return nil, ErrNotLogin
	}

	u, err := url.Parse(s.endpoints.SSOLogin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse login endpoint: %w", err)
	}
	q := u.Query()
	q.Set("service", serviceURL)
	u.RawQuery = q.Encode()

	resp, err := s.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusFound {
		drain(resp)
		return nil, ErrNotLogin
	}

	return s.follow(ctx, resp, "service ticket")
}
