package cqusdk

import (
	"context"
	"fmt"
	"net/http"
)

// synjonesCookie carries the card backend token.
const synjonesCookie = "synjones-auth"

// RequestBuilder builds one request for GuardedExecute. It is only invoked
// once the service is known to hold a credential.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// GuardedExecute sends a request to a granted service.
//
// It fails with ErrNotAccess before building the request when svc has no
// credential. Otherwise the credential is attached (a bearer header for the
// course service, the synjones-auth cookie for the card service when it has
// been fetched) and the request executed. A 401 from the service also yields
// ErrNotAccess: the stored credential is stale and a new grant is needed.
// Nothing is retried and the registry is left untouched.
func (s *Session) GuardedExecute(ctx context.Context, svc Service, build RequestBuilder) (*http.Response, error) {
	info, ok := s.Access(svc)
	if !ok {
		return nil, ErrNotAccess
	}

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	switch a := info.(type) {
	case MyCQUAccess:
		req.Header.Set("Authorization", "Bearer "+a.AuthHeader)
	case CardAccess:
		if a.SynjonesAuth != nil {
			// Set verbatim: the value contains a space, which http.Cookie
			// would quote.
			cookie := synjonesCookie + "=" + *a.SynjonesAuth
			if prev := req.Header.Get("Cookie"); prev != "" {
				cookie = prev + "; " + cookie
			}
			req.Header.Set("Cookie", cookie)
		}
	}

	resp, err := s.Execute(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, ErrNotAccess
	}

	return resp, nil
}

// CardExecute sends a request to the card backend, fetching the
// synjones-auth token first if this session has not done so yet.
func (s *Session) CardExecute(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	if _, err := s.SynjonesAuth(ctx); err != nil {
		return nil, err
	}
	return s.GuardedExecute(ctx, ServiceCard, build)
}
