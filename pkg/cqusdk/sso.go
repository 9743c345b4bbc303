package cqusdk

import (
	"context"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
	"github.com/aussiebroadwan/cqusso/pkg/scrape"
	"github.com/aussiebroadwan/cqusso/pkg/slogx"
)

// LoginResult is the business outcome of Login.
type LoginResult int

const (
	// LoginUnknown accompanies a non-nil error.
	LoginUnknown LoginResult = iota
	// LoginSuccess means the session now holds an SSO login.
	LoginSuccess
	// LoginInvalidCredentials means the gateway rejected the username or
	// password. It is an expected outcome, not an error.
	LoginInvalidCredentials
)

func (r LoginResult) String() string {
	switch r {
	case LoginSuccess:
		return "success"
	case LoginInvalidCredentials:
		return "invalid_credentials"
	default:
		return "unknown"
	}
}

// Err converts the result into an error for callers that prefer one.
func (r LoginResult) Err() error {
	if r == LoginInvalidCredentials {
		return ErrInvalidCredentials
	}
	return nil
}

// Login signs in to the SSO gateway.
//
// If the gateway already recognises the session's cookies the login is
// silent and no credentials are sent, unless forceRelogin is set, in which
// case the session logs out first and submits the credentials again. A
// failed logout during a forced relogin is logged and otherwise ignored.
//
// Wrong credentials yield LoginInvalidCredentials and a nil error.
func (s *Session) Login(ctx context.Context, username, password string, forceRelogin bool) (LoginResult, error) {
	ctx = s.flowContext(ctx, "login")
	log := slogx.FromContext(ctx)

	resp, err := s.get(ctx, s.endpoints.SSOLogin)
	if err != nil {
		return LoginUnknown, err
	}

	switch resp.StatusCode {
	case http.StatusFound:
		if !forceRelogin {
			log.Debug("sso session still valid, following silent login")
			return s.silentLogin(ctx, resp)
		}

		drain(resp)
		if err := s.Logout(ctx); err != nil {
			log.Warn("logout before forced relogin failed", "error", err)
		}

		page, err := s.get(ctx, s.endpoints.SSOLogin)
		if err != nil {
			return LoginUnknown, err
		}
		if page.StatusCode != http.StatusOK {
			drain(page)
			return LoginUnknown, &ProtocolError{Step: "login page after logout", StatusCode: page.StatusCode}
		}
		return s.submitCredentials(ctx, page, username, password)

	case http.StatusOK:
		return s.submitCredentials(ctx, resp, username, password)

	default:
		drain(resp)
		return LoginUnknown, &ProtocolError{Step: "login probe", StatusCode: resp.StatusCode}
	}
}

// silentLogin follows the two redirect hops the gateway issues to a browser
// that is already signed in.
func (s *Session) silentLogin(ctx context.Context, resp *http.Response) (LoginResult, error) {
	hop, err := s.follow(ctx, resp, "silent login")
	if err != nil {
		return LoginUnknown, err
	}

	final, err := s.follow(ctx, hop, "silent login hop")
	if err != nil {
		return LoginUnknown, err
	}
	drain(final)

	s.setLogin(true)
	slogx.FromContext(ctx).Info("sso login succeeded", "silent", true)
	return LoginSuccess, nil
}

// submitCredentials scrapes the login page in page, encrypts the password
// with the page's salt and posts the login form.
func (s *Session) submitCredentials(ctx context.Context, page *http.Response, username, password string) (LoginResult, error) {
	data, err := scrape.LoginPage(page.Body)
	drain(page)
	if err != nil {
		return LoginUnknown, &ProtocolError{Step: "login page", Detail: "login form data not found", Err: err}
	}

	encrypted, err := cryptox.EncryptCredential(data.Salt, password)
	if err != nil {
		return LoginUnknown, err
	}

	form := url.Values{
		"username":    {username},
		"type":        {"UsernamePassword"},
		"_eventId":    {"submit"},
		"geolocation": {""},
		"execution":   {data.FlowKey},
		"croypto":     {data.Salt},
		"password":    {encrypted},
	}

	resp, err := s.postForm(ctx, s.endpoints.SSOLogin, form)
	if err != nil {
		return LoginUnknown, err
	}

	switch resp.StatusCode {
	case http.StatusFound:
		landing, err := s.follow(ctx, resp, "login submit")
		if err != nil {
			return LoginUnknown, err
		}
		drain(landing)

		s.setLogin(true)
		slogx.FromContext(ctx).Info("sso login succeeded", "silent", false)
		return LoginSuccess, nil

	case http.StatusUnauthorized:
		drain(resp)
		slogx.FromContext(ctx).Info("sso login rejected credentials")
		return LoginInvalidCredentials, nil

	default:
		drain(resp)
		return LoginUnknown, &ProtocolError{Step: "login submit", StatusCode: resp.StatusCode}
	}
}

// Logout ends the SSO login and forgets every service grant, since none of
// them can be renewed without a login. Only a failure to reach the gateway
// is reported, as a *LogoutError.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.get(ctx, s.endpoints.SSOLogout)
	if err != nil {
		return &LogoutError{Err: err}
	}
	drain(resp)

	s.mu.Lock()
	s.isLogin = false
	clear(s.access)
	s.mu.Unlock()

	return nil
}
