/*
Package cqusdk is a client for the Chongqing University single-sign-on gateway
and the services that trust it.

# Overview

A Session signs in to the SSO gateway once and then obtains a separate
credential for each downstream service it needs:

  - ServiceMyCQU: the course and grade service. Access is a bearer token from
    an authorization code grant run behind the SSO login.
  - ServiceCard: the campus card service. Access is the card portal's own
    session cookie plus, for the utility-fee backend, a "synjones-auth" token
    fetched on first use and cached.

Typical use:

	session, err := cqusdk.NewSession()
	if err != nil {
		return err
	}

	result, err := session.Login(ctx, username, password, false)
	if err != nil {
		return err
	}
	if result == cqusdk.LoginInvalidCredentials {
		return cqusdk.ErrInvalidCredentials
	}

	if err := session.AccessMyCQU(ctx); err != nil {
		return err
	}

	resp, err := session.GuardedExecute(ctx, cqusdk.ServiceMyCQU, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, scoreURL, nil)
	})

# Redirects and Cookies

The session's HTTP client never follows redirects. Every flow reads the
Location header itself, because several steps need the redirect target
(an authorization code, a second hop) rather than the page behind it.
Cookies are kept in a net/http/cookiejar jar using the public suffix list
and are stored per request URL, which for manually chased redirects is the
hop's own URL.

# Errors

Wrong credentials are a LoginResult, not an error. ErrNotLogin and
ErrNotAccess are ordinary outcomes that callers branch on: log in again or
run the access grant again. ProtocolError and AccessError mean a campus site
changed shape. TransportError wraps network failures; nothing is retried.

# Thread Safety

The login flag and the credential registry are guarded by a read/write lock
and the cookie jar is safe for concurrent use, so reads from many goroutines
are fine. Flows themselves are not serialised: running Login or an Access
method concurrently on the same Session interleaves their cookie updates at
the protocol level. Use one writer per Session. The card backend token is
the exception; concurrent card requests share a single fetch.

# Persistence

Snapshot and Restore move a session's login flag, grants and cookies in and
out of a serialisable value so a process can resume without signing in
again.
*/
package cqusdk
