package cqusdk

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/cqusso/pkg/idx"
)

// Snapshot is a serialisable copy of a session's state: the login flag, the
// service grants and the cookies held for each endpoint origin.
//
// Cookies are captured as name/value pairs per origin, since that is all
// the cookie jar exposes; on restore they are scoped to the whole origin.
// Snapshots contain live credentials and should be sealed before they are
// stored (see cryptox.Sealer).
type Snapshot struct {
	SessionID string                      `json:"session_id"`
	TakenAt   time.Time                   `json:"taken_at"`
	IsLogin   bool                        `json:"is_login"`
	MyCQU     *MyCQUAccess                `json:"mycqu,omitempty"`
	Card      *CardAccess                 `json:"card,omitempty"`
	Cookies   map[string][]SnapshotCookie `json:"cookies,omitempty"`
}

// SnapshotCookie is one cookie as seen by requests to an origin.
type SnapshotCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ErrSnapshotEmpty is returned when restoring a snapshot that has no session id.
var ErrSnapshotEmpty = errors.New("cqusdk: snapshot has no session id")

// Snapshot captures the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		SessionID: s.id.String(),
		TakenAt:   time.Now().UTC(),
		IsLogin:   s.isLogin,
	}
	for _, info := range s.access {
		switch a := info.(type) {
		case MyCQUAccess:
			snap.MyCQU = &a
		case CardAccess:
			snap.Card = &a
		}
	}
	s.mu.RUnlock()

	cookies := make(map[string][]SnapshotCookie)
	for origin, paths := range s.cookieScopes() {
		seen := make(map[string]bool)
		for _, u := range paths {
			for _, c := range s.jar.Cookies(u) {
				if seen[c.Name] {
					continue
				}
				seen[c.Name] = true
				cookies[origin] = append(cookies[origin], SnapshotCookie{Name: c.Name, Value: c.Value})
			}
		}
	}
	if len(cookies) > 0 {
		snap.Cookies = cookies
	}

	return snap
}

// Restore replaces the session state with snap. Cookies are added to the
// jar; cookies already present with the same name are overwritten.
func (s *Session) Restore(snap Snapshot) error {
	id, err := idx.Parse(snap.SessionID)
	if err != nil {
		return ErrSnapshotEmpty
	}

	for origin, list := range snap.Cookies {
		u, err := url.Parse(origin + "/")
		if err != nil || u.Host == "" {
			return fmt.Errorf("cqusdk: snapshot cookie origin %q: invalid url", origin)
		}

		cookies := make([]*http.Cookie, 0, len(list))
		for _, c := range list {
			cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
		}
		s.jar.SetCookies(u, cookies)
	}

	access := make(map[Service]AccessInfo)
	if snap.MyCQU != nil {
		access[ServiceMyCQU] = *snap.MyCQU
	}
	if snap.Card != nil {
		access[ServiceCard] = *snap.Card
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != s.id {
		s.logger = s.logger.With("restored_session_id", id.String())
	}
	s.id = id
	s.isLogin = snap.IsLogin
	s.access = access

	return nil
}

// cookieScopes groups the parsed endpoint URLs by origin.
func (s *Session) cookieScopes() map[string][]*url.URL {
	scopes := make(map[string][]*url.URL)
	for _, raw := range s.endpoints.all() {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		origin := u.Scheme + "://" + u.Host
		scopes[origin] = append(scopes[origin], u)
	}
	return scopes
}
