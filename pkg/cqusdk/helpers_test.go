package cqusdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
	"github.com/aussiebroadwan/cqusso/pkg/slogx"
	"github.com/stretchr/testify/require"
)

/*
 * A fake of the three campus sites on one httptest server, mirroring the
 * redirect and cookie behaviour the flows depend on.
 */

const (
	testUsername = "20210001"
	testPassword = "abc123456"
	testSalt     = "IGEOE4OMIBo="
	testFlowKey  = "e1s1-flow"

	testPageTicket  = "4552BB7524AB492E83587A9E57E9E995"
	testSSOTicketID = "ST-card-0001"
	testBladeToken  = "blade-token-xyz"
	testAuthCode    = "ZbfCVZ"

	tgcCookie  = "TGC"
	tgcValue   = "tgc-valid"
	hallCookie = "hallticket"
)

type fakeCampus struct {
	t   *testing.T
	srv *httptest.Server

	mu sync.Mutex

	// Behaviour knobs
	loginProbeStatus int    // forces the first GET /login status when non-zero
	loginPageHTML    string // overrides the login page body
	loginPageStatus  int    // status of the login page for signed-out browsers
	submitStatus     int    // forces the credential POST status when non-zero
	hallStatus       int
	omitAuthCode     bool
	omitSSOTicketID  bool
	omitPageTicket   bool
	tokenBody        string // overrides the token endpoint response
	tokenType        string // overrides the token endpoint Content-Type
	mycquToken       string
	bladeStatus      int
	bladeBody        string // overrides a successful blade-auth response
	blockLogout      bool

	// bareRedirect answers matching requests (keyed like hits) with a 302
	// that has no Location.
	bareRedirect map[string]bool

	// Observations
	hits     map[string]int
	lastForm map[string]map[string]string
}

func newFakeCampus(t *testing.T) *fakeCampus {
	t.Helper()

	f := &fakeCampus{
		t:          t,
		hallStatus: http.StatusFound,
		mycquToken: "mycqu-access-token",
		hits:         make(map[string]int),
		lastForm:     make(map[string]map[string]string),
		bareRedirect: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", f.handleLogin)
	mux.HandleFunc("/logout", f.handleLogout)
	mux.HandleFunc("/cas/hop", f.redirectTo("/cas/home"))
	mux.HandleFunc("/cas/home", f.ok("welcome"))

	mux.HandleFunc("/authserver/authentication/cas", f.handleMyCQUService)
	mux.HandleFunc("/authserver/oauth/authorize", f.handleAuthorize)
	mux.HandleFunc("/authserver/oauth/token", f.handleToken)
	mux.HandleFunc("/api/score", f.handleScore)

	mux.HandleFunc("/ias/prelogin", f.handleCardService)
	mux.HandleFunc("/ias/ssoticket", f.handleCardTicketPage)
	mux.HandleFunc("/cassyno/index", f.handleHallTicket)
	mux.HandleFunc("/Page/Page", f.handlePage)
	mux.HandleFunc("/blade-auth/token/fwdt", f.handleBladeAuth)
	mux.HandleFunc("/charge/feeitem/getThirdData", f.handleDormFee)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		bare := f.bareRedirect[requestKey(r)]
		f.mu.Unlock()

		if bare {
			f.record(r)
			w.WriteHeader(http.StatusFound)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeCampus) endpoints() Endpoints {
	return EndpointsAt(f.srv.URL, f.srv.URL, f.srv.URL)
}

func (f *fakeCampus) session(t *testing.T) *Session {
	t.Helper()

	s, err := NewSession(WithEndpoints(f.endpoints()), WithLogger(slogx.Discard()))
	require.NoError(t, err)
	return s
}

// loggedIn returns a session that has completed a credential login.
func (f *fakeCampus) loggedIn(t *testing.T) *Session {
	t.Helper()

	s := f.session(t)
	result, err := s.Login(t.Context(), testUsername, testPassword, false)
	require.NoError(t, err)
	require.Equal(t, LoginSuccess, result)
	return s
}

func (f *fakeCampus) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func (f *fakeCampus) form(key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm[key]
}

// set changes behaviour knobs while the server may be handling requests.
func (f *fakeCampus) set(fn func(f *fakeCampus)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func requestKey(r *http.Request) string {
	key := r.Method + " " + r.URL.Path
	if r.Method == http.MethodGet && r.URL.Query().Has("service") {
		key += "?service"
	}
	return key
}

func (f *fakeCampus) record(r *http.Request) string {
	key := requestKey(r)

	form := make(map[string]string)
	if r.Method == http.MethodPost {
		require.NoError(f.t, r.ParseForm())
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[key]++
	f.lastForm[key] = form
	return key
}

func hasCookie(r *http.Request, name, value string) bool {
	c, err := r.Cookie(name)
	return err == nil && c.Value == value
}

func (f *fakeCampus) redirectTo(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		http.Redirect(w, r, path, http.StatusFound)
	}
}

func (f *fakeCampus) ok(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		fmt.Fprint(w, body)
	}
}

func (f *fakeCampus) loginPage() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loginPageHTML != "" {
		return f.loginPageHTML
	}
	return fmt.Sprintf(`<html><body>
<form id="login-form"></form>
<p id="login-croypto">%s</p>
<p id="login-page-flowkey">%s</p>
</body></html>`, testSalt, testFlowKey)
}

func (f *fakeCampus) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	signedIn := hasCookie(r, tgcCookie, tgcValue)

	switch r.Method {
	case http.MethodGet:
		if service := r.URL.Query().Get("service"); service != "" {
			if !signedIn {
				fmt.Fprint(w, f.loginPage())
				return
			}
			sep := "?"
			if strings.Contains(service, "?") {
				sep = "&"
			}
			http.Redirect(w, r, service+sep+"ticket=ST-1", http.StatusFound)
			return
		}

		f.mu.Lock()
		forced := f.loginProbeStatus
		f.mu.Unlock()
		if forced != 0 {
			w.WriteHeader(forced)
			return
		}

		if signedIn {
			http.Redirect(w, r, "/cas/hop", http.StatusFound)
			return
		}

		f.mu.Lock()
		pageStatus := f.loginPageStatus
		f.mu.Unlock()
		if pageStatus != 0 {
			w.WriteHeader(pageStatus)
			return
		}
		fmt.Fprint(w, f.loginPage())

	case http.MethodPost:
		f.mu.Lock()
		submit := f.submitStatus
		f.mu.Unlock()
		if submit != 0 {
			w.WriteHeader(submit)
			return
		}

		want, err := cryptox.EncryptCredential(testSalt, testPassword)
		require.NoError(f.t, err)

		if r.PostForm.Get("username") != testUsername || r.PostForm.Get("password") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		http.SetCookie(w, &http.Cookie{Name: tgcCookie, Value: tgcValue, Path: "/"})
		http.Redirect(w, r, "/cas/home", http.StatusFound)
	}
}

func (f *fakeCampus) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	f.mu.Lock()
	block := f.blockLogout
	f.mu.Unlock()
	if block {
		// Drop the connection so the client sees a transport failure
		hj, ok := w.(http.Hijacker)
		require.True(f.t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(f.t, err)
		conn.Close()
		return
	}

	http.SetCookie(w, &http.Cookie{Name: tgcCookie, Value: "", Path: "/", MaxAge: -1})
	fmt.Fprint(w, "logged out")
}

func (f *fakeCampus) handleMyCQUService(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if r.URL.Query().Get("ticket") == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "mycqu-session", Path: "/"})
	fmt.Fprint(w, "mycqu home")
}

func (f *fakeCampus) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if !hasCookie(r, "SESSION", "mycqu-session") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	omit := f.omitAuthCode
	f.mu.Unlock()

	if omit {
		http.Redirect(w, r, "https://my.cqu.edu.cn/enroll/token-index?error=denied&state=", http.StatusFound)
		return
	}
	http.Redirect(w, r, "https://my.cqu.edu.cn/enroll/token-index?code="+testAuthCode+"&state=", http.StatusFound)
}

func (f *fakeCampus) handleToken(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	f.mu.Lock()
	override := f.tokenBody
	token := f.mycquToken
	contentType := f.tokenType
	f.mu.Unlock()

	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	if override != "" {
		fmt.Fprint(w, override)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (f *fakeCampus) handleScore(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	f.mu.Lock()
	token := f.mycquToken
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	fmt.Fprint(w, `{"status":"success","data":[]}`)
}

func (f *fakeCampus) handleCardService(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if r.URL.Query().Get("ticket") == "" || r.URL.Query().Get("sysid") != "FWDT" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	http.Redirect(w, r, "/ias/ssoticket", http.StatusFound)
}

func (f *fakeCampus) handleCardTicketPage(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	f.mu.Lock()
	omit := f.omitSSOTicketID
	f.mu.Unlock()
	if omit {
		fmt.Fprint(w, `<html><body><form method="post"></form></body></html>`)
		return
	}
	fmt.Fprintf(w, `<html><body><form method="post">
<input type="hidden" id="ssoticketid" name="ssoticketid" value="%s" />
</form></body></html>`, testSSOTicketID)
}

func (f *fakeCampus) handleHallTicket(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	f.mu.Lock()
	status := f.hallStatus
	f.mu.Unlock()

	if r.PostForm.Get("ssoticketid") != testSSOTicketID {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: hallCookie, Value: "hall-ok", Path: "/"})
	if status == http.StatusFound {
		http.Redirect(w, r, "/cassyno/index", http.StatusFound)
		return
	}
	w.WriteHeader(status)
}

func (f *fakeCampus) handlePage(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if !hasCookie(r, hallCookie, "hall-ok") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	omit := f.omitPageTicket
	f.mu.Unlock()
	if omit {
		fmt.Fprint(w, `<script>window.location.href = '/expired';</script>`)
		return
	}
	fmt.Fprintf(w, `<script>window.location.href = '%s?ticket=%s';</script>`,
		r.PostForm.Get("Url"), testPageTicket)
}

func (f *fakeCampus) handleBladeAuth(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	f.mu.Lock()
	status := f.bladeStatus
	body := f.bladeBody
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.PostForm.Get("ticket") != testPageTicket {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if body != "" {
		fmt.Fprint(w, body)
		return
	}
	fmt.Fprintf(w, `{"code":200,"success":true,"data":{"access_token":"%s"}}`, testBladeToken)
}

func (f *fakeCampus) handleDormFee(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if r.Header.Get("Cookie") == "" || !strings.Contains(r.Header.Get("Cookie"), synjonesCookie+"=bearer "+testBladeToken) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	fmt.Fprint(w, `{"map":{"showData":{"剩余金额":"12.34"}}}`)
}
