package cqusdk

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Production origins.
const (
	SSORoot       = "https://sso.cqu.edu.cn"
	MyCQURoot     = "https://my.cqu.edu.cn"
	CardRoot      = "http://card.cqu.edu.cn"
	CardIASRoot   = "http://card.cqu.edu.cn:7280"
	CardBladeRoot = "http://card.cqu.edu.cn:8080"
)

// Fixed client credentials the course service's web front-end uses for its
// own authorization code grant.
const (
	mycquClientID     = "enroll-prod"
	mycquClientSecret = "app-a-1234"
)

// Endpoints is the full set of URLs the client talks to. The zero value is
// not usable; start from DefaultEndpoints or EndpointsAt.
type Endpoints struct {
	SSOLogin  string
	SSOLogout string

	MyCQUService    string
	MyCQUAuthorize  string
	MyCQUToken      string
	MyCQUTokenIndex string

	CardService            string
	CardHallTicket         string
	CardPage               string
	CardPageTicketPostForm string
	CardBladeAuth          string

	// Data endpoints used by callers of GuardedExecute / CardExecute.
	CardDormFee     string
	CardAccountList string
	CardBill        string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return endpointsFor(SSORoot, MyCQURoot, CardRoot, CardIASRoot, CardBladeRoot)
}

// EndpointsAt builds endpoints rooted at the given origins. The card portal
// normally spans three ports; here they all collapse onto card. This is what
// tests and local mirrors of the campus sites use.
func EndpointsAt(sso, mycqu, card string) Endpoints {
	card = strings.TrimSuffix(card, "/")
	return endpointsFor(
		strings.TrimSuffix(sso, "/"),
		strings.TrimSuffix(mycqu, "/"),
		card, card, card,
	)
}

func endpointsFor(sso, mycqu, card, cardIAS, cardBlade string) Endpoints {
	tokenIndex := mycqu + "/enroll/token-index"
	authorize := fmt.Sprintf(
		"%s/authserver/oauth/authorize?client_id=%s&response_type=code&scope=all&state=&redirect_uri=%s",
		mycqu, mycquClientID, tokenIndex,
	)

	return Endpoints{
		SSOLogin:  sso + "/login",
		SSOLogout: sso + "/logout",

		MyCQUService:    mycqu + "/authserver/authentication/cas",
		MyCQUAuthorize:  authorize,
		MyCQUToken:      mycqu + "/authserver/oauth/token",
		MyCQUTokenIndex: tokenIndex,

		CardService:            cardIAS + "/ias/prelogin?sysid=FWDT",
		CardHallTicket:         card + "/cassyno/index",
		CardPage:               card + "/Page/Page",
		CardPageTicketPostForm: cardBlade + "/blade-auth/token/thirdToToken/fwdt",
		CardBladeAuth:          cardBlade + "/blade-auth/token/fwdt",

		CardDormFee:     cardBlade + "/charge/feeitem/getThirdData",
		CardAccountList: card + "/NcAccType/GetCurrentAccountList",
		CardBill:        card + "/NcReport/GetMyBill",
	}
}

func (e Endpoints) all() map[string]string {
	return map[string]string{
		"SSOLogin":               e.SSOLogin,
		"SSOLogout":              e.SSOLogout,
		"MyCQUService":           e.MyCQUService,
		"MyCQUAuthorize":         e.MyCQUAuthorize,
		"MyCQUToken":             e.MyCQUToken,
		"MyCQUTokenIndex":        e.MyCQUTokenIndex,
		"CardService":            e.CardService,
		"CardHallTicket":         e.CardHallTicket,
		"CardPage":               e.CardPage,
		"CardPageTicketPostForm": e.CardPageTicketPostForm,
		"CardBladeAuth":          e.CardBladeAuth,
		"CardDormFee":            e.CardDormFee,
		"CardAccountList":        e.CardAccountList,
		"CardBill":               e.CardBill,
	}
}

// Validate checks that every endpoint is an absolute http(s) URL.
func (e Endpoints) Validate() error {
	names := make([]string, 0, 16)
	all := e.all()
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		u, err := url.Parse(all[name])
		if err != nil {
			return fmt.Errorf("endpoint %s: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("endpoint %s: %q is not an absolute http(s) url", name, all[name])
		}
	}

	return nil
}

// Origins returns the distinct scheme://host values of all endpoints, sorted.
func (e Endpoints) Origins() []string {
	seen := make(map[string]bool)
	var origins []string

	for _, raw := range e.all() {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}

		origin := u.Scheme + "://" + u.Host
		if !seen[origin] {
			seen[origin] = true
			origins = append(origins, origin)
		}
	}

	sort.Strings(origins)
	return origins
}
