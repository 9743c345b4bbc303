package cqusdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
	"github.com/aussiebroadwan/cqusso/pkg/scrape"
	"github.com/aussiebroadwan/cqusso/pkg/slogx"
)

// cardFeeMenu is the card portal menu entry whose page carries the ticket for
// the utility-fee backend.
const cardFeeMenu = "电费、网费"

// AccessCard grants the session access to the card service (stage one).
//
// The service ticket lands on a page that redirects to a form carrying an
// ssoticketid; posting it to the card hall endpoint sets the card portal's
// own session cookie. The registry then holds a CardAccess without a
// synjones-auth token; that is fetched lazily by SynjonesAuth.
func (s *Session) AccessCard(ctx context.Context) error {
	ctx = s.flowContext(ctx, "access_card")

	landing, err := s.ObtainServiceTicket(ctx, s.endpoints.CardService)
	if err != nil {
		return err
	}

	page, err := s.follow(ctx, landing, "card landing")
	if err != nil {
		return err
	}

	ticketID, err := scrape.SSOTicketID(page.Body)
	drain(page)
	if err != nil {
		return &ProtocolError{Step: "card landing", Detail: "ssoticketid not found", Err: err}
	}

	resp, err := s.postForm(ctx, s.endpoints.CardHallTicket, url.Values{
		"errorcode":   {"1"},
		"ssoticketid": {ticketID},
		"continueurl": {s.endpoints.CardHallTicket},
	})
	if err != nil {
		return err
	}
	drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound {
		return &AccessError{
			Service: ServiceCard,
			Detail:  fmt.Sprintf("hall ticket rejected with status %d", resp.StatusCode),
		}
	}

	s.SetAccess(CardAccess{})
	slogx.FromContext(ctx).Info("card access granted", "ticket_fp", cryptox.ShortFingerprint(ticketID))
	return nil
}

// SynjonesAuth returns the card backend token ("bearer <token>"), fetching
// it on first use (stage two) and caching it in the registry afterwards.
// Concurrent callers share a single fetch.
func (s *Session) SynjonesAuth(ctx context.Context) (string, error) {
	if token, ok, err := s.cachedSynjonesAuth(); err != nil || ok {
		return token, err
	}

	s.synjonesMu.Lock()
	defer s.synjonesMu.Unlock()

	if token, ok, err := s.cachedSynjonesAuth(); err != nil || ok {
		return token, err
	}

	ctx = s.flowContext(ctx, "synjones_auth")

	ticket, err := s.cardPageTicket(ctx)
	if err != nil {
		return "", err
	}

	token, err := s.cardBladeAuth(ctx, ticket)
	if err != nil {
		return "", err
	}

	// Only cache into a grant that still exists; a concurrent Logout wins.
	s.mu.Lock()
	if _, ok := s.access[ServiceCard].(CardAccess); ok {
		s.access[ServiceCard] = CardAccess{SynjonesAuth: &token}
	}
	s.mu.Unlock()

	slogx.FromContext(ctx).Info("card backend token cached", "token_fp", cryptox.ShortFingerprint(token))
	return token, nil
}

func (s *Session) cachedSynjonesAuth() (string, bool, error) {
	info, ok := s.Access(ServiceCard)
	if !ok {
		return "", false, ErrNotAccess
	}

	card, ok := info.(CardAccess)
	if !ok || card.SynjonesAuth == nil {
		return "", false, nil
	}
	return *card.SynjonesAuth, true, nil
}

// cardPageTicket opens the utility-fee menu page and scrapes the ticket the
// page forwards to the blade-auth backend.
func (s *Session) cardPageTicket(ctx context.Context) (string, error) {
	form := url.Values{
		"EMenuName": {cardFeeMenu},
		"MenuName":  {cardFeeMenu},
		"Url":       {s.endpoints.CardPageTicketPostForm},
		"apptype":   {"4"},
		"flowID":    {"10002"},
	}

	resp, err := s.GuardedExecute(ctx, ServiceCard, func(ctx context.Context) (*http.Request, error) {
		return newFormRequest(ctx, s.endpoints.CardPage, form)
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return "", &ProtocolError{Step: "card page ticket", StatusCode: resp.StatusCode}
	}

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}

	ticket, err := scrape.PageTicket(string(body))
	if err != nil {
		return "", &ProtocolError{Step: "card page ticket", Detail: "page ticket not found", Err: err}
	}
	return ticket, nil
}

type bladeAuthResponse struct {
	Data *struct {
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

// cardBladeAuth exchanges a page ticket for the blade-auth access token.
func (s *Session) cardBladeAuth(ctx context.Context, ticket string) (string, error) {
	form := url.Values{
		"ticket": {ticket},
		"json":   {"true"},
	}

	resp, err := s.GuardedExecute(ctx, ServiceCard, func(ctx context.Context) (*http.Request, error) {
		return newFormRequest(ctx, s.endpoints.CardBladeAuth, form)
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return "", &ProtocolError{Step: "card blade auth", StatusCode: resp.StatusCode}
	}

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}

	var out bladeAuthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ProtocolError{Step: "card blade auth", Detail: "malformed response", Err: err}
	}
	if out.Data == nil || out.Data.AccessToken == "" {
		return "", &ProtocolError{Step: "card blade auth", Detail: "data.access_token missing"}
	}

	return "bearer " + out.Data.AccessToken, nil
}
