// Package scrape extracts the small opaque values the SSO gateway and the
// campus services embed in their pages and redirect URLs.
//
// Every extractor is an independent scrape point: when a remote page changes
// shape only the affected function and its fixture need updating.
package scrape

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ErrNotFound matches any NotFoundError via errors.Is.
var ErrNotFound = errors.New("scrape: value not found")

// NotFoundError names the value that could not be located.
type NotFoundError struct {
	Target string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scrape: %s not found", e.Target)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

var (
	authCodeRe   = regexp.MustCompile(`\?code=([^&]+)&`)
	pageTicketRe = regexp.MustCompile(`ticket=(.*)'`)
)

// LoginPageData is what the SSO login page publishes for one login attempt.
type LoginPageData struct {
	// Salt is the base64 key material for the credential cipher ("croypto").
	Salt string
	// FlowKey is the opaque webflow execution key.
	FlowKey string
}

// LoginPage reads the salt from p#login-croypto and the flow key from
// p#login-page-flowkey.
func LoginPage(body io.Reader) (LoginPageData, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return LoginPageData{}, fmt.Errorf("failed to parse login page: %w", err)
	}

	salt := findByID(doc, "p", "login-croypto")
	if salt == nil {
		return LoginPageData{}, &NotFoundError{Target: "login-croypto"}
	}

	flowKey := findByID(doc, "p", "login-page-flowkey")
	if flowKey == nil {
		return LoginPageData{}, &NotFoundError{Target: "login-page-flowkey"}
	}

	return LoginPageData{
		Salt:    strings.TrimSpace(textOf(salt)),
		FlowKey: strings.TrimSpace(textOf(flowKey)),
	}, nil
}

// SSOTicketID reads the value attribute of input#ssoticketid from the card
// service landing page.
func SSOTicketID(body io.Reader) (string, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse card landing page: %w", err)
	}

	input := findByID(doc, "input", "ssoticketid")
	if input == nil {
		return "", &NotFoundError{Target: "ssoticketid"}
	}

	value, ok := attr(input, "value")
	if !ok {
		return "", &NotFoundError{Target: "ssoticketid value"}
	}

	return value, nil
}

// AuthorizationCode extracts the OAuth authorization code from a redirect
// Location such as ".../token-index?code=ZbfCVZ&state=".
func AuthorizationCode(location string) (string, error) {
	m := authCodeRe.FindStringSubmatch(location)
	if m == nil {
		return "", &NotFoundError{Target: "authorization code"}
	}
	return m[1], nil
}

// PageTicket extracts the card page ticket from the script the card portal
// returns ("...ticket=<value>'...").
func PageTicket(body string) (string, error) {
	m := pageTicketRe.FindStringSubmatch(body)
	if m == nil {
		return "", &NotFoundError{Target: "page ticket"}
	}
	return m[1], nil
}

// findByID does a depth-first search for the first element named tag whose
// id attribute equals id.
func findByID(n *html.Node, tag, id string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		if v, ok := attr(n, "id"); ok && v == id {
			return n
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, tag, id); found != nil {
			return found
		}
	}

	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textOf(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return sb.String()
}
