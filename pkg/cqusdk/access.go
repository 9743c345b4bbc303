package cqusdk

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
	"github.com/aussiebroadwan/cqusso/pkg/jwtx"
)

// Service identifies a downstream service that needs its own access grant.
type Service int

const (
	// ServiceMyCQU is the course and grade service at my.cqu.edu.cn.
	ServiceMyCQU Service = iota + 1
	// ServiceCard is the campus card service at card.cqu.edu.cn.
	ServiceCard
)

// AllServices lists every known service in a stable order.
func AllServices() []Service {
	return []Service{ServiceMyCQU, ServiceCard}
}

func (s Service) String() string {
	switch s {
	case ServiceMyCQU:
		return "mycqu"
	case ServiceCard:
		return "card"
	default:
		return fmt.Sprintf("service(%d)", int(s))
	}
}

// ParseService maps "mycqu" or "card" (case-insensitive) to a Service.
func ParseService(name string) (Service, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mycqu":
		return ServiceMyCQU, nil
	case "card":
		return ServiceCard, nil
	default:
		return 0, fmt.Errorf("cqusdk: unknown service %q", name)
	}
}

// AccessInfo is the credential stored for one service. It is implemented
// only by MyCQUAccess and CardAccess.
type AccessInfo interface {
	Service() Service
	isAccessInfo()
}

// MyCQUAccess holds the bearer token for the course service.
type MyCQUAccess struct {
	// AuthHeader is sent as "Authorization: Bearer <AuthHeader>".
	AuthHeader string `json:"auth_header"`

	// ExpiresAt is advisory; the zero value means unknown.
	ExpiresAt time.Time `json:"expires_at"`
}

func (MyCQUAccess) Service() Service { return ServiceMyCQU }
func (MyCQUAccess) isAccessInfo()    {}

// Expired reports whether the token is known to have expired at now.
func (a MyCQUAccess) Expired(now time.Time) bool {
	return jwtx.Expired(a.ExpiresAt, now)
}

func (a MyCQUAccess) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token_fp", cryptox.ShortFingerprint(a.AuthHeader)),
		slog.Time("expires_at", a.ExpiresAt),
	)
}

// CardAccess marks the card service as granted. SynjonesAuth stays nil until
// the second-stage token has been fetched, then holds "bearer <token>" and is
// sent as the synjones-auth cookie.
type CardAccess struct {
	SynjonesAuth *string `json:"synjones_auth,omitempty"`
}

func (CardAccess) Service() Service { return ServiceCard }
func (CardAccess) isAccessInfo()    {}

func (a CardAccess) LogValue() slog.Value {
	if a.SynjonesAuth == nil {
		return slog.GroupValue(slog.Bool("synjones_auth", false))
	}
	return slog.GroupValue(
		slog.Bool("synjones_auth", true),
		slog.String("token_fp", cryptox.ShortFingerprint(*a.SynjonesAuth)),
	)
}
