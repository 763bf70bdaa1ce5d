package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/elmwood/oidcop/cache"
	"github.com/elmwood/oidcop/ticket"
	"github.com/elmwood/oidcop/token"
)

// Default endpoint paths and token lifetimes.
const (
	DefaultAuthorizationEndpointPath = "/connect/authorize"
	DefaultTokenEndpointPath         = "/connect/token"
	DefaultIntrospectionEndpointPath = "/connect/token_validation"
	DefaultLogoutEndpointPath        = "/connect/logout"
	DefaultConfigurationEndpointPath = "/.well-known/openid-configuration"
	DefaultKeysEndpointPath          = "/.well-known/jwks"

	DefaultAuthorizationCodeLifetime = 5 * time.Minute
	DefaultAccessTokenLifetime       = 1 * time.Hour
	DefaultIdentityTokenLifetime     = 20 * time.Minute
	DefaultRefreshTokenLifetime      = 6 * time.Hour
)

// TicketFormat turns tickets into opaque strings and back. It is used for
// authorization codes and refresh tokens, and for access tokens when no
// JWT handler applies.
type TicketFormat interface {
	Protect(ctx context.Context, t *ticket.Ticket) (string, error)
	Unprotect(ctx context.Context, s string) (*ticket.Ticket, error)
}

// AccessTokenHandler serializes a ticket as an access token.
type AccessTokenHandler func(ctx context.Context, t *ticket.Ticket) (string, error)

// IdentityTokenHandler serializes a ticket as an identity token. code and
// accessToken are the artifacts issued in the same response, or empty.
type IdentityTokenHandler func(ctx context.Context, t *ticket.Ticket, code, accessToken string) (string, error)

// Options configures a Server. Endpoint paths left empty disable the
// endpoint, so most hosts should start from DefaultOptions.
type Options struct {
	// Issuer is the absolute URI used as the iss claim and the metadata
	// issuer. It must carry no query or fragment.
	Issuer string

	// Endpoint paths, relative to the issuer host. Empty disables.
	AuthorizationEndpointPath string
	TokenEndpointPath         string
	IntrospectionEndpointPath string
	LogoutEndpointPath        string
	ConfigurationEndpointPath string
	KeysEndpointPath          string

	// Token lifetimes. Zero values pick up the defaults.
	AuthorizationCodeLifetime time.Duration
	AccessTokenLifetime       time.Duration
	IdentityTokenLifetime     time.Duration
	RefreshTokenLifetime      time.Duration

	// UseSlidingExpiration, when false, clamps every token minted on a
	// refresh_token grant so it cannot outlive the incoming refresh token.
	UseSlidingExpiration bool

	// AllowInsecureHTTP permits plaintext requests and http redirect URIs.
	// For development only.
	AllowInsecureHTTP bool

	// ApplicationCanDisplayErrors surfaces errors that have no usable
	// redirect URI to the wrapped handler (see DisplayableError) instead
	// of rendering the native plain-text page.
	ApplicationCanDisplayErrors bool

	// SigningCredentials sign identity tokens and, by default, access
	// tokens. The first RS256-capable credential signs; all are advertised
	// on the keys endpoint.
	SigningCredentials []*token.SigningCredential

	// AccessTokenHandler and IdentityTokenHandler override the default
	// JWT serialization. Leaving AccessTokenHandler nil with no signing
	// credentials falls back to the opaque AccessTokenFormat.
	AccessTokenHandler   AccessTokenHandler
	IdentityTokenHandler IdentityTokenHandler

	// Opaque formats. Nil fields get a shared format with a process-local
	// random key; multi-instance deployments must supply their own.
	AccessTokenFormat       TicketFormat
	AuthorizationCodeFormat TicketFormat
	RefreshTokenFormat      TicketFormat

	// Cache stores in-flight authorization requests and authorization
	// codes. Required.
	Cache cache.Cache

	// Provider supplies the host's extension hooks.
	Provider Provider

	// Logger receives warnings and errors. Discards when nil.
	Logger logrus.FieldLogger

	// PrometheusRegistry, when set, receives a per-endpoint request
	// counter.
	PrometheusRegistry *prometheus.Registry

	// AllowedOrigins enables CORS on the configuration, keys and token
	// endpoints.
	AllowedOrigins []string

	// Now is the time source, overridable in tests.
	Now func() time.Time
}

// DefaultOptions returns Options with every endpoint enabled at its
// default path and the default lifetimes filled in.
func DefaultOptions(issuer string) Options {
	return Options{
		Issuer:                    issuer,
		AuthorizationEndpointPath: DefaultAuthorizationEndpointPath,
		TokenEndpointPath:         DefaultTokenEndpointPath,
		IntrospectionEndpointPath: DefaultIntrospectionEndpointPath,
		LogoutEndpointPath:        DefaultLogoutEndpointPath,
		ConfigurationEndpointPath: DefaultConfigurationEndpointPath,
		KeysEndpointPath:          DefaultKeysEndpointPath,
		AuthorizationCodeLifetime: DefaultAuthorizationCodeLifetime,
		AccessTokenLifetime:       DefaultAccessTokenLifetime,
		IdentityTokenLifetime:     DefaultIdentityTokenLifetime,
		RefreshTokenLifetime:      DefaultRefreshTokenLifetime,
		UseSlidingExpiration:      true,
	}
}
