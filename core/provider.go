package core

import (
	"context"
	"net/http"

	"github.com/elmwood/oidcop/message"
	"github.com/elmwood/oidcop/ticket"
)

type decisionState int

const (
	stateSkipped decisionState = iota
	stateValidated
	stateRejected
	stateHandled
)

// Decision is the outcome of a provider hook. It is a closed set:
// Skipped lets the default behavior run, Validated accepts the item being
// checked, Rejected aborts with an error triple, and Handled (endpoint
// hooks only) means the hook wrote the response itself.
type Decision struct {
	state       decisionState
	code        string
	description string
	errorURI    string
}

// Skipped lets the server's default behavior run. The zero Decision is
// Skipped, so a hook that returns Decision{} gets the default too.
func Skipped() Decision { return Decision{state: stateSkipped} }

// Validated accepts the item under consideration.
func Validated() Decision { return Decision{state: stateValidated} }

// Rejected aborts with an error response. An empty code falls back to the
// default error code of the hook that returned it.
func Rejected(code, description string) Decision {
	return Decision{state: stateRejected, code: code, description: description}
}

// RejectedWithURI is Rejected with an error_uri pointing at human-readable
// error documentation.
func RejectedWithURI(code, description, errorURI string) Decision {
	return Decision{state: stateRejected, code: code, description: description, errorURI: errorURI}
}

// Handled reports that the hook wrote the HTTP response; the server must
// not write anything further. Only meaningful from endpoint hooks.
func Handled() Decision { return Decision{state: stateHandled} }

func (d Decision) IsSkipped() bool   { return d.state == stateSkipped }
func (d Decision) IsValidated() bool { return d.state == stateValidated }
func (d Decision) IsRejected() bool  { return d.state == stateRejected }
func (d Decision) IsHandled() bool   { return d.state == stateHandled }

// rejection returns the error triple of a rejected decision, substituting
// def when the hook did not name a code.
func (d Decision) rejection(def errorCode) (code errorCode, description, errorURI string) {
	code = errorCode(d.code)
	if code == "" {
		code = def
	}
	return code, d.description, d.errorURI
}

// Endpoint identifies which protocol endpoint a request was classified as.
type Endpoint int

const (
	EndpointNone Endpoint = iota
	EndpointAuthorization
	EndpointToken
	EndpointIntrospection
	EndpointLogout
	EndpointConfiguration
	EndpointKeys
)

// MatchEndpointRequest is passed to the MatchEndpoint hook after path
// matching. The hook may reassign Endpoint to reclassify the request,
// which is how accept/deny sub-paths of a login UI get routed through the
// authorization machinery.
type MatchEndpointRequest struct {
	HTTPRequest *http.Request
	Endpoint    Endpoint
}

// ClientRedirectRequest asks the provider whether a redirect URI is
// registered for the client.
type ClientRedirectRequest struct {
	ClientID    string
	RedirectURI string
	Message     *message.Message
}

// ClientLogoutRedirectRequest asks the provider whether a
// post_logout_redirect_uri is registered for the client.
type ClientLogoutRedirectRequest struct {
	ClientID              string
	PostLogoutRedirectURI string
	Message               *message.Message
}

// ClientAuthenticationRequest carries the credentials presented at the
// token endpoint. FromHeader distinguishes Basic auth from form fields.
type ClientAuthenticationRequest struct {
	ClientID     string
	ClientSecret string
	FromHeader   bool
	Message      *message.Message
}

// AuthorizationRequest is the fully validated authorization message,
// passed to ValidateAuthorizationRequest for application-level rules.
type AuthorizationRequest struct {
	Message *message.Message
}

// TokenEndpointRequest carries a token request and, for code and refresh
// grants, the ticket materialized from the incoming artifact.
type TokenEndpointRequest struct {
	Message *message.Message
	Ticket  *ticket.Ticket
}

// GrantRequest is passed to the per-grant hooks. For the code and refresh
// grants Ticket starts as the materialized ticket; for the password,
// client_credentials and custom grants it starts nil and the hook must
// populate it when validating. Hooks may replace Ticket wholesale.
type GrantRequest struct {
	GrantType string
	Message   *message.Message
	Ticket    *ticket.Ticket
}

// EndpointRequest is passed to the per-endpoint hooks, which observe the
// request right before the default handler runs and may take over the
// response entirely by returning Handled.
type EndpointRequest struct {
	Endpoint    Endpoint
	Message     *message.Message
	Response    http.ResponseWriter
	HTTPRequest *http.Request
}

// Provider is the extension contract between the server and its host.
// Every field is optional; a nil hook behaves as Skipped. Validation
// hooks that skip fall through to the server's defaults, grant hooks that
// skip reject the grant.
type Provider struct {
	// MatchEndpoint runs after path-based classification and may
	// reclassify, handle, or skip the request.
	MatchEndpoint func(ctx context.Context, req *MatchEndpointRequest) Decision

	// ValidateClientRedirectURI must return Validated for the
	// authorization request to proceed; anything else rejects the request
	// with invalid_client. There is no safe default for redirect URIs.
	ValidateClientRedirectURI func(ctx context.Context, req *ClientRedirectRequest) Decision

	// ValidateClientLogoutRedirectURI must return Validated for a
	// post_logout_redirect_uri to be used.
	ValidateClientLogoutRedirectURI func(ctx context.Context, req *ClientLogoutRedirectRequest) Decision

	// ValidateClientAuthentication checks the client credentials on token
	// requests. Rejections map to invalid_client. The client_credentials
	// grant requires Validated; Skipped is fatal for it.
	ValidateClientAuthentication func(ctx context.Context, req *ClientAuthenticationRequest) Decision

	// ValidateAuthorizationRequest runs last in authorization validation;
	// rejections are returned to the client as redirect errors.
	ValidateAuthorizationRequest func(ctx context.Context, req *AuthorizationRequest) Decision

	// ValidateTokenRequest runs after the grant-specific binding checks,
	// with the materialized ticket attached where the grant has one.
	ValidateTokenRequest func(ctx context.Context, req *TokenEndpointRequest) Decision

	// Grant hooks decide each grant type. Defaults reject: invalid_grant
	// for code, refresh and password grants, unauthorized_client for
	// client_credentials, unsupported_grant_type for custom extensions.
	GrantAuthorizationCode        func(ctx context.Context, req *GrantRequest) Decision
	GrantRefreshToken             func(ctx context.Context, req *GrantRequest) Decision
	GrantResourceOwnerCredentials func(ctx context.Context, req *GrantRequest) Decision
	GrantClientCredentials        func(ctx context.Context, req *GrantRequest) Decision
	GrantCustomExtension          func(ctx context.Context, req *GrantRequest) Decision

	// Endpoint hooks observe requests that passed validation and may take
	// over the response by returning Handled.
	AuthorizationEndpoint func(ctx context.Context, req *EndpointRequest) Decision
	TokenEndpoint         func(ctx context.Context, req *EndpointRequest) Decision
	LogoutEndpoint        func(ctx context.Context, req *EndpointRequest) Decision
}

// Invocation helpers treating nil hooks as Skipped.

func (p *Provider) matchEndpoint(ctx context.Context, req *MatchEndpointRequest) Decision {
	if p.MatchEndpoint == nil {
		return Skipped()
	}
	return p.MatchEndpoint(ctx, req)
}

func (p *Provider) validateClientRedirectURI(ctx context.Context, req *ClientRedirectRequest) Decision {
	if p.ValidateClientRedirectURI == nil {
		return Skipped()
	}
	return p.ValidateClientRedirectURI(ctx, req)
}

func (p *Provider) validateClientLogoutRedirectURI(ctx context.Context, req *ClientLogoutRedirectRequest) Decision {
	if p.ValidateClientLogoutRedirectURI == nil {
		return Skipped()
	}
	return p.ValidateClientLogoutRedirectURI(ctx, req)
}

func (p *Provider) validateClientAuthentication(ctx context.Context, req *ClientAuthenticationRequest) Decision {
	if p.ValidateClientAuthentication == nil {
		return Skipped()
	}
	return p.ValidateClientAuthentication(ctx, req)
}

func (p *Provider) validateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) Decision {
	if p.ValidateAuthorizationRequest == nil {
		return Skipped()
	}
	return p.ValidateAuthorizationRequest(ctx, req)
}

func (p *Provider) validateTokenRequest(ctx context.Context, req *TokenEndpointRequest) Decision {
	if p.ValidateTokenRequest == nil {
		return Skipped()
	}
	return p.ValidateTokenRequest(ctx, req)
}

func (p *Provider) grant(ctx context.Context, req *GrantRequest) Decision {
	var fn func(ctx context.Context, req *GrantRequest) Decision
	switch req.GrantType {
	case message.GrantTypeAuthorizationCode:
		fn = p.GrantAuthorizationCode
	case message.GrantTypeRefreshToken:
		fn = p.GrantRefreshToken
	case message.GrantTypePassword:
		fn = p.GrantResourceOwnerCredentials
	case message.GrantTypeClientCredentials:
		fn = p.GrantClientCredentials
	default:
		fn = p.GrantCustomExtension
	}
	if fn == nil {
		return Skipped()
	}
	return fn(ctx, req)
}

func (p *Provider) authorizationEndpoint(ctx context.Context, req *EndpointRequest) Decision {
	if p.AuthorizationEndpoint == nil {
		return Skipped()
	}
	return p.AuthorizationEndpoint(ctx, req)
}

func (p *Provider) tokenEndpoint(ctx context.Context, req *EndpointRequest) Decision {
	if p.TokenEndpoint == nil {
		return Skipped()
	}
	return p.TokenEndpoint(ctx, req)
}

func (p *Provider) logoutEndpoint(ctx context.Context, req *EndpointRequest) Decision {
	if p.LogoutEndpoint == nil {
		return Skipped()
	}
	return p.LogoutEndpoint(ctx, req)
}

// defaultGrantError maps a grant type to the error code used when its
// hook is missing or skips.
func defaultGrantError(grantType string) errorCode {
	switch grantType {
	case message.GrantTypeAuthorizationCode, message.GrantTypeRefreshToken, message.GrantTypePassword:
		return errCodeInvalidGrant
	case message.GrantTypeClientCredentials:
		return errCodeUnauthorizedClient
	default:
		return errCodeUnsupportedGrantType
	}
}
