// Package message models the wire-level messages exchanged on the
// authorization, token and logout endpoints. A Message is an ordered,
// case-insensitive collection of string parameters with typed views over
// the parameters the protocol gives meaning to.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.1
// https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
package message

import (
	"net/url"
	"sort"
	"strings"
)

// Kind discriminates the request a Message was read from.
type Kind int

const (
	AuthenticationRequest Kind = iota
	TokenRequest
	LogoutRequest
)

func (k Kind) String() string {
	switch k {
	case AuthenticationRequest:
		return "authentication_request"
	case TokenRequest:
		return "token_request"
	case LogoutRequest:
		return "logout_request"
	default:
		return "unknown"
	}
}

// Well-known parameter names.
const (
	ParamAccessToken           = "access_token"
	ParamAudience              = "audience"
	ParamClientID              = "client_id"
	ParamClientSecret          = "client_secret"
	ParamCode                  = "code"
	ParamError                 = "error"
	ParamErrorDescription      = "error_description"
	ParamErrorURI              = "error_uri"
	ParamExpiresIn             = "expires_in"
	ParamGrantType             = "grant_type"
	ParamIDToken               = "id_token"
	ParamIDTokenHint           = "id_token_hint"
	ParamNonce                 = "nonce"
	ParamPassword              = "password"
	ParamPostLogoutRedirectURI = "post_logout_redirect_uri"
	ParamRedirectURI           = "redirect_uri"
	ParamRefreshToken          = "refresh_token"
	ParamResource              = "resource"
	ParamResponseMode          = "response_mode"
	ParamResponseType          = "response_type"
	ParamScope                 = "scope"
	ParamState                 = "state"
	ParamTokenType             = "token_type"
	ParamUniqueID              = "unique_id"
	ParamUsername              = "username"
)

// Response type and scope tokens.
const (
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeToken   = "token"

	ResponseModeFormPost = "form_post"
	ResponseModeFragment = "fragment"
	ResponseModeQuery    = "query"

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"

	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

type param struct {
	name  string
	value string
}

// Message is an ordered mapping from parameter name to value. Parameter
// names compare case-insensitively; the name used on first set is the one
// preserved for serialization.
type Message struct {
	kind   Kind
	params []param
}

// New returns an empty message of the given kind.
func New(kind Kind) *Message {
	return &Message{kind: kind}
}

// FromValues builds a message from url.Values, such as a parsed query
// string or form body. Multi-valued parameters keep their first value,
// matching the single-value semantics of the protocol.
func FromValues(kind Kind, values url.Values) *Message {
	m := New(kind)
	// url.Values is unordered; iterate deterministically so two parses of
	// the same request compare equal.
	for _, name := range sortedKeys(values) {
		vs := values[name]
		if len(vs) == 0 {
			continue
		}
		m.Set(name, vs[0])
	}
	return m
}

func sortedKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Kind returns the request-type discriminant.
func (m *Message) Kind() Kind { return m.kind }

// Get returns the value for name, or the empty string when absent.
func (m *Message) Get(name string) string {
	for _, p := range m.params {
		if strings.EqualFold(p.name, name) {
			return p.value
		}
	}
	return ""
}

// Has reports whether the parameter is present, even with an empty value.
func (m *Message) Has(name string) bool {
	for _, p := range m.params {
		if strings.EqualFold(p.name, name) {
			return true
		}
	}
	return false
}

// Set stores value under name, replacing any existing value. New
// parameters append, preserving insertion order.
func (m *Message) Set(name, value string) {
	for i, p := range m.params {
		if strings.EqualFold(p.name, name) {
			m.params[i].value = value
			return
		}
	}
	m.params = append(m.params, param{name: name, value: value})
}

// Delete removes the parameter if present.
func (m *Message) Delete(name string) {
	for i, p := range m.params {
		if strings.EqualFold(p.name, name) {
			m.params = append(m.params[:i], m.params[i+1:]...)
			return
		}
	}
}

// Len returns the number of parameters.
func (m *Message) Len() int { return len(m.params) }

// Each calls fn for every parameter in order.
func (m *Message) Each(fn func(name, value string)) {
	for _, p := range m.params {
		fn(p.name, p.value)
	}
}

// Merge copies every parameter of other into m, overriding values already
// present. Used when a request carrying a unique_id rehydrates the cached
// message: request parameters win over cached ones.
func (m *Message) Merge(other *Message) {
	if other == nil {
		return
	}
	for _, p := range other.params {
		m.Set(p.name, p.value)
	}
}

// Copy returns an independent copy of the message.
func (m *Message) Copy() *Message {
	c := &Message{kind: m.kind, params: make([]param, len(m.params))}
	copy(c.params, m.params)
	return c
}

// Typed accessors.

func (m *Message) ClientID() string              { return m.Get(ParamClientID) }
func (m *Message) ClientSecret() string          { return m.Get(ParamClientSecret) }
func (m *Message) Code() string                  { return m.Get(ParamCode) }
func (m *Message) GrantType() string             { return m.Get(ParamGrantType) }
func (m *Message) IDTokenHint() string           { return m.Get(ParamIDTokenHint) }
func (m *Message) Nonce() string                 { return m.Get(ParamNonce) }
func (m *Message) Password() string              { return m.Get(ParamPassword) }
func (m *Message) PostLogoutRedirectURI() string { return m.Get(ParamPostLogoutRedirectURI) }
func (m *Message) RedirectURI() string           { return m.Get(ParamRedirectURI) }
func (m *Message) RefreshToken() string          { return m.Get(ParamRefreshToken) }
func (m *Message) Resource() string              { return m.Get(ParamResource) }
func (m *Message) ResponseMode() string          { return m.Get(ParamResponseMode) }
func (m *Message) ResponseType() string          { return m.Get(ParamResponseType) }
func (m *Message) Scope() string                 { return m.Get(ParamScope) }
func (m *Message) State() string                 { return m.Get(ParamState) }
func (m *Message) UniqueID() string              { return m.Get(ParamUniqueID) }
func (m *Message) Username() string              { return m.Get(ParamUsername) }

// Audiences returns the space-separated audience parameter as a slice.
func (m *Message) Audiences() []string { return Fields(m.Get(ParamAudience)) }

// Resources returns the space-separated resource parameter as a slice.
func (m *Message) Resources() []string { return Fields(m.Get(ParamResource)) }

// Scopes returns the scope parameter as an unordered token set.
func (m *Message) Scopes() []string { return Fields(m.Get(ParamScope)) }

// ResponseTypes returns the response_type parameter as a token set.
func (m *Message) ResponseTypes() []string { return Fields(m.Get(ParamResponseType)) }

// HasScope reports whether scope contains the exact token.
func (m *Message) HasScope(scope string) bool {
	return contains(m.Scopes(), scope)
}

// HasResponseType reports whether response_type contains the exact token.
// Membership is exact string equality per token; "id_token" does not match
// "token" and vice versa.
func (m *Message) HasResponseType(rt string) bool {
	return contains(m.ResponseTypes(), rt)
}

// IsAuthorizationCodeFlow reports a response_type of exactly "code".
func (m *Message) IsAuthorizationCodeFlow() bool {
	rts := m.ResponseTypes()
	return len(rts) == 1 && rts[0] == ResponseTypeCode
}

// IsImplicitFlow reports a response_type containing id_token and/or token
// but no code.
func (m *Message) IsImplicitFlow() bool {
	rts := m.ResponseTypes()
	if len(rts) == 0 || contains(rts, ResponseTypeCode) {
		return false
	}
	return contains(rts, ResponseTypeIDToken) || contains(rts, ResponseTypeToken)
}

// IsHybridFlow reports a response_type combining code with id_token and/or
// token.
func (m *Message) IsHybridFlow() bool {
	rts := m.ResponseTypes()
	if !contains(rts, ResponseTypeCode) {
		return false
	}
	return contains(rts, ResponseTypeIDToken) || contains(rts, ResponseTypeToken)
}

// Fields splits a space-separated token set, dropping empty tokens.
func Fields(s string) []string {
	return strings.Fields(s)
}

func contains(set []string, tok string) bool {
	for _, s := range set {
		if s == tok {
			return true
		}
	}
	return false
}

// Subset reports whether every token of sub appears in super.
func Subset(sub, super []string) bool {
	for _, s := range sub {
		if !contains(super, s) {
			return false
		}
	}
	return true
}
