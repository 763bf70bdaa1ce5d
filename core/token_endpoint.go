package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/elmwood/oidcop/message"
	"github.com/elmwood/oidcop/ticket"
)

// tokenResponse is the success payload of the token endpoint.
// https://tools.ietf.org/html/rfc6749#section-5.1
type tokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken implements the token endpoint.
//
// https://tools.ietf.org/html/rfc6749#section-3.2
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		s.writeTokenError(w, r, &tokenError{Code: errCodeInvalidRequest, Description: "method must be POST"})
		return
	}
	msg, err := s.readMessage(r, message.TokenRequest)
	if err != nil {
		s.writeTokenError(w, r, &tokenError{Code: errCodeInvalidRequest, Description: "request must be a form encoded POST", Cause: err})
		return
	}

	grantType := msg.GrantType()
	if grantType == "" {
		s.writeTokenError(w, r, &tokenError{Code: errCodeInvalidRequest, Description: "grant_type parameter missing"})
		return
	}

	clientID, clientSecret := msg.ClientID(), msg.ClientSecret()
	fromHeader := false
	if clientID == "" && clientSecret == "" {
		if id, secret, ok := basicClientCredentials(r); ok {
			clientID, clientSecret = id, secret
			fromHeader = true
		}
	}

	decision := s.provider.validateClientAuthentication(ctx, &ClientAuthenticationRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		FromHeader:   fromHeader,
		Message:      msg,
	})
	if decision.IsRejected() {
		code, description, errorURI := decision.rejection(errCodeInvalidClient)
		terr := &tokenError{Code: code, Description: description, ErrorURI: errorURI}
		if fromHeader {
			terr.WWWAuthenticate = `Basic realm="oidcop"`
		}
		s.writeTokenError(w, r, terr)
		return
	}
	clientAuthenticated := decision.IsValidated()

	// Client credentials grants act on behalf of the client itself, so an
	// unauthenticated client has nothing to act as.
	if grantType == message.GrantTypeClientCredentials && !clientAuthenticated {
		s.writeTokenError(w, r, &tokenError{Code: errCodeInvalidClient, Description: "client authentication is required"})
		return
	}

	var t *ticket.Ticket
	var clamp time.Time

	switch grantType {
	case message.GrantTypeAuthorizationCode:
		t, err = s.receiveCodeGrant(ctx, msg, clientID)
	case message.GrantTypeRefreshToken:
		t, err = s.receiveRefreshGrant(ctx, msg, clientID, clientAuthenticated, &clamp)
	case message.GrantTypePassword:
		if msg.Username() == "" || msg.Password() == "" {
			err = &tokenError{Code: errCodeInvalidRequest, Description: "username and password parameters are required"}
		}
	}
	if err != nil {
		s.writeTokenError(w, r, err)
		return
	}

	if t != nil {
		decision = s.provider.validateTokenRequest(ctx, &TokenEndpointRequest{Message: msg, Ticket: t})
		if decision.IsRejected() {
			code, description, errorURI := decision.rejection(errCodeInvalidRequest)
			s.writeTokenError(w, r, &tokenError{Code: code, Description: description, ErrorURI: errorURI})
			return
		}
	}

	greq := &GrantRequest{GrantType: grantType, Message: msg, Ticket: t}
	decision = s.provider.grant(ctx, greq)
	if !decision.IsValidated() {
		code := defaultGrantError(grantType)
		description := "the grant was not validated"
		errorURI := ""
		if decision.IsRejected() {
			code, description, errorURI = decision.rejection(code)
		}
		s.writeTokenError(w, r, &tokenError{Code: code, Description: description, ErrorURI: errorURI})
		return
	}
	t = greq.Ticket
	if t == nil || t.Subject() == "" {
		s.writeTokenError(w, r, &tokenError{Code: defaultGrantError(grantType), Description: "the grant produced no identity"})
		return
	}
	if clientID != "" {
		t.Properties.SetClientID(clientID)
	}

	epReq := &EndpointRequest{Endpoint: EndpointToken, Message: msg, Response: w, HTTPRequest: r}
	decision = s.provider.tokenEndpoint(ctx, epReq)
	switch {
	case decision.IsHandled():
		return
	case decision.IsRejected():
		code, description, errorURI := decision.rejection(errCodeInvalidRequest)
		s.writeTokenError(w, r, &tokenError{Code: code, Description: description, ErrorURI: errorURI})
		return
	}

	resp, err := s.mintTokenResponse(ctx, msg, t, clientAuthenticated, clamp)
	if err != nil {
		s.writeTokenError(w, r, &tokenError{Code: errCodeServerError, Description: "failed to issue tokens", Cause: err})
		return
	}

	setNoCacheHeaders(w)
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Error("failed to write token response")
	}
}

// receiveCodeGrant materializes and binds the ticket behind an
// authorization code. https://tools.ietf.org/html/rfc6749#section-4.1.3
func (s *Server) receiveCodeGrant(ctx context.Context, msg *message.Message, clientID string) (*ticket.Ticket, error) {
	code := msg.Code()
	if code == "" {
		return nil, &tokenError{Code: errCodeInvalidRequest, Description: "code parameter missing"}
	}

	t, err := s.receiveCode(ctx, code)
	if err != nil {
		return nil, &tokenError{Code: errCodeInvalidGrant, Description: "authorization code is invalid", Cause: err}
	}
	if err := s.checkTicketFreshness(t); err != nil {
		return nil, err
	}

	// The redirect URI that completed authorization must flow back
	// unchanged, then drops out of the ticket: it has served its purpose.
	if t.Properties.RedirectURI() != msg.RedirectURI() {
		return nil, &tokenError{Code: errCodeInvalidGrant, Description: "redirect_uri does not match the authorization request"}
	}
	t.Properties.Delete(ticket.PropRedirectURI)

	if err := s.checkTicketBindings(t, msg, clientID); err != nil {
		return nil, err
	}
	return t, nil
}

// receiveRefreshGrant materializes and binds the ticket behind a refresh
// token. https://tools.ietf.org/html/rfc6749#section-6
func (s *Server) receiveRefreshGrant(ctx context.Context, msg *message.Message, clientID string, clientAuthenticated bool, clamp *time.Time) (*ticket.Ticket, error) {
	raw := msg.RefreshToken()
	if raw == "" {
		return nil, &tokenError{Code: errCodeInvalidRequest, Description: "refresh_token parameter missing"}
	}

	t, err := s.receiveRefreshToken(ctx, raw)
	if err != nil {
		return nil, &tokenError{Code: errCodeInvalidGrant, Description: "refresh token is invalid", Cause: err}
	}
	if err := s.checkTicketFreshness(t); err != nil {
		return nil, err
	}

	// A refresh token issued to an authenticated client stays bound to
	// clients that can authenticate.
	if t.Properties.ClientAuthenticated() && !clientAuthenticated {
		return nil, &tokenError{Code: errCodeInvalidGrant, Description: "client authentication is required to use this refresh token"}
	}

	if err := s.checkTicketBindings(t, msg, clientID); err != nil {
		return nil, err
	}

	if !s.opts.UseSlidingExpiration {
		*clamp = t.Properties.ExpiresAt()
	}
	return t, nil
}

func (s *Server) checkTicketFreshness(t *ticket.Ticket) error {
	exp := t.Properties.ExpiresAt()
	if exp.IsZero() || !exp.After(s.now()) {
		return &tokenError{Code: errCodeInvalidGrant, Description: "the grant has expired"}
	}
	return nil
}

// checkTicketBindings applies the client_id, resource and scope binding
// rules shared by the code and refresh grants. A narrowed resource or
// scope in the request replaces the granted one for the tokens minted
// now.
func (s *Server) checkTicketBindings(t *ticket.Ticket, msg *message.Message, clientID string) error {
	if tc := t.Properties.ClientID(); tc != "" && tc != clientID {
		return &tokenError{Code: errCodeInvalidGrant, Description: "client_id does not match the authorization grant"}
	}

	if requested := msg.Resources(); len(requested) > 0 {
		granted := message.Fields(t.Properties.Resource())
		if len(granted) == 0 || !message.Subset(requested, granted) {
			return &tokenError{Code: errCodeInvalidGrant, Description: "resource exceeds the authorization grant"}
		}
		t.Properties.SetResource(msg.Resource())
	}

	if requested := msg.Scopes(); len(requested) > 0 {
		granted := t.Properties.Scopes()
		if len(granted) == 0 || !message.Subset(requested, granted) {
			return &tokenError{Code: errCodeInvalidGrant, Description: "scope exceeds the authorization grant"}
		}
		t.Properties.SetScope(msg.Scope())
	}
	return nil
}

// mintTokenResponse issues the tokens the request asked for. An absent
// response_type means everything the ticket's scopes allow.
func (s *Server) mintTokenResponse(ctx context.Context, msg *message.Message, t *ticket.Ticket, clientAuthenticated bool, clamp time.Time) (*tokenResponse, error) {
	rts := msg.ResponseTypes()
	include := func(rt string) bool {
		if len(rts) == 0 {
			return true
		}
		for _, have := range rts {
			if have == rt {
				return true
			}
		}
		return false
	}

	resp := &tokenResponse{}

	if include(message.ResponseTypeToken) {
		accessToken, expiresIn, err := s.mintAccessToken(ctx, t, clamp)
		if err != nil {
			return nil, err
		}
		resp.AccessToken = accessToken
		resp.TokenType = "Bearer"
		resp.ExpiresIn = expiresIn
	}

	if include(message.ResponseTypeIDToken) && hasScope(t, message.ScopeOpenID) {
		idToken, err := s.mintIdentityToken(ctx, t, "", resp.AccessToken, clamp)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	if include(message.ParamRefreshToken) && hasScope(t, message.ScopeOfflineAccess) {
		refreshToken, err := s.mintRefreshToken(ctx, t, clientAuthenticated, clamp)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refreshToken
	}

	resp.Scope = t.Properties.Scope()
	return resp, nil
}

func hasScope(t *ticket.Ticket, scope string) bool {
	for _, have := range t.Properties.Scopes() {
		if have == scope {
			return true
		}
	}
	return false
}

// basicClientCredentials parses an Authorization: Basic header into
// client credentials: base64 decode, split at the first colon.
func basicClientCredentials(r *http.Request) (id, secret string, ok bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, prefix))
	if err != nil {
		return "", "", false
	}
	id, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return id, secret, true
}

func (s *Server) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	s.logError(err)
	terr, ok := err.(*tokenError)
	if !ok {
		terr = &tokenError{Code: errCodeServerError, Cause: err}
	}
	_ = s.writeError(w, r, terr)
}
