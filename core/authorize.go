package core

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/elmwood/oidcop/cache"
	"github.com/elmwood/oidcop/message"
	"github.com/elmwood/oidcop/ticket"
)

// handleAuthorization implements the authorization endpoint.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.1
// https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
func (s *Server) handleAuthorization(w *committedWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	msg, err := s.readMessage(r, message.AuthenticationRequest)
	if err != nil {
		s.logError(err)
		s.surfaceOrWrite(w, r, next, asHTTPError(err), asProtocolError(err))
		return
	}

	// A request carrying a unique_id continues an earlier request:
	// rehydrate it, letting freshly supplied parameters win.
	if uid := msg.UniqueID(); uid != "" {
		cached, ok, cerr := s.cache.Get(ctx, requestKeyPrefix+uid)
		if cerr != nil {
			s.logError(cerr)
			_ = s.writeError(w, r, &httpError{Code: http.StatusInternalServerError, Cause: cerr})
			return
		}
		if !ok {
			err := &httpError{Code: http.StatusBadRequest, Message: "timeout expired"}
			s.logError(err)
			s.surfaceOrWrite(w, r, next, err, &ProtocolError{
				Code:        string(errCodeInvalidRequest),
				Description: "timeout expired",
			})
			return
		}
		full, merr := message.Unmarshal(message.AuthenticationRequest, cached)
		if merr != nil {
			s.logError(merr)
			_ = s.writeError(w, r, &httpError{Code: http.StatusInternalServerError, Cause: merr})
			return
		}
		full.Merge(msg)
		msg = full
	}

	if err := s.validateAuthorization(ctx, msg); err != nil {
		s.logError(err)
		if herr, ok := err.(*httpError); ok {
			s.surfaceOrWrite(w, r, next, herr, asProtocolError(err))
			return
		}
		_ = s.writeError(w, r, err)
		return
	}

	uid := msg.UniqueID()
	if uid == "" {
		var uerr error
		uid, uerr = newUniqueID()
		if uerr != nil {
			_ = s.writeError(w, r, &httpError{Code: http.StatusInternalServerError, Cause: uerr})
			return
		}
		msg.Set(message.ParamUniqueID, uid)
	}

	frame, err := msg.Marshal()
	if err != nil {
		s.logError(err)
		_ = s.writeError(w, r, &httpError{Code: http.StatusInternalServerError, Cause: err})
		return
	}
	if err := s.cache.Put(ctx, requestKeyPrefix+uid, frame, cache.Policy{Sliding: requestCacheLifetime}); err != nil {
		s.logger.WithError(err).Error("failed to cache authorization request")
		_ = s.writeError(w, r, &httpError{Code: http.StatusInternalServerError, Cause: err})
		return
	}

	epReq := &EndpointRequest{Endpoint: EndpointAuthorization, Message: msg, Response: w, HTTPRequest: r}
	decision := s.provider.authorizationEndpoint(ctx, epReq)
	switch {
	case decision.IsHandled():
		return
	case decision.IsRejected():
		code, description, errorURI := decision.rejection(errCodeInvalidRequest)
		_ = s.writeError(w, r, &authError{
			Code:         code,
			Description:  description,
			ErrorURI:     errorURI,
			State:        msg.State(),
			RedirectURI:  msg.RedirectURI(),
			ResponseMode: responseModeFor(msg),
		})
		return
	}

	// The request is valid and cached. Hand it to the host, which will
	// authenticate the user and call SignIn.
	authCtx := context.WithValue(ctx, ctxKeyPendingAuth, &Authorization{UniqueID: uid, Message: msg})
	next.ServeHTTP(w, r.WithContext(authCtx))
}

// readMessage parses the request parameters into a message. GET reads the
// query string; POST requires a form-encoded body and reads body plus
// query.
func (s *Server) readMessage(r *http.Request, kind message.Kind) (*message.Message, error) {
	switch r.Method {
	case http.MethodGet:
		return message.FromValues(kind, r.URL.Query()), nil
	case http.MethodPost:
		ct := r.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/x-www-form-urlencoded" {
			return nil, &httpError{
				Code:     http.StatusBadRequest,
				Message:  "requests must be form encoded",
				CauseMsg: fmt.Sprintf("unsupported content type %q", ct),
			}
		}
		if err := r.ParseForm(); err != nil {
			return nil, &httpError{Code: http.StatusBadRequest, Message: "failed to parse form", Cause: err}
		}
		return message.FromValues(kind, r.Form), nil
	default:
		return nil, &httpError{
			Code:     http.StatusBadRequest,
			Message:  "method must be GET or POST",
			CauseMsg: "invalid_request: bad method " + r.Method,
		}
	}
}

// validateAuthorization applies the authorization request rules in order.
// Failures before the redirect URI is known to be safe return httpError;
// later failures return authError and go back to the client.
func (s *Server) validateAuthorization(ctx context.Context, msg *message.Message) error {
	if msg.ClientID() == "" {
		return &httpError{Code: http.StatusBadRequest, Message: "client_id parameter missing"}
	}

	redirectURI := msg.RedirectURI()
	if redirectURI == "" && msg.HasScope(message.ScopeOpenID) {
		return &httpError{Code: http.StatusBadRequest, Message: "redirect_uri parameter missing"}
	}
	if redirectURI != "" {
		u, err := url.Parse(redirectURI)
		if err != nil || !u.IsAbs() {
			return &httpError{Code: http.StatusBadRequest, Message: "redirect_uri must be an absolute URI"}
		}
		if u.Fragment != "" || strings.Contains(redirectURI, "#") {
			return &httpError{Code: http.StatusBadRequest, Message: "redirect_uri must not contain a fragment"}
		}
		if u.Scheme != "https" && !s.opts.AllowInsecureHTTP {
			return &httpError{Code: http.StatusBadRequest, Message: "redirect_uri must use https"}
		}
	}

	// The provider must vouch for the redirect URI; nothing is redirected
	// to it until then.
	decision := s.provider.validateClientRedirectURI(ctx, &ClientRedirectRequest{
		ClientID:    msg.ClientID(),
		RedirectURI: redirectURI,
		Message:     msg,
	})
	if !decision.IsValidated() {
		code := errCodeInvalidClient
		description := "client redirect URI was not validated"
		if decision.IsRejected() {
			c, d, _ := decision.rejection(errCodeInvalidClient)
			code = c
			if d != "" {
				description = d
			}
		}
		return &httpError{Code: http.StatusBadRequest, Message: string(code) + ": " + description}
	}

	// From here the redirect URI is trusted and errors go back to the
	// client.
	authErr := func(code errorCode, description string) error {
		return &authError{
			Code:         code,
			Description:  description,
			State:        msg.State(),
			RedirectURI:  redirectURI,
			ResponseMode: responseModeFor(msg),
		}
	}

	rts := msg.ResponseTypes()
	if len(rts) == 0 {
		return authErr(errCodeInvalidRequest, "response_type parameter missing")
	}
	for _, rt := range rts {
		switch rt {
		case message.ResponseTypeCode, message.ResponseTypeIDToken, message.ResponseTypeToken:
		default:
			return authErr(errCodeUnsupportedResponseType, fmt.Sprintf("response type %q is not supported", rt))
		}
	}

	switch mode := msg.ResponseMode(); mode {
	case "", message.ResponseModeQuery, message.ResponseModeFragment, message.ResponseModeFormPost:
	default:
		return authErr(errCodeInvalidRequest, fmt.Sprintf("response mode %q is not supported", mode))
	}

	// Tokens never travel in a query string.
	if msg.ResponseMode() == message.ResponseModeQuery &&
		(msg.HasResponseType(message.ResponseTypeIDToken) || msg.HasResponseType(message.ResponseTypeToken)) {
		return authErr(errCodeInvalidRequest, "response_mode query cannot return tokens")
	}

	if (msg.IsImplicitFlow() || msg.IsHybridFlow()) && msg.HasScope(message.ScopeOpenID) && msg.Nonce() == "" {
		return authErr(errCodeInvalidRequest, "nonce parameter missing")
	}

	if msg.HasResponseType(message.ResponseTypeIDToken) && !msg.HasScope(message.ScopeOpenID) {
		return authErr(errCodeInvalidRequest, "openid scope is required to request an id_token")
	}

	if msg.HasResponseType(message.ResponseTypeCode) && s.opts.TokenEndpointPath == "" {
		return authErr(errCodeUnsupportedResponseType, "authorization code flow requires the token endpoint")
	}

	if msg.HasResponseType(message.ResponseTypeIDToken) && !s.signingEnabled() {
		return authErr(errCodeUnsupportedResponseType, "no signing credential is configured for id_token")
	}

	decision = s.provider.validateAuthorizationRequest(ctx, &AuthorizationRequest{Message: msg})
	if decision.IsRejected() {
		code, description, errorURI := decision.rejection(errCodeInvalidRequest)
		return &authError{
			Code:         code,
			Description:  description,
			ErrorURI:     errorURI,
			State:        msg.State(),
			RedirectURI:  redirectURI,
			ResponseMode: responseModeFor(msg),
		}
	}

	return nil
}

// SignIn completes a pending authorization request with an authenticated
// user. The host calls it once the user is signed in, from the handler
// the authorization endpoint yielded to or from any later request that
// carries the unique_id (a posted login form, typically).
//
// The response parameters are assembled per the requested response_type
// and returned via the requested response mode. The cached request entry
// is consumed on success.
func (s *Server) SignIn(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) error {
	ctx := r.Context()

	if cw, ok := w.(*committedWriter); ok && cw.committed {
		return fmt.Errorf("response headers already written, cannot emit authorization response")
	}

	msg, uid, err := s.pendingMessage(r)
	if err != nil {
		s.logError(err)
		_ = s.writeError(w, r, err)
		return err
	}

	redirectURI := msg.RedirectURI()
	if redirectURI == "" {
		herr := &httpError{Code: http.StatusBadRequest, Message: "redirect_uri parameter missing"}
		_ = s.writeError(w, r, herr)
		return herr
	}

	base := s.prepareTicket(t, msg.ClientID(), redirectURI, msg.Resource(), msg.Scope(), msg.Nonce())

	// Mint in code, access token, identity token order so the identity
	// token can carry c_hash and at_hash over the fresh artifacts.
	var code, accessToken, identityToken string
	var expiresIn int64

	if msg.HasResponseType(message.ResponseTypeCode) {
		code, err = s.mintCode(ctx, base, noClamp)
		if err != nil {
			return s.signInFatal(w, r, err)
		}
	}
	if msg.HasResponseType(message.ResponseTypeToken) {
		accessToken, expiresIn, err = s.mintAccessToken(ctx, base, noClamp)
		if err != nil {
			return s.signInFatal(w, r, err)
		}
	}
	if msg.HasResponseType(message.ResponseTypeIDToken) {
		identityToken, err = s.mintIdentityToken(ctx, base, code, accessToken, noClamp)
		if err != nil {
			return s.signInFatal(w, r, err)
		}
	}

	params := message.New(message.AuthenticationRequest)
	if code != "" {
		params.Set(message.ParamCode, code)
	}
	if accessToken != "" {
		params.Set(message.ParamAccessToken, accessToken)
		params.Set(message.ParamTokenType, "Bearer")
		params.Set(message.ParamExpiresIn, strconv.FormatInt(expiresIn, 10))
	}
	if identityToken != "" {
		params.Set(message.ParamIDToken, identityToken)
	}
	if state := msg.State(); state != "" {
		params.Set(message.ParamState, state)
	}

	if err := sendResponse(w, r, redirectURI, responseModeFor(msg), params); err != nil {
		s.logError(err)
		return err
	}

	// The flow is complete; the cached request is no longer needed.
	if _, _, err := s.cache.Take(ctx, requestKeyPrefix+uid); err != nil {
		s.logger.WithError(err).Warn("failed to remove completed authorization request")
	}
	return nil
}

// pendingMessage resolves the authorization request SignIn should
// complete: the one attached to the request context, or the cached one
// named by a unique_id parameter.
func (s *Server) pendingMessage(r *http.Request) (*message.Message, string, error) {
	if a := PendingAuthorization(r); a != nil {
		return a.Message, a.UniqueID, nil
	}

	_ = r.ParseForm()
	uid := r.Form.Get(message.ParamUniqueID)
	if uid == "" {
		return nil, "", &httpError{Code: http.StatusBadRequest, Message: "unique_id parameter missing"}
	}
	data, ok, err := s.cache.Get(r.Context(), requestKeyPrefix+uid)
	if err != nil {
		return nil, "", &httpError{Code: http.StatusInternalServerError, Cause: err}
	}
	if !ok {
		return nil, "", &httpError{Code: http.StatusBadRequest, Message: "timeout expired"}
	}
	msg, err := message.Unmarshal(message.AuthenticationRequest, data)
	if err != nil {
		return nil, "", &httpError{Code: http.StatusInternalServerError, Cause: err}
	}
	return msg, uid, nil
}

func (s *Server) signInFatal(w http.ResponseWriter, r *http.Request, cause error) error {
	herr := &httpError{
		Code:    http.StatusInternalServerError,
		Message: string(errCodeServerError),
		Cause:   cause,
	}
	s.logError(herr)
	_ = s.writeError(w, r, herr)
	return herr
}

func (s *Server) logError(err error) {
	s.logger.WithError(err).Warn("request failed")
}

func asHTTPError(err error) *httpError {
	if herr, ok := err.(*httpError); ok {
		return herr
	}
	return &httpError{Code: http.StatusInternalServerError, Cause: err}
}

// asProtocolError maps an internal error to the triple surfaced to hosts
// that render their own error pages.
func asProtocolError(err error) *ProtocolError {
	switch err := err.(type) {
	case *httpError:
		if err.Code == http.StatusInternalServerError {
			return &ProtocolError{Code: string(errCodeServerError), Description: err.Message}
		}
		return &ProtocolError{Code: string(errCodeInvalidRequest), Description: err.Message}
	case *authError:
		return &ProtocolError{Code: string(err.Code), Description: err.Description, ErrorURI: err.ErrorURI}
	default:
		return &ProtocolError{Code: string(errCodeServerError)}
	}
}
