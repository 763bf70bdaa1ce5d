package core

import (
	"context"
	"net/http"
	"net/url"

	"github.com/elmwood/oidcop/message"
)

// handleLogout implements the end session endpoint. The server validates
// the post_logout_redirect_uri and yields to the host, which ends the
// user's session and calls SignOut.
//
// https://openid.net/specs/openid-connect-session-1_0.html#RPLogout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		_ = s.writeError(w, r, &httpError{Code: http.StatusBadRequest, Message: "method must be GET or POST"})
		return
	}
	msg, err := s.readMessage(r, message.LogoutRequest)
	if err != nil {
		s.logError(err)
		s.surfaceOrWrite(w, r, next, asHTTPError(err), asProtocolError(err))
		return
	}

	redirectURI := msg.PostLogoutRedirectURI()
	if redirectURI != "" {
		decision := s.provider.validateClientLogoutRedirectURI(ctx, &ClientLogoutRedirectRequest{
			ClientID:              msg.ClientID(),
			PostLogoutRedirectURI: redirectURI,
			Message:               msg,
		})
		if !decision.IsValidated() {
			// An unapproved URI is dropped rather than fatal: the host can
			// still end the session, it just won't redirect afterwards.
			s.logger.WithField("post_logout_redirect_uri", redirectURI).
				Warn("post_logout_redirect_uri was not validated, ignoring")
			redirectURI = ""
			msg.Delete(message.ParamPostLogoutRedirectURI)
		}
	}

	epReq := &EndpointRequest{Endpoint: EndpointLogout, Message: msg, Response: w, HTTPRequest: r}
	decision := s.provider.logoutEndpoint(ctx, epReq)
	switch {
	case decision.IsHandled():
		return
	case decision.IsRejected():
		code, description, _ := decision.rejection(errCodeInvalidRequest)
		_ = s.writeError(w, r, &httpError{Code: http.StatusBadRequest, Message: string(code) + ": " + description})
		return
	}

	logoutCtx := context.WithValue(ctx, ctxKeyPendingLogout, &Logout{
		PostLogoutRedirectURI: redirectURI,
		Message:               msg,
	})
	next.ServeHTTP(w, r.WithContext(logoutCtx))
}

// SignOut completes a pending logout after the host has ended the user's
// session. When the request carried an approved post_logout_redirect_uri
// the user is sent there, with the remaining request parameters appended
// as query; otherwise a blank page is returned.
func (s *Server) SignOut(w http.ResponseWriter, r *http.Request) error {
	l := PendingLogout(r)
	if l == nil {
		herr := &httpError{Code: http.StatusBadRequest, Message: "no logout request is pending"}
		_ = s.writeError(w, r, herr)
		return herr
	}

	if l.PostLogoutRedirectURI == "" {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	redir, err := url.Parse(l.PostLogoutRedirectURI)
	if err != nil {
		herr := &httpError{Code: http.StatusBadRequest, Message: "invalid post_logout_redirect_uri", Cause: err}
		_ = s.writeError(w, r, herr)
		return herr
	}

	q := redir.Query()
	l.Message.Each(func(name, value string) {
		if name == message.ParamPostLogoutRedirectURI {
			return
		}
		q.Set(name, value)
	})
	redir.RawQuery = q.Encode()

	http.Redirect(w, r, redir.String(), http.StatusFound)
	return nil
}
