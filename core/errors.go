package core

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elmwood/oidcop/message"
)

type errorCode string

// https://tools.ietf.org/html/rfc6749#section-4.1.2.1
// https://tools.ietf.org/html/rfc6749#section-5.2
const (
	errCodeInvalidRequest          errorCode = "invalid_request"
	errCodeInvalidClient           errorCode = "invalid_client"
	errCodeInvalidGrant            errorCode = "invalid_grant"
	errCodeUnauthorizedClient      errorCode = "unauthorized_client"
	errCodeUnsupportedGrantType    errorCode = "unsupported_grant_type"
	errCodeUnsupportedResponseType errorCode = "unsupported_response_type"
	errCodeServerError             errorCode = "server_error"
)

// ProtocolError is the error triple surfaced to hosts that display their
// own error pages (ApplicationCanDisplayErrors).
type ProtocolError struct {
	Code        string
	Description string
	ErrorURI    string
}

func (p *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", p.Code, p.Description)
}

// authError is an authorization endpoint failure that can be sent back to
// the client as a redirect carrying error/error_description/error_uri.
type authError struct {
	Code         errorCode
	Description  string
	ErrorURI     string
	State        string
	RedirectURI  string
	ResponseMode string
	Cause        error
}

func (a *authError) Error() string {
	str := fmt.Sprintf("%s error in authorization request: %s", a.Code, a.Description)
	if a.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, a.Cause.Error())
	}
	return str
}

func (a *authError) Unwrap() error { return a.Cause }

// tokenError is a token or introspection endpoint failure, serialized as
// the RFC 6749 §5.2 JSON body.
type tokenError struct {
	Code            errorCode `json:"error,omitempty"`
	Description     string    `json:"error_description,omitempty"`
	ErrorURI        string    `json:"error_uri,omitempty"`
	Cause           error     `json:"-"`
	WWWAuthenticate string    `json:"-"`
}

func (t *tokenError) Error() string {
	str := fmt.Sprintf("%s error in token request: %s", t.Code, t.Description)
	if t.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, t.Cause.Error())
	}
	return str
}

func (t *tokenError) Unwrap() error { return t.Cause }

// httpError is a failure with no usable redirect URI. It renders as a
// native plain-text page, or is surfaced to the host when the server is
// configured with ApplicationCanDisplayErrors.
type httpError struct {
	Code int
	// Message is shown to the user; "Internal error" when empty.
	Message string
	// CauseMsg appears in Error() output only, for internal text.
	CauseMsg string
	Cause    error
}

func (h *httpError) Error() string {
	m := h.CauseMsg
	if m == "" {
		m = h.Message
	}
	str := fmt.Sprintf("http error %d: %s", h.Code, m)
	if h.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, h.Cause.Error())
	}
	return str
}

func (h *httpError) Unwrap() error { return h.Cause }

// writeError handles the passed error appropriately. After calling this,
// the HTTP sequence should be considered complete.
//
// authError is returned to the client as an error response in its
// response mode. tokenError is written as the §5.2 JSON body with the
// same no-cache headers as a success. httpError renders a native page.
// Anything else becomes a plain 500.
func (s *Server) writeError(w http.ResponseWriter, req *http.Request, err error) error {
	switch err := err.(type) {
	case *authError:
		if err.RedirectURI == "" {
			http.Error(w, string(err.Code)+": "+err.Description, http.StatusBadRequest)
			return nil
		}
		params := message.New(message.AuthenticationRequest)
		params.Set(message.ParamError, string(err.Code))
		if err.Description != "" {
			params.Set(message.ParamErrorDescription, err.Description)
		}
		if err.ErrorURI != "" {
			params.Set(message.ParamErrorURI, err.ErrorURI)
		}
		if err.State != "" {
			params.Set(message.ParamState, err.State)
		}
		if werr := sendResponse(w, req, err.RedirectURI, err.ResponseMode, params); werr != nil {
			s.logger.WithError(werr).Error("failed to write authorization error response")
		}

	case *tokenError:
		setNoCacheHeaders(w)
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")
		if err.WWWAuthenticate != "" {
			w.Header().Set("WWW-Authenticate", err.WWWAuthenticate)
		}
		w.WriteHeader(http.StatusBadRequest)
		if jerr := json.NewEncoder(w).Encode(err); jerr != nil {
			return fmt.Errorf("failed to write token error json body: %w", jerr)
		}

	case *httpError:
		m := err.Message
		if m == "" {
			m = "Internal error"
		}
		http.Error(w, m, err.Code)

	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}

	return nil
}

// setNoCacheHeaders marks a token endpoint response uncacheable.
// https://tools.ietf.org/html/rfc6749#section-5.1
func setNoCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "-1")
}
