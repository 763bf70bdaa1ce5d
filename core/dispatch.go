package core

import (
	"context"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elmwood/oidcop/message"
)

type ctxKey int

const (
	ctxKeyPendingAuth ctxKey = iota
	ctxKeyPendingLogout
	ctxKeyDisplayError
)

// Authorization describes an in-flight authorization request that passed
// validation and is waiting for the host to authenticate the user.
type Authorization struct {
	// UniqueID keys the cached request. Hosts that render a login page
	// must round-trip it (hidden form field, their own session) so a later
	// SignIn can find the request.
	UniqueID string
	// Message is the validated authorization request.
	Message *message.Message
}

// PendingAuthorization returns the authorization request attached to r by
// the authorization endpoint, or nil.
func PendingAuthorization(r *http.Request) *Authorization {
	a, _ := r.Context().Value(ctxKeyPendingAuth).(*Authorization)
	return a
}

// Logout describes a validated logout request waiting for the host to
// end the user's session.
type Logout struct {
	// PostLogoutRedirectURI is where SignOut will send the user, already
	// approved by the provider. Empty when the request carried none.
	PostLogoutRedirectURI string
	Message               *message.Message
}

// PendingLogout returns the logout request attached to r, or nil.
func PendingLogout(r *http.Request) *Logout {
	l, _ := r.Context().Value(ctxKeyPendingLogout).(*Logout)
	return l
}

// DisplayableError returns the protocol error attached to r when the
// server is configured with ApplicationCanDisplayErrors, or nil.
func DisplayableError(r *http.Request) *ProtocolError {
	e, _ := r.Context().Value(ctxKeyDisplayError).(*ProtocolError)
	return e
}

// committedWriter tracks whether response headers have been written.
// Ticket-based response emission is refused after commit, which keeps the
// server from corrupting streamed host responses.
type committedWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *committedWriter) WriteHeader(code int) {
	w.committed = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *committedWriter) Write(b []byte) (int, error) {
	w.committed = true
	return w.ResponseWriter.Write(b)
}

// Handler wraps next with the protocol endpoints. Requests that match no
// enabled endpoint pass through untouched; authorization and logout
// requests that pass validation also flow to next, annotated for
// PendingAuthorization / PendingLogout.
func (s *Server) Handler(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep := s.classify(r.URL.Path)

		mreq := &MatchEndpointRequest{HTTPRequest: r, Endpoint: ep}
		decision := s.provider.matchEndpoint(r.Context(), mreq)
		switch {
		case decision.IsHandled():
			return
		case decision.IsRejected():
			code, description, _ := decision.rejection(errCodeInvalidRequest)
			_ = s.writeError(w, r, &httpError{
				Code:    http.StatusBadRequest,
				Message: string(code) + ": " + description,
			})
			return
		case decision.IsValidated():
			ep = mreq.Endpoint
		}

		if ep == EndpointNone {
			next.ServeHTTP(w, r)
			return
		}

		if r.TLS == nil && !s.opts.AllowInsecureHTTP {
			_ = s.writeError(w, r, &httpError{
				Code:    http.StatusForbidden,
				Message: "HTTPS is required",
			})
			return
		}

		switch ep {
		case EndpointAuthorization:
			s.instrument("authorization", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				s.handleAuthorization(&committedWriter{ResponseWriter: w}, r, next)
			})).ServeHTTP(w, r)
		case EndpointToken:
			s.instrument("token", s.corsWrap(http.HandlerFunc(s.handleToken))).ServeHTTP(w, r)
		case EndpointIntrospection:
			s.instrument("introspection", http.HandlerFunc(s.handleIntrospection)).ServeHTTP(w, r)
		case EndpointLogout:
			s.instrument("logout", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				s.handleLogout(w, r, next)
			})).ServeHTTP(w, r)
		case EndpointConfiguration:
			s.instrument("configuration", s.corsWrap(http.HandlerFunc(s.handleConfiguration))).ServeHTTP(w, r)
		case EndpointKeys:
			s.instrument("keys", s.corsWrap(http.HandlerFunc(s.handleKeys))).ServeHTTP(w, r)
		}
	})
}

// classify maps a request path to an endpoint. Empty configured paths
// never match, which is how endpoints are disabled.
func (s *Server) classify(path string) Endpoint {
	match := func(configured string) bool {
		return configured != "" && configured == path
	}
	switch {
	case match(s.opts.AuthorizationEndpointPath):
		return EndpointAuthorization
	case match(s.opts.TokenEndpointPath):
		return EndpointToken
	case match(s.opts.IntrospectionEndpointPath):
		return EndpointIntrospection
	case match(s.opts.LogoutEndpointPath):
		return EndpointLogout
	case match(s.opts.ConfigurationEndpointPath):
		return EndpointConfiguration
	case match(s.opts.KeysEndpointPath):
		return EndpointKeys
	default:
		return EndpointNone
	}
}

func (s *Server) instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, w, r)
		s.requestCounter.With(prometheus.Labels{
			"handler": name,
			"code":    strconv.Itoa(m.Code),
			"method":  r.Method,
		}).Inc()
	})
}

// surfaceOrWrite hands err to the host for display when configured, or
// writes it as a protocol response.
func (s *Server) surfaceOrWrite(w http.ResponseWriter, r *http.Request, next http.Handler, err *httpError, proto *ProtocolError) {
	if s.opts.ApplicationCanDisplayErrors && next != nil && proto != nil {
		ctx := context.WithValue(r.Context(), ctxKeyDisplayError, proto)
		next.ServeHTTP(w, r.WithContext(ctx))
		return
	}
	_ = s.writeError(w, r, err)
}
