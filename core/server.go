package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/elmwood/oidcop/cache"
	"github.com/elmwood/oidcop/ticket"
	"github.com/elmwood/oidcop/token"
)

// Cache key namespaces. Requests and codes share the cache but never
// collide.
const (
	requestKeyPrefix = "oidcop/request/"
	codeKeyPrefix    = "oidcop/code/"
)

// Cached authorization requests slide for an hour from last touch.
const requestCacheLifetime = 1 * time.Hour

// noClamp is the zero expiry bound: minted tokens get their full
// configured lifetime.
var noClamp time.Time

// Server is the authorization server core. Obtain one from New and mount
// it with Handler.
type Server struct {
	opts     Options
	issuer   *url.URL
	logger   logrus.FieldLogger
	provider *Provider
	cache    cache.Cache

	jwt           *token.JWTSigner
	accessToken   AccessTokenHandler
	identityToken IdentityTokenHandler
	accessFormat  TicketFormat
	codeFormat    TicketFormat
	refreshFormat TicketFormat

	now func() time.Time

	requestCounter *prometheus.CounterVec
	corsWrap       func(http.Handler) http.Handler
}

// New validates opts and builds a Server.
func New(opts Options) (*Server, error) {
	issuer, err := url.Parse(opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("parsing issuer: %w", err)
	}
	if !issuer.IsAbs() {
		return nil, fmt.Errorf("issuer %q is not an absolute URL", opts.Issuer)
	}
	if issuer.RawQuery != "" || issuer.Fragment != "" {
		return nil, fmt.Errorf("issuer must not carry a query or fragment")
	}
	if issuer.Scheme != "https" && !opts.AllowInsecureHTTP {
		return nil, fmt.Errorf("issuer %q must use https", opts.Issuer)
	}

	if opts.Cache == nil {
		return nil, fmt.Errorf("a cache is required")
	}

	if opts.AuthorizationCodeLifetime == 0 {
		opts.AuthorizationCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	if opts.AccessTokenLifetime == 0 {
		opts.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if opts.IdentityTokenLifetime == 0 {
		opts.IdentityTokenLifetime = DefaultIdentityTokenLifetime
	}
	if opts.RefreshTokenLifetime == 0 {
		opts.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		opts:     opts,
		issuer:   issuer,
		logger:   logger,
		provider: &opts.Provider,
		cache:    opts.Cache,
		now:      now,
	}

	if len(opts.SigningCredentials) > 0 {
		s.jwt = &token.JWTSigner{
			Issuer:      opts.Issuer,
			Credentials: opts.SigningCredentials,
			Now:         now,
		}
	}

	s.accessToken = opts.AccessTokenHandler
	if s.accessToken == nil && s.jwt != nil && s.jwt.SigningCredential() != nil {
		s.accessToken = s.jwt.SignAccessToken
	}
	s.identityToken = opts.IdentityTokenHandler
	if s.identityToken == nil && s.jwt != nil && s.jwt.SigningCredential() != nil {
		s.identityToken = s.jwt.SignIdentityToken
	}

	if err := s.initFormats(); err != nil {
		return nil, err
	}

	s.requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidcop_requests_total",
		Help: "Count of requests handled per protocol endpoint.",
	}, []string{"handler", "code", "method"})
	if opts.PrometheusRegistry != nil {
		if err := opts.PrometheusRegistry.Register(s.requestCounter); err != nil {
			return nil, fmt.Errorf("registering request counter: %w", err)
		}
	}

	if len(opts.AllowedOrigins) > 0 {
		cors := handlers.CORS(handlers.AllowedOrigins(opts.AllowedOrigins))
		s.corsWrap = func(h http.Handler) http.Handler { return cors(h) }
	} else {
		s.corsWrap = func(h http.Handler) http.Handler { return h }
	}

	return s, nil
}

// initFormats fills the opaque ticket formats. Unset formats share one
// data protector with a process-local random key.
func (s *Server) initFormats() error {
	s.accessFormat = s.opts.AccessTokenFormat
	s.codeFormat = s.opts.AuthorizationCodeFormat
	s.refreshFormat = s.opts.RefreshTokenFormat

	if s.accessFormat != nil && s.codeFormat != nil && s.refreshFormat != nil {
		return nil
	}

	key, err := token.NewRandomKey()
	if err != nil {
		return fmt.Errorf("generating data protection key: %w", err)
	}
	protector, err := token.NewAEADProtector(key)
	if err != nil {
		return fmt.Errorf("creating data protector: %w", err)
	}
	shared := &token.Format{Protector: protector}

	if s.accessFormat == nil {
		s.accessFormat = shared
	}
	if s.codeFormat == nil {
		s.codeFormat = shared
	}
	if s.refreshFormat == nil {
		s.refreshFormat = shared
	}
	return nil
}

// signingEnabled reports whether the server can emit identity tokens.
func (s *Server) signingEnabled() bool { return s.identityToken != nil }

// newUniqueID returns a 256-bit random identifier, base64url encoded.
// Used for unique_id values and authorization code handles.
func newUniqueID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// expiresIn converts an absolute expiry into the wire expires_in value,
// rounding half up.
func (s *Server) expiresIn(exp time.Time) int64 {
	return int64(exp.Sub(s.now()).Seconds() + 0.5)
}

// prepareTicket stamps the issuing request's binding properties onto a
// copy of the host-supplied ticket.
func (s *Server) prepareTicket(t *ticket.Ticket, clientID, redirectURI, resource, scope, nonce string) *ticket.Ticket {
	c := t.Copy()
	if clientID != "" {
		c.Properties.SetClientID(clientID)
	}
	if redirectURI != "" {
		c.Properties.SetRedirectURI(redirectURI)
	}
	if resource != "" {
		c.Properties.SetResource(resource)
	}
	if scope != "" {
		c.Properties.SetScope(scope)
	}
	if nonce != "" {
		c.Properties.SetNonce(nonce)
	}
	return c
}

// stampLifetime gives a ticket copy its own issued/expires window,
// clamping to notAfter when set.
func (s *Server) stampLifetime(t *ticket.Ticket, lifetime time.Duration, notAfter time.Time) *ticket.Ticket {
	c := t.Copy()
	c.Properties.ClearLifetime()
	now := s.now()
	exp := now.Add(lifetime)
	if !notAfter.IsZero() && exp.After(notAfter) {
		exp = notAfter
	}
	c.Properties.SetIssuedAt(now)
	c.Properties.SetExpiresAt(exp)
	return c
}

// mintCode protects the ticket, stores the ciphertext under a fresh
// random handle and returns the handle. The cache entry expires with the
// code ticket, and Take-on-redeem makes the code single-use.
func (s *Server) mintCode(ctx context.Context, t *ticket.Ticket, notAfter time.Time) (string, error) {
	c := s.stampLifetime(t, s.opts.AuthorizationCodeLifetime, notAfter)

	blob, err := s.codeFormat.Protect(ctx, c)
	if err != nil {
		s.logger.WithError(err).Warn("failed to protect authorization code")
		return "", err
	}
	handle, err := newUniqueID()
	if err != nil {
		return "", err
	}
	policy := cache.Policy{Absolute: c.Properties.ExpiresAt()}
	if err := s.cache.Put(ctx, codeKeyPrefix+handle, []byte(blob), policy); err != nil {
		s.logger.WithError(err).Error("failed to store authorization code")
		return "", err
	}
	return handle, nil
}

// receiveCode redeems a code handle. The cache removal and the read are
// one atomic operation; a second redemption finds nothing.
func (s *Server) receiveCode(ctx context.Context, handle string) (*ticket.Ticket, error) {
	blob, ok, err := s.cache.Take(ctx, codeKeyPrefix+handle)
	if err != nil {
		return nil, fmt.Errorf("taking authorization code: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("authorization code not found")
	}
	return s.codeFormat.Unprotect(ctx, string(blob))
}

// mintAccessToken serializes an access token, returning the token and its
// expires_in.
func (s *Server) mintAccessToken(ctx context.Context, t *ticket.Ticket, notAfter time.Time) (string, int64, error) {
	c := s.stampLifetime(t, s.opts.AccessTokenLifetime, notAfter)

	var tok string
	var err error
	if s.accessToken != nil {
		tok, err = s.accessToken(ctx, c)
	} else {
		tok, err = s.accessFormat.Protect(ctx, c)
	}
	if err != nil {
		s.logger.WithError(err).Warn("failed to serialize access token")
		return "", 0, err
	}
	return tok, s.expiresIn(c.Properties.ExpiresAt()), nil
}

// mintIdentityToken serializes an identity token bound to the co-issued
// code and access token.
func (s *Server) mintIdentityToken(ctx context.Context, t *ticket.Ticket, code, accessToken string, notAfter time.Time) (string, error) {
	if s.identityToken == nil {
		return "", fmt.Errorf("no identity token handler configured")
	}
	c := s.stampLifetime(t, s.opts.IdentityTokenLifetime, notAfter)

	tok, err := s.identityToken(ctx, c, code, accessToken)
	if err != nil {
		s.logger.WithError(err).Warn("failed to serialize identity token")
		return "", err
	}
	return tok, nil
}

// mintRefreshToken protects the ticket as an opaque refresh token,
// recording whether the issuing request was client-authenticated.
func (s *Server) mintRefreshToken(ctx context.Context, t *ticket.Ticket, clientAuthenticated bool, notAfter time.Time) (string, error) {
	c := s.stampLifetime(t, s.opts.RefreshTokenLifetime, notAfter)
	c.Properties.SetClientAuthenticated(clientAuthenticated)

	tok, err := s.refreshFormat.Protect(ctx, c)
	if err != nil {
		s.logger.WithError(err).Warn("failed to protect refresh token")
		return "", err
	}
	return tok, nil
}

// receiveRefreshToken reverses mintRefreshToken.
func (s *Server) receiveRefreshToken(ctx context.Context, raw string) (*ticket.Ticket, error) {
	return s.refreshFormat.Unprotect(ctx, raw)
}
