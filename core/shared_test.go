package core

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/elmwood/oidcop/cache/memcache"
	"github.com/elmwood/oidcop/ticket"
	"github.com/elmwood/oidcop/token"
)

const (
	testIssuer       = "https://op.example.com"
	testClientID     = "app1"
	testClientSecret = "s"
	testRedirectURI  = "https://c/cb"
	testSubject      = "user-1"
)

var testRSAKey = func() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}()

var testECDSAKey = func() *ecdsa.PrivateKey {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return k
}()

func testCredential(t *testing.T) *token.SigningCredential {
	t.Helper()
	cred, err := token.NewSigningCredential(testRSAKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	return cred
}

// testProvider registers a single confidential client, app1, with one
// redirect URI and one logout redirect URI, and accepts every grant.
func testProvider() Provider {
	return Provider{
		ValidateClientRedirectURI: func(ctx context.Context, req *ClientRedirectRequest) Decision {
			if req.ClientID == testClientID && req.RedirectURI == testRedirectURI {
				return Validated()
			}
			return Skipped()
		},
		ValidateClientLogoutRedirectURI: func(ctx context.Context, req *ClientLogoutRedirectRequest) Decision {
			if req.PostLogoutRedirectURI == "https://c/signed-out" {
				return Validated()
			}
			return Skipped()
		},
		ValidateClientAuthentication: func(ctx context.Context, req *ClientAuthenticationRequest) Decision {
			if req.ClientID == testClientID && req.ClientSecret == testClientSecret {
				return Validated()
			}
			if req.ClientID == "" && req.ClientSecret == "" {
				return Skipped()
			}
			return Rejected("", "unknown client")
		},
		GrantAuthorizationCode: func(ctx context.Context, req *GrantRequest) Decision {
			return Validated()
		},
		GrantRefreshToken: func(ctx context.Context, req *GrantRequest) Decision {
			return Validated()
		},
	}
}

func testTicket() *ticket.Ticket {
	tk := ticket.New(testSubject)
	tk.AddClaim("email", "user@example.com", ticket.DestinationIDToken)
	return tk
}

// signInHandler is the host application used in tests: it signs the test
// user in as soon as the authorization endpoint yields, and completes
// logouts immediately.
func signInHandler(t *testing.T, srv *Server) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case PendingAuthorization(r) != nil:
			if err := srv.SignIn(w, r, testTicket()); err != nil {
				t.Logf("SignIn: %v", err)
			}
		case PendingLogout(r) != nil:
			if err := srv.SignOut(w, r); err != nil {
				t.Logf("SignOut: %v", err)
			}
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestServer(t *testing.T, mutate ...func(*Options)) (*Server, http.Handler) {
	t.Helper()
	opts := DefaultOptions(testIssuer)
	opts.AllowInsecureHTTP = true
	opts.Cache = memcache.New()
	opts.Provider = testProvider()
	opts.SigningCredentials = []*token.SigningCredential{testCredential(t)}
	for _, fn := range mutate {
		fn(&opts)
	}
	srv, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return srv, srv.Handler(signInHandler(t, srv))
}

func authorizeValues() url.Values {
	return url.Values{
		"client_id":     []string{testClientID},
		"redirect_uri":  []string{testRedirectURI},
		"response_type": []string{"code"},
		"scope":         []string{"openid"},
		"state":         []string{"xyz"},
		"nonce":         []string{"n1"},
	}
}

func getAuthorize(handler http.Handler, v url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, DefaultAuthorizationEndpointPath+"?"+v.Encode(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func postAuthorize(handler http.Handler, v url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, DefaultAuthorizationEndpointPath, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func postToken(handler http.Handler, v url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, DefaultTokenEndpointPath, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	for k, vs := range header {
		for _, hv := range vs {
			req.Header.Add(k, hv)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// redirectQuery parses the query parameters of a 302 Location.
func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	loc := location(t, rec)
	u, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("parsing redirect %q: %v", loc, err)
	}
	return u.Query()
}

// fragmentQuery parses the fragment parameters of a 302 Location.
func fragmentQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	loc := location(t, rec)
	i := strings.Index(loc, "#")
	if i < 0 {
		t.Fatalf("redirect %q has no fragment", loc)
	}
	v, err := url.ParseQuery(loc[i+1:])
	if err != nil {
		t.Fatalf("parsing fragment of %q: %v", loc, err)
	}
	return v
}

func location(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %q, want 302", rec.Code, rec.Body.String())
	}
	return rec.Header().Get("Location")
}

// obtainCode drives an authorization request to completion and returns
// the issued code.
func obtainCode(t *testing.T, handler http.Handler, v url.Values) string {
	t.Helper()
	rec := postAuthorize(handler, v)
	q := redirectQuery(t, rec)
	code := q.Get("code")
	if code == "" {
		t.Fatalf("no code in redirect %q", rec.Header().Get("Location"))
	}
	return code
}

func tokenRequestValues(code string) url.Values {
	return url.Values{
		"grant_type":    []string{"authorization_code"},
		"code":          []string{code},
		"redirect_uri":  []string{testRedirectURI},
		"client_id":     []string{testClientID},
		"client_secret": []string{testClientSecret},
	}
}
