package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/google/go-cmp/cmp"

	"github.com/elmwood/oidcop/ticket"
)

var testKey = func() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}()

func newTestSigner(t *testing.T) *JWTSigner {
	t.Helper()
	cred, err := NewSigningCredential(testKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &JWTSigner{
		Issuer:      "https://op.example.com",
		Credentials: []*SigningCredential{cred},
		Now:         func() time.Time { return time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func newTestTicket() *ticket.Ticket {
	tk := ticket.New("user-1")
	tk.AddClaim("email", "user@example.com", ticket.DestinationIDToken)
	tk.AddClaim("role", "admin", ticket.DestinationAccessToken)
	tk.Properties.SetClientID("app1")
	tk.Properties.SetIssuedAt(time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC))
	tk.Properties.SetExpiresAt(time.Date(2021, 6, 1, 13, 0, 0, 0, time.UTC))
	tk.Properties.SetNonce("n1")
	tk.Properties.SetScope("openid")
	return tk
}

func TestKeyIDDerivation(t *testing.T) {
	cred, err := NewSigningCredential(testKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	kid := cred.KeyID()
	if len(kid) != 40 {
		t.Errorf("kid length = %d, want 40", len(kid))
	}
	if kid != strings.ToUpper(kid) {
		t.Errorf("kid not upper-cased: %q", kid)
	}
	want := strings.ToUpper(base64.RawURLEncoding.EncodeToString(testKey.PublicKey.N.Bytes()))[:40]
	if kid != want {
		t.Errorf("kid = %q, want %q", kid, want)
	}
}

func TestJWKForBareRSAKey(t *testing.T) {
	cred, err := NewSigningCredential(testKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	jwk := cred.JWK()

	b, err := json.Marshal(jwk)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"e", "n", "kid", "alg", "use"} {
		if _, ok := m[want]; !ok {
			t.Errorf("JWK missing %q member", want)
		}
	}
	for _, notWant := range []string{"x5t", "x5c", "d"} {
		if _, ok := m[notWant]; ok {
			t.Errorf("JWK has unexpected %q member", notWant)
		}
	}
	if m["alg"] != "RS256" {
		t.Errorf("alg = %v", m["alg"])
	}
}

func TestAccessTokenClaims(t *testing.T) {
	ctx := context.Background()
	s := newTestSigner(t)

	raw, err := s.SignAccessToken(ctx, newTestTicket())
	if err != nil {
		t.Fatal(err)
	}

	claims := parseClaims(t, raw)
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if diff := cmp.Diff(Audience{"app1"}, claims.Audience); diff != "" {
		t.Errorf("aud (-want +got):\n%s", diff)
	}
	if claims.Expiry.Time().UTC() != time.Date(2021, 6, 1, 13, 0, 0, 0, time.UTC) {
		t.Errorf("exp = %v", claims.Expiry.Time())
	}
	if _, ok := claims.Extra["role"]; !ok {
		t.Error("access-token-destined claim missing")
	}
	if _, ok := claims.Extra["email"]; ok {
		t.Error("id-token-destined claim leaked into access token")
	}

	// header checks
	header := decodeHeader(t, raw)
	if header["alg"] != "RS256" || header["typ"] != "JWT" {
		t.Errorf("header = %v", header)
	}
	if header["kid"] == "" {
		t.Error("kid missing from header")
	}
}

func TestIdentityTokenHashes(t *testing.T) {
	ctx := context.Background()
	s := newTestSigner(t)

	const code = "the-code"
	access, err := s.SignAccessToken(ctx, newTestTicket())
	if err != nil {
		t.Fatal(err)
	}

	raw, err := s.SignIdentityToken(ctx, newTestTicket(), code, access)
	if err != nil {
		t.Fatal(err)
	}
	claims := parseClaims(t, raw)

	sum := sha256.Sum256([]byte(access))
	wantATHash := base64.RawURLEncoding.EncodeToString(sum[:16])
	if claims.AccessTokenHash != wantATHash {
		t.Errorf("at_hash = %q, want %q", claims.AccessTokenHash, wantATHash)
	}

	sum = sha256.Sum256([]byte(code))
	wantCHash := base64.RawURLEncoding.EncodeToString(sum[:16])
	if claims.CodeHash != wantCHash {
		t.Errorf("c_hash = %q, want %q", claims.CodeHash, wantCHash)
	}

	if claims.Nonce != "n1" {
		t.Errorf("nonce = %q", claims.Nonce)
	}
	if _, ok := claims.Extra["email"]; !ok {
		t.Error("id-token-destined claim missing")
	}
	if _, ok := claims.Extra["role"]; ok {
		t.Error("access-token-destined claim leaked into identity token")
	}
}

func TestAudienceSingleVsMultiple(t *testing.T) {
	one, err := json.Marshal(Audience{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if string(one) != `"a"` {
		t.Errorf("single audience = %s, want bare string", one)
	}

	many, err := json.Marshal(Audience{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if string(many) != `["a","b"]` {
		t.Errorf("multiple audiences = %s, want array", many)
	}

	var a Audience
	if err := json.Unmarshal([]byte(`"solo"`), &a); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Audience{"solo"}, a); diff != "" {
		t.Errorf("unmarshal (-want +got):\n%s", diff)
	}
}

func TestReadTokenIgnoresExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSigner(t)

	tk := newTestTicket()
	tk.Properties.SetExpiresAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) // long past
	raw, err := s.SignAccessToken(ctx, tk)
	if err != nil {
		t.Fatal(err)
	}

	// Expired tokens still deserialize; expiry is enforced by the
	// endpoints, which know which error to map it to.
	got, err := s.ReadToken(ctx, raw)
	if err != nil {
		t.Fatalf("ReadToken: %v", err)
	}
	if got.Subject() != "user-1" {
		t.Errorf("sub = %q", got.Subject())
	}
	if got.Properties.ExpiresAt().After(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expires_at not reconstructed: %v", got.Properties.ExpiresAt())
	}
}

func TestReadTokenRejectsWrongIssuer(t *testing.T) {
	ctx := context.Background()
	s := newTestSigner(t)

	raw, err := s.SignAccessToken(ctx, newTestTicket())
	if err != nil {
		t.Fatal(err)
	}

	other := *s
	other.Issuer = "https://other.example.com"
	if _, err := other.ReadToken(ctx, raw); err == nil {
		t.Error("expected issuer mismatch error")
	}
}

func TestReadTokenRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	s := newTestSigner(t)

	foreignKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	foreignCred, err := NewSigningCredential(foreignKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	foreign := &JWTSigner{Issuer: s.Issuer, Credentials: []*SigningCredential{foreignCred}}

	raw, err := foreign.SignAccessToken(ctx, newTestTicket())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadToken(ctx, raw); err == nil {
		t.Error("expected signature verification failure")
	}
}

func TestOpaqueRoundTrip(t *testing.T) {
	ctx := context.Background()

	key, err := NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	protector, err := NewAEADProtector(key)
	if err != nil {
		t.Fatal(err)
	}
	f := &Format{Protector: protector}

	tk := newTestTicket()
	blob, err := f.Protect(ctx, tk)
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.Unprotect(ctx, blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.Subject() != "user-1" {
		t.Errorf("sub = %q", got.Subject())
	}
	if got.Properties.ClientID() != "app1" {
		t.Errorf("client_id = %q", got.Properties.ClientID())
	}
	if got.Properties.Nonce() != "n1" {
		t.Errorf("nonce = %q", got.Properties.Nonce())
	}

	// Tampering must be detected.
	raw, _ := base64.RawURLEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0xff
	if _, err := f.Unprotect(ctx, base64.RawURLEncoding.EncodeToString(raw)); err == nil {
		t.Error("tampered blob unprotected without error")
	}

	// A protector with a different key must fail too.
	otherKey, _ := NewRandomKey()
	otherProtector, _ := NewAEADProtector(otherKey)
	if _, err := (&Format{Protector: otherProtector}).Unprotect(ctx, blob); err == nil {
		t.Error("blob unprotected with wrong key")
	}
}

func parseClaims(t *testing.T, raw string) *Claims {
	t.Helper()
	jws, err := jose.ParseSigned(raw)
	if err != nil {
		t.Fatal(err)
	}
	payload := jws.UnsafePayloadWithoutVerification()
	claims := &Claims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		t.Fatal(err)
	}
	return claims
}

func decodeHeader(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	parts := strings.SplitN(raw, ".", 2)
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatal(err)
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(hb, &m); err != nil {
		t.Fatal(err)
	}
	return m
}
