package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/elmwood/oidcop/ticket"
)

// JWTSigner produces and reads the RS256 JWTs this server issues. The
// first RS256-capable credential signs; every credential's public key is
// accepted on read, so key rollover doesn't invalidate live tokens.
type JWTSigner struct {
	Issuer      string
	Credentials []*SigningCredential

	// Now is the time source, overridable in tests.
	Now func() time.Time
}

func (s *JWTSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SigningCredential returns the credential used for new signatures: the
// first RS256-capable one.
func (s *JWTSigner) SigningCredential() *SigningCredential {
	for _, c := range s.Credentials {
		if c.SupportsRS256() {
			return c
		}
	}
	return nil
}

// SignAccessToken serializes the ticket as an access token JWT. Only
// claims destined for access tokens are included.
func (s *JWTSigner) SignAccessToken(ctx context.Context, t *ticket.Ticket) (string, error) {
	t = t.ForDestination(ticket.DestinationAccessToken)

	auds := t.Properties.Audiences()
	auds = append(auds, strings.Fields(t.Properties.Resource())...)
	if len(auds) == 0 && t.Properties.ClientID() != "" {
		auds = []string{t.Properties.ClientID()}
	}

	claims, err := s.baseClaims(t, auds)
	if err != nil {
		return "", err
	}
	return s.sign(claims)
}

// SignIdentityToken serializes the ticket as an identity token. code and
// accessToken, when non-empty, are the artifacts issued in the same
// response; they produce the c_hash and at_hash binding claims.
func (s *JWTSigner) SignIdentityToken(ctx context.Context, t *ticket.Ticket, code, accessToken string) (string, error) {
	t = t.ForDestination(ticket.DestinationIDToken)

	auds := []string{}
	if cid := t.Properties.ClientID(); cid != "" {
		auds = append(auds, cid)
	} else {
		auds = t.Properties.Audiences()
	}

	claims, err := s.baseClaims(t, auds)
	if err != nil {
		return "", err
	}
	claims.Nonce = t.Properties.Nonce()
	if code != "" {
		claims.CodeHash = LeftmostHash(code)
	}
	if accessToken != "" {
		claims.AccessTokenHash = LeftmostHash(accessToken)
	}
	return s.sign(claims)
}

func (s *JWTSigner) baseClaims(t *ticket.Ticket, auds []string) (*Claims, error) {
	sub := t.Subject()
	if sub == "" {
		return nil, fmt.Errorf("ticket has no subject claim")
	}

	claims := &Claims{
		Issuer:   s.Issuer,
		Subject:  sub,
		Audience: Audience(auds),
		IssuedAt: NewUnixTime(s.now()),
		Extra:    map[string]interface{}{},
	}
	if iat := t.Properties.IssuedAt(); !iat.IsZero() {
		claims.NotBefore = NewUnixTime(iat)
	}
	if exp := t.Properties.ExpiresAt(); !exp.IsZero() {
		claims.Expiry = NewUnixTime(exp)
	}

	for _, c := range t.Claims {
		switch c.Type {
		case ticket.ClaimSubject:
			// already mapped to sub
		case ticket.ClaimNameIdentifier:
			// the subject was synthesized from this when sub was absent;
			// carrying it again would just duplicate the value
		default:
			claims.Extra[c.Type] = c.Value
		}
	}
	return claims, nil
}

func (s *JWTSigner) sign(claims *Claims) (string, error) {
	cred := s.SigningCredential()
	if cred == nil {
		return "", fmt.Errorf("no RS256 signing credential configured")
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}

	opts := (&jose.SignerOptions{}).WithType("JWT")
	if thumb := cred.Thumbprint(); thumb != "" {
		opts = opts.WithHeader(jose.HeaderKey("x5t"), thumb)
	}

	signer, err := jose.NewSigner(cred.signingKey(), opts)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return jws.CompactSerialize()
}

// ReadToken verifies the signature and issuer of a serialized JWT and
// reconstructs the ticket it carries. Audience and lifetime are not
// checked here; the endpoints apply those rules with knowledge of the
// request.
func (s *JWTSigner) ReadToken(ctx context.Context, raw string) (*ticket.Ticket, error) {
	payload, err := s.verifySignature(raw)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, fmt.Errorf("unmarshaling claims: %w", err)
	}
	if claims.Issuer != s.Issuer {
		return nil, fmt.Errorf("token issuer %q does not match %q", claims.Issuer, s.Issuer)
	}

	t := ticket.New(claims.Subject)
	for k, v := range claims.Extra {
		t.AddClaim(k, fmt.Sprint(v))
	}
	if claims.NotBefore != 0 {
		t.Properties.SetIssuedAt(claims.NotBefore.Time())
	}
	if claims.Expiry != 0 {
		t.Properties.SetExpiresAt(claims.Expiry.Time())
	}
	t.Properties.SetAudiences(claims.Audience)
	if claims.Nonce != "" {
		t.Properties.SetNonce(claims.Nonce)
	}
	return t, nil
}

func (s *JWTSigner) verifySignature(raw string) ([]byte, error) {
	jws, err := jose.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	keyID := ""
	for _, sig := range jws.Signatures {
		keyID = sig.Header.KeyID
		break
	}

	for _, cred := range s.Credentials {
		jwk := cred.JWK()
		if keyID == "" || jwk.KeyID == keyID {
			if payload, err := jws.Verify(jwk); err == nil {
				return payload, nil
			}
		}
	}
	return nil, fmt.Errorf("no configured credential verifies the token signature")
}

// LeftmostHash computes the OIDC artifact binding hash: the base64url
// encoding of the left half of SHA-256 over the value. Used for both
// at_hash and c_hash.
func LeftmostHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
