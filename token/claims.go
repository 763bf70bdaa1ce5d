package token

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Claims is the JWT payload this server writes and reads.
//
// https://openid.net/specs/openid-connect-core-1_0.html#IDToken
type Claims struct {
	// Issuer Identifier for the Issuer of the response.
	Issuer string `json:"iss,omitempty"`
	// Subject Identifier, locally unique within the issuer. Mandatory on
	// every token this server emits.
	Subject string `json:"sub,omitempty"`
	// Audience(s) the token is intended for. Serialized as a bare string
	// when there is exactly one.
	Audience Audience `json:"aud,omitempty"`
	// Expiration time after which the token must not be accepted.
	Expiry UnixTime `json:"exp,omitempty"`
	// Not-before time.
	NotBefore UnixTime `json:"nbf,omitempty"`
	// Time at which the JWT was issued.
	IssuedAt UnixTime `json:"iat,omitempty"`
	// Nonce copied unmodified from the authentication request.
	Nonce string `json:"nonce,omitempty"`
	// CodeHash binds an identity token to the authorization code issued
	// in the same response: base64url(left half of SHA-256(code)).
	CodeHash string `json:"c_hash,omitempty"`
	// AccessTokenHash binds an identity token to the co-issued access
	// token, computed like CodeHash.
	AccessTokenHash string `json:"at_hash,omitempty"`

	// Extra are additional claims merged into the payload. Standard
	// claims win on key collision.
	Extra map[string]interface{} `json:"-"`
}

func (c Claims) MarshalJSON() ([]byte, error) {
	// avoid recursing on this method
	type cs Claims
	sj, err := json.Marshal(cs(c))
	if err != nil {
		return nil, err
	}

	sm := map[string]interface{}{}
	if err := json.Unmarshal(sj, &sm); err != nil {
		return nil, err
	}

	om := map[string]interface{}{}
	for k, v := range c.Extra {
		om[k] = v
	}
	for k, v := range sm {
		om[k] = v
	}
	return json.Marshal(om)
}

func (c *Claims) UnmarshalJSON(b []byte) error {
	type cs Claims
	id := cs{}
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}

	em := map[string]interface{}{}
	if err := json.Unmarshal(b, &em); err != nil {
		return err
	}
	for _, f := range []string{"iss", "sub", "aud", "exp", "nbf", "iat", "nonce", "c_hash", "at_hash"} {
		delete(em, f)
	}
	if len(em) > 0 {
		id.Extra = em
	}

	*c = Claims(id)
	return nil
}

// Audience is the aud claim: one or more recipients.
type Audience []string

// Contains reports whether aud is in the set.
func (a Audience) Contains(aud string) bool {
	for _, ia := range a {
		if ia == aud {
			return true
		}
	}
	return false
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Audience) UnmarshalJSON(b []byte) error {
	var ua interface{}
	if err := json.Unmarshal(b, &ua); err != nil {
		return err
	}

	switch ja := ua.(type) {
	case string:
		*a = []string{ja}
	case []interface{}:
		aa := make([]string, len(ja))
		for i, ia := range ja {
			sa, ok := ia.(string)
			if !ok {
				return fmt.Errorf("failed to unmarshal audience, expected []string but found %T", ia)
			}
			aa[i] = sa
		}
		*a = aa
	default:
		return fmt.Errorf("failed to unmarshal audience, expected string or []string but found %T", ua)
	}
	return nil
}

// UnixTime is a date claim: seconds since 1970-01-01T00:00:00Z.
type UnixTime int64

// NewUnixTime creates a UnixTime from t.
func NewUnixTime(t time.Time) UnixTime { return UnixTime(t.Unix()) }

// Time returns the time this represents.
func (u UnixTime) Time() time.Time { return time.Unix(int64(u), 0) }

func (u UnixTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(u), 10)), nil
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	p, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse UnixTime: %v", err)
	}
	*u = UnixTime(p)
	return nil
}
