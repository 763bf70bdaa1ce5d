// Package discovery holds the provider metadata document published at
// the well-known configuration endpoint.
package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// ProviderMetadata is the JSON structure describing the configuration of
// an OIDC provider.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type ProviderMetadata struct {
	// REQUIRED. URL using the https scheme with no query or fragment
	// component that the OP asserts as its Issuer Identifier. This MUST be
	// identical to the iss claim value in tokens issued from this issuer.
	Issuer string `json:"issuer,omitempty"`
	// URL of the OP's OAuth 2.0 Authorization Endpoint. Omitted when the
	// endpoint is disabled.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	// URL of the OP's OAuth 2.0 Token Endpoint. Omitted when the endpoint
	// is disabled.
	TokenEndpoint string `json:"token_endpoint,omitempty"`
	// URL at which an RP can trigger sign-out.
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
	// URL of the OP's JSON Web Key Set document, containing the signing
	// keys RPs use to validate signatures from the OP.
	JWKSURI string `json:"jwks_uri,omitempty"`
	// JSON array of OAuth 2.0 scope values this server supports. The
	// server MUST support the openid scope value.
	ScopesSupported []string `json:"scopes_supported,omitempty"`
	// JSON array of the response_type values this OP supports.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	// JSON array of the response_mode values this OP supports, as
	// specified in OAuth 2.0 Multiple Response Type Encoding Practices.
	ResponseModesSupported []string `json:"response_modes_supported,omitempty"`
	// JSON array of the grant type values this OP supports.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`
	// JSON array of the Subject Identifier types this OP supports. Valid
	// types include pairwise and public.
	SubjectTypesSupported []string `json:"subject_types_supported,omitempty"`
	// JSON array of the JWS signing algorithms (alg values) supported for
	// the ID Token. RS256 MUST be included.
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	// JSON array of client authentication methods supported by the token
	// endpoint.
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// Validate checks that the document satisfies the discovery spec's
// minimum requirements before it is published.
func (p *ProviderMetadata) Validate() error {
	var errs []string

	reqstr := func(val, e string) {
		if val == "" {
			errs = append(errs, e)
		}
	}
	reqsl := func(val []string, e string) {
		if len(val) == 0 {
			errs = append(errs, e)
		}
	}

	reqstr(p.Issuer, "issuer is required")
	reqstr(p.JWKSURI, "jwks_uri is required")
	reqsl(p.ResponseTypesSupported, "response_types_supported is required")
	reqsl(p.SubjectTypesSupported, "subject_types_supported is required")
	reqsl(p.IDTokenSigningAlgValuesSupported, "id_token_signing_alg_values_supported is required")

	if u, err := url.Parse(p.Issuer); err != nil {
		errs = append(errs, "issuer must be a valid URL")
	} else if u.RawQuery != "" || u.Fragment != "" {
		errs = append(errs, "issuer must not have a query or fragment")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid provider metadata: %s", strings.Join(errs, ", "))
	}
	return nil
}
