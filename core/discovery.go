package core

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path"

	"github.com/elmwood/oidcop/discovery"
	"github.com/elmwood/oidcop/message"
)

// handleConfiguration serves the provider metadata document. The
// advertised capabilities track the configuration: response types,
// grant types and response modes cover only combinations whose endpoints
// are enabled, and id_token bearing response types require a signing
// credential.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html
func (s *Server) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = s.writeError(w, r, &httpError{Code: http.StatusMethodNotAllowed, Message: "method must be GET"})
		return
	}

	md := s.providerMetadata()

	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	if err := json.NewEncoder(w).Encode(md); err != nil {
		s.logger.WithError(err).Error("failed to write provider metadata")
	}
}

func (s *Server) providerMetadata() *discovery.ProviderMetadata {
	authorizeEnabled := s.opts.AuthorizationEndpointPath != ""
	tokenEnabled := s.opts.TokenEndpointPath != ""
	signing := s.signingEnabled()

	md := &discovery.ProviderMetadata{
		Issuer: s.opts.Issuer,
	}
	if authorizeEnabled {
		md.AuthorizationEndpoint = s.absoluteURL(s.opts.AuthorizationEndpointPath)
	}
	if tokenEnabled {
		md.TokenEndpoint = s.absoluteURL(s.opts.TokenEndpointPath)
		md.TokenEndpointAuthMethodsSupported = []string{"client_secret_basic", "client_secret_post"}
	}
	if s.opts.LogoutEndpointPath != "" {
		md.EndSessionEndpoint = s.absoluteURL(s.opts.LogoutEndpointPath)
	}
	if s.opts.KeysEndpointPath != "" {
		md.JWKSURI = s.absoluteURL(s.opts.KeysEndpointPath)
	}

	md.ScopesSupported = []string{message.ScopeOpenID, message.ScopeOfflineAccess}
	md.SubjectTypesSupported = []string{"public"}
	if signing {
		md.IDTokenSigningAlgValuesSupported = []string{"RS256"}
	}

	if authorizeEnabled {
		md.ResponseModesSupported = []string{
			message.ResponseModeFormPost,
			message.ResponseModeFragment,
			message.ResponseModeQuery,
		}
		md.ResponseTypesSupported = append(md.ResponseTypesSupported, "token")
		if tokenEnabled {
			md.ResponseTypesSupported = append(md.ResponseTypesSupported, "code", "code token")
		}
		if signing {
			md.ResponseTypesSupported = append(md.ResponseTypesSupported, "id_token", "id_token token")
		}
		if tokenEnabled && signing {
			md.ResponseTypesSupported = append(md.ResponseTypesSupported, "code id_token", "code id_token token")
		}

		md.GrantTypesSupported = append(md.GrantTypesSupported, "implicit")
	}
	if tokenEnabled {
		if authorizeEnabled {
			md.GrantTypesSupported = append(md.GrantTypesSupported, message.GrantTypeAuthorizationCode)
		}
		md.GrantTypesSupported = append(md.GrantTypesSupported,
			message.GrantTypeRefreshToken,
			message.GrantTypePassword,
			message.GrantTypeClientCredentials,
		)
	}

	return md
}

// absoluteURL resolves an endpoint path against the issuer.
func (s *Server) absoluteURL(p string) string {
	u := url.URL{
		Scheme: s.issuer.Scheme,
		Host:   s.issuer.Host,
		Path:   path.Join(s.issuer.Path, p),
	}
	return u.String()
}
