package core

import (
	"encoding/json"
	"net/http"

	jose "github.com/go-jose/go-jose/v3"
)

// handleKeys serves the JSON Web Key Set: one public key per configured
// signing credential. Credentials that cannot sign RS256 are skipped,
// with a warning, rather than advertised as something clients cannot use.
//
// https://tools.ietf.org/html/rfc7517#section-5
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = s.writeError(w, r, &httpError{Code: http.StatusMethodNotAllowed, Message: "method must be GET"})
		return
	}

	keySet := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	for _, cred := range s.opts.SigningCredentials {
		if !cred.SupportsRS256() {
			s.logger.WithField("kid", cred.KeyID()).
				Warn("skipping signing credential without RS256 support")
			continue
		}
		keySet.Keys = append(keySet.Keys, cred.JWK())
	}

	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	if err := json.NewEncoder(w).Encode(keySet); err != nil {
		s.logger.WithError(err).Error("failed to write key set")
	}
}
