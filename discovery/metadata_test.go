package discovery

import (
	"strings"
	"testing"
)

func validMetadata() *ProviderMetadata {
	return &ProviderMetadata{
		Issuer:                           "https://op.example.com",
		AuthorizationEndpoint:            "https://op.example.com/connect/authorize",
		TokenEndpoint:                    "https://op.example.com/connect/token",
		JWKSURI:                          "https://op.example.com/.well-known/jwks",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
}

func TestMetadataValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		mutate  func(*ProviderMetadata)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*ProviderMetadata) {},
		},
		{
			name:    "missing issuer",
			mutate:  func(m *ProviderMetadata) { m.Issuer = "" },
			wantErr: "issuer is required",
		},
		{
			name:    "issuer with query",
			mutate:  func(m *ProviderMetadata) { m.Issuer = "https://op.example.com?x=1" },
			wantErr: "query or fragment",
		},
		{
			name:    "issuer with fragment",
			mutate:  func(m *ProviderMetadata) { m.Issuer = "https://op.example.com#frag" },
			wantErr: "query or fragment",
		},
		{
			name:    "missing jwks",
			mutate:  func(m *ProviderMetadata) { m.JWKSURI = "" },
			wantErr: "jwks_uri is required",
		},
		{
			name:    "missing response types",
			mutate:  func(m *ProviderMetadata) { m.ResponseTypesSupported = nil },
			wantErr: "response_types_supported is required",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			md := validMetadata()
			tc.mutate(md)
			err := md.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
