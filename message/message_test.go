package message

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCaseInsensitiveParams(t *testing.T) {
	m := New(AuthenticationRequest)
	m.Set("Client_ID", "app1")

	if got := m.Get("client_id"); got != "app1" {
		t.Errorf("want app1, got %q", got)
	}

	m.Set("client_id", "app2")
	if m.Len() != 1 {
		t.Errorf("set with different case should replace, have %d params", m.Len())
	}
	if got := m.Get("CLIENT_ID"); got != "app2" {
		t.Errorf("want app2, got %q", got)
	}

	m.Delete("CLIENT_id")
	if m.Has("client_id") {
		t.Error("parameter should be deleted")
	}
}

func TestTokenSets(t *testing.T) {
	for _, tc := range []struct {
		Name         string
		ResponseType string
		Scope        string
		WantCode     bool
		WantIDToken  bool
		WantToken    bool
		WantOpenID   bool
		WantHybrid   bool
		WantImplicit bool
	}{
		{
			Name:         "code flow",
			ResponseType: "code",
			Scope:        "openid profile",
			WantCode:     true,
			WantOpenID:   true,
		},
		{
			Name:         "implicit flow",
			ResponseType: "id_token token",
			Scope:        "openid",
			WantIDToken:  true,
			WantToken:    true,
			WantOpenID:   true,
			WantImplicit: true,
		},
		{
			Name:         "hybrid flow",
			ResponseType: "code id_token",
			Scope:        "openid offline_access",
			WantCode:     true,
			WantIDToken:  true,
			WantOpenID:   true,
			WantHybrid:   true,
		},
		{
			Name:         "id_token does not match token",
			ResponseType: "id_token",
			WantIDToken:  true,
			WantImplicit: true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			m := New(AuthenticationRequest)
			m.Set(ParamResponseType, tc.ResponseType)
			m.Set(ParamScope, tc.Scope)

			if got := m.HasResponseType(ResponseTypeCode); got != tc.WantCode {
				t.Errorf("HasResponseType(code) = %v, want %v", got, tc.WantCode)
			}
			if got := m.HasResponseType(ResponseTypeIDToken); got != tc.WantIDToken {
				t.Errorf("HasResponseType(id_token) = %v, want %v", got, tc.WantIDToken)
			}
			if got := m.HasResponseType(ResponseTypeToken); got != tc.WantToken {
				t.Errorf("HasResponseType(token) = %v, want %v", got, tc.WantToken)
			}
			if got := m.HasScope(ScopeOpenID); got != tc.WantOpenID {
				t.Errorf("HasScope(openid) = %v, want %v", got, tc.WantOpenID)
			}
			if got := m.IsHybridFlow(); got != tc.WantHybrid {
				t.Errorf("IsHybridFlow = %v, want %v", got, tc.WantHybrid)
			}
			if got := m.IsImplicitFlow(); got != tc.WantImplicit {
				t.Errorf("IsImplicitFlow = %v, want %v", got, tc.WantImplicit)
			}
		})
	}
}

func TestMergeRequestOverridesCached(t *testing.T) {
	cached := New(AuthenticationRequest)
	cached.Set(ParamClientID, "app1")
	cached.Set(ParamScope, "openid")
	cached.Set(ParamState, "cached-state")

	req := New(AuthenticationRequest)
	req.Set(ParamState, "request-state")
	req.Set(ParamNonce, "n1")

	merged := cached.Copy()
	merged.Merge(req)

	want := map[string]string{
		ParamClientID: "app1",
		ParamScope:    "openid",
		ParamState:    "request-state",
		ParamNonce:    "n1",
	}
	got := map[string]string{}
	merged.Each(func(name, value string) { got[name] = value })

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged params mismatch (-want +got):\n%s", diff)
	}

	// The original cached message must be untouched.
	if cached.State() != "cached-state" {
		t.Errorf("merge mutated source message, state = %q", cached.State())
	}
}

func TestFrameRoundTrip(t *testing.T) {
	m := FromValues(AuthenticationRequest, url.Values{
		"client_id":     []string{"app1"},
		"redirect_uri":  []string{"https://client.example.com/cb"},
		"response_type": []string{"code id_token"},
		"scope":         []string{"openid"},
		"state":         []string{"xyz"},
		"nonce":         []string{""},
	})

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Unmarshal(AuthenticationRequest, data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if data[0] != 1 {
		t.Errorf("frame version = %d, want 1", data[0])
	}

	wantParams := map[string]string{}
	m.Each(func(n, v string) { wantParams[n] = v })
	gotParams := map[string]string{}
	got.Each(func(n, v string) { gotParams[n] = v })

	if diff := cmp.Diff(wantParams, gotParams); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got.Len() != m.Len() {
		t.Errorf("param count = %d, want %d", got.Len(), m.Len())
	}
}

func TestUnmarshalRejectsBadFrames(t *testing.T) {
	m := New(TokenRequest)
	m.Set(ParamGrantType, "authorization_code")
	data, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		Name string
		Data []byte
	}{
		{Name: "empty", Data: nil},
		{Name: "unknown version", Data: append([]byte{2}, data[1:]...)},
		{Name: "truncated", Data: data[:len(data)-3]},
		{Name: "trailing garbage", Data: append(append([]byte{}, data...), 0xff)},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			if _, err := Unmarshal(TokenRequest, tc.Data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSubset(t *testing.T) {
	if !Subset([]string{"openid"}, []string{"openid", "profile"}) {
		t.Error("expected subset")
	}
	if Subset([]string{"openid", "email"}, []string{"openid"}) {
		t.Error("expected not subset")
	}
	if !Subset(nil, nil) {
		t.Error("empty set is a subset of anything")
	}
}
