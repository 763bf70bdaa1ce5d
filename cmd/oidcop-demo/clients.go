package main

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/elmwood/oidcop/core"
)

type demoClient struct {
	secretHash         []byte
	redirectURIs       []string
	logoutRedirectURIs []string
}

// clientRegistry is a fixed in-memory client store. Secrets are kept as
// bcrypt hashes so the comparison path matches what a real registry
// backed by a database would do.
type clientRegistry struct {
	clients map[string]*demoClient
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{
		clients: map[string]*demoClient{
			"demo-app": {
				secretHash: mustHash("demo-secret"),
				redirectURIs: []string{
					"http://127.0.0.1:8086/callback",
				},
				logoutRedirectURIs: []string{
					"http://127.0.0.1:8086/",
				},
			},
		},
	}
}

func mustHash(secret string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}

func (c *clientRegistry) provider() core.Provider {
	return core.Provider{
		ValidateClientRedirectURI:       c.validateRedirectURI,
		ValidateClientLogoutRedirectURI: c.validateLogoutRedirectURI,
		ValidateClientAuthentication:    c.validateAuthentication,
		GrantAuthorizationCode: func(ctx context.Context, req *core.GrantRequest) core.Decision {
			return core.Validated()
		},
		GrantRefreshToken: func(ctx context.Context, req *core.GrantRequest) core.Decision {
			return core.Validated()
		},
	}
}

func (c *clientRegistry) validateRedirectURI(ctx context.Context, req *core.ClientRedirectRequest) core.Decision {
	cl, ok := c.clients[req.ClientID]
	if !ok {
		return core.Skipped()
	}
	for _, u := range cl.redirectURIs {
		if u == req.RedirectURI {
			return core.Validated()
		}
	}
	return core.Skipped()
}

func (c *clientRegistry) validateLogoutRedirectURI(ctx context.Context, req *core.ClientLogoutRedirectRequest) core.Decision {
	for _, cl := range c.clients {
		for _, u := range cl.logoutRedirectURIs {
			if u == req.PostLogoutRedirectURI {
				return core.Validated()
			}
		}
	}
	return core.Skipped()
}

func (c *clientRegistry) validateAuthentication(ctx context.Context, req *core.ClientAuthenticationRequest) core.Decision {
	if req.ClientID == "" && req.ClientSecret == "" {
		return core.Skipped()
	}
	cl, ok := c.clients[req.ClientID]
	if !ok {
		return core.Rejected("", "unknown client")
	}
	if err := bcrypt.CompareHashAndPassword(cl.secretHash, []byte(req.ClientSecret)); err != nil {
		return core.Rejected("", "invalid client secret")
	}
	return core.Validated()
}
